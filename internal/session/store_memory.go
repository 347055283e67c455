package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bankcri/pkg/sentinel"
)

// InMemoryStore keeps sessions in maps for tests and local development. The
// same conditional-transition semantics as the postgres store apply, just
// under a mutex instead of a WHERE clause.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	persons  map[uuid.UUID]*PersonIdentity
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[uuid.UUID]*Session),
		persons:  make(map[uuid.UUID]*PersonIdentity),
		now:      time.Now,
	}
}

// WithClock overrides the store's clock. Test support.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if sess.Expired(s.now()) {
		return nil, sentinel.ErrExpired
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) GetByAuthorizationCode(_ context.Context, code string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Session
	for _, sess := range s.sessions {
		if sess.AuthorizationCode != nil && *sess.AuthorizationCode == code {
			if found != nil {
				return nil, sentinel.ErrConflict
			}
			found = sess
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	if found.Expired(s.now()) {
		return nil, sentinel.ErrExpired
	}
	cp := *found
	return &cp, nil
}

func (s *InMemoryStore) UpdateState(_ context.Context, id uuid.UUID, next AuthSessionState, extra Extra, expected ...AuthSessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !stateIn(sess.AuthSessionState, expected) {
		return sentinel.ErrInvalidState
	}
	sess.AuthSessionState = next
	if extra.AuthorizationCode != nil {
		sess.AuthorizationCode = extra.AuthorizationCode
	}
	if extra.AuthorizationCodeExpiry != nil {
		sess.AuthorizationCodeExpiry = extra.AuthorizationCodeExpiry
	}
	if extra.AccessTokenExpiry != nil {
		sess.AccessTokenExpiry = extra.AccessTokenExpiry
	}
	if extra.CheckResult != nil {
		sess.CheckResult = *extra.CheckResult
	}
	return nil
}

func (s *InMemoryStore) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	sess.AttemptCount++
	return sess.AttemptCount, nil
}

func (s *InMemoryStore) AttachVendorUUID(_ context.Context, id uuid.UUID, vendorUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	sess.VendorUUID = &vendorUUID
	return nil
}

func (s *InMemoryStore) CreatePersonIdentity(_ context.Context, p *PersonIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.persons[p.SessionID]; exists {
		return sentinel.ErrConflict
	}
	cp := *p
	cp.NameParts = append([]NamePart{}, p.NameParts...)
	s.persons[p.SessionID] = &cp
	return nil
}

func (s *InMemoryStore) GetPersonIdentity(_ context.Context, id uuid.UUID) (*PersonIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if p.ExpiryDate.Before(s.now()) {
		return nil, sentinel.ErrExpired
	}
	cp := *p
	cp.NameParts = append([]NamePart{}, p.NameParts...)
	return &cp, nil
}

func (s *InMemoryStore) AttachAccountDetails(_ context.Context, id uuid.UUID, sortCode, accountNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.SortCode = sortCode
	p.AccountNumber = accountNumber
	return nil
}

func stateIn(state AuthSessionState, allowed []AuthSessionState) bool {
	for _, a := range allowed {
		if state == a {
			return true
		}
	}
	return false
}
