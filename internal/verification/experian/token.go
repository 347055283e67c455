package experian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bankcri/pkg/sentinel"
)

// tokenValidity is how long a cached token is trusted after issue. The
// vendor's nominal TTL is ~30 minutes; the 25-minute margin avoids sending a
// token that would expire mid-call.
const tokenValidity = 25 * time.Minute

// Token is the cached vendor bearer credential. One logical row exists;
// refreshes overwrite it, and concurrent refreshes are tolerated because the
// last writer simply leaves the freshest valid token behind.
type Token struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresIn   int       `json:"expires_in"`
	TokenType   string    `json:"token_type"`
}

// Usable reports whether the token is inside its validity window at now.
func (t *Token) Usable(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.IssuedAt.Add(tokenValidity))
}

// TokenStore is the single-row vendor token cache. Get returns
// sentinel.ErrNotFound when no token has ever been stored.
type TokenStore interface {
	Get(ctx context.Context) (*Token, error)
	Put(ctx context.Context, t *Token) error
}

// InMemoryTokenStore caches the token in process memory.
type InMemoryTokenStore struct {
	mu    sync.RWMutex
	token *Token
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{}
}

func (s *InMemoryTokenStore) Get(_ context.Context) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.token
	return &cp, nil
}

func (s *InMemoryTokenStore) Put(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.token = &cp
	return nil
}

// tokenKey is the fixed cache key; the cache is a single overwritten row.
const tokenKey = "experian:token:1"

// RedisTokenStore caches the token in Redis so concurrent instances share
// one vendor credential. No TTL is set on the key: validity is decided by
// the reader so a stale token stays available as a degraded-mode fallback.
type RedisTokenStore struct {
	client redis.Cmdable
}

func NewRedisTokenStore(client redis.Cmdable) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Get(ctx context.Context) (*Token, error) {
	raw, err := s.client.Get(ctx, tokenKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode vendor token: %w", err)
	}
	return &t, nil
}

func (s *RedisTokenStore) Put(ctx context.Context, t *Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode vendor token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("store vendor token: %w", err)
	}
	return nil
}
