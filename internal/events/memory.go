package events

import (
	"context"
	"sync"
)

// InMemoryPublisher records events for tests and for deployments without a
// broker configured.
type InMemoryPublisher struct {
	mu            sync.Mutex
	partialMatch  []PartialMatchRecord
	audit         []AuditEvent
	FailPublishes bool
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) PublishPartialMatch(_ context.Context, rec PartialMatchRecord) error {
	if p.FailPublishes {
		return context.DeadlineExceeded
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partialMatch = append(p.partialMatch, rec)
	return nil
}

func (p *InMemoryPublisher) PublishAudit(_ context.Context, ev AuditEvent) error {
	if p.FailPublishes {
		return context.DeadlineExceeded
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audit = append(p.audit, ev)
	return nil
}

// PartialMatches returns a copy of the recorded partial-match records.
func (p *InMemoryPublisher) PartialMatches() []PartialMatchRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PartialMatchRecord{}, p.partialMatch...)
}

// AuditEvents returns a copy of the recorded audit events.
func (p *InMemoryPublisher) AuditEvents() []AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AuditEvent{}, p.audit...)
}
