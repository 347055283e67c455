// Package events provides the asynchronous side-channel for partial-match
// reporting and audit events. Publishing is best-effort: failures are logged
// and metered, never surfaced to the verification caller.
package events

import "context"

// Publisher is the side-channel contract consumed by the services.
type Publisher interface {
	// PublishPartialMatch emits a partial-match record for review.
	PublishPartialMatch(ctx context.Context, rec PartialMatchRecord) error

	// PublishAudit emits a journey audit event.
	PublishAudit(ctx context.Context, ev AuditEvent) error
}
