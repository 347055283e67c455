package events

import "time"

// PartialMatchRecord is emitted when a check comes back PARTIAL_MATCH so a
// human or analytic consumer can review the near-miss. Emission is
// fire-and-forget from the caller's perspective.
type PartialMatchRecord struct {
	ItemNumber       string    `json:"itemNumber"`
	TimeStamp        time.Time `json:"timeStamp"`
	CICName          string    `json:"cicName"`
	AccountName      string    `json:"accountName"`
	AccountExists    string    `json:"accountExists"`
	NameMatches      string    `json:"nameMatches"`
	SortCodeBankName string    `json:"sortCodeBankName,omitempty"`
}

// AuditEventType names a journey event.
type AuditEventType string

const (
	EventSessionCreated   AuditEventType = "session_created"
	EventCheckCompleted   AuditEventType = "check_completed"
	EventCredentialIssued AuditEventType = "credential_issued"
	EventSessionAborted   AuditEventType = "session_aborted"
)

// AuditEvent captures a journey step for the audit trail. Keep it
// transport-agnostic so sinks can fan out.
type AuditEvent struct {
	Event           AuditEventType    `json:"event"`
	Timestamp       time.Time         `json:"timestamp"`
	SessionID       string            `json:"sessionId"`
	ClientSessionID string            `json:"clientSessionId,omitempty"`
	VendorUUID      string            `json:"vendorUuid,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}
