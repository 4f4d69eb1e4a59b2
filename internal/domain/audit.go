package domain

import "context"

// AuditLogger records security-relevant events for one session.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	SessionID string
	Action    string // classified | executed | blocked | confirm_yes | confirm_no | undo
	Command   string
	Result    string // allowed | denied | confirm | ok | failed
	Details   string
}
