package models

import "time"

// AuditOutcome records whether an access decision allowed or denied the
// request.
type AuditOutcome string

const (
	OutcomeAllowed AuditOutcome = "allowed"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditEntry is one append-only record of an authorization decision.
// Entries are write-once: nothing in normal operation mutates or deletes
// them, the full sequence is the observable history of access decisions.
type AuditEntry struct {
	Time    time.Time
	Subject string
	TokenID string
	// Action is the operation attempted: read, search, summarize, or an
	// administrative action such as token_issued / token_revoked.
	Action string
	// Dataset the decision concerned; "*" for dataset-independent actions.
	Dataset string
	Outcome AuditOutcome
	// Reason is a machine-distinguishable denial reason, empty when allowed.
	Reason string
}
