package shared

import (
	"strings"
	"time"
)

// ApprovalEntry is a single row of an entity's approval history.
type ApprovalEntry struct {
	Approver string    `json:"approver"`
	Action   string    `json:"action"`
	Date     time.Time `json:"date"`
	Comment  string    `json:"comment,omitempty"`
}

// NewApprovalEntry builds an entry stamped at the given time (now when zero).
func NewApprovalEntry(approver, action, comment string, at time.Time) ApprovalEntry {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return ApprovalEntry{
		Approver: approver,
		Action:   action,
		Date:     at,
		Comment:  strings.TrimSpace(comment),
	}
}
