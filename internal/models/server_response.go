// Package models provides data model definitions for punchsync.
package models

// Server-side day states reported back for a submission.
const (
	StatusCheckedIn  = "checked_in"
	StatusCheckedOut = "checked_out"
)

// ServerResponse is the normalized answer of the attendance service to
// one submitted event.
type ServerResponse struct {
	ID         string `json:"id,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
}

// StatusFor returns the server state a successful punch of kind produces.
func StatusFor(kind PunchKind) string {
	if kind == PunchCheckOut {
		return StatusCheckedOut
	}
	return StatusCheckedIn
}

// MergedRecord is the reconciled view of an offline event and the server's
// answer to it.
type MergedRecord struct {
	ID           string    `json:"id"`
	EventID      UUID      `json:"event_id"`
	EmployeeID   string    `json:"employee_id"`
	Kind         PunchKind `json:"kind"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	CapturedAtMs int64     `json:"captured_at"`
}
