// Package models provides data model definitions for punchsync.
package models

import "time"

// ScanType identifies how the employee was verified at capture.
type ScanType string

const (
	ScanTypeFace        ScanType = "face"
	ScanTypeFingerprint ScanType = "fingerprint"
	ScanTypeManual      ScanType = "manual"
)

// Valid reports whether s is one of the known scan types.
func (s ScanType) Valid() bool {
	switch s {
	case ScanTypeFace, ScanTypeFingerprint, ScanTypeManual:
		return true
	}
	return false
}

// PunchKind is the side of the day cycle an event records.
type PunchKind string

const (
	PunchCheckIn  PunchKind = "check_in"
	PunchCheckOut PunchKind = "check_out"
)

// Valid reports whether k is check_in or check_out.
func (k PunchKind) Valid() bool {
	return k == PunchCheckIn || k == PunchCheckOut
}

// AttendanceEvent is a captured punch that is not yet guaranteed delivered.
// Only Synced/SyncedAt and the failure diagnostics change after capture.
type AttendanceEvent struct {
	ID           UUID      `db:"id" json:"id"`
	EmployeeID   string    `db:"employee_id" json:"employee_id"`
	Latitude     float64   `db:"latitude" json:"latitude"`
	Longitude    float64   `db:"longitude" json:"longitude"`
	ScanType     ScanType  `db:"scan_type" json:"scan_type"`
	Kind         PunchKind `db:"kind" json:"kind"`
	CapturedAtMs int64     `db:"captured_at" json:"captured_at"`
	Synced       bool      `db:"synced" json:"synced"`
	SyncedAtMs   int64     `db:"synced_at" json:"synced_at,omitempty"`
	Attempts     int       `db:"attempts" json:"attempts"`
	LastError    string    `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for AttendanceEvent.
func (AttendanceEvent) TableName() string {
	return "attendance_events"
}

// CapturedAt returns CapturedAtMs as time.Time.
func (e *AttendanceEvent) CapturedAt() time.Time {
	return time.UnixMilli(e.CapturedAtMs)
}
