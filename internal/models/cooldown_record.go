// Package models provides data model definitions for punchsync.
package models

import "time"

// DateLayout is the calendar-day key of DailyCooldownRecord.
const DateLayout = "2006-01-02"

// DailyCooldownRecord tracks the punches of one calendar day.
// HasCheckedOut is only ever true when HasCheckedIn is.
type DailyCooldownRecord struct {
	Date          string `db:"date" json:"date"`
	LastPunchAtMs int64  `db:"last_punch_at" json:"last_punch_at"`
	HasCheckedIn  bool   `db:"has_checked_in" json:"has_checked_in"`
	HasCheckedOut bool   `db:"has_checked_out" json:"has_checked_out"`
	CheckInTime   *int64 `db:"check_in_time" json:"check_in_time"`
	CheckOutTime  *int64 `db:"check_out_time" json:"check_out_time"`
}

// TableName returns the table name for DailyCooldownRecord.
func (DailyCooldownRecord) TableName() string {
	return "daily_cooldown"
}

// NextKind returns the side the next punch of the day records, or false
// when the cycle is already complete.
func (r *DailyCooldownRecord) NextKind() (PunchKind, bool) {
	switch {
	case r == nil || !r.HasCheckedIn:
		return PunchCheckIn, true
	case !r.HasCheckedOut:
		return PunchCheckOut, true
	default:
		return "", false
	}
}

// DayStatus is the per-day summary shown to the user.
type DayStatus struct {
	Date          string     `json:"date"`
	HasCheckedIn  bool       `json:"has_checked_in"`
	HasCheckedOut bool       `json:"has_checked_out"`
	CheckInTime   *time.Time `json:"check_in_time"`
	CheckOutTime  *time.Time `json:"check_out_time"`
}

// Status converts the record into a DayStatus. A nil record yields an
// empty status for date.
func (r *DailyCooldownRecord) Status(date string) DayStatus {
	s := DayStatus{Date: date}
	if r == nil {
		return s
	}
	s.HasCheckedIn = r.HasCheckedIn
	s.HasCheckedOut = r.HasCheckedOut
	if r.CheckInTime != nil {
		t := time.UnixMilli(*r.CheckInTime)
		s.CheckInTime = &t
	}
	if r.CheckOutTime != nil {
		t := time.UnixMilli(*r.CheckOutTime)
		s.CheckOutTime = &t
	}
	return s
}
