// Package conflict reconciles queued offline events with each other and
// with the attendance service's answer to them.
package conflict

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// Resolution is the outcome of comparing a local event with the server.
type Resolution string

const (
	NoConflict    Resolution = "no_conflict"
	PreferServer  Resolution = "prefer_server"
	PreferOffline Resolution = "prefer_offline"
	MergeData     Resolution = "merge_data"
)

// DefaultMaxAge is how old an offline event may be and still be submitted.
const DefaultMaxAge = 7 * 24 * time.Hour

// Policy holds the limits used by validation and resolution.
type Policy struct {
	Window          time.Duration
	MaxAge          time.Duration
	FutureTolerance time.Duration
}

// DefaultPolicy returns a policy with the given cooldown window.
func DefaultPolicy(window time.Duration) Policy {
	return Policy{Window: window, MaxAge: DefaultMaxAge}
}

// IsSameLogicalOperation reports whether a and b are the same punch
// captured more than once: same employee, same side, less than window apart.
func IsSameLogicalOperation(a, b *models.AttendanceEvent, window time.Duration) bool {
	if a == nil || b == nil {
		return false
	}
	if a.EmployeeID != b.EmployeeID || a.Kind != b.Kind {
		return false
	}
	diff := a.CapturedAtMs - b.CapturedAtMs
	if diff < 0 {
		diff = -diff
	}
	return diff < window.Milliseconds()
}

// Group is a run of duplicate captures. Representative is the newest one.
type Group struct {
	Representative *models.AttendanceEvent
	Duplicates     []*models.AttendanceEvent
}

// GroupOfflineRecords chains events that are the same logical operation as
// their predecessor. Groups are returned by representative capture time.
func GroupOfflineRecords(events []*models.AttendanceEvent, window time.Duration) []Group {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]*models.AttendanceEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.CapturedAtMs != b.CapturedAtMs {
			return a.CapturedAtMs < b.CapturedAtMs
		}
		return a.ID < b.ID
	})

	var groups []Group
	run := []*models.AttendanceEvent{sorted[0]}
	flush := func() {
		last := len(run) - 1
		groups = append(groups, Group{
			Representative: run[last],
			Duplicates:     append([]*models.AttendanceEvent(nil), run[:last]...),
		})
	}
	for _, e := range sorted[1:] {
		if IsSameLogicalOperation(run[len(run)-1], e, window) {
			run = append(run, e)
			continue
		}
		flush()
		run = []*models.AttendanceEvent{e}
	}
	flush()

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Representative, groups[j].Representative
		if a.CapturedAtMs != b.CapturedAtMs {
			return a.CapturedAtMs < b.CapturedAtMs
		}
		return a.ID < b.ID
	})

	if dropped := len(events) - len(groups); dropped > 0 {
		logging.Info("Collapsed duplicate offline captures", map[string]interface{}{
			"events":  len(events),
			"kept":    len(groups),
			"dropped": dropped,
		})
	}
	return groups
}

// DeduplicateOfflineRecords keeps the newest event of every group of
// duplicates, ordered by capture time.
func DeduplicateOfflineRecords(events []*models.AttendanceEvent, window time.Duration) []*models.AttendanceEvent {
	groups := GroupOfflineRecords(events, window)
	out := make([]*models.AttendanceEvent, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Representative)
	}
	return out
}

// Validation is the verdict on a queued event.
type Validation struct {
	Valid  bool
	Reason string
}

func invalid(format string, args ...interface{}) Validation {
	return Validation{Reason: fmt.Sprintf(format, args...)}
}

// ValidateOfflineAttendance checks an event before it is submitted.
func ValidateOfflineAttendance(e *models.AttendanceEvent, now time.Time, p Policy) Validation {
	if e == nil {
		return invalid("missing event")
	}
	switch {
	case e.EmployeeID == "":
		return invalid("missing employee id")
	case math.IsNaN(e.Latitude) || e.Latitude < -90 || e.Latitude > 90:
		return invalid("latitude %v out of range", e.Latitude)
	case math.IsNaN(e.Longitude) || e.Longitude < -180 || e.Longitude > 180:
		return invalid("longitude %v out of range", e.Longitude)
	case e.Latitude == 0 && e.Longitude == 0:
		return invalid("location is unset")
	case !e.ScanType.Valid():
		return invalid("unknown scan type %q", e.ScanType)
	case !e.Kind.Valid():
		return invalid("unknown punch kind %q", e.Kind)
	}

	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	captured := e.CapturedAt()
	if now.Sub(captured) > maxAge {
		return invalid("captured %s ago, older than %s", now.Sub(captured).Round(time.Second), maxAge)
	}
	if captured.Sub(now) > p.FutureTolerance {
		return invalid("captured %s in the future", captured.Sub(now).Round(time.Millisecond))
	}
	return Validation{Valid: true}
}

// ResolveConflict compares a delivered local event with the server's view.
// Rules are checked in order: employee mismatch, agreement, recent local
// capture, and finally server authority.
func ResolveConflict(local *models.AttendanceEvent, server *models.ServerResponse, now time.Time, window time.Duration) Resolution {
	var res Resolution
	switch {
	case server.EmployeeID != "" && server.EmployeeID != local.EmployeeID:
		res = MergeData
	case server.Status == models.StatusFor(local.Kind):
		res = NoConflict
	case now.Sub(local.CapturedAt()) < window:
		res = PreferOffline
	default:
		res = PreferServer
	}

	logging.Info("Resolved offline event against server", map[string]interface{}{
		"event_id":      local.ID.String(),
		"local_kind":    string(local.Kind),
		"server_status": server.Status,
		"resolution":    string(res),
	})
	return res
}

// MergeAttendanceData builds the reconciled record. The server's id and
// status win over the local ones.
func MergeAttendanceData(local *models.AttendanceEvent, server *models.ServerResponse) (*models.MergedRecord, error) {
	if local == nil || server == nil {
		return nil, ErrInvalidConflict
	}

	merged := &models.MergedRecord{
		ID:           server.ID,
		EventID:      local.ID,
		EmployeeID:   local.EmployeeID,
		Kind:         local.Kind,
		Status:       server.Status,
		Message:      fmt.Sprintf("%s %s (synced from offline)", scanLabel(local.ScanType), kindLabel(local.Kind)),
		CapturedAtMs: local.CapturedAtMs,
	}
	if merged.ID == "" {
		merged.ID = local.ID.String()
	}
	if merged.Status == "" {
		merged.Status = models.StatusFor(local.Kind)
	}
	if server.EmployeeID != "" {
		merged.EmployeeID = server.EmployeeID
	}
	return merged, nil
}

func scanLabel(s models.ScanType) string {
	switch s {
	case models.ScanTypeFace:
		return "Face"
	case models.ScanTypeFingerprint:
		return "Fingerprint"
	default:
		return "Manual"
	}
}

func kindLabel(k models.PunchKind) string {
	if k == models.PunchCheckOut {
		return "check-out"
	}
	return "check-in"
}

// ErrInvalidConflict is returned when either side of a merge is missing.
var ErrInvalidConflict = apperrors.New(apperrors.ErrInternal, "invalid conflict: local event and server response are required")
