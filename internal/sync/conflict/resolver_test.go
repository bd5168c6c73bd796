// Package conflict provides unit tests for offline event reconciliation.
package conflict

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/models"
)

const window = 2 * time.Minute

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func event(id string, kind models.PunchKind, at time.Time) *models.AttendanceEvent {
	return &models.AttendanceEvent{
		ID:           models.UUID(id),
		EmployeeID:   "emp-1",
		Latitude:     -6.2,
		Longitude:    106.8,
		ScanType:     models.ScanTypeFace,
		Kind:         kind,
		CapturedAtMs: at.UnixMilli(),
	}
}

// TestIsSameLogicalOperation tests the duplicate predicate.
func TestIsSameLogicalOperation(t *testing.T) {
	a := event("a", models.PunchCheckIn, base)

	other := event("c", models.PunchCheckIn, base.Add(time.Second))
	other.EmployeeID = "emp-2"

	tests := []struct {
		name string
		b    *models.AttendanceEvent
		want bool
	}{
		{"within window", event("b", models.PunchCheckIn, base.Add(window-time.Millisecond)), true},
		{"before, within window", event("b", models.PunchCheckIn, base.Add(-time.Minute)), true},
		{"exactly window", event("b", models.PunchCheckIn, base.Add(window)), false},
		{"other kind", event("b", models.PunchCheckOut, base.Add(time.Second)), false},
		{"other employee", other, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSameLogicalOperation(a, tt.b, window); got != tt.want {
				t.Errorf("IsSameLogicalOperation() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestDeduplicateKeepsNewest tests that a pair of duplicates collapses to the later one.
func TestDeduplicateKeepsNewest(t *testing.T) {
	older := event("older", models.PunchCheckIn, base)
	newer := event("newer", models.PunchCheckIn, base.Add(30*time.Second))

	for _, input := range [][]*models.AttendanceEvent{{older, newer}, {newer, older}} {
		got := DeduplicateOfflineRecords(input, window)
		if len(got) != 1 {
			t.Fatalf("Expected 1 event, got %d", len(got))
		}
		if got[0].ID != "newer" {
			t.Errorf("Expected newer event to be kept, got %s", got[0].ID)
		}
	}
}

// TestDeduplicateChains tests that captures within one window of their predecessor chain together.
func TestDeduplicateChains(t *testing.T) {
	events := []*models.AttendanceEvent{
		event("e1", models.PunchCheckIn, base),
		event("e2", models.PunchCheckIn, base.Add(90*time.Second)),
		event("e3", models.PunchCheckIn, base.Add(180*time.Second)),
		event("out", models.PunchCheckOut, base.Add(8*time.Hour)),
	}

	groups := GroupOfflineRecords(events, window)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if groups[0].Representative.ID != "e3" {
		t.Errorf("Expected e3 to represent the check-in run, got %s", groups[0].Representative.ID)
	}
	if len(groups[0].Duplicates) != 2 {
		t.Errorf("Expected 2 duplicates, got %d", len(groups[0].Duplicates))
	}
	if groups[1].Representative.ID != "out" || len(groups[1].Duplicates) != 0 {
		t.Errorf("Unexpected second group %+v", groups[1])
	}
}

// TestDeduplicateOrdersByCaptureTime tests the output order across employees and kinds.
func TestDeduplicateOrdersByCaptureTime(t *testing.T) {
	b := event("b", models.PunchCheckIn, base.Add(time.Minute))
	b.EmployeeID = "emp-0"
	events := []*models.AttendanceEvent{
		event("c", models.PunchCheckOut, base.Add(9*time.Hour)),
		b,
		event("a", models.PunchCheckIn, base),
	}

	got := DeduplicateOfflineRecords(events, window)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID.String()
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("Expected order a,b,c, got %v", ids)
	}
}

// TestDeduplicateEmpty tests empty input.
func TestDeduplicateEmpty(t *testing.T) {
	if got := DeduplicateOfflineRecords(nil, window); len(got) != 0 {
		t.Errorf("Expected no events, got %d", len(got))
	}
}

// TestValidateOfflineAttendance tests every rejection rule.
func TestValidateOfflineAttendance(t *testing.T) {
	now := base
	policy := DefaultPolicy(window)

	mutate := func(f func(e *models.AttendanceEvent)) *models.AttendanceEvent {
		e := event("v", models.PunchCheckIn, now.Add(-time.Hour))
		f(e)
		return e
	}

	tests := []struct {
		name  string
		event *models.AttendanceEvent
		valid bool
	}{
		{"valid", mutate(func(e *models.AttendanceEvent) {}), true},
		{"blank employee", mutate(func(e *models.AttendanceEvent) { e.EmployeeID = "" }), false},
		{"latitude too high", mutate(func(e *models.AttendanceEvent) { e.Latitude = 90.5 }), false},
		{"longitude too low", mutate(func(e *models.AttendanceEvent) { e.Longitude = -181 }), false},
		{"null island", mutate(func(e *models.AttendanceEvent) { e.Latitude, e.Longitude = 0, 0 }), false},
		{"zero latitude only", mutate(func(e *models.AttendanceEvent) { e.Latitude = 0 }), true},
		{"unknown scan type", mutate(func(e *models.AttendanceEvent) { e.ScanType = "iris" }), false},
		{"unknown kind", mutate(func(e *models.AttendanceEvent) { e.Kind = "lunch" }), false},
		{"older than seven days", mutate(func(e *models.AttendanceEvent) {
			e.CapturedAtMs = now.Add(-7*24*time.Hour - time.Second).UnixMilli()
		}), false},
		{"exactly seven days", mutate(func(e *models.AttendanceEvent) {
			e.CapturedAtMs = now.Add(-7 * 24 * time.Hour).UnixMilli()
		}), true},
		{"in the future", mutate(func(e *models.AttendanceEvent) {
			e.CapturedAtMs = now.Add(time.Millisecond).UnixMilli()
		}), false},
		{"captured now", mutate(func(e *models.AttendanceEvent) { e.CapturedAtMs = now.UnixMilli() }), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateOfflineAttendance(tt.event, now, policy)
			if got.Valid != tt.valid {
				t.Errorf("ValidateOfflineAttendance() = %+v, want valid=%v", got, tt.valid)
			}
			if !got.Valid && got.Reason == "" {
				t.Error("Expected a reason for an invalid event")
			}
		})
	}
}

// TestValidateFutureTolerance tests the configurable clock drift allowance.
func TestValidateFutureTolerance(t *testing.T) {
	policy := DefaultPolicy(window)
	policy.FutureTolerance = 5 * time.Second

	e := event("f", models.PunchCheckIn, base.Add(3*time.Second))
	if got := ValidateOfflineAttendance(e, base, policy); !got.Valid {
		t.Errorf("Expected event within tolerance to be valid, got %s", got.Reason)
	}

	e.CapturedAtMs = base.Add(6 * time.Second).UnixMilli()
	if got := ValidateOfflineAttendance(e, base, policy); got.Valid {
		t.Error("Expected event beyond tolerance to be invalid")
	}
}

// TestResolveConflict tests the rule order.
func TestResolveConflict(t *testing.T) {
	local := event("l", models.PunchCheckIn, base)

	tests := []struct {
		name   string
		server *models.ServerResponse
		now    time.Time
		want   Resolution
	}{
		{"employee mismatch wins over agreement",
			&models.ServerResponse{EmployeeID: "emp-9", Status: models.StatusCheckedIn}, base, MergeData},
		{"same status", &models.ServerResponse{Status: models.StatusCheckedIn}, base.Add(time.Hour), NoConflict},
		{"matching employee id", &models.ServerResponse{EmployeeID: "emp-1", Status: models.StatusCheckedIn}, base, NoConflict},
		{"disagreement on a recent capture", &models.ServerResponse{Status: models.StatusCheckedOut}, base.Add(time.Minute), PreferOffline},
		{"disagreement on an old capture", &models.ServerResponse{Status: models.StatusCheckedOut}, base.Add(window), PreferServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveConflict(local, tt.server, tt.now, window); got != tt.want {
				t.Errorf("ResolveConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestMergeAttendanceData tests that the server's identity and status win.
func TestMergeAttendanceData(t *testing.T) {
	local := event("l", models.PunchCheckOut, base)
	local.ScanType = models.ScanTypeFingerprint

	merged, err := MergeAttendanceData(local, &models.ServerResponse{ID: "srv-42", Status: models.StatusCheckedOut})
	if err != nil {
		t.Fatalf("MergeAttendanceData failed: %v", err)
	}
	if merged.ID != "srv-42" || merged.Status != models.StatusCheckedOut {
		t.Errorf("Expected server id and status, got %+v", merged)
	}
	if merged.EventID != local.ID || merged.CapturedAtMs != local.CapturedAtMs {
		t.Errorf("Expected local identity to be kept, got %+v", merged)
	}
	if !strings.Contains(merged.Message, "Fingerprint") || !strings.Contains(merged.Message, "synced from offline") {
		t.Errorf("Unexpected message %q", merged.Message)
	}
}

// TestMergeAttendanceDataFallbacks tests defaults when the server says little.
func TestMergeAttendanceDataFallbacks(t *testing.T) {
	local := event("l", models.PunchCheckIn, base)

	merged, err := MergeAttendanceData(local, &models.ServerResponse{})
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID != "l" || merged.Status != models.StatusCheckedIn {
		t.Errorf("Expected local fallbacks, got %+v", merged)
	}

	_, err = MergeAttendanceData(nil, &models.ServerResponse{})
	if !errors.Is(err, ErrInvalidConflict) || !apperrors.Is(err, apperrors.ErrInternal) {
		t.Errorf("Expected ErrInvalidConflict, got %v", err)
	}
}
