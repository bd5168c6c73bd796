// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"

	"github.com/kimhsiao/punchsync/internal/models"
)

// AttendanceEngine defines the operations exposed to the UI layer.
// This interface allows for mocking in tests and alternative implementations.
type AttendanceEngine interface {
	// SubmitPunch records a completed capture. It never returns an error;
	// every outcome is described by the result.
	SubmitPunch(ctx context.Context, scanType models.ScanType, lat, lon float64) PunchResult

	// TriggerDrain delivers queued events. Concurrent callers share one drain.
	TriggerDrain(ctx context.Context) (*DrainResult, error)

	// TodayStatus returns the punches of the current day.
	TodayStatus() (models.DayStatus, error)

	// PendingCount returns the number of events awaiting delivery.
	PendingCount() (int, error)

	// SetEventHandler sets the handler notified of state transitions.
	SetEventHandler(handler EventHandler)

	// Status returns the last state entered.
	Status() State

	// LastDrain returns the result of the last completed drain.
	LastDrain() *DrainResult

	// LastError returns the last error that occurred during a drain.
	LastError() error
}

// EventHandler receives state transitions.
type EventHandler interface {
	OnTransition(t Transition)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(t Transition)

// OnTransition calls f(t).
func (f EventHandlerFunc) OnTransition(t Transition) {
	f(t)
}
