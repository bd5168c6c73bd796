// Package queue provides the durable queue of attendance events captured
// while the attendance service could not be reached.
package queue

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kimhsiao/punchsync/internal/db"
	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// Store is the persistence the queue needs. *db.Repository implements it.
type Store interface {
	CreateEvent(e *models.AttendanceEvent) error
	GetEvent(id string) (*models.AttendanceEvent, error)
	ListUnsyncedEvents() ([]*models.AttendanceEvent, error)
	CountUnsyncedEvents() (int, error)
	MarkEventSynced(id string, syncedAtMs int64) error
	RecordEventFailure(id, message string) error
	DeleteSyncedEventsBefore(cutoffMs int64) (int64, error)
}

// EventQueue is an append-only store of captured events. Entries are only
// ever flipped to synced and removed by the retention sweep.
type EventQueue struct {
	store Store
	now   func() time.Time
}

// New creates an EventQueue over store.
func New(store Store) *EventQueue {
	return &EventQueue{store: store, now: time.Now}
}

// SetClock replaces the clock used to stamp synced_at.
func (q *EventQueue) SetClock(now func() time.Time) {
	q.now = now
}

// Append persists a new unsynced event.
func (q *EventQueue) Append(e *models.AttendanceEvent) error {
	e.Synced = false
	e.SyncedAtMs = 0
	if err := q.store.CreateEvent(e); err != nil {
		logging.ErrorWithCode("Failed to queue attendance event", string(apperrors.ErrStorage), err,
			map[string]interface{}{"event_id": e.ID.String(), "kind": string(e.Kind)})
		return apperrors.Wrap(apperrors.ErrStorage, "failed to queue attendance event", err)
	}

	logging.Info("Queued attendance event", map[string]interface{}{
		"event_id":    e.ID.String(),
		"kind":        string(e.Kind),
		"captured_at": e.CapturedAtMs,
	})
	return nil
}

// ListUnsynced returns the events awaiting delivery, oldest capture first.
func (q *EventQueue) ListUnsynced() ([]*models.AttendanceEvent, error) {
	events, err := q.store.ListUnsyncedEvents()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list queued events", err)
	}
	return events, nil
}

// GetByID returns the event with id. A missing event yields db.ErrNotFound
// in the chain.
func (q *EventQueue) GetByID(id models.UUID) (*models.AttendanceEvent, error) {
	e, err := q.store.GetEvent(id.String())
	if err != nil {
		if stderrors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read queued event", err)
	}
	return e, nil
}

// MarkSynced flags the event as delivered. Repeated calls are no-ops.
func (q *EventQueue) MarkSynced(id models.UUID) error {
	if err := q.store.MarkEventSynced(id.String(), q.now().UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to mark event %s synced", id), err)
	}
	return nil
}

// RecordFailure stores the outcome of a failed delivery attempt.
func (q *EventQueue) RecordFailure(id models.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.store.RecordEventFailure(id.String(), msg); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to record delivery failure", err)
	}
	return nil
}

// PendingCount returns the number of unsynced events.
func (q *EventQueue) PendingCount() (int, error) {
	n, err := q.store.CountUnsyncedEvents()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count queued events", err)
	}
	return n, nil
}

// PurgeSyncedOlderThan deletes synced events captured before cutoff.
// Unsynced events are kept regardless of age.
func (q *EventQueue) PurgeSyncedOlderThan(cutoff time.Time) (int64, error) {
	n, err := q.store.DeleteSyncedEventsBefore(cutoff.UnixMilli())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to purge synced events", err)
	}
	if n > 0 {
		logging.Info("Purged synced attendance events", map[string]interface{}{
			"count":  n,
			"cutoff": cutoff.UnixMilli(),
		})
	}
	return n, nil
}
