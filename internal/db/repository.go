// Package db provides CRUD repository operations for punchsync data models.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kimhsiao/punchsync/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository provides CRUD operations for all models.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// AttendanceEvent Operations
// =====================================================

const eventColumns = `id, employee_id, latitude, longitude, scan_type, kind,
	captured_at, synced, synced_at, attempts, last_error`

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.AttendanceEvent, error) {
	var e models.AttendanceEvent
	var syncedAt sql.NullInt64
	var scanType, kind string
	err := row.Scan(&e.ID, &e.EmployeeID, &e.Latitude, &e.Longitude, &scanType, &kind,
		&e.CapturedAtMs, &e.Synced, &syncedAt, &e.Attempts, &e.LastError)
	if err != nil {
		return nil, err
	}
	e.ScanType = models.ScanType(scanType)
	e.Kind = models.PunchKind(kind)
	if syncedAt.Valid {
		e.SyncedAtMs = syncedAt.Int64
	}
	return &e, nil
}

// CreateEvent inserts a captured event. The ID must already be assigned.
func (r *Repository) CreateEvent(e *models.AttendanceEvent) error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	var syncedAt interface{}
	if e.Synced {
		syncedAt = e.SyncedAtMs
	}
	query := `
	INSERT INTO attendance_events (` + eventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, e.ID, e.EmployeeID, e.Latitude, e.Longitude,
		string(e.ScanType), string(e.Kind), e.CapturedAtMs, e.Synced, syncedAt,
		e.Attempts, e.LastError)
	return err
}

// GetEvent retrieves an event by ID.
func (r *Repository) GetEvent(id string) (*models.AttendanceEvent, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + eventColumns + ` FROM attendance_events WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	e, err := scanEvent(stmt.QueryRow(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListUnsyncedEvents returns unsynced events, oldest capture first.
func (r *Repository) ListUnsyncedEvents() ([]*models.AttendanceEvent, error) {
	rows, err := r.db.Query(`SELECT ` + eventColumns + ` FROM attendance_events
		WHERE synced = 0 ORDER BY captured_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AttendanceEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountUnsyncedEvents returns the number of events awaiting delivery.
func (r *Repository) CountUnsyncedEvents() (int, error) {
	stmt, err := r.PrepareStmt(`SELECT COUNT(*) FROM attendance_events WHERE synced = 0`)
	if err != nil {
		return 0, err
	}
	var n int
	err = stmt.QueryRow().Scan(&n)
	return n, err
}

// MarkEventSynced sets synced=1. Marking an already synced event is a no-op.
func (r *Repository) MarkEventSynced(id string, syncedAtMs int64) error {
	res, err := r.db.Exec(`UPDATE attendance_events
		SET synced = 1, synced_at = COALESCE(synced_at, ?)
		WHERE id = ?`, syncedAtMs, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordEventFailure bumps the attempt counter and stores the last error.
func (r *Repository) RecordEventFailure(id, message string) error {
	_, err := r.db.Exec(`UPDATE attendance_events
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ? AND synced = 0`, message, id)
	return err
}

// DeleteSyncedEventsBefore removes synced events captured before cutoffMs.
// Unsynced events are never deleted.
func (r *Repository) DeleteSyncedEventsBefore(cutoffMs int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM attendance_events
		WHERE synced = 1 AND captured_at < ?`, cutoffMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =====================================================
// DailyCooldownRecord Operations
// =====================================================

// GetCooldown returns the record of date, or nil when none exists yet.
func (r *Repository) GetCooldown(date string) (*models.DailyCooldownRecord, error) {
	stmt, err := r.PrepareStmt(`SELECT date, last_punch_at, has_checked_in, has_checked_out,
		check_in_time, check_out_time FROM daily_cooldown WHERE date = ?`)
	if err != nil {
		return nil, err
	}

	var rec models.DailyCooldownRecord
	var checkIn, checkOut sql.NullInt64
	err = stmt.QueryRow(date).Scan(&rec.Date, &rec.LastPunchAtMs, &rec.HasCheckedIn,
		&rec.HasCheckedOut, &checkIn, &checkOut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if checkIn.Valid {
		v := checkIn.Int64
		rec.CheckInTime = &v
	}
	if checkOut.Valid {
		v := checkOut.Int64
		rec.CheckOutTime = &v
	}
	return &rec, nil
}

// SaveCooldown inserts or replaces the record of rec.Date.
func (r *Repository) SaveCooldown(rec *models.DailyCooldownRecord) error {
	query := `
	INSERT INTO daily_cooldown (date, last_punch_at, has_checked_in, has_checked_out,
		check_in_time, check_out_time)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(date) DO UPDATE SET
		last_punch_at = excluded.last_punch_at,
		has_checked_in = excluded.has_checked_in,
		has_checked_out = excluded.has_checked_out,
		check_in_time = excluded.check_in_time,
		check_out_time = excluded.check_out_time
	`
	_, err := r.db.Exec(query, rec.Date, rec.LastPunchAtMs, rec.HasCheckedIn, rec.HasCheckedOut,
		nullableInt(rec.CheckInTime), nullableInt(rec.CheckOutTime))
	return err
}

// DeleteCooldownBefore removes records of days strictly before date.
func (r *Repository) DeleteCooldownBefore(date string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM daily_cooldown WHERE date < ?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
