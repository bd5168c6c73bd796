// Package cooldown tracks per-day punch state and the minimum spacing
// between two accepted punches.
package cooldown

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// Store is the persistence the cache needs. *db.Repository implements it.
type Store interface {
	GetCooldown(date string) (*models.DailyCooldownRecord, error)
	SaveCooldown(rec *models.DailyCooldownRecord) error
	DeleteCooldownBefore(date string) (int64, error)
}

// Correction is an authoritative statement from the server about the day.
type Correction int

const (
	// AlreadyCheckedIn means the server holds a check-in for the day.
	AlreadyCheckedIn Correction = iota
	// AlreadyCheckedOut means the server holds the full cycle.
	AlreadyCheckedOut
	// NotCheckedIn means the server has no check-in for the day.
	NotCheckedIn
)

func (c Correction) String() string {
	switch c {
	case AlreadyCheckedIn:
		return "already_checked_in"
	case AlreadyCheckedOut:
		return "already_checked_out"
	case NotCheckedIn:
		return "not_checked_in"
	default:
		return fmt.Sprintf("correction(%d)", int(c))
	}
}

// DateOf returns the day key of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(models.DateLayout)
}

// Cache is a write-through cache of daily records.
type Cache struct {
	store Store

	mu   sync.Mutex
	days map[string]*models.DailyCooldownRecord
}

// New creates a Cache over store.
func New(store Store) *Cache {
	return &Cache{
		store: store,
		days:  make(map[string]*models.DailyCooldownRecord),
	}
}

// load returns the record of date, nil when the day has no punches.
// Caller must hold c.mu.
func (c *Cache) load(date string) (*models.DailyCooldownRecord, error) {
	if rec, ok := c.days[date]; ok {
		return rec, nil
	}
	rec, err := c.store.GetCooldown(date)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read cooldown record", err)
	}
	if rec != nil {
		c.days[date] = rec
	}
	return rec, nil
}

// save persists rec and updates the cache. Caller must hold c.mu.
func (c *Cache) save(rec *models.DailyCooldownRecord) error {
	if err := c.store.SaveCooldown(rec); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save cooldown record", err)
	}
	c.days[rec.Date] = rec
	return nil
}

// GetRecord returns a copy of the record of date, or nil.
func (c *Cache) GetRecord(date string) (*models.DailyCooldownRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(date)
	if err != nil || rec == nil {
		return nil, err
	}
	cp := copyRecord(rec)
	return &cp, nil
}

// RecordPunch merges an accepted punch into the day. Flags only turn on,
// the last punch time only moves forward and the first time of each side
// is kept.
func (c *Cache) RecordPunch(date string, kind models.PunchKind, at time.Time) error {
	if !kind.Valid() {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("invalid punch kind %q", kind))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.load(date)
	if err != nil {
		return err
	}
	next := models.DailyCooldownRecord{Date: date}
	if cur != nil {
		next = copyRecord(cur)
	}

	ms := at.UnixMilli()
	if ms > next.LastPunchAtMs {
		next.LastPunchAtMs = ms
	}
	switch kind {
	case models.PunchCheckIn:
		next.HasCheckedIn = true
		if next.CheckInTime == nil {
			next.CheckInTime = &ms
		}
	case models.PunchCheckOut:
		next.HasCheckedIn = true
		next.HasCheckedOut = true
		if next.CheckOutTime == nil {
			next.CheckOutTime = &ms
		}
	}

	if err := c.save(&next); err != nil {
		return err
	}
	logging.Debug("Recorded punch", map[string]interface{}{
		"date":            date,
		"kind":            string(kind),
		"has_checked_in":  next.HasCheckedIn,
		"has_checked_out": next.HasCheckedOut,
	})
	return nil
}

// Correct applies a server statement about the day. This is the only
// operation that may clear flags.
func (c *Cache) Correct(date string, correction Correction, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.load(date)
	if err != nil {
		return err
	}
	next := models.DailyCooldownRecord{Date: date}
	if cur != nil {
		next = copyRecord(cur)
	}

	ms := at.UnixMilli()
	switch correction {
	case AlreadyCheckedIn:
		next.HasCheckedIn = true
		if next.CheckInTime == nil {
			next.CheckInTime = &ms
		}
	case AlreadyCheckedOut:
		next.HasCheckedIn = true
		next.HasCheckedOut = true
		if next.CheckInTime == nil {
			next.CheckInTime = &ms
		}
		if next.CheckOutTime == nil {
			next.CheckOutTime = &ms
		}
	case NotCheckedIn:
		next.HasCheckedIn = false
		next.HasCheckedOut = false
		next.CheckInTime = nil
		next.CheckOutTime = nil
	default:
		return apperrors.New(apperrors.ErrInternal, "unknown correction "+correction.String())
	}
	if next.LastPunchAtMs == 0 && correction != NotCheckedIn {
		next.LastPunchAtMs = ms
	}

	if err := c.save(&next); err != nil {
		return err
	}
	logging.Info("Corrected day state from server", map[string]interface{}{
		"date":       date,
		"correction": correction.String(),
	})
	return nil
}

// IsWithinCooldown reports whether now is less than window after the last
// accepted punch of date.
func (c *Cache) IsWithinCooldown(date string, now time.Time, window time.Duration) (bool, error) {
	remaining, err := c.Remaining(date, now, window)
	return remaining > 0, err
}

// Remaining returns how long the cooldown of date still lasts at now.
func (c *Cache) Remaining(date string, now time.Time, window time.Duration) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(date)
	if err != nil || rec == nil || rec.LastPunchAtMs == 0 {
		return 0, err
	}
	elapsed := time.Duration(now.UnixMilli()-rec.LastPunchAtMs) * time.Millisecond
	if elapsed >= window {
		return 0, nil
	}
	return window - elapsed, nil
}

// PurgeOlderThan drops the records of days before date.
func (c *Cache) PurgeOlderThan(date string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.store.DeleteCooldownBefore(date)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to purge cooldown records", err)
	}
	for d := range c.days {
		if d < date {
			delete(c.days, d)
		}
	}
	return n, nil
}

func copyRecord(r *models.DailyCooldownRecord) models.DailyCooldownRecord {
	cp := *r
	if r.CheckInTime != nil {
		v := *r.CheckInTime
		cp.CheckInTime = &v
	}
	if r.CheckOutTime != nil {
		v := *r.CheckOutTime
		cp.CheckOutTime = &v
	}
	return cp
}
