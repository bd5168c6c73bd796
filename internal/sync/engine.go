// Package sync delivers attendance punches to the attendance service and
// keeps them locally while the service cannot be reached.
package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/punchsync/internal/db"
	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
	"github.com/kimhsiao/punchsync/internal/sync/conflict"
	"github.com/kimhsiao/punchsync/internal/sync/cooldown"
	"github.com/kimhsiao/punchsync/internal/sync/keylock"
	"github.com/kimhsiao/punchsync/internal/uuid"
)

// State of the engine.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateSubmitting  State = "submitting"
	StateQueued      State = "queued"
	StateReconciling State = "reconciling"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Transition is one state change.
type Transition struct {
	From    State
	To      State
	EventID models.UUID
	At      time.Time
}

// Outcome of an interactive punch.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
)

// MsgSavedOffline is returned when the punch was queued for later delivery.
const MsgSavedOffline = "Saved offline, will sync."

// PunchResult describes the outcome of SubmitPunch.
type PunchResult struct {
	Outcome          Outcome             `json:"outcome"`
	Message          string              `json:"message,omitempty"`
	RemainingSeconds int                 `json:"remaining_seconds,omitempty"`
	Code             apperrors.ErrorCode `json:"error_code,omitempty"`
	Kind             models.PunchKind    `json:"kind,omitempty"`
	Queued           bool                `json:"queued,omitempty"`
}

func success(kind models.PunchKind, message string) PunchResult {
	return PunchResult{Outcome: OutcomeSuccess, Kind: kind, Message: message}
}

func blocked(remaining time.Duration) PunchResult {
	secs := int((remaining + time.Second - 1) / time.Second)
	return PunchResult{
		Outcome:          OutcomeBlocked,
		RemainingSeconds: secs,
		Code:             apperrors.ErrCooldownActive,
		Message:          fmt.Sprintf("Please wait %d seconds before punching again.", secs),
	}
}

func failed(code apperrors.ErrorCode, message string) PunchResult {
	if message == "" {
		message = apperrors.UserMessage(code)
	}
	return PunchResult{Outcome: OutcomeFailed, Code: code, Message: message}
}

// DrainResult summarizes one drain.
type DrainResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Synced    int           `json:"synced"`
	Errors    int           `json:"errors"`
	Skipped   int           `json:"skipped"`
	Purged    int64         `json:"purged"`
	// Interrupted is set when the drain stopped early on a transport or
	// session failure. Remaining events stay queued.
	Interrupted bool                   `json:"interrupted"`
	Merged      []*models.MergedRecord `json:"merged,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Queue is the durable event queue.
type Queue interface {
	Append(e *models.AttendanceEvent) error
	ListUnsynced() ([]*models.AttendanceEvent, error)
	GetByID(id models.UUID) (*models.AttendanceEvent, error)
	MarkSynced(id models.UUID) error
	RecordFailure(id models.UUID, cause error) error
	PendingCount() (int, error)
	PurgeSyncedOlderThan(cutoff time.Time) (int64, error)
}

// Cooldown is the per-day punch state.
type Cooldown interface {
	GetRecord(date string) (*models.DailyCooldownRecord, error)
	RecordPunch(date string, kind models.PunchKind, at time.Time) error
	Correct(date string, correction cooldown.Correction, at time.Time) error
	Remaining(date string, now time.Time, window time.Duration) (time.Duration, error)
	PurgeOlderThan(date string) (int64, error)
}

// Credentials exposes the current session.
type Credentials interface {
	Session() models.Session
}

// Submitter sends one event to the attendance service.
type Submitter interface {
	Submit(ctx context.Context, e *models.AttendanceEvent) (*models.ServerResponse, error)
}

// Options tune the engine.
type Options struct {
	CooldownWindow    time.Duration
	EventRetention    time.Duration
	CooldownRetention time.Duration
	FutureTolerance   time.Duration
	Location          *time.Location
	Now               func() time.Time
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		CooldownWindow:    2 * time.Minute,
		EventRetention:    7 * 24 * time.Hour,
		CooldownRetention: 30 * 24 * time.Hour,
		Location:          time.Local,
		Now:               time.Now,
	}
}

// AttendanceSyncEngine coordinates interactive punches and queue drains.
type AttendanceSyncEngine struct {
	queue    Queue
	cooldown Cooldown
	creds    Credentials
	client   Submitter
	opts     Options
	policy   conflict.Policy

	locks   *keylock.Map
	drainMu stdsync.Mutex
	flight  singleflight.Group

	mu        stdsync.Mutex
	state     State
	handler   EventHandler
	lastDrain *DrainResult
	lastErr   error
}

var _ AttendanceEngine = (*AttendanceSyncEngine)(nil)

// NewAttendanceSyncEngine creates an engine. Zero option fields take the
// defaults.
func NewAttendanceSyncEngine(q Queue, cd Cooldown, creds Credentials, client Submitter, opts Options) *AttendanceSyncEngine {
	def := DefaultOptions()
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = def.CooldownWindow
	}
	if opts.EventRetention <= 0 {
		opts.EventRetention = def.EventRetention
	}
	if opts.CooldownRetention <= 0 {
		opts.CooldownRetention = def.CooldownRetention
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	policy := conflict.DefaultPolicy(opts.CooldownWindow)
	policy.FutureTolerance = opts.FutureTolerance

	return &AttendanceSyncEngine{
		queue:    q,
		cooldown: cd,
		creds:    creds,
		client:   client,
		opts:     opts,
		policy:   policy,
		locks:    keylock.New(),
		state:    StateIdle,
	}
}

// SetEventHandler sets the handler notified of state transitions.
func (e *AttendanceSyncEngine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Status returns the last state entered.
func (e *AttendanceSyncEngine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastDrain returns the result of the last completed drain.
func (e *AttendanceSyncEngine) LastDrain() *DrainResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDrain
}

// LastError returns the last drain error.
func (e *AttendanceSyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *AttendanceSyncEngine) transition(to State, eventID models.UUID) {
	e.mu.Lock()
	t := Transition{From: e.state, To: to, EventID: eventID, At: e.opts.Now()}
	e.state = to
	handler := e.handler
	e.mu.Unlock()

	logging.Debug("Engine state change", map[string]interface{}{
		"from":     string(t.From),
		"to":       string(t.To),
		"event_id": eventID.String(),
	})
	if handler != nil {
		handler.OnTransition(t)
	}
}

func (e *AttendanceSyncEngine) today(now time.Time) string {
	return cooldown.DateOf(now, e.opts.Location)
}

// activeProfile returns the signed-in employee, or nil.
func (e *AttendanceSyncEngine) activeProfile() *models.Profile {
	s := e.creds.Session()
	if !s.LoggedIn() || s.Profile == nil || s.Profile.EmployeeID == "" {
		return nil
	}
	return s.Profile
}

// SubmitPunch records a completed capture for the signed-in employee.
func (e *AttendanceSyncEngine) SubmitPunch(ctx context.Context, scanType models.ScanType, lat, lon float64) PunchResult {
	profile := e.activeProfile()
	if profile == nil {
		return failed(apperrors.ErrUnauthorized, "Please sign in again.")
	}

	now := e.opts.Now()
	date := e.today(now)
	unlock := e.locks.Lock(keylock.Key(profile.EmployeeID, date))
	defer unlock()

	e.transition(StateValidating, "")

	remaining, err := e.cooldown.Remaining(date, now, e.opts.CooldownWindow)
	if err != nil {
		e.transition(StateFailed, "")
		return failed(apperrors.ErrStorage, "")
	}
	if remaining > 0 {
		e.transition(StateFailed, "")
		return blocked(remaining)
	}

	queueBehind, stopErr := e.flushPending(ctx, profile, date)

	rec, err := e.cooldown.GetRecord(date)
	if err != nil {
		e.transition(StateFailed, "")
		return failed(apperrors.ErrStorage, "")
	}
	kind, ok := rec.NextKind()
	if !ok {
		e.transition(StateFailed, "")
		return failed(apperrors.ErrValidation, "You have already checked out today.")
	}

	event := &models.AttendanceEvent{
		ID:           uuid.NewEventID(),
		EmployeeID:   profile.EmployeeID,
		Latitude:     lat,
		Longitude:    lon,
		ScanType:     scanType,
		Kind:         kind,
		CapturedAtMs: now.UnixMilli(),
	}
	if v := conflict.ValidateOfflineAttendance(event, now, e.policy); !v.Valid {
		e.transition(StateFailed, event.ID)
		return failed(apperrors.ErrValidation, "Invalid attendance data: "+v.Reason)
	}

	if stopErr != nil {
		return e.handleSubmitError(date, event, now, stopErr)
	}
	if queueBehind {
		return e.queueLocally(date, event, now)
	}

	e.transition(StateSubmitting, event.ID)
	resp, err := e.client.Submit(ctx, event)
	if err == nil {
		if err := e.cooldown.RecordPunch(date, kind, now); err != nil {
			logging.Error("Failed to record accepted punch", err, map[string]interface{}{"event_id": event.ID.String()})
		}
		e.transition(StateDone, event.ID)
		return success(kind, detailOr(resp.Detail, kind))
	}

	return e.handleSubmitError(date, event, now, err)
}

func (e *AttendanceSyncEngine) handleSubmitError(date string, event *models.AttendanceEvent, now time.Time, err error) PunchResult {
	ctx := map[string]interface{}{
		"event_id": event.ID.String(),
		"kind":     string(event.Kind),
	}

	if apperrors.IsTransport(err) {
		return e.queueLocally(date, event, now)
	}

	code := apperrors.CodeOf(err)
	detail := serverDetail(err)

	if code == apperrors.ErrUnauthorized {
		res := failed(apperrors.ErrUnauthorized, "Your session has ended. Please sign in again.")
		if qerr := e.queue.Append(event); qerr != nil {
			logging.Error("Failed to keep punch after session ended", qerr, ctx)
		} else {
			if cerr := e.cooldown.RecordPunch(date, event.Kind, now); cerr != nil {
				logging.Error("Failed to record queued punch", cerr, ctx)
			}
			res.Queued = true
		}
		e.transition(StateFailed, event.ID)
		return res
	}

	if correction, ok := classifyServerText(statusOf(err), detail, event.Kind); ok {
		if cerr := e.cooldown.Correct(date, correction, now); cerr != nil {
			logging.Error("Failed to correct day state", cerr, ctx)
		}
		if correction != cooldown.NotCheckedIn {
			e.transition(StateDone, event.ID)
			return success(event.Kind, detail)
		}
		e.transition(StateFailed, event.ID)
		return failed(apperrors.ErrValidation, detail)
	}

	logging.ErrorWithCode("Punch rejected", string(code), err, ctx)
	e.transition(StateFailed, event.ID)
	return failed(code, detail)
}

// queueLocally keeps the event for a later drain and records it in the day state.
func (e *AttendanceSyncEngine) queueLocally(date string, event *models.AttendanceEvent, now time.Time) PunchResult {
	if err := e.queue.Append(event); err != nil {
		e.transition(StateFailed, event.ID)
		return failed(apperrors.ErrStorage, "")
	}
	if err := e.cooldown.RecordPunch(date, event.Kind, now); err != nil {
		logging.Error("Failed to record queued punch", err, map[string]interface{}{"event_id": event.ID.String()})
	}
	e.transition(StateQueued, event.ID)
	res := success(event.Kind, MsgSavedOffline)
	res.Queued = true
	return res
}

// flushPending delivers the queued events of employee and date ahead of a
// new punch. The caller holds the key lock. It reports whether any of them
// is still undelivered, in which case the new punch queues behind them, and
// the transport or session error that stopped delivery.
func (e *AttendanceSyncEngine) flushPending(ctx context.Context, profile *models.Profile, date string) (bool, error) {
	events, err := e.queue.ListUnsynced()
	if err != nil {
		logging.Error("Failed to list queued events before punch", err)
		return true, nil
	}
	var pending []*models.AttendanceEvent
	for _, ev := range events {
		if ev.EmployeeID == profile.EmployeeID && e.today(ev.CapturedAt()) == date {
			pending = append(pending, ev)
		}
	}
	if len(pending) == 0 {
		return false, nil
	}

	result := &DrainResult{}
	for _, g := range conflict.GroupOfflineRecords(pending, e.opts.CooldownWindow) {
		if err := e.deliverGroup(ctx, g, date, profile, result); err != nil {
			logging.Warn("Queued punches still undelivered, new punch queued behind them", map[string]interface{}{
				"date":  date,
				"error": err.Error(),
			})
			return true, err
		}
	}
	logging.Info("Delivered queued punches ahead of new punch", map[string]interface{}{
		"date":   date,
		"synced": result.Synced,
		"errors": result.Errors,
	})
	return result.Errors > 0, nil
}

// Drain delivers every queued event. A transport or session failure stops
// the drain and leaves the remaining events queued.
func (e *AttendanceSyncEngine) Drain(ctx context.Context) (*DrainResult, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	result := &DrainResult{StartTime: e.opts.Now()}
	err := e.drain(ctx, result)

	result.EndTime = e.opts.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if err != nil {
		result.Error = err.Error()
	}

	e.mu.Lock()
	e.lastDrain = result
	e.lastErr = err
	e.mu.Unlock()

	logging.Info("Drain finished", map[string]interface{}{
		"synced":      result.Synced,
		"errors":      result.Errors,
		"skipped":     result.Skipped,
		"purged":      result.Purged,
		"interrupted": result.Interrupted,
	})
	return result, err
}

// TriggerDrain runs Drain, sharing one run among concurrent callers.
func (e *AttendanceSyncEngine) TriggerDrain(ctx context.Context) (*DrainResult, error) {
	v, err, shared := e.flight.Do("drain", func() (interface{}, error) {
		return e.Drain(ctx)
	})
	if shared {
		logging.Debug("Joined running drain")
	}
	res, _ := v.(*DrainResult)
	return res, err
}

func (e *AttendanceSyncEngine) drain(ctx context.Context, result *DrainResult) error {
	profile := e.activeProfile()
	if profile == nil {
		return apperrors.New(apperrors.ErrUnauthorized, "no active session")
	}

	events, err := e.queue.ListUnsynced()
	if err != nil {
		return err
	}

	var stopErr error
	for _, g := range conflict.GroupOfflineRecords(events, e.opts.CooldownWindow) {
		if err := ctx.Err(); err != nil {
			result.Interrupted = true
			stopErr = err
			break
		}
		if err := e.drainGroup(ctx, g, profile, result); err != nil {
			result.Interrupted = true
			stopErr = err
			break
		}
	}

	e.purge(result)
	return stopErr
}

// drainGroup delivers one representative and settles its duplicates. The
// returned error is non-nil only when the drain must stop.
func (e *AttendanceSyncEngine) drainGroup(ctx context.Context, g conflict.Group, profile *models.Profile, result *DrainResult) error {
	rep := g.Representative
	date := e.today(rep.CapturedAt())
	unlock := e.locks.Lock(keylock.Key(rep.EmployeeID, date))
	defer unlock()
	return e.deliverGroup(ctx, g, date, profile, result)
}

// deliverGroup is drainGroup with the key lock already held.
func (e *AttendanceSyncEngine) deliverGroup(ctx context.Context, g conflict.Group, date string, profile *models.Profile, result *DrainResult) error {
	rep := g.Representative
	logCtx := map[string]interface{}{
		"event_id":   rep.ID.String(),
		"kind":       string(rep.Kind),
		"duplicates": len(g.Duplicates),
	}

	current, err := e.queue.GetByID(rep.ID)
	if err != nil {
		if stderrors.Is(err, db.ErrNotFound) {
			return nil
		}
		result.Errors++
		logging.Error("Failed to re-read queued event", err, logCtx)
		return nil
	}
	if current.Synced {
		return nil
	}

	now := e.opts.Now()
	e.transition(StateValidating, current.ID)
	if v := conflict.ValidateOfflineAttendance(current, now, e.policy); !v.Valid {
		result.Skipped++
		e.recordFailure(current.ID, apperrors.New(apperrors.ErrValidation, v.Reason))
		logging.Warn("Skipping invalid queued event", map[string]interface{}{
			"event_id": current.ID.String(),
			"reason":   v.Reason,
		})
		e.transition(StateFailed, current.ID)
		return nil
	}
	if current.EmployeeID != profile.EmployeeID {
		result.Skipped++
		logging.Warn("Skipping event of another employee", map[string]interface{}{
			"event_id":       current.ID.String(),
			"event_employee": current.EmployeeID,
		})
		e.transition(StateQueued, current.ID)
		return nil
	}

	e.transition(StateSubmitting, current.ID)
	resp, err := e.client.Submit(ctx, current)
	if err != nil {
		return e.handleDrainError(date, current, g, err, result)
	}

	e.transition(StateReconciling, current.ID)
	resolution := conflict.ResolveConflict(current, resp, now, e.opts.CooldownWindow)
	merged, err := conflict.MergeAttendanceData(current, resp)
	if err == nil {
		result.Merged = append(result.Merged, merged)
	}

	if err := e.settle(current, g); err != nil {
		result.Errors++
		logging.Error("Failed to mark event synced", err, logCtx)
		e.transition(StateFailed, current.ID)
		return nil
	}

	kind := current.Kind
	if resolution == conflict.PreferServer {
		kind = kindForStatus(resp.Status, kind)
	}
	if err := e.cooldown.RecordPunch(date, kind, current.CapturedAt()); err != nil {
		logging.Error("Failed to record synced punch", err, logCtx)
	}

	result.Synced++
	e.transition(StateDone, current.ID)
	return nil
}

func (e *AttendanceSyncEngine) handleDrainError(date string, current *models.AttendanceEvent, g conflict.Group, err error, result *DrainResult) error {
	if apperrors.IsTransport(err) || apperrors.Is(err, apperrors.ErrUnauthorized) {
		e.recordFailure(current.ID, err)
		e.transition(StateQueued, current.ID)
		return err
	}

	detail := serverDetail(err)
	if correction, ok := classifyServerText(statusOf(err), detail, current.Kind); ok {
		if cerr := e.cooldown.Correct(date, correction, current.CapturedAt()); cerr != nil {
			logging.Error("Failed to correct day state", cerr, map[string]interface{}{"event_id": current.ID.String()})
		}
		if correction != cooldown.NotCheckedIn {
			if serr := e.settle(current, g); serr != nil {
				result.Errors++
				e.transition(StateFailed, current.ID)
				return nil
			}
			logging.Info("Server already holds queued punch", map[string]interface{}{
				"event_id": current.ID.String(),
				"detail":   detail,
			})
			result.Synced++
			e.transition(StateDone, current.ID)
			return nil
		}
	}

	result.Errors++
	e.recordFailure(current.ID, err)
	logging.ErrorWithCode("Queued event rejected", string(apperrors.CodeOf(err)), err,
		map[string]interface{}{"event_id": current.ID.String()})
	e.transition(StateFailed, current.ID)
	return nil
}

// settle marks the representative and its duplicates synced.
func (e *AttendanceSyncEngine) settle(rep *models.AttendanceEvent, g conflict.Group) error {
	if err := e.queue.MarkSynced(rep.ID); err != nil {
		return err
	}
	for _, d := range g.Duplicates {
		if err := e.queue.MarkSynced(d.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *AttendanceSyncEngine) recordFailure(id models.UUID, cause error) {
	if err := e.queue.RecordFailure(id, cause); err != nil {
		logging.Error("Failed to record delivery failure", err, map[string]interface{}{"event_id": id.String()})
	}
}

func (e *AttendanceSyncEngine) purge(result *DrainResult) {
	now := e.opts.Now()
	n, err := e.queue.PurgeSyncedOlderThan(now.Add(-e.opts.EventRetention))
	if err != nil {
		logging.Error("Retention sweep of events failed", err)
	}
	result.Purged = n

	cutoff := e.today(now.Add(-e.opts.CooldownRetention))
	if _, err := e.cooldown.PurgeOlderThan(cutoff); err != nil {
		logging.Error("Retention sweep of cooldown records failed", err)
	}
}

// TodayStatus returns the punches of the current day.
func (e *AttendanceSyncEngine) TodayStatus() (models.DayStatus, error) {
	date := e.today(e.opts.Now())
	rec, err := e.cooldown.GetRecord(date)
	if err != nil {
		return models.DayStatus{Date: date}, err
	}
	return rec.Status(date), nil
}

// PendingCount returns the number of events awaiting delivery.
func (e *AttendanceSyncEngine) PendingCount() (int, error) {
	return e.queue.PendingCount()
}

// classifyServerText maps a rejection onto what it says about the day.
// The service only reports this in prose, so the match is on its wording.
func classifyServerText(status int, text string, kind models.PunchKind) (cooldown.Correction, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "check in first"), strings.Contains(lower, "check-in first"):
		return cooldown.NotCheckedIn, true
	case strings.Contains(lower, "already checked out"), strings.Contains(lower, "already check out"):
		return cooldown.AlreadyCheckedOut, true
	case strings.Contains(lower, "already checked in"), strings.Contains(lower, "already check in"):
		return cooldown.AlreadyCheckedIn, true
	case status == 409, status == 400 && strings.Contains(lower, "already"):
		if kind == models.PunchCheckOut {
			return cooldown.AlreadyCheckedOut, true
		}
		return cooldown.AlreadyCheckedIn, true
	}
	return 0, false
}

func statusOf(err error) int {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

func serverDetail(err error) string {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func kindForStatus(status string, fallback models.PunchKind) models.PunchKind {
	switch status {
	case models.StatusCheckedIn:
		return models.PunchCheckIn
	case models.StatusCheckedOut:
		return models.PunchCheckOut
	}
	return fallback
}

func detailOr(detail string, kind models.PunchKind) string {
	if detail != "" {
		return detail
	}
	if kind == models.PunchCheckOut {
		return "Check-out recorded."
	}
	return "Check-in recorded."
}
