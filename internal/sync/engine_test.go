// Package sync tests for the attendance sync engine.
package sync

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/punchsync/internal/attendanceserver"
	"github.com/kimhsiao/punchsync/internal/crypto"
	"github.com/kimhsiao/punchsync/internal/db"
	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/models"
	"github.com/kimhsiao/punchsync/internal/remote"
	"github.com/kimhsiao/punchsync/internal/session"
	"github.com/kimhsiao/punchsync/internal/sync/conflict"
	"github.com/kimhsiao/punchsync/internal/sync/cooldown"
	"github.com/kimhsiao/punchsync/internal/sync/queue"
	"github.com/kimhsiao/punchsync/internal/uuid"
)

const (
	lat = -6.2
	lon = 106.8
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// network sits below the session gateway and simulates connectivity loss.
type network struct {
	mu           sync.Mutex
	offline      bool
	dropResponse bool
	next         http.RoundTripper
}

func (n *network) set(offline, dropResponse bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline, n.dropResponse = offline, dropResponse
}

func (n *network) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	offline, drop := n.offline, n.dropResponse
	n.mu.Unlock()

	if offline {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("network is unreachable")}
	}
	resp, err := n.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if drop {
		resp.Body.Close()
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	}
	return resp, nil
}

type world struct {
	clock *clock
	stub  *attendanceserver.Server
	srv   *httptest.Server
	net   *network
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{clock: &clock{now: t0}}
	w.stub = attendanceserver.New(attendanceserver.Options{Location: time.UTC, Now: w.clock.Now})
	w.srv = httptest.NewServer(w.stub.Handler())
	t.Cleanup(w.srv.Close)
	w.net = &network{next: http.DefaultTransport}
	return w
}

type device struct {
	database *db.DB
	repo     *db.Repository
	queue    *queue.EventQueue
	cooldown *cooldown.Cache
	creds    *crypto.CredentialStore
	gateway  *session.Gateway
	engine   *AttendanceSyncEngine
	logouts  int32
}

// boot opens the device state in dir, as the app does at startup.
func boot(t *testing.T, w *world, dir string) *device {
	t.Helper()
	database, err := db.OpenMigrated(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	d := &device{database: database, repo: db.NewRepository(database.DB)}
	d.queue = queue.New(d.repo)
	d.queue.SetClock(w.clock.Now)
	d.cooldown = cooldown.New(d.repo)

	d.creds, err = crypto.OpenCredentialStore(dir, "test-machine")
	require.NoError(t, err)
	d.creds.SetClock(w.clock.Now)

	d.gateway = session.NewGateway(d.creds, w.net)
	d.gateway.OnLogout(func() { atomic.AddInt32(&d.logouts, 1) })
	client := remote.NewClient(w.srv.URL, d.gateway, 15*time.Second)

	d.engine = NewAttendanceSyncEngine(d.queue, d.cooldown, d.creds, client, Options{
		CooldownWindow: 2 * time.Minute,
		Location:       time.UTC,
		Now:            w.clock.Now,
	})
	return d
}

func (d *device) login(t *testing.T, w *world, employeeID string, ttl time.Duration) {
	t.Helper()
	token, err := w.stub.IssueToken(employeeID, ttl)
	require.NoError(t, err)
	require.NoError(t, d.gateway.Authenticated(token, &models.Profile{EmployeeID: employeeID, Name: "Test"}))
}

func newDevice(t *testing.T) (*world, *device) {
	t.Helper()
	w := newWorld(t)
	d := boot(t, w, t.TempDir())
	d.login(t, w, "emp-1", 24*time.Hour)
	return w, d
}

func pending(t *testing.T, d *device) int {
	t.Helper()
	n, err := d.engine.PendingCount()
	require.NoError(t, err)
	return n
}

func queuedEvent(kind models.PunchKind, at time.Time) *models.AttendanceEvent {
	return &models.AttendanceEvent{
		ID:           uuid.NewEventID(),
		EmployeeID:   "emp-1",
		Latitude:     lat,
		Longitude:    lon,
		ScanType:     models.ScanTypeFace,
		Kind:         kind,
		CapturedAtMs: at.UnixMilli(),
	}
}

func TestOfflineCheckInThenDrain(t *testing.T) {
	w, d := newDevice(t)
	ctx := context.Background()

	w.net.set(true, false)
	res := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, res.Queued)
	assert.Equal(t, MsgSavedOffline, res.Message)
	assert.Equal(t, StateQueued, d.engine.Status())
	assert.Equal(t, 1, pending(t, d))

	w.clock.Advance(5 * time.Minute)
	w.net.set(false, false)
	result, err := d.engine.TriggerDrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Errors)
	require.Len(t, result.Merged, 1)
	assert.Contains(t, result.Merged[0].Message, "synced from offline")

	status, err := d.engine.TodayStatus()
	require.NoError(t, err)
	assert.True(t, status.HasCheckedIn)
	assert.Equal(t, 0, pending(t, d))
	assert.Len(t, w.stub.Punches("emp-1"), 1)

	again, err := d.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Synced, "second drain must not resend")
	assert.Len(t, w.stub.Punches("emp-1"), 1)
}

func TestCooldownBlocksSecondPunch(t *testing.T) {
	w, d := newDevice(t)
	ctx := context.Background()

	first := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	require.Equal(t, OutcomeSuccess, first.Outcome)
	assert.Equal(t, models.PunchCheckIn, first.Kind)
	assert.Equal(t, attendanceserver.MsgCheckedIn, first.Message)

	w.clock.Advance(30 * time.Second)
	second := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeBlocked, second.Outcome)
	assert.Equal(t, 90, second.RemainingSeconds)
	assert.Equal(t, apperrors.ErrCooldownActive, second.Code)
	assert.Equal(t, 1, w.stub.Requests(), "blocked punch must not reach the server")
}

func TestReplayAfterRestartFindsServerRecord(t *testing.T) {
	w := newWorld(t)
	dir := t.TempDir()
	d := boot(t, w, dir)
	d.login(t, w, "emp-1", 24*time.Hour)
	ctx := context.Background()

	// The server records the check-in but the answer is lost.
	w.net.set(false, true)
	res := d.engine.SubmitPunch(ctx, models.ScanTypeFingerprint, lat, lon)
	require.True(t, res.Queued)
	require.Len(t, w.stub.Punches("emp-1"), 1)

	// Local day state is lost as well before the restart.
	_, err := d.database.Exec("DELETE FROM daily_cooldown")
	require.NoError(t, err)
	require.NoError(t, d.database.Close())

	w.clock.Advance(121 * time.Second)
	w.net.set(false, false)
	restarted := boot(t, w, dir)
	assert.Equal(t, 1, pending(t, restarted))

	result, err := restarted.engine.TriggerDrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, pending(t, restarted))
	assert.Len(t, w.stub.Punches("emp-1"), 1, "no duplicate on the server")

	status, err := restarted.engine.TodayStatus()
	require.NoError(t, err)
	assert.True(t, status.HasCheckedIn)
	assert.False(t, status.HasCheckedOut)
}

func TestExpiredTokenLogsOutOnce(t *testing.T) {
	w := newWorld(t)
	d := boot(t, w, t.TempDir())
	d.login(t, w, "emp-1", time.Hour)
	ctx := context.Background()

	w.net.set(true, false)
	require.True(t, d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon).Queued)

	w.clock.Advance(2 * time.Hour)
	w.net.set(false, false)

	result, err := d.engine.TriggerDrain(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
	assert.True(t, result.Interrupted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.logouts))

	_, ok := d.creds.Get()
	assert.False(t, ok, "credentials must be cleared")
	assert.Equal(t, 1, pending(t, d), "event stays queued")

	_, err = d.engine.TriggerDrain(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.logouts))

	res := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.ErrUnauthorized, res.Code)
}

func TestInteractiveUnauthorized(t *testing.T) {
	w := newWorld(t)
	d := boot(t, w, t.TempDir())
	d.login(t, w, "emp-1", time.Hour)

	w.clock.Advance(2 * time.Hour)
	res := d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.ErrUnauthorized, res.Code)
	assert.Contains(t, res.Message, "sign in again")
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.logouts))
	assert.True(t, res.Queued, "captured punch is kept")
	assert.Equal(t, 1, pending(t, d))

	d.login(t, w, "emp-1", 24*time.Hour)
	result, err := d.engine.TriggerDrain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, pending(t, d))
	assert.Len(t, w.stub.Punches("emp-1"), 1)
}

func TestOnlinePunchDeliversQueuedPunchesFirst(t *testing.T) {
	w, d := newDevice(t)
	ctx := context.Background()

	w.net.set(true, false)
	require.True(t, d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon).Queued)

	w.clock.Advance(3 * time.Minute)
	w.net.set(false, false)
	res := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	require.Equal(t, OutcomeSuccess, res.Outcome, res.Message)
	assert.Equal(t, models.PunchCheckOut, res.Kind)
	assert.False(t, res.Queued)
	assert.Equal(t, 0, pending(t, d))

	punches := w.stub.Punches("emp-1")
	require.Len(t, punches, 2)
	assert.Equal(t, models.PunchCheckIn, punches[0].Kind)
	assert.Equal(t, models.PunchCheckOut, punches[1].Kind)

	status, err := d.engine.TodayStatus()
	require.NoError(t, err)
	assert.True(t, status.HasCheckedIn)
	assert.True(t, status.HasCheckedOut)
}

func TestOnlinePunchQueuesBehindUndeliveredPunches(t *testing.T) {
	w, d := newDevice(t)
	ctx := context.Background()

	w.net.set(true, false)
	require.True(t, d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon).Queued)

	w.clock.Advance(3 * time.Minute)
	w.net.set(false, false)
	w.stub.FailNext(http.StatusInternalServerError, "database unavailable")
	res := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, models.PunchCheckOut, res.Kind)
	assert.True(t, res.Queued)
	assert.Equal(t, 2, pending(t, d))
	assert.Empty(t, w.stub.Punches("emp-1"), "nothing may overtake the queued check-in")

	status, _ := d.engine.TodayStatus()
	assert.True(t, status.HasCheckedIn)
	assert.True(t, status.HasCheckedOut)

	w.clock.Advance(5 * time.Minute)
	result, err := d.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, pending(t, d))

	punches := w.stub.Punches("emp-1")
	require.Len(t, punches, 2)
	assert.Equal(t, models.PunchCheckIn, punches[0].Kind)
	assert.Equal(t, models.PunchCheckOut, punches[1].Kind)
}

func TestTodayStatusFreshDay(t *testing.T) {
	_, d := newDevice(t)

	status, err := d.engine.TodayStatus()
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", status.Date)
	assert.False(t, status.HasCheckedIn)
	assert.False(t, status.HasCheckedOut)
	assert.Nil(t, status.CheckInTime)
	assert.Nil(t, status.CheckOutTime)
}

func TestFullDayCycle(t *testing.T) {
	w, d := newDevice(t)
	ctx := context.Background()

	in := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	require.Equal(t, OutcomeSuccess, in.Outcome)

	w.clock.Advance(8 * time.Hour)
	out := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	require.Equal(t, OutcomeSuccess, out.Outcome)
	assert.Equal(t, models.PunchCheckOut, out.Kind)

	w.clock.Advance(time.Hour)
	third := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeFailed, third.Outcome)
	assert.Equal(t, apperrors.ErrValidation, third.Code)

	status, _ := d.engine.TodayStatus()
	require.NotNil(t, status.CheckInTime)
	require.NotNil(t, status.CheckOutTime)
	assert.True(t, t0.Equal(*status.CheckInTime))
	assert.Equal(t, 2, w.stub.Requests())
}

func TestAlreadyRecordedIsSatisfied(t *testing.T) {
	w, d := newDevice(t)
	w.stub.FailNext(http.StatusConflict, attendanceserver.MsgAlreadyCheckedIn)

	res := d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.False(t, res.Queued)
	assert.Equal(t, 0, pending(t, d))

	status, _ := d.engine.TodayStatus()
	assert.True(t, status.HasCheckedIn)
}

func TestCheckInFirstResetsDay(t *testing.T) {
	w, d := newDevice(t)
	require.NoError(t, d.cooldown.RecordPunch("2026-03-02", models.PunchCheckIn, t0.Add(-time.Hour)))

	res := d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.ErrValidation, res.Code)
	assert.Equal(t, attendanceserver.MsgCheckInFirst, res.Message)

	status, _ := d.engine.TodayStatus()
	assert.False(t, status.HasCheckedIn)

	w.clock.Advance(3 * time.Minute)
	retry := d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeSuccess, retry.Outcome)
	assert.Equal(t, models.PunchCheckIn, retry.Kind)
}

func TestServerErrorSurfaces(t *testing.T) {
	w, d := newDevice(t)
	w.stub.FailNext(http.StatusServiceUnavailable, "maintenance")

	res := d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.ErrServer, res.Code)
	assert.Equal(t, "maintenance", res.Message)
	assert.Equal(t, 0, pending(t, d))

	status, _ := d.engine.TodayStatus()
	assert.False(t, status.HasCheckedIn)
}

func TestCancelledPunchStaysQueued(t *testing.T) {
	_, d := newDevice(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.engine.SubmitPunch(ctx, models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, res.Queued)
	assert.Equal(t, 1, pending(t, d))
}

func TestNoSession(t *testing.T) {
	w := newWorld(t)
	d := boot(t, w, t.TempDir())

	res := d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.ErrUnauthorized, res.Code)

	_, err := d.engine.Drain(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestDrainCollapsesDuplicates(t *testing.T) {
	w, d := newDevice(t)
	first := queuedEvent(models.PunchCheckIn, t0)
	dup := queuedEvent(models.PunchCheckIn, t0.Add(40*time.Second))
	out := queuedEvent(models.PunchCheckOut, t0.Add(8*time.Hour))
	for _, e := range []*models.AttendanceEvent{first, dup, out} {
		require.NoError(t, d.queue.Append(e))
	}

	w.clock.Advance(9 * time.Hour)
	result, err := d.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, pending(t, d))

	punches := w.stub.Punches("emp-1")
	require.Len(t, punches, 2)
	assert.Equal(t, models.PunchCheckIn, punches[0].Kind)
	assert.Equal(t, models.PunchCheckOut, punches[1].Kind)

	got, err := d.queue.GetByID(first.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced, "duplicate settled with its representative")
}

func TestDrainContinuesPastServerErrors(t *testing.T) {
	w, d := newDevice(t)
	in := queuedEvent(models.PunchCheckIn, t0)
	out := queuedEvent(models.PunchCheckOut, t0.Add(4*time.Hour))
	require.NoError(t, d.queue.Append(in))
	require.NoError(t, d.queue.Append(out))
	w.clock.Advance(5 * time.Hour)

	w.stub.FailNext(http.StatusInternalServerError, "database unavailable")
	result, err := d.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 2, result.Errors)
	assert.False(t, result.Interrupted)
	assert.Equal(t, 2, pending(t, d))

	got, _ := d.queue.GetByID(in.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "database unavailable")

	result, err = d.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, pending(t, d))
}

func TestDrainStopsWhenOffline(t *testing.T) {
	w, d := newDevice(t)
	require.NoError(t, d.queue.Append(queuedEvent(models.PunchCheckIn, t0)))
	require.NoError(t, d.queue.Append(queuedEvent(models.PunchCheckOut, t0.Add(4*time.Hour))))
	w.clock.Advance(5 * time.Hour)

	w.net.set(true, false)
	result, err := d.engine.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.True(t, result.Interrupted)
	assert.Equal(t, 2, pending(t, d))
	assert.Equal(t, err, d.engine.LastError())
	assert.Same(t, result, d.engine.LastDrain())
}

func TestDrainSkipsOtherEmployeeAndInvalid(t *testing.T) {
	w, d := newDevice(t)
	other := queuedEvent(models.PunchCheckIn, t0)
	other.EmployeeID = "emp-2"
	broken := queuedEvent(models.PunchCheckIn, t0.Add(time.Hour))
	broken.EmployeeID = "emp-1"
	broken.Latitude, broken.Longitude = 0, 0
	require.NoError(t, d.queue.Append(other))
	require.NoError(t, d.queue.Append(broken))
	w.clock.Advance(2 * time.Hour)

	result, err := d.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 2, pending(t, d))
	assert.Equal(t, 0, w.stub.Requests())
}

func TestDrainPurgesOldSyncedEvents(t *testing.T) {
	w, d := newDevice(t)
	old := queuedEvent(models.PunchCheckIn, t0.Add(-6*24*time.Hour))
	require.NoError(t, d.queue.Append(old))

	result, err := d.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Synced)
	assert.Equal(t, int64(0), result.Purged)

	w.clock.Advance(2 * 24 * time.Hour)
	result, err = d.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Purged)

	_, err = d.queue.GetByID(old.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestTriggerDrainConcurrent(t *testing.T) {
	w, d := newDevice(t)
	require.NoError(t, d.queue.Append(queuedEvent(models.PunchCheckIn, t0)))
	w.clock.Advance(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.engine.TriggerDrain(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, w.stub.Punches("emp-1"), 1)
	assert.Equal(t, 0, pending(t, d))
}

func TestTransitionsAreReported(t *testing.T) {
	w, d := newDevice(t)
	var mu sync.Mutex
	var states []State
	d.engine.SetEventHandler(EventHandlerFunc(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, tr.To)
	}))

	w.net.set(true, false)
	d.engine.SubmitPunch(context.Background(), models.ScanTypeFace, lat, lon)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateValidating, StateSubmitting, StateQueued}, states)
}

func TestCapturedEventsValidate(t *testing.T) {
	w, d := newDevice(t)
	w.net.set(true, false)

	for i := 0; i < 2; i++ {
		res := d.engine.SubmitPunch(context.Background(), models.ScanTypeManual, lat, lon)
		require.True(t, res.Queued)
		w.clock.Advance(3 * time.Minute)
	}

	events, err := d.queue.ListUnsynced()
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.True(t, validate(d.engine, e, w.clock.Now()), "event %s", e.ID)
	}
}

func validate(e *AttendanceSyncEngine, ev *models.AttendanceEvent, now time.Time) bool {
	return conflict.ValidateOfflineAttendance(ev, now, e.policy).Valid
}

func TestClassifyServerText(t *testing.T) {
	tests := []struct {
		status int
		text   string
		kind   models.PunchKind
		want   cooldown.Correction
		ok     bool
	}{
		{409, "You have already checked in today.", models.PunchCheckIn, cooldown.AlreadyCheckedIn, true},
		{400, "Already checked out", models.PunchCheckOut, cooldown.AlreadyCheckedOut, true},
		{409, "", models.PunchCheckOut, cooldown.AlreadyCheckedOut, true},
		{400, "attendance already recorded", models.PunchCheckIn, cooldown.AlreadyCheckedIn, true},
		{400, "You must check in first.", models.PunchCheckOut, cooldown.NotCheckedIn, true},
		{400, "latitude is required", models.PunchCheckIn, 0, false},
		{500, "internal error", models.PunchCheckIn, 0, false},
	}
	for _, tt := range tests {
		got, ok := classifyServerText(tt.status, tt.text, tt.kind)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("classifyServerText(%d, %q) = %v, %v; want %v, %v", tt.status, tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
