// Package bridge exposes the attendance core to host applications as JSON
// strings. cmd/mobile wraps it in C exports.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/kimhsiao/punchsync/internal/app"
	"github.com/kimhsiao/punchsync/internal/config"
	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// Response is the envelope of every call.
type Response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// Error is a displayable failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Bridge owns the process-wide App.
type Bridge struct {
	mu      sync.Mutex
	app     *app.App
	cancel  context.CancelFunc
	lastErr string
}

// New creates an uninitialized bridge.
func New() *Bridge {
	return &Bridge{}
}

// Init loads the configuration, opens the stores and starts the background
// drain scheduler. Calling Init again is a no-op.
func (b *Bridge) Init(configPath, dataDir string, opts ...app.Option) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		b.lastErr = err.Error()
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	a, err := app.New(cfg, opts...)
	if err != nil {
		b.lastErr = err.Error()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.Scheduler.Start(ctx)
	b.app = a
	b.cancel = cancel
	return nil
}

// Close stops the scheduler and closes the stores.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return
	}
	b.cancel()
	if err := b.app.Close(); err != nil {
		logging.Warn("Failed to close attendance core", map[string]interface{}{"error": err.Error()})
	}
	b.app = nil
}

// LastError returns the last error message.
func (b *Bridge) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Bridge) current() *app.App {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.app
}

func (b *Bridge) encode(r Response) string {
	if r.Error != nil {
		b.mu.Lock()
		b.lastErr = r.Error.Message
		b.mu.Unlock()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":{"code":"INTERNAL_ERROR","message":"failed to serialize response"}}`
	}
	return string(data)
}

func (b *Bridge) ok(data interface{}) string {
	return b.encode(Response{OK: true, Data: data})
}

func (b *Bridge) fail(err error) string {
	code := apperrors.CodeOf(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	return b.encode(Response{Error: &Error{Code: string(code), Message: message}})
}

var errNotInitialized = apperrors.New(apperrors.ErrInternal, "attendance core is not initialized")

// SubmitPunch records a punch and returns the PunchResult.
func (b *Bridge) SubmitPunch(scanType string, lat, lon float64) string {
	a := b.current()
	if a == nil {
		return b.fail(errNotInitialized)
	}
	st := models.ScanType(scanType)
	if !st.Valid() {
		return b.fail(apperrors.New(apperrors.ErrValidation, "unknown scan type "+scanType))
	}
	res := a.Engine.SubmitPunch(context.Background(), st, lat, lon)
	return b.ok(res)
}

// TodayStatus returns today's punches.
func (b *Bridge) TodayStatus() string {
	a := b.current()
	if a == nil {
		return b.fail(errNotInitialized)
	}
	status, err := a.Engine.TodayStatus()
	if err != nil {
		return b.fail(err)
	}
	return b.ok(status)
}

// TriggerDrain runs a drain and waits for its result.
func (b *Bridge) TriggerDrain() string {
	a := b.current()
	if a == nil {
		return b.fail(errNotInitialized)
	}
	result, err := a.Scheduler.DrainNow(context.Background())
	if err != nil {
		return b.fail(err)
	}
	return b.ok(result)
}

// PendingCount returns the number of queued punches.
func (b *Bridge) PendingCount() string {
	a := b.current()
	if a == nil {
		return b.fail(errNotInitialized)
	}
	n, err := a.Engine.PendingCount()
	if err != nil {
		return b.fail(err)
	}
	return b.ok(map[string]int{"pending": n})
}

// Login signs in and returns the profile.
func (b *Bridge) Login(username, password string) string {
	a := b.current()
	if a == nil {
		return b.fail(errNotInitialized)
	}
	profile, err := a.Login(context.Background(), username, password)
	if err != nil {
		return b.fail(err)
	}
	return b.ok(profile)
}

// Logout clears the session.
func (b *Bridge) Logout() string {
	a := b.current()
	if a == nil {
		return b.fail(errNotInitialized)
	}
	if err := a.Logout(); err != nil {
		return b.fail(err)
	}
	return b.ok(nil)
}

// SetOnline reports connectivity changes from the host. Regaining
// connectivity starts a drain.
func (b *Bridge) SetOnline(online bool) {
	a := b.current()
	if a == nil {
		return
	}
	a.Scheduler.SetOnlineStatus(context.Background(), online)
}
