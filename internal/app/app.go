// Package app constructs the process-wide attendance core once at startup.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kimhsiao/punchsync/internal/config"
	"github.com/kimhsiao/punchsync/internal/crypto"
	"github.com/kimhsiao/punchsync/internal/db"
	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
	"github.com/kimhsiao/punchsync/internal/remote"
	"github.com/kimhsiao/punchsync/internal/session"
	syncpkg "github.com/kimhsiao/punchsync/internal/sync"
	"github.com/kimhsiao/punchsync/internal/sync/cooldown"
	"github.com/kimhsiao/punchsync/internal/sync/queue"
	"github.com/kimhsiao/punchsync/internal/sync/scheduler"
	"github.com/kimhsiao/punchsync/internal/telemetry"
)

// App holds the singletons of one process.
type App struct {
	Config      *config.Config
	DB          *db.DB
	Repo        *db.Repository
	Queue       *queue.EventQueue
	Cooldown    *cooldown.Cache
	Credentials *crypto.CredentialStore
	Gateway     *session.Gateway
	Client      *remote.Client
	Engine      *syncpkg.AttendanceSyncEngine
	Scheduler   *scheduler.Scheduler

	mu        sync.Mutex
	listeners []func(syncpkg.Transition)
}

// OnTransition registers a listener for engine state transitions.
func (a *App) OnTransition(fn func(syncpkg.Transition)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

type options struct {
	transport http.RoundTripper
	now       func() time.Time
	logOut    io.Writer
}

// Option customizes New.
type Option func(*options)

// WithTransport sets the transport below the session gateway.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithClock replaces time.Now for the stores and the engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogOutput sets where the global logger writes.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOut = w }
}

// New opens the local stores and builds the engine from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{now: time.Now, logOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	logging.Init(o.logOut, logging.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid time zone", err)
	}

	database, err := db.OpenMigrated(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	machineID := cfg.MachineID
	if machineID == "" {
		machineID = crypto.MachineIdentifier()
	}
	creds, err := crypto.OpenCredentialStore(cfg.DataDir, machineID)
	if err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open credential store", err)
	}
	creds.SetClock(o.now)

	a := &App{
		Config:      cfg,
		DB:          database,
		Repo:        db.NewRepository(database.DB),
		Credentials: creds,
	}
	a.Queue = queue.New(a.Repo)
	a.Queue.SetClock(o.now)
	a.Cooldown = cooldown.New(a.Repo)

	a.Gateway = session.NewGateway(creds, o.transport)
	a.Gateway.OnLogout(func() {
		telemetry.RecordCount("session.expired", 1, nil)
		logging.Warn("Session ended by the server", nil)
	})
	a.Client = remote.NewClient(cfg.BaseURL, a.Gateway, cfg.RequestTimeout)

	a.Engine = syncpkg.NewAttendanceSyncEngine(a.Queue, a.Cooldown, creds, a.Client, syncpkg.Options{
		CooldownWindow:    cfg.CooldownWindow,
		EventRetention:    cfg.EventRetention,
		CooldownRetention: cfg.CooldownRetention,
		FutureTolerance:   cfg.FutureTolerance,
		Location:          loc,
		Now:               o.now,
	})
	a.Engine.SetEventHandler(syncpkg.EventHandlerFunc(func(t syncpkg.Transition) {
		telemetry.RecordCount("engine.transition", 1, map[string]string{"to": string(t.To)})
		a.mu.Lock()
		listeners := a.listeners
		a.mu.Unlock()
		for _, fn := range listeners {
			fn(t)
		}
	}))

	a.Scheduler = scheduler.NewScheduler(a.Engine, &scheduler.SchedulerConfig{
		DrainInterval: cfg.DrainInterval,
	})

	logging.Info("Attendance core ready", map[string]interface{}{
		"data_dir":  cfg.DataDir,
		"base_url":  cfg.BaseURL,
		"time_zone": loc.String(),
	})
	return a, nil
}

// Login authenticates against the service and stores the session.
func (a *App) Login(ctx context.Context, username, password string) (*models.Profile, error) {
	resp, err := a.Client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.Profile == nil {
		return nil, apperrors.New(apperrors.ErrServer, "login response is missing the token or profile")
	}
	if err := a.Gateway.Authenticated(resp.Token, resp.Profile); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to store session", err)
	}
	logging.Info("Signed in", map[string]interface{}{"employee_id": resp.Profile.EmployeeID})
	return resp.Profile, nil
}

// Logout clears the stored session. Queued events are kept.
func (a *App) Logout() error {
	if err := a.Gateway.Logout(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear session", err)
	}
	logging.Info("Signed out", nil)
	return nil
}

// Close stops the scheduler and releases the database.
func (a *App) Close() error {
	a.Scheduler.Stop()
	if err := a.Repo.Close(); err != nil {
		logging.Warn("Failed to close statements", map[string]interface{}{"error": err.Error()})
	}
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
