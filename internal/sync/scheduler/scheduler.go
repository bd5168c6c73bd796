// Package scheduler runs queue drains in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	syncpkg "github.com/kimhsiao/punchsync/internal/sync"
	"github.com/kimhsiao/punchsync/internal/telemetry"
)

// Drainer is the part of the engine the scheduler drives.
type Drainer interface {
	TriggerDrain(ctx context.Context) (*syncpkg.DrainResult, error)
	PendingCount() (int, error)
}

// Scheduler manages background drains.
type Scheduler struct {
	engine          Drainer
	drainInterval   time.Duration
	drainTimeout    time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	isOnline        bool
	lastDrainTime   time.Time
	lastResult      *syncpkg.DrainResult
	drainInProgress bool
	onDrain         func(result *syncpkg.DrainResult, err error)
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	DrainInterval time.Duration // How often to drain while online (default: 5 minutes)
	DrainTimeout  time.Duration // Upper bound for one drain (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		DrainInterval: 5 * time.Minute,
		DrainTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine Drainer, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	interval := config.DrainInterval
	if interval <= 0 {
		interval = def.DrainInterval
	}
	timeout := config.DrainTimeout
	if timeout <= 0 {
		timeout = def.DrainTimeout
	}

	return &Scheduler{
		engine:        engine,
		drainInterval: interval,
		drainTimeout:  timeout,
		stopCh:        make(chan struct{}),
		isOnline:      true, // Assume online initially
	}
}

// Start starts the periodic drain loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicDrainLoop(ctx)

	logging.Info("Background drain scheduler started",
		map[string]interface{}{"interval_seconds": s.drainInterval.Seconds()})
}

// Stop stops the scheduler and waits for running drains to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background drain scheduler stopped", nil)
}

// OnDrain registers a callback run after every drain.
func (s *Scheduler) OnDrain(fn func(result *syncpkg.DrainResult, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrain = fn
}

// SetOnlineStatus records connectivity. Coming back online starts a drain.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	if isOnline {
		s.TriggerDrain(ctx)
	}
}

func (s *Scheduler) periodicDrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if !s.TriggerDrain(ctx) {
				logging.Debug("Drain already in progress, skipping", nil)
			}
		}
	}
}

// TriggerDrain starts a drain in the background.
// Returns false if a drain is already in progress or the scheduler is offline.
func (s *Scheduler) TriggerDrain(ctx context.Context) bool {
	s.mu.Lock()
	if s.drainInProgress || !s.isOnline {
		s.mu.Unlock()
		return false
	}
	s.drainInProgress = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.runDrain(ctx, "periodic")
	}()
	return true
}

// DrainNow runs a drain and waits for it.
func (s *Scheduler) DrainNow(ctx context.Context) (*syncpkg.DrainResult, error) {
	s.mu.Lock()
	s.drainInProgress = true
	s.mu.Unlock()

	return s.runDrain(ctx, "manual")
}

func (s *Scheduler) runDrain(ctx context.Context, reason string) (*syncpkg.DrainResult, error) {
	defer func() {
		s.mu.Lock()
		s.drainInProgress = false
		s.mu.Unlock()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	result, err := s.engine.TriggerDrain(drainCtx)

	s.mu.Lock()
	s.lastDrainTime = time.Now()
	if result != nil {
		s.lastResult = result
	}
	onDrain := s.onDrain
	s.mu.Unlock()

	if onDrain != nil {
		onDrain(result, err)
	}

	if result != nil {
		tags := map[string]string{"reason": reason}
		telemetry.RecordTiming("drain", result.Duration, tags)
		telemetry.RecordCount("drain.synced", result.Synced, tags)
		telemetry.RecordCount("drain.errors", result.Errors, tags)
	}

	if err != nil {
		logging.ErrorWithCode("Drain failed", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"reason": reason})
		return result, err
	}

	logging.Info("Drain completed",
		map[string]interface{}{
			"reason":  reason,
			"synced":  result.Synced,
			"errors":  result.Errors,
			"skipped": result.Skipped,
		})
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning       bool                 `json:"is_running"`
	IsOnline        bool                 `json:"is_online"`
	LastDrainTime   *time.Time           `json:"last_drain_time,omitempty"`
	DrainInProgress bool                 `json:"drain_in_progress"`
	PendingItems    int                  `json:"pending_items"`
	LastResult      *syncpkg.DrainResult `json:"last_result,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        s.isOnline,
		DrainInProgress: s.drainInProgress,
		LastResult:      s.lastResult,
	}
	if !s.lastDrainTime.IsZero() {
		last := s.lastDrainTime
		status.LastDrainTime = &last
	}
	s.mu.RUnlock()

	if n, err := s.engine.PendingCount(); err == nil {
		status.PendingItems = n
	} else {
		logging.Warn("Failed to count pending events", map[string]interface{}{"error": err.Error()})
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
