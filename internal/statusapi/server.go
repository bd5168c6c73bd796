// Package statusapi serves the local REST and WebSocket API of the daemon.
// Kiosk and desktop front ends use it to punch, read today's status and
// follow engine activity.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
	syncpkg "github.com/kimhsiao/punchsync/internal/sync"
	"github.com/kimhsiao/punchsync/internal/sync/scheduler"
	"github.com/kimhsiao/punchsync/internal/telemetry"
)

// Engine is the part of the sync engine the API uses.
type Engine interface {
	SubmitPunch(ctx context.Context, scanType models.ScanType, lat, lon float64) syncpkg.PunchResult
	TodayStatus() (models.DayStatus, error)
	PendingCount() (int, error)
}

// Scheduler is the part of the drain scheduler the API uses.
type Scheduler interface {
	DrainNow(ctx context.Context) (*syncpkg.DrainResult, error)
	GetStatus() scheduler.SchedulerStatus
}

// Server holds the API dependencies.
type Server struct {
	engine  Engine
	sched   Scheduler
	hub     *Hub
	metrics *telemetry.Registry
}

// New creates a Server.
func New(engine Engine, sched Scheduler, metrics *telemetry.Registry) *Server {
	if metrics == nil {
		metrics = telemetry.Default()
	}
	return &Server{engine: engine, sched: sched, hub: NewHub(), metrics: metrics}
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Transition forwards an engine state change to WebSocket clients.
func (s *Server) Transition(t syncpkg.Transition) {
	s.hub.Broadcast(EventTransition, map[string]interface{}{
		"from":     string(t.From),
		"to":       string(t.To),
		"event_id": t.EventID.String(),
	})
}

// DrainDone forwards a drain result to WebSocket clients.
func (s *Server) DrainDone(result *syncpkg.DrainResult, err error) {
	if err != nil {
		s.hub.Broadcast(EventDrainFailed, map[string]interface{}{
			"error_code": string(apperrors.CodeOf(err)),
			"retryable":  apperrors.IsTransport(err),
		})
		return
	}
	if result == nil {
		return
	}
	s.hub.Broadcast(EventDrainCompleted, map[string]interface{}{
		"synced":      result.Synced,
		"errors":      result.Errors,
		"skipped":     result.Skipped,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/status", s.status)
		r.Post("/punch", s.punch)
		r.Post("/drain", s.drain)
		r.Get("/metrics", s.snapshot)
	})
	r.Get("/ws", s.hub.ServeWS)
	return r
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug("http "+r.Method+" "+r.URL.Path, map[string]interface{}{
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "punchsync"})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Day       models.DayStatus          `json:"day"`
	Pending   int                       `json:"pending"`
	Scheduler scheduler.SchedulerStatus `json:"scheduler"`
	Clients   int                       `json:"clients"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	day, err := s.engine.TodayStatus()
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.engine.PendingCount()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Day:       day,
		Pending:   pending,
		Scheduler: s.sched.GetStatus(),
		Clients:   s.hub.Clients(),
	})
}

// PunchRequest is the body of POST /api/punch.
type PunchRequest struct {
	ScanType  models.ScanType `json:"scan_type"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
}

func (s *Server) punch(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "invalid JSON body"))
		return
	}
	if !req.ScanType.Valid() {
		writeError(w, apperrors.New(apperrors.ErrValidation, "unknown scan_type "+string(req.ScanType)))
		return
	}

	res := s.engine.SubmitPunch(r.Context(), req.ScanType, req.Latitude, req.Longitude)
	s.hub.Broadcast(EventPunch, map[string]interface{}{
		"outcome": string(res.Outcome),
		"kind":    string(res.Kind),
		"queued":  res.Queued,
	})

	status := http.StatusOK
	switch res.Outcome {
	case syncpkg.OutcomeBlocked:
		status = http.StatusTooManyRequests
	case syncpkg.OutcomeFailed:
		status = apperrors.HTTPStatus(res.Code)
	}
	writeJSON(w, status, res)
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request) {
	result, err := s.sched.DrainNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("writeJSON encode", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := apperrors.UserMessage(code)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	writeJSON(w, apperrors.HTTPStatus(code), map[string]string{
		"error_code": string(code),
		"detail":     message,
	})
}
