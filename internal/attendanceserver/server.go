// Package attendanceserver is an in-memory attendance service with the
// rules of the production one. It backs local development and the
// integration tests of the sync engine.
package attendanceserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
	"github.com/kimhsiao/punchsync/internal/uuid"
)

// Messages returned by the service.
const (
	MsgCheckedIn         = "Check-in recorded."
	MsgCheckedOut        = "Check-out recorded."
	MsgAlreadyCheckedIn  = "You have already checked in today."
	MsgAlreadyCheckedOut = "You have already checked out today."
	MsgCheckInFirst      = "You must check in first."
	MsgInvalidToken      = "Invalid or expired token."
	MsgBadCredentials    = "Invalid username or password."
)

// Claims are carried by the issued tokens.
type Claims struct {
	EmployeeID string `json:"employee_id"`
	jwt.RegisteredClaims
}

type user struct {
	passwordHash []byte
	profile      models.Profile
}

// Punch is one accepted call.
type Punch struct {
	ID         string
	EmployeeID string
	Kind       models.PunchKind
	ScanType   models.ScanType
	Latitude   float64
	Longitude  float64
	At         time.Time
}

type day struct {
	checkIn  *Punch
	checkOut *Punch
}

type failure struct {
	status int
	detail string
}

// Options configure a Server.
type Options struct {
	Secret   []byte
	TokenTTL time.Duration
	Location *time.Location
	Now      func() time.Time
	// AllowedOrigins enables CORS for browser clients when set.
	AllowedOrigins []string
}

// Server holds the service state.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	loc      *time.Location
	now      func() time.Time
	origins  []string

	mu       sync.Mutex
	users    map[string]*user
	days     map[string]*day
	punches  []Punch
	requests int
	failures []failure
}

// New creates a Server.
func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("punchsync-dev-secret")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		secret:   opts.Secret,
		tokenTTL: opts.TokenTTL,
		loc:      opts.Location,
		now:      opts.Now,
		origins:  opts.AllowedOrigins,
		users:    make(map[string]*user),
		days:     make(map[string]*day),
	}
}

// AddUser registers an account.
func (s *Server) AddUser(username, password string, profile models.Profile) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{passwordHash: hash, profile: profile}
	return nil
}

// IssueToken signs a token for employeeID valid for ttl.
func (s *Server) IssueToken(employeeID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		EmployeeID: employeeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   employeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// FailNext makes the next attendance call answer status with detail.
func (s *Server) FailNext(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, detail: detail})
}

// Punches returns the accepted punches of employeeID.
func (s *Server) Punches(employeeID string) []Punch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Punch
	for _, p := range s.punches {
		if p.EmployeeID == employeeID {
			out = append(out, p)
		}
	}
	return out
}

// Requests returns the number of attendance calls received.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLog)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Post("/auth/login/", s.login)
	r.Group(func(r chi.Router) {
		r.Use(s.authRequired)
		r.Post("/attendance/check-in/", s.checkIn)
		r.Put("/attendance/check-out/", s.checkOut)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
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

type ctxKey struct{}

func contextWithEmployee(r *http.Request, employeeID string) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, employeeID)
}

func employeeFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (s *Server) authRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
			writeDetail(w, http.StatusUnauthorized, MsgInvalidToken)
			return
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(h[len(prefix):], claims, func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil || !parsed.Valid || claims.EmployeeID == "" {
			writeDetail(w, http.StatusUnauthorized, MsgInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithEmployee(r, claims.EmployeeID)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, MsgBadCredentials)
		return
	}

	token, err := s.IssueToken(u.profile.EmployeeID, s.tokenTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	profile := u.profile
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"profile": profile,
	})
}

type punchRequest struct {
	CheckInLatitude   *float64        `json:"check_in_latitude"`
	CheckInLongitude  *float64        `json:"check_in_longitude"`
	CheckOutLatitude  *float64        `json:"check_out_latitude"`
	CheckOutLongitude *float64        `json:"check_out_longitude"`
	ScanType          models.ScanType `json:"scan_type"`
}

func (p punchRequest) location(kind models.PunchKind) (float64, float64, error) {
	lat, lon := p.CheckInLatitude, p.CheckInLongitude
	if kind == models.PunchCheckOut {
		lat, lon = p.CheckOutLatitude, p.CheckOutLongitude
	}
	if lat == nil || lon == nil {
		return 0, 0, errors.New("latitude and longitude are required")
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return 0, 0, errors.New("coordinates out of range")
	}
	return *lat, *lon, nil
}

func (s *Server) checkIn(w http.ResponseWriter, r *http.Request) {
	s.punch(w, r, models.PunchCheckIn)
}

func (s *Server) checkOut(w http.ResponseWriter, r *http.Request) {
	s.punch(w, r, models.PunchCheckOut)
}

func (s *Server) punch(w http.ResponseWriter, r *http.Request, kind models.PunchKind) {
	employeeID := employeeFrom(r)

	var req punchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	lat, lon, err := req.location(kind)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !req.ScanType.Valid() {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown scan_type %q", req.ScanType))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		writeDetail(w, f.status, f.detail)
		return
	}

	now := s.now()
	key := employeeID + "|" + now.In(s.loc).Format(models.DateLayout)
	d := s.days[key]
	if d == nil {
		d = &day{}
		s.days[key] = d
	}

	switch kind {
	case models.PunchCheckIn:
		if d.checkIn != nil {
			writeDetail(w, http.StatusConflict, MsgAlreadyCheckedIn)
			return
		}
	case models.PunchCheckOut:
		if d.checkIn == nil {
			writeDetail(w, http.StatusBadRequest, MsgCheckInFirst)
			return
		}
		if d.checkOut != nil {
			writeDetail(w, http.StatusConflict, MsgAlreadyCheckedOut)
			return
		}
	}

	p := Punch{
		ID:         uuid.New(),
		EmployeeID: employeeID,
		Kind:       kind,
		ScanType:   req.ScanType,
		Latitude:   lat,
		Longitude:  lon,
		At:         now,
	}
	detail := MsgCheckedIn
	if kind == models.PunchCheckIn {
		d.checkIn = &p
	} else {
		d.checkOut = &p
		detail = MsgCheckedOut
	}
	s.punches = append(s.punches, p)

	writeJSON(w, http.StatusOK, models.ServerResponse{
		ID:         p.ID,
		EmployeeID: employeeID,
		Status:     models.StatusFor(kind),
		Detail:     detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("writeJSON encode", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
