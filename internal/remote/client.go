// Package remote calls the attendance service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/punchsync/internal/errors"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// Service paths.
const (
	CheckInPath  = "/attendance/check-in/"
	CheckOutPath = "/attendance/check-out/"
	LoginPath    = "/auth/login/"
)

// DefaultTimeout bounds every call.
const DefaultTimeout = 20 * time.Second

const maxBodySize = 1 << 20

type checkInRequest struct {
	Latitude  float64         `json:"check_in_latitude"`
	Longitude float64         `json:"check_in_longitude"`
	ScanType  models.ScanType `json:"scan_type"`
}

type checkOutRequest struct {
	Latitude  float64         `json:"check_out_latitude"`
	Longitude float64         `json:"check_out_longitude"`
	ScanType  models.ScanType `json:"scan_type"`
}

// LoginRequest is the body of the login call.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the answer of a successful login.
type LoginResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

// responseBody covers the fields the service may send back. Only detail is
// guaranteed.
type responseBody struct {
	Detail     string `json:"detail"`
	Error      string `json:"error"`
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Status     string `json:"status"`
}

func (b responseBody) message() string {
	if b.Detail != "" {
		return b.Detail
	}
	return b.Error
}

// Client is a typed client of the attendance service.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a Client. transport is usually the session gateway.
func NewClient(baseURL string, transport http.RoundTripper, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// Submit sends e to the endpoint of its side.
func (c *Client) Submit(ctx context.Context, e *models.AttendanceEvent) (*models.ServerResponse, error) {
	switch e.Kind {
	case models.PunchCheckIn:
		return c.CheckIn(ctx, e.Latitude, e.Longitude, e.ScanType)
	case models.PunchCheckOut:
		return c.CheckOut(ctx, e.Latitude, e.Longitude, e.ScanType)
	default:
		return nil, apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unknown punch kind %q", e.Kind))
	}
}

// CheckIn records the start of the day.
func (c *Client) CheckIn(ctx context.Context, lat, lon float64, scanType models.ScanType) (*models.ServerResponse, error) {
	body := checkInRequest{Latitude: lat, Longitude: lon, ScanType: scanType}
	return c.punch(ctx, http.MethodPost, CheckInPath, body, models.PunchCheckIn)
}

// CheckOut records the end of the day.
func (c *Client) CheckOut(ctx context.Context, lat, lon float64, scanType models.ScanType) (*models.ServerResponse, error) {
	body := checkOutRequest{Latitude: lat, Longitude: lon, ScanType: scanType}
	return c.punch(ctx, http.MethodPut, CheckOutPath, body, models.PunchCheckOut)
}

func (c *Client) punch(ctx context.Context, method, path string, body interface{}, kind models.PunchKind) (*models.ServerResponse, error) {
	status, rb, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp := &models.ServerResponse{
		ID:         rb.ID,
		EmployeeID: rb.EmployeeID,
		Status:     rb.Status,
		Detail:     rb.message(),
		StatusCode: status,
	}
	if resp.Status == "" {
		resp.Status = models.StatusFor(kind)
	}
	return resp, nil
}

// Login exchanges credentials for a token. The call is never decorated.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	req := LoginRequest{Username: username, Password: password}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, status, err := c.send(ctx, http.MethodPost, LoginPath, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		var rb responseBody
		_ = json.Unmarshal(raw, &rb)
		return nil, apperrors.FromStatus(status, rb.message())
	}

	var lr LoginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrServer, "malformed login response", err)
	}
	if lr.Token == "" {
		return nil, apperrors.New(apperrors.ErrServer, "login response carries no token")
	}
	return &lr, nil
}

// do performs a call and decodes the JSON answer. Non-2xx statuses become
// AppErrors carrying the server's detail.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, responseBody, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rb responseBody
	raw, status, err := c.send(ctx, method, path, body)
	if err != nil {
		return 0, rb, err
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &rb); err != nil {
			rb.Detail = strings.TrimSpace(string(raw))
		}
	}

	if status < 200 || status > 299 {
		logging.Warn("Attendance service rejected request", map[string]interface{}{
			"path":   path,
			"status": status,
			"detail": rb.message(),
		})
		return status, rb, apperrors.FromStatus(status, rb.message())
	}
	return status, rb, nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrInternal, "failed to encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, transportError(path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, transportError(path, err)
	}
	return raw, resp.StatusCode, nil
}

// transportError classifies a failure that produced no answer.
func transportError(path string, err error) error {
	code := apperrors.CodeOf(err)
	if code != apperrors.ErrNetworkTimeout {
		code = apperrors.ErrNetworkUnavailable
	}
	logging.Warn("Attendance service unreachable", map[string]interface{}{
		"path":  path,
		"code":  string(code),
		"error": err.Error(),
	})
	return apperrors.Wrap(code, "attendance service unreachable", err)
}
