// Package models provides data model definitions for punchsync.
package models

// Profile is the signed-in employee as returned by the login endpoint.
type Profile struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
}

// Session holds the credential state. An empty Token means logged out.
type Session struct {
	Token       string   `json:"token"`
	ExpiresAtMs int64    `json:"expires_at"`
	Profile     *Profile `json:"profile,omitempty"`
}

// LoggedIn reports whether a token is present.
func (s Session) LoggedIn() bool {
	return s.Token != ""
}
