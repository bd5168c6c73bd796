package crypto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// DefaultTokenLifetime is assumed when a token carries no readable exp claim.
const DefaultTokenLifetime = 24 * time.Hour

const sessionFile = "session.cred"

// CredentialStore keeps the session token and profile encrypted on disk.
// The whole session is one file so Clear and Put never leave a partial state.
type CredentialStore struct {
	mu      sync.RWMutex
	path    string
	key     []byte
	session models.Session
	now     func() time.Time
}

// OpenCredentialStore opens (or creates) the store under dir/secure.
// An unreadable or undecryptable file is wiped and the store starts empty.
func OpenCredentialStore(dir, machineID string) (*CredentialStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory not set for secure storage")
	}

	secureDir := filepath.Join(dir, "secure")
	if err := os.MkdirAll(secureDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secure directory: %w", err)
	}

	if machineID == "" {
		machineID = MachineIdentifier()
	}
	key, err := DeriveKey(machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}

	s := &CredentialStore{
		path: filepath.Join(secureDir, sessionFile),
		key:  key,
		now:  time.Now,
	}
	s.load()
	return s, nil
}

// SetClock replaces the time source used for expiry decisions.
func (s *CredentialStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *CredentialStore) load() {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err == nil {
		var plain []byte
		plain, err = Decrypt(string(data), s.key)
		if err == nil {
			var session models.Session
			if err = json.Unmarshal(plain, &session); err == nil {
				s.session = session
				return
			}
		}
	}

	logging.Warn("Credential store unreadable, recreating", map[string]interface{}{
		"path":  s.path,
		"error": err.Error(),
	})
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
		logging.Error("Failed to wipe credential store", rmErr, nil)
	}
	s.session = models.Session{}
}

// persist writes the session atomically. Caller holds mu.
func (s *CredentialStore) persist(session models.Session) error {
	plain, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	encrypted, err := Encrypt(plain, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(encrypted), 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// Put stores a new token and derives its expiration from the exp claim.
func (s *CredentialStore) Put(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.session
	next.Token = token
	next.ExpiresAtMs = ParseExpiry(token, s.now()).UnixMilli()

	if err := s.persist(next); err != nil {
		return err
	}
	s.session = next
	return nil
}

// Get returns the stored token, or false when logged out.
func (s *CredentialStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token, s.session.Token != ""
}

// ExpiresAt returns the expiration of the current token.
func (s *CredentialStore) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.UnixMilli(s.session.ExpiresAtMs)
}

// IsExpired reports whether there is no usable token.
func (s *CredentialStore) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Token == "" {
		return true
	}
	return s.now().UnixMilli() >= s.session.ExpiresAtMs
}

// PutProfile stores the signed-in employee profile.
func (s *CredentialStore) PutProfile(profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.session
	if profile != nil {
		p := *profile
		next.Profile = &p
	} else {
		next.Profile = nil
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.session = next
	return nil
}

// PutSession replaces token and profile in one write.
func (s *CredentialStore) PutSession(token string, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.Session{
		Token:       token,
		ExpiresAtMs: ParseExpiry(token, s.now()).UnixMilli(),
	}
	if profile != nil {
		p := *profile
		next.Profile = &p
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.session = next
	return nil
}

// GetProfile returns a copy of the stored profile, nil if absent.
func (s *CredentialStore) GetProfile() *models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Profile == nil {
		return nil
	}
	p := *s.session.Profile
	return &p
}

// Session returns a snapshot of the whole session.
func (s *CredentialStore) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.session
	if snap.Profile != nil {
		p := *snap.Profile
		snap.Profile = &p
	}
	return snap
}

// Clear removes token, expiration and profile together. When the file
// cannot be removed the session is left untouched.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	s.session = models.Session{}
	return nil
}

// ParseExpiry reads the exp claim of a JWT without verifying its signature.
// Tokens that cannot be parsed expire DefaultTokenLifetime after now.
func ParseExpiry(token string, now time.Time) time.Time {
	fallback := now.Add(DefaultTokenLifetime)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}
