package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

const (
	sessionFileName = "session.json"
	prefsFileName   = "preferences.json"
)

// Session is the persisted authentication snapshot.
type Session struct {
	User            domain.User `json:"user"`
	Token           string      `json:"token"`
	IsAuthenticated bool        `json:"is_authenticated"`
}

// Preferences holds non-auth client settings, persisted separately from the
// session so clearing one never touches the other.
type Preferences struct {
	DarkMode bool `json:"dark_mode"`
}

// SessionStore keeps the current session and preferences in memory and writes
// every mutation through to disk before returning. A corrupt snapshot on disk
// is discarded at Initialize so a bad file can never yield a half-authenticated
// state.
type SessionStore struct {
	mu    sync.RWMutex
	dir   string
	sess  Session
	prefs Preferences
}

func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{dir: dir}
}

// Initialize loads the persisted session and preferences. Missing files leave
// the zero state; unreadable or malformed files are removed and treated as
// logged out.
func (s *SessionStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	var sess Session
	switch err := readJSONFile(s.sessionPath(), &sess); {
	case err == nil:
		s.sess = sess
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.sess = Session{}
		_ = os.Remove(s.sessionPath())
	}

	var prefs Preferences
	switch err := readJSONFile(s.prefsPath(), &prefs); {
	case err == nil:
		s.prefs = prefs
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.prefs = Preferences{}
		_ = os.Remove(s.prefsPath())
	}
	return nil
}

// SetSession stores the authenticated user and token and persists the snapshot.
func (s *SessionStore) SetSession(user domain.User, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = Session{User: user, Token: token, IsAuthenticated: true}
	return writeJSONFile(s.sessionPath(), s.sess)
}

// Clear wipes the in-memory session and removes the persisted snapshot.
// Preferences survive.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = Session{}
	if err := os.Remove(s.sessionPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// UpdateUser applies mutate to the current user record and persists the
// result. It is a no-op when no session is active.
func (s *SessionStore) UpdateUser(mutate func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sess.IsAuthenticated {
		return nil
	}
	mutate(&s.sess.User)
	return writeJSONFile(s.sessionPath(), s.sess)
}

func (s *SessionStore) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.Token
}

func (s *SessionStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.IsAuthenticated
}

func (s *SessionStore) SetDarkMode(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.DarkMode = on
	return writeJSONFile(s.prefsPath(), s.prefs)
}

func (s *SessionStore) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.DarkMode
}

func (s *SessionStore) sessionPath() string { return filepath.Join(s.dir, sessionFileName) }
func (s *SessionStore) prefsPath() string   { return filepath.Join(s.dir, prefsFileName) }

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
