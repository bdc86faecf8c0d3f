package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// SessionState is the signed-in identity remembered between calls.
type SessionState struct {
	UID            string `json:"uid"`
	LoginID        string `json:"login_id"`
	SignedInMillis int64  `json:"signed_in_millis"`
}

// Session stores at most one SessionState.
type Session interface {
	Load() (SessionState, bool, error)
	Save(SessionState) error
	Clear() error
}

// SessionFilePath returns the path to the stored session (~/.tat/auth/session.json).
func SessionFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tat", "auth", "session.json"), nil
}

// FileSession persists the session as JSON so that the CLI stays signed in
// across invocations.
type FileSession struct {
	Path string
}

// Load implements Session. A missing file means nobody is signed in.
func (f FileSession) Load() (SessionState, bool, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return SessionState{}, false, nil
	}
	if err != nil {
		return SessionState{}, false, fmt.Errorf("reading session file: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return SessionState{}, false, fmt.Errorf("corrupt session file (delete %s to sign in again): %w", f.Path, err)
	}
	return st, st.UID != "", nil
}

// Save implements Session.
func (f FileSession) Save(st SessionState) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	tmpPath := f.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving session file: %w", err)
	}
	return nil
}

// Clear implements Session.
func (f FileSession) Clear() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// MemorySession keeps the session in memory.
type MemorySession struct {
	mu    sync.Mutex
	state *SessionState
}

// Load implements Session.
func (m *MemorySession) Load() (SessionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return SessionState{}, false, nil
	}
	return *m.state, true, nil
}

// Save implements Session.
func (m *MemorySession) Save(st SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &st
	return nil
}

// Clear implements Session.
func (m *MemorySession) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

type ctxKey struct{}

// WithUser returns a context carrying uid as the acting user.
func WithUser(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, uid)
}

// ContextUsers reports the user attached by WithUser. The HTTP server uses
// it so each request acts for the identity in its bearer token.
type ContextUsers struct{}

// CurrentUser implements ledger.UserSource.
func (ContextUsers) CurrentUser(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKey{}).(string)
	return uid, ok && uid != ""
}
