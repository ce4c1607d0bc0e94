// Package vault owns the short-lived bearer credential used to read
// remotely stored documents.
//
// The vault holds exactly one token with an absolute expiry. It is
// injected into every consumer (document fetcher, uploader) instead of
// living in package-level state, so concurrent access is testable and
// there is no hidden sharing.
//
// The token is mirrored to a file under a session-scoped directory so it
// survives a process restart within the same login session. A missing or
// expired token is a normal state, not an error: Retrieve reports absence
// and callers re-authenticate.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const tokenFileName = "access_token.json"

// storedToken is the on-disk representation.
type storedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Vault stores a single bearer credential with expiry.
// Safe for concurrent use.
type Vault struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	path   string
	lock   *flock.Flock
	logger *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a Vault persisting to dir. The directory is created if
// missing; a flock guards the token file against concurrent processes.
func New(dir string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}

	path := filepath.Join(dir, tokenFileName)
	return &Vault{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Store records the token with an absolute expiry of now + ttl and
// mirrors it to the session-scoped file.
func (v *Vault) Store(token string, ttl time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.token = token
	v.expiresAt = v.now().Add(ttl)

	if err := v.writeFile(); err != nil {
		// The in-memory token is still usable; persistence is best effort.
		v.logger.Warn("could not persist token", "error", err)
		return err
	}
	return nil
}

// Retrieve returns the token if a valid one is held in memory, falling
// back to the persisted copy. Reports absence via ok=false; an expired
// entry is proactively cleared and treated as absent.
func (v *Vault) Retrieve() (token string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.token != "" {
		if v.now().Before(v.expiresAt) {
			return v.token, true
		}
		v.clearLocked()
		return "", false
	}

	st, err := v.readFile()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			v.logger.Warn("could not read persisted token", "error", err)
		}
		return "", false
	}

	if !v.now().Before(st.ExpiresAt) {
		v.clearLocked()
		return "", false
	}

	v.token = st.AccessToken
	v.expiresAt = st.ExpiresAt
	return v.token, true
}

// IsValid reports whether the in-memory token exists and has not
// expired. Pure expiry check, no I/O.
func (v *Vault) IsValid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.token != "" && v.now().Before(v.expiresAt)
}

// Clear removes the token from memory and storage. Used on sign-out and
// when a consumer reports an authorization failure.
func (v *Vault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clearLocked()
}

// ReportUnauthorized is called by consumers that received a 401 using
// this vault's token. The credential is discarded so the next caller
// re-authenticates instead of retrying a dead token.
func (v *Vault) ReportUnauthorized() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.clearLocked(); err != nil {
		v.logger.Warn("could not clear token after 401", "error", err)
	}
}

// BearerHeader returns the Authorization header value for the current
// token, if one is valid.
func (v *Vault) BearerHeader() (string, bool) {
	token, ok := v.Retrieve()
	if !ok {
		return "", false
	}
	return "Bearer " + token, true
}

func (v *Vault) clearLocked() error {
	v.token = ""
	v.expiresAt = time.Time{}

	if err := v.lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = v.lock.Unlock() }()

	if err := os.Remove(v.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func (v *Vault) writeFile() error {
	if err := v.lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = v.lock.Unlock() }()

	data, err := json.Marshal(storedToken{
		AccessToken: v.token,
		ExpiresAt:   v.expiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (v *Vault) readFile() (storedToken, error) {
	if err := v.lock.Lock(); err != nil {
		return storedToken{}, fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = v.lock.Unlock() }()

	data, err := os.ReadFile(v.path)
	if err != nil {
		return storedToken{}, err
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return storedToken{}, fmt.Errorf("unmarshal token file: %w", err)
	}
	return st, nil
}
