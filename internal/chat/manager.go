package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campusnotes/notechat/internal/chatstore"
)

// ManagerConfig contains the shared dependencies sessions are built
// from.
type ManagerConfig struct {
	Fetcher   Fetcher   // required
	Generator Generator // required
	Store     Persister // required

	Logger        *slog.Logger  // optional
	DebounceDelay time.Duration // 0 = DefaultDebounceDelay
}

// Manager is the registry of live sessions, one per (note, user) pair.
// Safe for concurrent use.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Fetcher == nil || cfg.Generator == nil || cfg.Store == nil {
		return nil, fmt.Errorf("fetcher, generator and store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Open returns the live session for (noteID, profile), creating it and
// restoring its stored history on first use. An already-open session is
// returned as-is; its file reference wins over the supplied one.
func (m *Manager) Open(ctx context.Context, noteID string, profile *chatstore.Profile, file FileRef) (*Session, error) {
	if profile == nil || profile.UID == "" {
		return nil, fmt.Errorf("user profile is required")
	}
	key := chatstore.DocID(noteID, profile.UID)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := NewSession(SessionConfig{
		NoteID:        noteID,
		Profile:       profile,
		File:          file,
		Fetcher:       m.cfg.Fetcher,
		Generator:     m.cfg.Generator,
		Store:         m.cfg.Store,
		Logger:        m.logger,
		DebounceDelay: m.cfg.DebounceDelay,
	})
	if err != nil {
		return nil, err
	}
	s.seed(m.cfg.Store.Load(ctx, noteID, profile))

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost the race to another opener: keep theirs.
	if existing, ok := m.sessions[key]; ok {
		s.Close()
		return existing, nil
	}
	m.sessions[key] = s
	m.logger.Debug("session opened", "doc_id", key, "history", len(s.History()))
	return s, nil
}

// Lookup returns the live session for (noteID, profile) without
// creating one.
func (m *Manager) Lookup(noteID string, profile *chatstore.Profile) (*Session, bool) {
	if profile == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatstore.DocID(noteID, profile.UID)]
	return s, ok
}

// Close shuts down and forgets the session for (noteID, profile).
// Closing an unknown session is a no-op.
func (m *Manager) Close(noteID string, profile *chatstore.Profile) {
	if profile == nil {
		return
	}
	key := chatstore.DocID(noteID, profile.UID)

	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.logger.Debug("session closed", "doc_id", key)
	}
}

// CloseAll shuts down every live session, waiting for in-flight saves.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
