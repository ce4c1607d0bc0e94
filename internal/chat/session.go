// Package chat orchestrates one conversation per (note, user) pair: it
// appends the user's question, invokes the generation client with
// bounded history, appends the answer (or a synthetic error message),
// and schedules persistence.
//
// A session is a small state machine, idle ↔ awaitingResponse. While a
// response is pending, new questions are rejected and the debounce save
// timer is suppressed. Every terminal turn triggers an immediate save;
// history mutations in the idle state re-arm a debounced save. Both
// triggers funnel through a per-session coalescing saver so at most one
// write is in flight at a time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/campusnotes/notechat/internal/chatstore"
	"github.com/campusnotes/notechat/internal/config"
	"github.com/campusnotes/notechat/internal/drive"
	"github.com/campusnotes/notechat/internal/gemini"
)

// DefaultDebounceDelay is the quiet period before an idle-state history
// mutation is persisted.
const DefaultDebounceDelay = 2 * time.Second

// saveTimeout bounds one background persistence write.
const saveTimeout = 10 * time.Second

// User-facing texts substituted for failed generation turns, chosen by
// error category. The conversation stays coherent: a failure is an AI
// message, never a broken state.
const (
	msgQuotaExceeded = "API quota exceeded. Please try again in a moment."
	msgNotConfigured = "Gemini API not configured. Please contact administrator."
	msgFileTooLarge  = "File is too large for processing. Please try a smaller file."
	msgGenericError  = "Sorry, I encountered an error while processing your question."
)

var (
	// ErrEmptyQuestion rejects blank input.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrBusy rejects a question while a response is pending.
	ErrBusy = errors.New("a response is already pending")
	// ErrSessionClosed rejects operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

type state int

const (
	stateIdle state = iota
	stateAwaitingResponse
)

// Generator produces an answer from a document and conversation context.
type Generator interface {
	Generate(ctx context.Context, doc *drive.Document, question string, history []gemini.Turn) (string, error)
}

// Fetcher resolves a remote document into an in-memory blob.
type Fetcher interface {
	Fetch(ctx context.Context, fileID, fileName, mimeType string) (*drive.Document, error)
}

// Persister is the slice of the conversation store a session uses.
type Persister interface {
	Save(ctx context.Context, noteID string, messages []chatstore.Message, profile *chatstore.Profile) chatstore.SaveResult
	Load(ctx context.Context, noteID string, profile *chatstore.Profile) []chatstore.Message
	Remove(ctx context.Context, noteID string, profile *chatstore.Profile) error
}

// FileRef identifies the remote document a session discusses.
type FileRef struct {
	FileID   string
	FileName string
	MimeType string
}

// SessionConfig contains all required parameters for a Session.
type SessionConfig struct {
	NoteID  string              // required
	Profile *chatstore.Profile  // required, carries the user id
	File    FileRef             // required, FileID must be set

	Fetcher   Fetcher   // required
	Generator Generator // required
	Store     Persister // required

	Logger        *slog.Logger  // optional
	DebounceDelay time.Duration // 0 = DefaultDebounceDelay
}

// Session is one conversation bound to a (note, user) pair and a single
// document. Safe for concurrent use; at most one question is processed
// at a time.
type Session struct {
	noteID  string
	profile *chatstore.Profile
	file    FileRef

	fetcher   Fetcher
	generator Generator
	store     Persister
	logger    *slog.Logger

	debounceDelay time.Duration
	saver         *saver

	// now is swappable in tests.
	now func() time.Time

	mu       sync.Mutex
	st       state
	closed   bool
	doc      *drive.Document
	messages []chatstore.Message
	timer    *time.Timer
}

// NewSession creates a Session with empty history. Callers that want
// the stored history restored should use Manager.Open.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.NoteID == "" {
		return nil, fmt.Errorf("note id is required")
	}
	if cfg.Profile == nil || cfg.Profile.UID == "" {
		return nil, fmt.Errorf("user profile is required")
	}
	if cfg.File.FileID == "" {
		return nil, fmt.Errorf("file reference is required")
	}
	if cfg.Fetcher == nil || cfg.Generator == nil || cfg.Store == nil {
		return nil, fmt.Errorf("fetcher, generator and store are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.DebounceDelay
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}

	s := &Session{
		noteID:        cfg.NoteID,
		profile:       cfg.Profile,
		file:          cfg.File,
		fetcher:       cfg.Fetcher,
		generator:     cfg.Generator,
		store:         cfg.Store,
		logger:        logger,
		debounceDelay: delay,
		now:           time.Now,
	}
	s.saver = newSaver(s.persist)
	return s, nil
}

// Ask submits one question. The user message is appended synchronously
// before the generation request is dispatched, so History always
// reflects the question immediately. The returned message is the AI
// turn: a real answer, or a synthetic error text when generation
// failed (the error return is reserved for guard violations).
func (s *Session) Ask(ctx context.Context, question string) (chatstore.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return chatstore.Message{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chatstore.Message{}, ErrSessionClosed
	}
	if s.st == stateAwaitingResponse {
		s.mu.Unlock()
		return chatstore.Message{}, ErrBusy
	}
	// Context for the prompt is the history before this question.
	history := historyTurns(s.messages)
	now := s.now()
	s.messages = append(s.messages, chatstore.Message{
		ID:        fmt.Sprintf("user_%d", now.UnixMilli()),
		Sender:    gemini.SenderUser,
		Text:      question,
		Timestamp: now,
	})
	s.st = stateAwaitingResponse
	s.stopTimerLocked()
	s.mu.Unlock()

	text, genErr := s.generate(ctx, question, history)

	now = s.now()
	aiMsg := chatstore.Message{Sender: gemini.SenderAI, Timestamp: now}
	if genErr != nil {
		s.logger.Warn("generation turn failed", "note_id", s.noteID, "error", genErr)
		aiMsg.ID = fmt.Sprintf("error_%d", now.UnixMilli())
		aiMsg.Text = syntheticText(genErr)
	} else {
		aiMsg.ID = fmt.Sprintf("ai_%d", now.UnixMilli())
		aiMsg.Text = text
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// No cancellation of in-flight generation: a response landing
		// after Close is dropped, not applied.
		s.logger.Warn("dropping response for closed session", "note_id", s.noteID)
		return chatstore.Message{}, ErrSessionClosed
	}
	s.messages = append(s.messages, aiMsg)
	s.st = stateIdle
	s.armTimerLocked()
	s.mu.Unlock()

	// Immediate post-turn save, coalesced with any debounce trigger.
	s.saver.request()

	return aiMsg, nil
}

// History returns a copy of the current message list.
func (s *Session) History() []chatstore.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Clear wipes the in-memory history and removes the stored document.
// Unlike saves, removal failures propagate.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.st == stateAwaitingResponse {
		s.mu.Unlock()
		return ErrBusy
	}
	s.messages = nil
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.store.Remove(ctx, s.noteID, s.profile)
}

// Close marks the session unusable and waits for any in-flight save to
// finish. A generation still running completes but its result is
// dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()

	s.saver.wait()
}

// seed replaces the history with previously stored messages.
func (s *Session) seed(messages []chatstore.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = slices.Clone(messages)
	if len(s.messages) > 0 {
		// A restore is a history mutation like any other and re-arms
		// the debounced save; the write is an idempotent merge-upsert.
		s.armTimerLocked()
	}
}

func (s *Session) generate(ctx context.Context, question string, history []gemini.Turn) (string, error) {
	doc, err := s.resolveDocument(ctx)
	if err != nil {
		return "", err
	}
	return s.generator.Generate(ctx, doc, question, history)
}

// resolveDocument fetches the document blob on first use and caches it
// for the session's lifetime.
func (s *Session) resolveDocument(ctx context.Context) (*drive.Document, error) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	if doc != nil {
		return doc, nil
	}

	doc, err := s.fetcher.Fetch(ctx, s.file.FileID, s.file.FileName, s.file.MimeType)
	if err != nil {
		return nil, fmt.Errorf("resolve document: %w", err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return doc, nil
}

// persist snapshots the history and writes it. Failures are logged and
// surfaced nowhere else: the in-memory conversation stays authoritative.
func (s *Session) persist() {
	s.mu.Lock()
	messages := slices.Clone(s.messages)
	s.mu.Unlock()
	if len(messages) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if res := s.store.Save(ctx, s.noteID, messages, s.profile); !res.OK {
		s.logger.Warn("chat autosave failed", "note_id", s.noteID, "reason", res.Reason)
	}
}

func (s *Session) armTimerLocked() {
	if s.closed || s.st != stateIdle {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounceDelay, s.debounceFired)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) debounceFired() {
	s.mu.Lock()
	skip := s.closed || s.st != stateIdle
	s.mu.Unlock()
	if skip {
		return
	}
	s.saver.request()
}

// historyTurns converts stored messages to prompt context turns.
func historyTurns(messages []chatstore.Message) []gemini.Turn {
	turns := make([]gemini.Turn, len(messages))
	for i, m := range messages {
		turns[i] = gemini.Turn{Sender: m.Sender, Text: m.Text}
	}
	return turns
}

// syntheticText maps a failed turn to its user-facing message. The
// category comes from the underlying error's text: an exhausted retry
// budget embeds its last failure, so a run of oversized-document or
// bad-key rejections must not read as a quota problem.
func syntheticText(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, config.ErrNoAPIKeys):
		return msgNotConfigured
	case strings.Contains(msg, "too large") || strings.Contains(msg, "byte limit") || strings.Contains(msg, "file size"):
		return msgFileTooLarge
	case gemini.IsQuotaError(err):
		return msgQuotaExceeded
	default:
		return msgGenericError
	}
}
