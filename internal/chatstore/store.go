// Package chatstore persists and restores per-document conversation
// history keyed by (note, user).
//
// Sessions are stored in the chats table under the composite id
// "{noteId}_{userId}" with merge-upsert semantics: a save either writes
// the full current message list or fails entirely, never partially.
//
// Save and Load report failure as data (SaveResult / empty list) rather
// than raising: a storage hiccup must never crash the conversation, so
// the in-memory history stays authoritative. Remove is the exception and
// returns errors to the caller.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Failure reasons reported by Save.
const (
	ReasonNoAuthentication = "no-authentication"
	ReasonMissingNoteID    = "missing-noteId"
	ReasonEmptyHistory     = "empty-history"
)

// ErrChatNotFound indicates no session document exists for the id.
var ErrChatNotFound = errors.New("chat not found")

// Profile identifies an authenticated portal user.
type Profile struct {
	UID string
}

// CurrentUserFunc resolves the currently authenticated principal, used
// as a fallback when no explicit profile is supplied.
type CurrentUserFunc func() (uid string, ok bool)

// Message is one chat entry crossing the persistence boundary.
//
// Timestamp accepts the closed set of representations seen at this
// boundary: time.Time, an RFC 3339 string, or a DateConverter wrapper.
// Load always populates it with a time.Time.
type Message struct {
	ID        string
	MessageID string
	Sender    string
	Text      string
	Timestamp any
}

// storedMessage is the persisted JSON shape of one message.
type storedMessage struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
}

// SaveResult reports the outcome of a Save as data.
type SaveResult struct {
	OK     bool
	DocID  string
	Reason string // set when !OK
}

// ChatRecord is one row of the chats table.
type ChatRecord struct {
	NoteID       string
	UserID       string
	History      []byte // JSON array of storedMessage
	MessageCount int
	LastUpdated  time.Time
	CreatedAt    time.Time
	Version      int
}

// UpsertChatParams carries one full-session write.
type UpsertChatParams struct {
	ID           string
	NoteID       string
	UserID       string
	History      []byte
	MessageCount int
}

// Querier defines the database operations the store needs. Defined by
// the consumer so unit tests can substitute a counting double.
type Querier interface {
	UpsertChat(ctx context.Context, arg UpsertChatParams) error
	GetChat(ctx context.Context, id string) (ChatRecord, error)
	DeleteChat(ctx context.Context, id string) error
}

// Store manages conversation persistence.
// Safe for concurrent use when the Querier is.
type Store struct {
	querier     Querier
	currentUser CurrentUserFunc
	logger      *slog.Logger

	// now is swappable for timestamp tests.
	now func() time.Time
}

// New creates a Store. currentUser may be nil when no ambient principal
// exists (every Save then requires an explicit profile).
func New(querier Querier, currentUser CurrentUserFunc, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier:     querier,
		currentUser: currentUser,
		logger:      logger,
		now:         time.Now,
	}
}

// DocID materializes the (note, user) identity pair as the composite
// document id.
func DocID(noteID, userID string) string {
	return noteID + "_" + userID
}

// Save merge-upserts the full message list for (noteID, user).
//
// The user id comes from profile when supplied, falling back to the
// authenticated principal. Invalid inputs are reported without any
// write: missing noteID, no resolvable user, or an empty history.
func (s *Store) Save(ctx context.Context, noteID string, messages []Message, profile *Profile) SaveResult {
	if noteID == "" {
		return SaveResult{Reason: ReasonMissingNoteID}
	}

	uid, ok := s.resolveUID(profile)
	if !ok {
		return SaveResult{Reason: ReasonNoAuthentication}
	}

	if len(messages) == 0 {
		return SaveResult{Reason: ReasonEmptyHistory}
	}

	now := s.now()
	stored := make([]storedMessage, len(messages))
	for i, msg := range messages {
		stored[i] = storedMessage{
			Sender:    msg.Sender,
			Text:      msg.Text,
			Timestamp: normalizeTimestamp(msg.Timestamp, now),
			ID:        msg.ID,
			MessageID: fmt.Sprintf("%d_%d", now.UnixMilli(), i),
		}
	}

	history, err := json.Marshal(stored)
	if err != nil {
		s.logger.Error("could not marshal chat history", "note_id", noteID, "error", err)
		return SaveResult{Reason: err.Error()}
	}

	docID := DocID(noteID, uid)
	err = s.querier.UpsertChat(ctx, UpsertChatParams{
		ID:           docID,
		NoteID:       noteID,
		UserID:       uid,
		History:      history,
		MessageCount: len(stored),
	})
	if err != nil {
		s.logger.Error("chat save failed", "doc_id", docID, "error", err)
		return SaveResult{Reason: err.Error()}
	}

	s.logger.Debug("chat saved", "doc_id", docID, "messages", len(stored))
	return SaveResult{OK: true, DocID: docID}
}

// Load restores the message list for (noteID, user). Returns an empty
// list, never an error, when the document does not exist, no user can
// be resolved, or the stored payload cannot be decoded.
func (s *Store) Load(ctx context.Context, noteID string, profile *Profile) []Message {
	if noteID == "" {
		return nil
	}
	uid, ok := s.resolveUID(profile)
	if !ok {
		return nil
	}

	docID := DocID(noteID, uid)
	record, err := s.querier.GetChat(ctx, docID)
	if err != nil {
		if !errors.Is(err, ErrChatNotFound) {
			s.logger.Warn("chat load failed", "doc_id", docID, "error", err)
		}
		return nil
	}

	var stored []storedMessage
	if err := json.Unmarshal(record.History, &stored); err != nil {
		s.logger.Warn("could not decode chat history", "doc_id", docID, "error", err)
		return nil
	}

	now := s.now()
	messages := make([]Message, len(stored))
	for i, sm := range stored {
		messages[i] = Message{
			ID:        sm.ID,
			MessageID: sm.MessageID,
			Sender:    sm.Sender,
			Text:      sm.Text,
			Timestamp: parseTimestamp(sm.Timestamp, now),
		}
	}

	s.logger.Debug("chat loaded", "doc_id", docID, "messages", len(messages))
	return messages
}

// Remove hard-deletes the session document. Unlike Save and Load this
// propagates failures: callers must be prepared for the asymmetry.
func (s *Store) Remove(ctx context.Context, noteID string, profile *Profile) error {
	if noteID == "" {
		return fmt.Errorf("note id is required")
	}
	uid, ok := s.resolveUID(profile)
	if !ok {
		return fmt.Errorf("no authenticated user")
	}

	docID := DocID(noteID, uid)
	if err := s.querier.DeleteChat(ctx, docID); err != nil {
		return fmt.Errorf("delete chat %s: %w", docID, err)
	}

	s.logger.Debug("chat deleted", "doc_id", docID)
	return nil
}

func (s *Store) resolveUID(profile *Profile) (string, bool) {
	if profile != nil && profile.UID != "" {
		return profile.UID, true
	}
	if s.currentUser != nil {
		if uid, ok := s.currentUser(); ok && uid != "" {
			return uid, true
		}
	}
	return "", false
}
