package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/campusnotes/notechat/internal/chat"
	"github.com/campusnotes/notechat/internal/chatstore"
)

// userHeader carries the authenticated user id, injected by the portal
// gateway in front of this service.
const userHeader = "X-User-ID"

// maxAskBody bounds the ask request payload.
const maxAskBody = 64 * 1024

// Chat serves the conversation endpoints.
type Chat struct {
	manager *chat.Manager
	store   chat.Persister
}

// NewChat creates the chat handler.
func NewChat(manager *chat.Manager, store chat.Persister) *Chat {
	return &Chat{manager: manager, store: store}
}

// RegisterRoutes registers the chat routes on the given mux.
func (c *Chat) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/{noteID}/ask", c.ask)
	mux.HandleFunc("GET /api/chat/{noteID}/history", c.history)
	mux.HandleFunc("DELETE /api/chat/{noteID}", c.clear)
}

type fileRefJSON struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

type askRequest struct {
	Question string      `json:"question"`
	Quick    bool        `json:"quick"`
	File     fileRefJSON `json:"file"`
}

type messageJSON struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type askResponse struct {
	Reply        messageJSON `json:"reply"`
	MessageCount int         `json:"messageCount"`
}

type historyResponse struct {
	Messages     []messageJSON `json:"messages"`
	MessageCount int           `json:"messageCount"`
}

func (c *Chat) ask(w http.ResponseWriter, r *http.Request) {
	profile, ok := requireProfile(w, r)
	if !ok {
		return
	}
	noteID := r.PathValue("noteID")

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.File.FileID == "" {
		writeError(w, http.StatusBadRequest, "file.fileId is required")
		return
	}

	question := req.Question
	if req.Quick {
		question = chat.ScrubQuestion(question)
	}

	session, err := c.manager.Open(r.Context(), noteID, profile, chat.FileRef{
		FileID:   req.File.FileID,
		FileName: req.File.FileName,
		MimeType: req.File.MimeType,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not open chat session")
		return
	}

	reply, err := session.Ask(r.Context(), question)
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "question is empty")
		return
	case errors.Is(err, chat.ErrBusy):
		writeError(w, http.StatusConflict, "a response is already pending")
		return
	case errors.Is(err, chat.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session is closed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not process question")
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Reply:        toMessageJSON(reply),
		MessageCount: len(session.History()),
	})
}

func (c *Chat) history(w http.ResponseWriter, r *http.Request) {
	profile, ok := requireProfile(w, r)
	if !ok {
		return
	}
	noteID := r.PathValue("noteID")

	// Prefer the live session, which may hold turns not yet persisted.
	var messages []chatstore.Message
	if session, live := c.manager.Lookup(noteID, profile); live {
		messages = session.History()
	} else {
		messages = c.store.Load(r.Context(), noteID, profile)
	}

	out := make([]messageJSON, len(messages))
	for i, m := range messages {
		out[i] = toMessageJSON(m)
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: out, MessageCount: len(out)})
}

func (c *Chat) clear(w http.ResponseWriter, r *http.Request) {
	profile, ok := requireProfile(w, r)
	if !ok {
		return
	}
	noteID := r.PathValue("noteID")

	var err error
	if session, live := c.manager.Lookup(noteID, profile); live {
		err = session.Clear(r.Context())
	} else {
		err = c.store.Remove(r.Context(), noteID, profile)
	}
	if errors.Is(err, chat.ErrBusy) {
		writeError(w, http.StatusConflict, "a response is already pending")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireProfile(w http.ResponseWriter, r *http.Request) (*chatstore.Profile, bool) {
	uid := r.Header.Get(userHeader)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return nil, false
	}
	return &chatstore.Profile{UID: uid}, true
}

func toMessageJSON(m chatstore.Message) messageJSON {
	ts, _ := m.Timestamp.(time.Time)
	return messageJSON{ID: m.ID, Sender: m.Sender, Text: m.Text, Timestamp: ts}
}
