package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campusnotes/notechat/internal/chat"
	"github.com/campusnotes/notechat/internal/chatstore"
	"github.com/campusnotes/notechat/internal/drive"
	"github.com/campusnotes/notechat/internal/gemini"
	"github.com/campusnotes/notechat/internal/log"
)

type stubStore struct {
	mu         sync.Mutex
	loadResult []chatstore.Message
	saves      int
	removed    []string
}

func (s *stubStore) Save(_ context.Context, noteID string, _ []chatstore.Message, profile *chatstore.Profile) chatstore.SaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return chatstore.SaveResult{OK: true, DocID: chatstore.DocID(noteID, profile.UID)}
}

func (s *stubStore) Load(_ context.Context, _ string, _ *chatstore.Profile) []chatstore.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadResult
}

func (s *stubStore) Remove(_ context.Context, noteID string, profile *chatstore.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, chatstore.DocID(noteID, profile.UID))
	return nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, fileID, fileName, mimeType string) (*drive.Document, error) {
	return &drive.Document{FileID: fileID, FileName: fileName, MimeType: mimeType, Data: []byte("blob")}, nil
}

type stubGenerator struct{ reply string }

func (g stubGenerator) Generate(context.Context, *drive.Document, string, []gemini.Turn) (string, error) {
	return g.reply, nil
}

type stubVault struct {
	mu      sync.Mutex
	token   string
	ttl     time.Duration
	cleared int
}

func (v *stubVault) Store(token string, ttl time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.token, v.ttl = token, ttl
	return nil
}

func (v *stubVault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cleared++
	return nil
}

func newTestServer(t *testing.T, store *stubStore, vault *stubVault) *Server {
	t.Helper()

	manager, err := chat.NewManager(chat.ManagerConfig{
		Fetcher:   stubFetcher{},
		Generator: stubGenerator{reply: "Summary: ..."},
		Store:     store,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(manager.CloseAll)

	srv, err := NewServer(ServerConfig{
		Manager: manager,
		Store:   store,
		Vault:   vault,
		Logger:  log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, uid, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if uid != "" {
		r.Header.Set(userHeader, uid)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

const askBody = `{"question":"Summarize the document","file":{"fileId":"f1","fileName":"notes.pdf","mimeType":"application/pdf"}}`

func TestAskEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{})

	w := doRequest(t, srv, http.MethodPost, "/api/chat/noteA/ask", "user1", askBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply.Sender != "ai" || resp.Reply.Text != "Summary: ..." {
		t.Errorf("reply = %+v", resp.Reply)
	}
	if resp.MessageCount != 2 {
		t.Errorf("messageCount = %d, want 2", resp.MessageCount)
	}
}

func TestAskEndpoint_Validation(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{})

	tests := []struct {
		name   string
		uid    string
		body   string
		status int
	}{
		{"missing identity", "", askBody, http.StatusUnauthorized},
		{"malformed body", "user1", "{not json", http.StatusBadRequest},
		{"missing file id", "user1", `{"question":"q","file":{}}`, http.StatusBadRequest},
		{"empty question", "user1", `{"question":"  ","file":{"fileId":"f1"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodPost, "/api/chat/noteA/ask", tt.uid, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestAskEndpoint_QuickQuestionScrubbed(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{})

	body := `{"question":"📝 Summarize this document","quick":true,"file":{"fileId":"f1"}}`
	w := doRequest(t, srv, http.MethodPost, "/api/chat/noteA/ask", "user1", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// The scrubbed question is what lands in history.
	h := doRequest(t, srv, http.MethodGet, "/api/chat/noteA/history", "user1", "")
	var resp historyResponse
	if err := json.Unmarshal(h.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Text != "Summarize this document" {
		t.Errorf("history = %+v, want scrubbed question first", resp.Messages)
	}
}

func TestHistoryEndpoint_FallsBackToStore(t *testing.T) {
	store := &stubStore{loadResult: []chatstore.Message{
		{ID: "1", Sender: "user", Text: "old question", Timestamp: time.Now()},
	}}
	srv := newTestServer(t, store, &stubVault{})

	w := doRequest(t, srv, http.MethodGet, "/api/chat/noteA/history", "user1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MessageCount != 1 || resp.Messages[0].Text != "old question" {
		t.Errorf("response = %+v", resp)
	}
}

func TestClearEndpoint(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store, &stubVault{})

	w := doRequest(t, srv, http.MethodDelete, "/api/chat/noteA", "user1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.removed) != 1 || store.removed[0] != "noteA_user1" {
		t.Errorf("removed = %v, want [noteA_user1]", store.removed)
	}
}

func TestTokenEndpoints(t *testing.T) {
	vault := &stubVault{}
	srv := newTestServer(t, &stubStore{}, vault)

	w := doRequest(t, srv, http.MethodPost, "/api/token", "", `{"accessToken":"tok-1","expiresIn":3600}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	vault.mu.Lock()
	if vault.token != "tok-1" || vault.ttl != time.Hour {
		t.Errorf("stored token = %q ttl = %v", vault.token, vault.ttl)
	}
	vault.mu.Unlock()

	w = doRequest(t, srv, http.MethodPost, "/api/token", "", `{"accessToken":"","expiresIn":0}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid token request status = %d, want 400", w.Code)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/token", "", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", w.Code)
	}
	vault.mu.Lock()
	if vault.cleared != 1 {
		t.Errorf("cleared = %d, want 1", vault.cleared)
	}
	vault.mu.Unlock()
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{})

	w := doRequest(t, srv, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
}
