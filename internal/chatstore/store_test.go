package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/campusnotes/notechat/internal/log"
)

// fakeQuerier counts operations and replays canned results.
type fakeQuerier struct {
	upserts []UpsertChatParams
	deletes []string

	getRecord ChatRecord
	getErr    error
	upsertErr error
	deleteErr error
}

func (f *fakeQuerier) UpsertChat(_ context.Context, arg UpsertChatParams) error {
	f.upserts = append(f.upserts, arg)
	return f.upsertErr
}

func (f *fakeQuerier) GetChat(_ context.Context, _ string) (ChatRecord, error) {
	return f.getRecord, f.getErr
}

func (f *fakeQuerier) DeleteChat(_ context.Context, id string) error {
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func authedAs(uid string) CurrentUserFunc {
	return func() (string, bool) { return uid, true }
}

func noAuth() CurrentUserFunc {
	return func() (string, bool) { return "", false }
}

func someMessages() []Message {
	return []Message{
		{ID: "1", Sender: "user", Text: "Summarize the document", Timestamp: time.Now()},
		{ID: "2", Sender: "ai", Text: "Here is a summary.", Timestamp: time.Now()},
	}
}

func TestSave_ValidationFailuresWriteNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		noteID   string
		messages []Message
		profile  *Profile
		auth     CurrentUserFunc
		reason   string
	}{
		{"missing note id", "", someMessages(), &Profile{UID: "u1"}, noAuth(), ReasonMissingNoteID},
		{"no user anywhere", "n1", someMessages(), nil, noAuth(), ReasonNoAuthentication},
		{"empty profile uid and no fallback", "n1", someMessages(), &Profile{}, noAuth(), ReasonNoAuthentication},
		{"empty history", "n1", nil, &Profile{UID: "u1"}, noAuth(), ReasonEmptyHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := &fakeQuerier{}
			s := New(q, tt.auth, log.NewNop())

			res := s.Save(context.Background(), tt.noteID, tt.messages, tt.profile)
			if res.OK {
				t.Fatal("save should be rejected")
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
			if len(q.upserts) != 0 {
				t.Errorf("rejected save must not write, got %d upserts", len(q.upserts))
			}
		})
	}
}

func TestSave_WritesFullSession(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{}
	s := New(q, noAuth(), log.NewNop())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	res := s.Save(context.Background(), "noteA", someMessages(), &Profile{UID: "user1"})
	if !res.OK {
		t.Fatalf("save rejected: %s", res.Reason)
	}
	if res.DocID != "noteA_user1" {
		t.Errorf("doc id = %q, want noteA_user1", res.DocID)
	}

	if len(q.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(q.upserts))
	}
	up := q.upserts[0]
	if up.ID != "noteA_user1" || up.NoteID != "noteA" || up.UserID != "user1" {
		t.Errorf("identity mismatch: %+v", up)
	}
	if up.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", up.MessageCount)
	}

	var stored []storedMessage
	if err := json.Unmarshal(up.History, &stored); err != nil {
		t.Fatalf("history is not valid JSON: %v", err)
	}
	wantPrefix := strconv.FormatInt(fixed.UnixMilli(), 10) + "_"
	for i, sm := range stored {
		if want := wantPrefix + strconv.Itoa(i); sm.MessageID != want {
			t.Errorf("message %d id = %q, want %q", i, sm.MessageID, want)
		}
		if sm.Timestamp == "" {
			t.Errorf("message %d lost its timestamp", i)
		}
	}
}

func TestSave_ProfileTakesPrecedenceOverFallback(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{}
	s := New(q, authedAs("ambient"), log.NewNop())

	res := s.Save(context.Background(), "n1", someMessages(), &Profile{UID: "explicit"})
	if !res.OK || res.DocID != "n1_explicit" {
		t.Errorf("result = %+v, want doc id n1_explicit", res)
	}

	res = s.Save(context.Background(), "n1", someMessages(), nil)
	if !res.OK || res.DocID != "n1_ambient" {
		t.Errorf("result = %+v, want fallback doc id n1_ambient", res)
	}
}

func TestSave_StorageFailureReportedAsReason(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{upsertErr: errors.New("connection refused")}
	s := New(q, authedAs("u1"), log.NewNop())

	res := s.Save(context.Background(), "n1", someMessages(), nil)
	if res.OK {
		t.Fatal("save should report failure")
	}
	if !strings.Contains(res.Reason, "connection refused") {
		t.Errorf("reason = %q, want underlying cause", res.Reason)
	}
}

func TestLoad_RestoresMessagesWithNativeTimestamps(t *testing.T) {
	t.Parallel()

	history, _ := json.Marshal([]storedMessage{
		{Sender: "user", Text: "hi", Timestamp: "2024-06-15T09:30:00Z", ID: "1", MessageID: "1718443800000_0"},
		{Sender: "ai", Text: "hello", Timestamp: "2024-06-15T09:30:05Z", ID: "2", MessageID: "1718443800000_1"},
	})
	q := &fakeQuerier{getRecord: ChatRecord{History: history, MessageCount: 2}}
	s := New(q, authedAs("u1"), log.NewNop())

	msgs := s.Load(context.Background(), "n1", nil)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Sender != "user" || msgs[1].Sender != "ai" {
		t.Errorf("sender order wrong: %+v", msgs)
	}
	ts, ok := msgs[0].Timestamp.(time.Time)
	if !ok {
		t.Fatalf("timestamp type = %T, want time.Time", msgs[0].Timestamp)
	}
	if !ts.Equal(time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", ts)
	}
}

func TestLoad_NeverErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		noteID  string
		auth    CurrentUserFunc
		querier *fakeQuerier
	}{
		{"missing note id", "", authedAs("u1"), &fakeQuerier{}},
		{"no user", "n1", noAuth(), &fakeQuerier{}},
		{"not found", "n1", authedAs("u1"), &fakeQuerier{getErr: ErrChatNotFound}},
		{"storage failure", "n1", authedAs("u1"), &fakeQuerier{getErr: errors.New("boom")}},
		{"corrupt history", "n1", authedAs("u1"), &fakeQuerier{getRecord: ChatRecord{History: []byte("{not json")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(tt.querier, tt.auth, log.NewNop())
			if msgs := s.Load(context.Background(), tt.noteID, nil); len(msgs) != 0 {
				t.Errorf("messages = %v, want empty", msgs)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	t.Run("deletes by composite id", func(t *testing.T) {
		t.Parallel()

		q := &fakeQuerier{}
		s := New(q, authedAs("u1"), log.NewNop())

		if err := s.Remove(context.Background(), "n1", nil); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if len(q.deletes) != 1 || q.deletes[0] != "n1_u1" {
			t.Errorf("deletes = %v, want [n1_u1]", q.deletes)
		}
	})

	t.Run("propagates storage failure", func(t *testing.T) {
		t.Parallel()

		q := &fakeQuerier{deleteErr: errors.New("boom")}
		s := New(q, authedAs("u1"), log.NewNop())

		if err := s.Remove(context.Background(), "n1", nil); err == nil {
			t.Error("Remove should surface the failure")
		}
	})

	t.Run("rejects missing identity", func(t *testing.T) {
		t.Parallel()

		s := New(&fakeQuerier{}, noAuth(), log.NewNop())
		if err := s.Remove(context.Background(), "", &Profile{UID: "u1"}); err == nil {
			t.Error("missing note id should be rejected")
		}
		if err := s.Remove(context.Background(), "n1", nil); err == nil {
			t.Error("missing user should be rejected")
		}
	})
}
