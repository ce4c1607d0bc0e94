package chatstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQuerier implements Querier against a pgx connection pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier wraps a pool.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

const upsertChatSQL = `
INSERT INTO chats (id, note_id, user_id, chat_history, message_count, last_updated, created_at, version)
VALUES ($1, $2, $3, $4, $5, now(), now(), 1)
ON CONFLICT (id) DO UPDATE SET
    chat_history  = EXCLUDED.chat_history,
    message_count = EXCLUDED.message_count,
    last_updated  = now(),
    version       = chats.version + 1
`

// UpsertChat writes the full session. Inserts set created_at and start
// version at 1; updates leave created_at untouched and bump version.
func (q *PGQuerier) UpsertChat(ctx context.Context, arg UpsertChatParams) error {
	_, err := q.pool.Exec(ctx, upsertChatSQL,
		arg.ID, arg.NoteID, arg.UserID, arg.History, arg.MessageCount)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

const getChatSQL = `
SELECT note_id, user_id, chat_history, message_count, last_updated, created_at, version
FROM chats
WHERE id = $1
`

// GetChat fetches one session row, translating pgx.ErrNoRows to
// ErrChatNotFound.
func (q *PGQuerier) GetChat(ctx context.Context, id string) (ChatRecord, error) {
	var rec ChatRecord
	err := q.pool.QueryRow(ctx, getChatSQL, id).Scan(
		&rec.NoteID, &rec.UserID, &rec.History,
		&rec.MessageCount, &rec.LastUpdated, &rec.CreatedAt, &rec.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChatRecord{}, ErrChatNotFound
		}
		return ChatRecord{}, fmt.Errorf("get chat: %w", err)
	}
	return rec, nil
}

const deleteChatSQL = `DELETE FROM chats WHERE id = $1`

// DeleteChat removes the session row. Deleting a missing row is not an
// error.
func (q *PGQuerier) DeleteChat(ctx context.Context, id string) error {
	if _, err := q.pool.Exec(ctx, deleteChatSQL, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}
