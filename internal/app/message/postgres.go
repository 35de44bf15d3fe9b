package message

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaychat/internal/app/db"
)

const (
	insertMessageSQL = `
INSERT INTO messages (user_id, content, room)
VALUES ($1, $2, $3)
RETURNING id, created_at`

	recentMessagesSQL = `
SELECT id, user_id, content, room, created_at
FROM messages
WHERE room = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
)

// PostgresStore keeps messages in the messages table created by the db migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts a message and returns it with the id and timestamp assigned by the database.
func (s *PostgresStore) Append(ctx context.Context, room, userID, content string) (Message, error) {
	content, err := normalize(content)
	if err != nil {
		return Message{}, err
	}

	msg := Message{UserID: userID, Content: content, Room: room}
	if err := s.pool.QueryRow(ctx, insertMessageSQL, userID, content, room).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		if db.IsCheckViolation(err) {
			return Message{}, ErrEmptyContent
		}
		return Message{}, fmt.Errorf("%w: insert: %v", ErrPersistence, err)
	}
	return msg, nil
}

// Recent returns at most limit messages of room, oldest first.
func (s *PostgresStore) Recent(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}

	rows, err := s.pool.Query(ctx, recentMessagesSQL, room, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent: %v", ErrPersistence, err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.UserID, &m.Content, &m.Room, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan recent: %v", ErrPersistence, err)
	}

	reverse(msgs)
	return msgs, nil
}
