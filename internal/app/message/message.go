/*
Package message persists chat messages and reads back a room's recent history.

Messages are append-only: the store assigns the id and the creation timestamp on insert
and nothing in the gateway ever updates or deletes a row. Two backends are provided,
PostgreSQL for multi-instance deployments and SQLite for a single node.
*/
package message

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrPersistence wraps every failure of the backing store.
	ErrPersistence = errors.New("message persistence failed")

	// ErrEmptyContent is returned when the trimmed content is empty.
	ErrEmptyContent = errors.New("message content is empty")
)

// Message is one persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Room      string    `json:"room"`
	CreatedAt time.Time `json:"createdAt"`
}

func normalize(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

// reverse flips newest-first query results into the oldest-first order callers expect.
func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
