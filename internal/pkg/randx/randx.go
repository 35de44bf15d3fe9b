/*
Package randx generates the identifiers the gateway hands out.
*/
package randx

import (
	"strings"

	"github.com/google/uuid"
)

// ConnectionID returns a fresh identifier for a WebSocket connection.
func ConnectionID() string {
	return uuid.New().String()
}

// NodeID returns an identifier for this server process, prefixed with a readable host hint.
func NodeID(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		hint = "node"
	}
	return hint + "-" + uuid.New().String()[:8]
}
