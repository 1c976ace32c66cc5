// Package conversation keeps per-session turn histories for the answer
// pipeline. Histories are append-only; the store only bounds their lifetime.
package conversation

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store is a session-keyed, append-only turn log. Appends and reads on the
// same session are serialized; different sessions do not contend.
type Store interface {
	// Append adds turn to the tail of the session, creating it if unseen.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns the last limit turns, oldest first. A limit of zero or
	// less returns the whole history. Unknown sessions yield an empty slice.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	Close() error
}

// MaxSessionIDLen is the longest session id accepted from callers.
const MaxSessionIDLen = 128

// EnsureSession returns id unchanged when it is a usable session id and a
// fresh UUID otherwise. Empty, blank, oversized, or control-character ids
// are replaced.
func EnsureSession(id string) string {
	if ValidSessionID(id) {
		return id
	}
	return uuid.NewString()
}

// ValidSessionID reports whether id can be used as-is.
func ValidSessionID(id string) bool {
	if strings.TrimSpace(id) == "" || len(id) > MaxSessionIDLen {
		return false
	}
	return strings.IndexFunc(id, unicode.IsControl) < 0
}

// tail returns the last limit elements of turns as a new slice.
func tail(turns []Turn, limit int) []Turn {
	start := 0
	if limit > 0 && len(turns) > limit {
		start = len(turns) - limit
	}
	out := make([]Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}
