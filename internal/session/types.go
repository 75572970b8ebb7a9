package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session, user or generated.
type Turn struct {
	Index           int       `json:"index"`
	Role            Role      `json:"role"`
	Text            string    `json:"text"`
	StyleSimilarity float64   `json:"style_similarity,omitempty"`
	DriftWarning    bool      `json:"drift_warning,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Session is a live conversation bound to one persona artifact.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ArtifactHash string    `json:"artifact_hash"`
	OpenedAt     time.Time `json:"opened_at"`

	mu         sync.Mutex
	turns      []Turn
	seq        int // next turn index; survives history truncation
	lastActive time.Time
	closed     bool
}

// Turns returns a copy of the session's turn history. The history is
// bounded to the serving context window; the session Store archives
// every turn.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when replying to a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNoArtifact is returned when the user has no trained persona.
	ErrNoArtifact = errors.New("no persona artifact; run train first")
)

// TimeoutError reports a generation that exceeded its deadline even
// after the shortened retry.
type TimeoutError struct {
	SessionID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session %s: generation exceeded %s twice", e.SessionID, e.Timeout)
}
