package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/personaclone/internal/db"
)

// Store archives sessions and their turns in SQLite. Live sessions are
// held in memory by the Manager; the archive is what survives restarts
// and feeds the web history view.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// CreateSession records a newly opened session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, artifact_hash, opened_at)
		VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.ArtifactHash, sess.OpenedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// CloseSession stamps the session's close time.
func (s *Store) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET closed_at = ? WHERE id = ?`,
		closedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// AppendTurn archives one turn.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, t Turn) error {
	var similarity any
	if t.Role == RoleAssistant {
		similarity = t.StyleSimilarity
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_turns (session_id, turn_index, role, text, style_similarity, drift_warning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, t.Index, string(t.Role), t.Text, similarity, t.DriftWarning,
		t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("archiving turn: %w", err)
	}
	return nil
}

// Turns returns a session's archived turns in order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_index, role, text, style_similarity, drift_warning, created_at
		FROM session_turns WHERE session_id = ? ORDER BY turn_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t          Turn
			role       string
			similarity sql.NullFloat64
			createdAt  string
		)
		if err := rows.Scan(&t.Index, &role, &t.Text, &similarity, &t.DriftWarning, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = Role(role)
		if similarity.Valid {
			t.StyleSimilarity = similarity.Float64
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SessionInfo is an archived session summary.
type SessionInfo struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ArtifactHash string     `json:"artifact_hash"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	TurnCount    int        `json:"turn_count"`
}

// ListByUser returns the user's archived sessions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.artifact_hash, s.opened_at, s.closed_at,
		       (SELECT COUNT(*) FROM session_turns t WHERE t.session_id = s.id)
		FROM sessions s WHERE s.user_id = ? ORDER BY s.opened_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info     SessionInfo
			openedAt string
			closedAt sql.NullString
		)
		if err := rows.Scan(&info.ID, &info.UserID, &info.ArtifactHash, &openedAt, &closedAt, &info.TurnCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		info.OpenedAt, _ = time.Parse(time.RFC3339, openedAt)
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err == nil {
				info.ClosedAt = &t
			}
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Get returns one archived session summary.
func (s *Store) Get(ctx context.Context, id string) (*SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.artifact_hash, s.opened_at, s.closed_at,
		       (SELECT COUNT(*) FROM session_turns t WHERE t.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id)

	var (
		info     SessionInfo
		openedAt string
		closedAt sql.NullString
	)
	err := row.Scan(&info.ID, &info.UserID, &info.ArtifactHash, &openedAt, &closedAt, &info.TurnCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	info.OpenedAt, _ = time.Parse(time.RFC3339, openedAt)
	if closedAt.Valid {
		if t, err := time.Parse(time.RFC3339, closedAt.String); err == nil {
			info.ClosedAt = &t
		}
	}
	return &info, nil
}
