package artifacts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avolkov/personaclone/internal/db"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

// Store persists versioned, content-addressed model artifacts. Checkpoint
// payloads live on disk under <dataDir>/artifacts/<hash>/; the version
// index and per-user head pointer live in SQLite.
type Store struct {
	db  *db.DB
	dir string
}

// NewStore creates a Store rooted at dataDir.
func NewStore(database *db.DB, dataDir string) *Store {
	return &Store{db: database, dir: filepath.Join(dataDir, "artifacts")}
}

// Put stores a completed checkpoint and its style profile as a new
// artifact version for the profile's user. The content hash covers both
// payloads, so identity implies byte-equality.
func (s *Store) Put(ctx context.Context, checkpoint []byte, profile *styleprofile.Profile, baseModelRef, jobID string) (*Artifact, error) {
	profileJSON, err := profile.Marshal()
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	h.Write(checkpoint)
	h.Write(profileJSON)
	hash := hex.EncodeToString(h.Sum(nil))

	// Same content already stored: the artifact is immutable, reuse it.
	if existing, err := s.byHash(ctx, hash); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	if err := s.writePayload(hash, checkpoint, profileJSON); err != nil {
		return nil, err
	}

	a := &Artifact{
		ContentHash:     hash,
		UserID:          profile.UserID,
		BaseModelRef:    baseModelRef,
		StyleProfileRef: filepath.Join(s.dir, hash, "profile.json"),
		JobID:           jobID,
		CreatedAt:       time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning artifact transaction: %w", err)
	}
	defer tx.Rollback()

	var maxVersion int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE user_id = ?`,
		a.UserID).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("reading max version: %w", err)
	}
	a.Version = maxVersion + 1

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (content_hash, user_id, version, base_model_ref, style_profile_ref, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ContentHash, a.UserID, a.Version, a.BaseModelRef, a.StyleProfileRef, a.JobID,
		a.CreatedAt.Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("inserting artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifact_heads (user_id, content_hash) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET content_hash = excluded.content_hash`,
		a.UserID, a.ContentHash); err != nil {
		return nil, fmt.Errorf("updating artifact head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing artifact: %w", err)
	}

	return a, nil
}

// writePayload writes checkpoint and profile under a temporary directory
// and renames it into place, so a crash mid-write never leaves a partial
// entry at the addressed path.
func (s *Store) writePayload(hash string, checkpoint, profileJSON []byte) error {
	final := filepath.Join(s.dir, hash)
	if _, err := os.Stat(final); err == nil {
		return nil // payload already present
	}

	tmp := filepath.Join(s.dir, ".tmp-"+hash)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("creating artifact temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := os.WriteFile(filepath.Join(tmp, "checkpoint.bin"), checkpoint, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "profile.json"), profileJSON, 0o644); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publishing artifact payload: %w", err)
	}
	return nil
}

// Get resolves ref as either a version number or a content hash for the
// given user.
func (s *Store) Get(ctx context.Context, userID, ref string) (*Artifact, error) {
	if v, err := strconv.Atoi(ref); err == nil {
		return s.byVersion(ctx, userID, v)
	}
	a, err := s.byHash(ctx, ref)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotFound
	}
	return a, nil
}

// Latest returns the head artifact for the user: the most recently stored
// version, unless an explicit rollback moved the head.
func (s *Store) Latest(ctx context.Context, userID string) (*Artifact, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM artifact_heads WHERE user_id = ?`, userID).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact head: %w", err)
	}
	return s.byHash(ctx, hash)
}

// List returns all artifact versions for the user, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, user_id, version, base_model_ref, style_profile_ref, job_id, created_at
		FROM artifacts WHERE user_id = ? ORDER BY version DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Rollback re-points the user's head at an earlier version. The
// rolled-back-from artifact is kept; nothing is deleted.
func (s *Store) Rollback(ctx context.Context, userID string, toVersion int) (*Artifact, error) {
	a, err := s.byVersion(ctx, userID, toVersion)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact_heads (user_id, content_hash) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET content_hash = excluded.content_hash`,
		userID, a.ContentHash); err != nil {
		return nil, fmt.Errorf("rolling back artifact head: %w", err)
	}
	return a, nil
}

// LoadCheckpoint reads an artifact's checkpoint bytes, verifying the
// content hash. A mismatch surfaces as CorruptionError and is never
// repaired here.
func (s *Store) LoadCheckpoint(a *Artifact) ([]byte, error) {
	path := filepath.Join(s.dir, a.ContentHash, "checkpoint.bin")
	checkpoint, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	profileJSON, err := os.ReadFile(filepath.Join(s.dir, a.ContentHash, "profile.json"))
	if err != nil {
		return nil, fmt.Errorf("reading profile for %s: %w", a.ContentHash, err)
	}

	h := sha256.New()
	h.Write(checkpoint)
	h.Write(profileJSON)
	if hex.EncodeToString(h.Sum(nil)) != a.ContentHash {
		return nil, &CorruptionError{Hash: a.ContentHash, Path: path}
	}

	return checkpoint, nil
}

// LoadProfile reads an artifact's style profile.
func (s *Store) LoadProfile(a *Artifact) (*styleprofile.Profile, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, a.ContentHash, "profile.json"))
	if err != nil {
		return nil, fmt.Errorf("reading profile for %s: %w", a.ContentHash, err)
	}
	return styleprofile.Unmarshal(data)
}

func (s *Store) byHash(ctx context.Context, hash string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, user_id, version, base_model_ref, style_profile_ref, job_id, created_at
		FROM artifacts WHERE content_hash = ?`, hash)
	return scanArtifact(row)
}

func (s *Store) byVersion(ctx context.Context, userID string, version int) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, user_id, version, base_model_ref, style_profile_ref, job_id, created_at
		FROM artifacts WHERE user_id = ? AND version = ?`, userID, version)
	return scanArtifact(row)
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(sc scanner) (*Artifact, error) {
	var (
		a  Artifact
		ts string
	)
	err := sc.Scan(&a.ContentHash, &a.UserID, &a.Version, &a.BaseModelRef,
		&a.StyleProfileRef, &a.JobID, &ts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning artifact: %w", err)
	}
	if t, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		a.CreatedAt = t
	}
	return &a, nil
}
