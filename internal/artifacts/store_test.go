package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/avolkov/personaclone/internal/db"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database, t.TempDir())
}

func testProfile(userID string) *styleprofile.Profile {
	return &styleprofile.Profile{
		UserID:      userID,
		SampleCount: 100,
		Vector: []styleprofile.Feature{
			{Name: styleprofile.FeatureMeanLength, Score: 0.2},
		},
	}
}

func TestPutAssignsIncreasingVersions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a1, err := store.Put(ctx, []byte("checkpoint-one"), testProfile("alice"), "base-v1", "job-1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	a2, err := store.Put(ctx, []byte("checkpoint-two"), testProfile("alice"), "base-v1", "job-2")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if a1.Version != 1 || a2.Version != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", a1.Version, a2.Version)
	}
	if a1.ContentHash == a2.ContentHash {
		t.Error("different checkpoints must have different content hashes")
	}
}

func TestPutSameContentIsStableAndReused(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a1, err := store.Put(ctx, []byte("same-bytes"), testProfile("alice"), "base", "job-1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	a2, err := store.Put(ctx, []byte("same-bytes"), testProfile("alice"), "base", "job-2")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if a1.ContentHash != a2.ContentHash {
		t.Error("identical content must hash identically")
	}
	if a2.Version != a1.Version {
		t.Errorf("identical content created a new version %d", a2.Version)
	}
}

func TestLatestAndRollback(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, []byte("v1"), testProfile("alice"), "base", "job-1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	a2, err := store.Put(ctx, []byte("v2"), testProfile("alice"), "base", "job-2")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	latest, err := store.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ContentHash != a2.ContentHash {
		t.Errorf("Latest = v%d, want newest v%d", latest.Version, a2.Version)
	}

	rolled, err := store.Rollback(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if rolled.Version != 1 {
		t.Errorf("Rollback returned v%d, want 1", rolled.Version)
	}

	latest, err = store.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("Latest after rollback: %v", err)
	}
	if latest.Version != 1 {
		t.Errorf("Latest after rollback = v%d, want 1", latest.Version)
	}

	// The rolled-back-from version still exists.
	if _, err := store.Get(ctx, "alice", "2"); err != nil {
		t.Errorf("version 2 should survive rollback: %v", err)
	}

	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List returned %d artifacts, want 2", len(list))
	}
}

func TestGetByHashAndVersion(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a, err := store.Put(ctx, []byte("payload"), testProfile("alice"), "base", "job-1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	byVersion, err := store.Get(ctx, "alice", "1")
	if err != nil {
		t.Fatalf("Get by version: %v", err)
	}
	byHash, err := store.Get(ctx, "alice", a.ContentHash)
	if err != nil {
		t.Fatalf("Get by hash: %v", err)
	}
	if byVersion.ContentHash != byHash.ContentHash {
		t.Error("version and hash lookups disagree")
	}

	if _, err := store.Get(ctx, "bob", a.ContentHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user hash lookup = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "alice", "99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing version lookup = %v, want ErrNotFound", err)
	}
}

func TestLoadCheckpointVerifiesHash(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	dir := t.TempDir()
	store := NewStore(database, dir)
	ctx := context.Background()

	a, err := store.Put(ctx, []byte("good-checkpoint"), testProfile("alice"), "base", "job-1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Intact read round-trips.
	got, err := store.LoadCheckpoint(a)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if string(got) != "good-checkpoint" {
		t.Errorf("checkpoint = %q", got)
	}

	// Tamper with the stored payload.
	path := filepath.Join(dir, "artifacts", a.ContentHash, "checkpoint.bin")
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	_, err = store.LoadCheckpoint(a)
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("err = %v, want *CorruptionError", err)
	}
}

func TestVersionsPerUserIndependent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a, err := store.Put(ctx, []byte("alice-ckpt"), testProfile("alice"), "base", "j1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := store.Put(ctx, []byte("bob-ckpt"), testProfile("bob"), "base", "j2")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if a.Version != 1 || b.Version != 1 {
		t.Errorf("per-user versions = %d, %d, want 1, 1", a.Version, b.Version)
	}
}
