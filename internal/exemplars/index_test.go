package exemplars

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/avolkov/personaclone/internal/corpus"
)

func testCorpus(userID string) *corpus.Corpus {
	c := &corpus.Corpus{UserID: userID}
	utterances := []struct {
		text string
		dc   corpus.DialogContext
	}{
		{"let's grab dinner tonight at the usual place", corpus.ContextFriendly},
		{"dinner sounds great, see you at eight", corpus.ContextFriendly},
		{"the quarterly report needs another revision before friday", corpus.ContextProfessional},
		{"I'll send the updated deck after the standup", corpus.ContextProfessional},
		{"miss you already, call me when you land", corpus.ContextRomantic},
	}
	for i, u := range utterances {
		c.Utterances = append(c.Utterances, corpus.CleanedUtterance{
			Text:      u.text,
			TurnIndex: i,
			ThreadID:  "t1",
			Context:   u.dc,
		})
	}
	return c
}

func TestNearestFindsSimilarUtterance(t *testing.T) {
	ctx := context.Background()
	ix, err := NewIndex("alice", nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := ix.BuildFromCorpus(ctx, testCorpus("alice")); err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}
	if ix.Count() != 5 {
		t.Fatalf("Count = %d, want 5", ix.Count())
	}

	got, err := ix.Nearest(ctx, "want to get dinner tomorrow?", 2)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d exemplars, want 2", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Error("results not sorted by similarity")
		}
	}
	// The dinner utterances share far more trigrams with the query than
	// the report ones do.
	if got[0].Context != corpus.ContextFriendly {
		t.Errorf("best match context = %s, want friendly (%q)", got[0].Context, got[0].Text)
	}
}

func TestNearestCapsAtCollectionSize(t *testing.T) {
	ctx := context.Background()
	ix, err := NewIndex("alice", nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := ix.BuildFromCorpus(ctx, testCorpus("alice")); err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}

	got, err := ix.Nearest(ctx, "dinner", 50)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("got %d exemplars, want all 5", len(got))
	}
}

func TestNearestEmptyIndex(t *testing.T) {
	ix, err := NewIndex("alice", nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	got, err := ix.Nearest(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil results from empty index, got %v", got)
	}
}

func TestNearestInContextFilters(t *testing.T) {
	ctx := context.Background()
	ix, err := NewIndex("alice", nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := ix.BuildFromCorpus(ctx, testCorpus("alice")); err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}

	got, err := ix.NearestInContext(ctx, "status of the report?", 2, corpus.ContextProfessional)
	if err != nil {
		t.Fatalf("NearestInContext: %v", err)
	}
	for _, e := range got {
		if e.Context != corpus.ContextProfessional {
			t.Errorf("exemplar %q has context %s, want professional", e.Text, e.Context)
		}
	}
}

func TestBuildRejectsForeignCorpus(t *testing.T) {
	ix, err := NewIndex("alice", nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := ix.BuildFromCorpus(context.Background(), testCorpus("bob")); err == nil {
		t.Error("expected error indexing another user's corpus")
	}
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ix, err := NewIndex("alice", nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := ix.BuildFromCorpus(ctx, testCorpus("alice")); err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}
	if err := ix.Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, err := Load(dir, "alice", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Count() != 5 {
		t.Errorf("loaded Count = %d, want 5", loaded.Count())
	}

	got, err := loaded.Nearest(ctx, "dinner tonight?", 1)
	if err != nil {
		t.Fatalf("Nearest after load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d exemplars, want 1", len(got))
	}
}

func TestLoadMissingIndex(t *testing.T) {
	_, err := Load(t.TempDir(), "nobody", nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want wrapped fs.ErrNotExist", err)
	}
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"hello there"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, []string{"hello there"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("dims = %d, want 64", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("embedding is not deterministic")
		}
	}

	// Unit norm.
	var norm float64
	for _, v := range a[0] {
		norm += float64(v * v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("norm^2 = %f, want ~1", norm)
	}
}
