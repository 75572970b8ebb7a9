// Package exemplars retrieves a user's own past utterances that resemble
// an incoming message. Provider-backed generation feeds the retrieved
// examples into the persona prompt so replies echo how the user actually
// writes.
package exemplars

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/avolkov/personaclone/internal/corpus"
)

const collectionName = "exemplars"

// Exemplar is a retrieved corpus utterance with its match score.
type Exemplar struct {
	Text        string
	Context     corpus.DialogContext
	MessageType corpus.MessageType
	ThreadID    string
	Similarity  float32
}

// Index is a vector index over a single user's cleaned utterances.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
	userID     string
}

// NewIndex creates an empty in-memory index for the user.
func NewIndex(userID string, embedder Embedder) (*Index, error) {
	if embedder == nil {
		embedder = NewLocalEmbedder(256)
	}
	db := chromem.NewDB()
	ef := toChromemFunc(embedder)

	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Index{
		db:         db,
		collection: col,
		embedFunc:  ef,
		userID:     userID,
	}, nil
}

// BuildFromCorpus indexes every cleaned utterance in the corpus.
func (ix *Index) BuildFromCorpus(ctx context.Context, c *corpus.Corpus) error {
	if c.UserID != ix.userID {
		return fmt.Errorf("corpus belongs to %q, index to %q", c.UserID, ix.userID)
	}
	if len(c.Utterances) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(c.Utterances))
	for i, u := range c.Utterances {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("%s-%d", u.ThreadID, i),
			Content: u.Text,
			Metadata: map[string]string{
				"thread_id":    u.ThreadID,
				"context":      string(u.Context),
				"message_type": string(u.MessageType),
				"turn_index":   strconv.Itoa(u.TurnIndex),
			},
		})
	}

	return ix.collection.AddDocuments(ctx, docs, 1)
}

// Nearest returns up to k utterances most similar to the given text,
// best match first.
func (ix *Index) Nearest(ctx context.Context, text string, k int) ([]Exemplar, error) {
	if k <= 0 {
		k = 5
	}

	// chromem-go requires nResults <= collection size.
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := ix.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("exemplar query: %w", err)
	}

	out := make([]Exemplar, len(results))
	for i, r := range results {
		out[i] = Exemplar{
			Text:        r.Content,
			Context:     corpus.DialogContext(r.Metadata["context"]),
			MessageType: corpus.MessageType(r.Metadata["message_type"]),
			ThreadID:    r.Metadata["thread_id"],
			Similarity:  r.Similarity,
		}
	}
	return out, nil
}

// NearestInContext restricts retrieval to utterances from one dialog
// context, falling back to an unfiltered query when nothing matches.
func (ix *Index) NearestInContext(ctx context.Context, text string, k int, dc corpus.DialogContext) ([]Exemplar, error) {
	if k <= 0 {
		k = 5
	}
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	where := map[string]string{"context": string(dc)}
	results, err := ix.collection.Query(ctx, text, k, where, nil)
	if err != nil || len(results) == 0 {
		return ix.Nearest(ctx, text, k)
	}

	out := make([]Exemplar, len(results))
	for i, r := range results {
		out[i] = Exemplar{
			Text:        r.Content,
			Context:     corpus.DialogContext(r.Metadata["context"]),
			MessageType: corpus.MessageType(r.Metadata["message_type"]),
			ThreadID:    r.Metadata["thread_id"],
			Similarity:  r.Similarity,
		}
	}
	return out, nil
}

// Count returns the number of indexed utterances.
func (ix *Index) Count() int {
	return ix.collection.Count()
}

func indexPath(dataDir, userID string) string {
	return filepath.Join(dataDir, "exemplars", userID+".gob.gz")
}

// Persist writes the index under dataDir for later reloading.
func (ix *Index) Persist(dataDir string) error {
	path := indexPath(dataDir, ix.userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating exemplar dir: %w", err)
	}
	return ix.db.ExportToFile(path, true, "")
}

// Load restores a persisted index for the user. Returns os.ErrNotExist
// wrapped if the user has no persisted index.
func Load(dataDir, userID string, embedder Embedder) (*Index, error) {
	ix, err := NewIndex(userID, embedder)
	if err != nil {
		return nil, err
	}

	path := indexPath(dataDir, userID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no exemplar index for %q: %w", userID, err)
	}
	if err := ix.db.ImportFromFile(path, ""); err != nil {
		return nil, fmt.Errorf("import exemplar index: %w", err)
	}

	// Re-acquire collection reference after import.
	col := ix.db.GetCollection(collectionName, ix.embedFunc)
	if col == nil {
		return nil, fmt.Errorf("collection %q not found after import", collectionName)
	}
	ix.collection = col
	return ix, nil
}
