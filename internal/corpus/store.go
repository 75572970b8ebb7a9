package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the corpus to <dataDir>/corpus/<user_id>.json. Encoding is
// deterministic so that identical builds produce byte-identical files.
func (c *Corpus) Save(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, "corpus")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating corpus directory: %w", err)
	}

	data, err := c.Marshal()
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, c.UserID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing corpus to %s: %w", path, err)
	}
	return path, nil
}

// Load reads a corpus previously written by Save.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}

	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding corpus %s: %w", path, err)
	}
	return &c, nil
}

// Marshal returns the corpus's canonical JSON encoding.
func (c *Corpus) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding corpus: %w", err)
	}
	return data, nil
}

// Hash returns the hex SHA-256 of the corpus's canonical encoding. Used as
// the corpus_ref content check by the training orchestrator.
func (c *Corpus) Hash() (string, error) {
	data, err := c.Marshal()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
