package export

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// exportExtensions are the file extensions considered export files when
// scanning a directory.
var exportExtensions = map[string]bool{
	".json":   true,
	".jsonl":  true,
	".ndjson": true,
}

// Discover resolves an export path to a sorted list of export files. A
// regular file is returned as-is; a directory is walked and filtered by
// the include/exclude glob patterns.
func Discover(path string, include, exclude []string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat export path: %w", err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !exportExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		if !matchesInclude(rel, include) || matchesExclude(rel, exclude) {
			return nil
		}

		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning export directory: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no export files found under %s", path)
	}

	sort.Strings(files)
	return files, nil
}

// matchesInclude returns true if the relative path matches any include
// pattern. An empty pattern list includes everything.
func matchesInclude(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	return matchesAny(relPath, patterns)
}

// matchesExclude returns true if the relative path matches any exclude
// pattern. An empty pattern list excludes nothing.
func matchesExclude(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	return matchesAny(relPath, patterns)
}

// matchesAny checks relPath against glob patterns, using doublestar for
// ** support with a fallback to bare filename matching.
func matchesAny(relPath string, patterns []string) bool {
	normalized := filepath.ToSlash(relPath)

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)

		if matched, err := doublestar.PathMatch(pattern, normalized); err == nil && matched {
			return true
		}

		if matched, err := filepath.Match(pattern, filepath.Base(relPath)); err == nil && matched {
			return true
		}
	}
	return false
}
