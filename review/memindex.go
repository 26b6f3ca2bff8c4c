package review

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// snippetLimit bounds how many context snippets a retrieval returns.
const snippetLimit = 5

// snippetSize truncates long files to their head for prompt context.
const snippetSize = 2000

// MemIndex is an in-process Index using keyword-overlap retrieval. It
// stands in for an external vector store in single-binary deployments;
// ranking is term frequency over a lowercase word split, which is crude
// but gives the review prompt relevant files for typical PR titles.
type MemIndex struct {
	mu        sync.RWMutex
	codebases map[string][]File
}

// NewMemIndex creates an empty index.
func NewMemIndex() *MemIndex {
	return &MemIndex{codebases: make(map[string][]File)}
}

// IndexCodebase implements Index. Re-indexing a key replaces its previous
// contents.
func (x *MemIndex) IndexCodebase(_ context.Context, key string, files []File) error {
	copied := make([]File, len(files))
	copy(copied, files)

	x.mu.Lock()
	x.codebases[key] = copied
	x.mu.Unlock()
	return nil
}

// RetrieveContext implements Index. It scores each indexed file by how
// many query terms appear in its path or content and returns snippets of
// the best matches.
func (x *MemIndex) RetrieveContext(_ context.Context, query, key string) ([]string, error) {
	terms := tokenize(query)

	x.mu.RLock()
	files := x.codebases[key]
	x.mu.RUnlock()

	type scored struct {
		file  File
		score int
	}
	var matches []scored
	for _, f := range files {
		path := strings.ToLower(f.Path)
		content := strings.ToLower(f.Content)

		score := 0
		for _, term := range terms {
			if strings.Contains(path, term) {
				score += 3
			}
			score += strings.Count(content, term)
		}
		if score > 0 {
			matches = append(matches, scored{file: f, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > snippetLimit {
		matches = matches[:snippetLimit]
	}

	snippets := make([]string, 0, len(matches))
	for _, m := range matches {
		content := m.file.Content
		if len(content) > snippetSize {
			content = content[:snippetSize]
		}
		snippets = append(snippets, "File: "+m.file.Path+"\n"+content)
	}
	return snippets, nil
}

// tokenize lowercases and splits on non-alphanumerics, dropping terms too
// short to discriminate.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}
