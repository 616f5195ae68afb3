package knowledge

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

const (
	vectorSize = 128

	// smallBaseItems is the size under which search is skipped; company info
	// and the project list already carry the whole base.
	smallBaseItems = 50

	DefaultTopK                = 3
	DefaultSimilarityThreshold = 0.7

	summaryPrefix = "Summary List of All Resonira Projects:"
)

var projectTitle = regexp.MustCompile(`Project:\s*(.*?)\.\s*Client:`)

// ItemMetadata classifies an item.
type ItemMetadata struct {
	Type string `json:"type"`
}

type file struct {
	Items    []string       `json:"items"`
	Metadata []ItemMetadata `json:"metadata"`
}

// Base is a small company knowledge base searched with hashed bag-of-words vectors.
type Base struct {
	items     []string
	metadata  []ItemMetadata
	vectors   [][]float64
	topK      int
	threshold float64
}

// Options tune search.
type Options struct {
	TopK                int
	SimilarityThreshold float64
}

// Load reads a knowledge file: either {"items": [...], "metadata": [...]} or a bare array of strings.
func Load(path string, opts Options, logger *zap.Logger) (*Base, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		var items []string
		if arrErr := json.Unmarshal(raw, &items); arrErr != nil {
			return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
		}
		f.Items = items
	}

	base := New(f.Items, f.Metadata, opts)
	logger.Info("Knowledge base loaded", zap.String("path", path), zap.Int("items", len(base.items)))
	return base, nil
}

// New builds a base from items.
func New(items []string, metadata []ItemMetadata, opts Options) *Base {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}

	b := &Base{
		items:     items,
		metadata:  metadata,
		topK:      opts.TopK,
		threshold: opts.SimilarityThreshold,
	}
	b.vectors = make([][]float64, len(items))
	for i, text := range items {
		b.vectors[i] = embed(text)
	}
	return b
}

// Len returns the number of items.
func (b *Base) Len() int {
	return len(b.items)
}

// CompanyInfo returns the items tagged company or team, falling back to
// everything that is not a project entry.
func (b *Base) CompanyInfo() string {
	if len(b.items) == 0 {
		return ""
	}

	if len(b.metadata) == len(b.items) {
		var info []string
		for i, text := range b.items {
			if t := b.metadata[i].Type; t == "company" || t == "team" {
				info = append(info, text)
			}
		}
		if len(info) > 0 {
			return strings.Join(info, "\n")
		}
	}

	var info []string
	for _, text := range b.items {
		if !strings.HasPrefix(text, "Project:") && !strings.HasPrefix(text, "Summary List") {
			info = append(info, text)
		}
	}
	return strings.Join(info, "\n")
}

// ProjectList returns the project titles, preferring a prepared summary item.
func (b *Base) ProjectList() string {
	var titles []string
	for _, text := range b.items {
		if !strings.HasPrefix(text, "Project:") {
			continue
		}
		if m := projectTitle.FindStringSubmatch(text); m != nil {
			titles = append(titles, m[1])
		}
	}
	if len(titles) == 0 {
		return ""
	}

	for _, text := range b.items {
		if strings.HasPrefix(text, summaryPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(text, summaryPrefix))
		}
	}
	return strings.Join(titles, ", ")
}

// Match is a search hit.
type Match struct {
	Text       string
	Similarity float64
}

// Search returns up to topK items whose similarity to query reaches the threshold.
func (b *Base) Search(query string) []Match {
	if len(b.vectors) == 0 {
		return nil
	}

	q := embed(query)
	matches := make([]Match, len(b.vectors))
	for i, v := range b.vectors {
		matches[i] = Match{Text: b.items[i], Similarity: floats.Dot(v, q)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > b.topK {
		matches = matches[:b.topK]
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Similarity >= b.threshold {
			out = append(out, m)
		}
	}
	return out
}

// Context returns a prompt block of relevant items for query. Small bases
// return nothing since they are injected whole.
func (b *Base) Context(query string) string {
	if len(b.items) < smallBaseItems {
		return ""
	}

	results := b.Search(query)
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant context:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r.Text)
	}
	sb.WriteString("\nUse this context to answer the user's question.")
	return sb.String()
}

// embed hashes words into a normalized vector, weighting earlier words higher.
func embed(text string) []float64 {
	v := make([]float64, vectorSize)
	for i, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		v[h.Sum32()%vectorSize] += 1 / float64(i+1)
	}
	if norm := floats.Norm(v, 2); norm > 0 {
		floats.Scale(1/norm, v)
	}
	return v
}
