package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by feature hashing: identifier tokens
// and character trigrams are hashed into the model's dimension count.
// It needs no network and no model files, and it is fully deterministic.
// Hashes are seeded with the model name, so two models never share a
// vector space even when their dimensions match.
type StaticEmbedder struct {
	spec ModelSpec

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// stopWords are dropped before hashing: language keywords and common English.
var stopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "is": true, "it": true,
	"for": true, "on": true, "with": true, "as": true, "by": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a static embedder for the given model.
func NewStaticEmbedder(spec ModelSpec) *StaticEmbedder {
	return &StaticEmbedder{spec: spec}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errClosed
	}
	return e.vector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errClosed
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results[i] = e.vector(text)
	}
	return results, nil
}

func (e *StaticEmbedder) vector(text string) []float32 {
	dims := e.spec.Dimensions
	vec := make([]float32, dims)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vec
	}

	for _, token := range tokenize(trimmed) {
		if stopWords[token] {
			continue
		}
		vec[e.bucket("t", token)] += tokenWeight
	}

	norm := normalizeForNgrams(trimmed)
	for i := 0; i+ngramSize <= len(norm); i++ {
		vec[e.bucket("g", norm[i:i+ngramSize])] += ngramWeight
	}

	return normalizeVector(vec)
}

// bucket hashes a feature, namespaced by kind and seeded by model name.
func (e *StaticEmbedder) bucket(kind, feature string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.spec.Name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte(feature))
	return int(h.Sum64() % uint64(e.spec.Dimensions))
}

// tokenize splits text into lower-case tokens, breaking camelCase and
// snake_case identifiers apart.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, t := range splitCamelCase(part) {
				tokens = append(tokens, strings.ToLower(t))
			}
		}
	}
	return tokens
}

// splitCamelCase splits camelCase identifiers, keeping acronyms together
// (parseHTTPRequest -> parse, HTTP, Request).
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// normalizeForNgrams keeps lower-case letters and digits only.
func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.spec.Dimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return ModelID(ProviderStatic, e.spec.Name)
}

// Available is true until Close.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
