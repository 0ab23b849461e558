// Package search answers natural-language queries against a published
// index: embed the query, fetch nearest fragments, filter, boost by
// keyword, dedupe and rank.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	"github.com/Aman-CERP/vgrep/internal/config"
	"github.com/Aman-CERP/vgrep/internal/embed"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/store"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultLimit       = 10
	DefaultOverfetch   = 4
	DefaultBoostWeight = 0.1

	// keywordSaturation is the match count at which the keyword signal
	// reaches 1.
	keywordSaturation = 3
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Options tune an Engine.
type Options struct {
	Limit       int
	Overfetch   int     // Candidates fetched per requested result
	EfSearch    int     // Lower bound on candidates fetched
	BoostWeight float64 // Weight of the keyword signal
	DedupeFiles bool    // One result per file unless a query says otherwise
}

// OptionsFrom reads engine options from configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Limit:       cfg.Search.MaxResults,
		Overfetch:   cfg.Search.Overfetch,
		EfSearch:    cfg.Index.EfSearch,
		BoostWeight: cfg.Search.BoostWeight,
		DedupeFiles: cfg.Search.DedupeFiles,
	}
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Overfetch <= 0 {
		o.Overfetch = DefaultOverfetch
	}
	if o.EfSearch <= 0 {
		o.EfSearch = store.DefaultEfSearch
	}
	if o.BoostWeight < 0 {
		o.BoostWeight = DefaultBoostWeight
	}
	return o
}

// Query is one search request.
type Query struct {
	Text    string
	Limit   int // Zero uses the engine default
	Filters []Filter

	// Keyword is a hybrid pattern; see CompileKeyword.
	Keyword *regexp.Regexp

	// DedupeFiles keeps only the best fragment of each file. Nil uses the
	// engine option.
	DedupeFiles *bool
}

// Result is one ranked fragment.
type Result struct {
	Fragment       chunk.Fragment
	Similarity     float32 // Cosine similarity to the query
	Score          float32 // Similarity plus keyword boost
	KeywordMatches int
	Rank           int // 1-based
}

// Path returns the file the fragment belongs to.
func (r Result) Path() string { return r.Fragment.Path }

// Engine runs queries against the generation a handle currently exposes.
// It is safe for concurrent use.
type Engine struct {
	handle   *store.Handle
	embedder embed.Embedder
	opts     Options
}

// NewEngine creates an engine.
func NewEngine(handle *store.Handle, embedder embed.Embedder, opts Options) (*Engine, error) {
	if handle == nil {
		return nil, fmt.Errorf("%w: index handle is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	return &Engine{handle: handle, embedder: embedder, opts: opts.withDefaults()}, nil
}

// Search runs q. The whole query sees a single generation even when a sync
// publishes a new one meanwhile.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, verrors.New(verrors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	gen, err := e.generation()
	if err != nil {
		return nil, err
	}
	if err := gen.Tag.Check(e.embedder.ModelName(), e.embedder.Dimensions()); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if _, ok := verrors.As(err); ok {
			return nil, err
		}
		return nil, verrors.New(verrors.ErrCodeEmbeddingFailed, "cannot embed query", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = e.opts.Limit
	}
	dedupe := e.opts.DedupeFiles
	if q.DedupeFiles != nil {
		dedupe = *q.DedupeFiles
	}

	cands, fetched, err := e.candidates(gen, vec, limit, q.Filters, dedupe)
	if err != nil {
		return nil, err
	}

	if q.Keyword != nil {
		for i := range cands {
			e.boost(&cands[i], q.Keyword)
		}
	}

	rank(cands)
	if dedupe {
		cands = dedupeFiles(cands)
	}
	if len(cands) > limit {
		cands = cands[:limit]
	}
	for i := range cands {
		cands[i].Rank = i + 1
	}

	slog.Debug("search_complete",
		slog.Int("results", len(cands)),
		slog.Int("fetched", fetched),
		slog.Int("filters", len(q.Filters)),
		slog.Uint64("generation", gen.Number),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return cands, nil
}

// generation picks up generations published by other processes before
// returning the current one.
func (e *Engine) generation() (*store.Generation, error) {
	if _, err := e.handle.Refresh(); err != nil {
		if errors.Is(err, store.ErrNotIndexed) {
			return nil, err
		}
		// Fall back to what is already loaded.
		slog.Warn("index_refresh_failed", verrors.LogAttrs(err)...)
	}
	return e.handle.Current()
}

// candidates fetches nearest neighbours and applies filters. The fetch is
// widened to the whole live set when filtering or deduplication leaves
// fewer than limit survivors and more hits exist.
func (e *Engine) candidates(gen *store.Generation, vec []float32, limit int, filters []Filter, dedupe bool) ([]Result, int, error) {
	live := gen.Graph.Live()
	fetch := max(limit*e.opts.Overfetch, e.opts.EfSearch)
	narrowing := len(filters) > 0 || dedupe

	for {
		hits, err := gen.Graph.Search(vec, fetch)
		if err != nil {
			return nil, 0, err
		}

		out := make([]Result, 0, len(hits))
		files := make(map[string]bool)
		for _, h := range hits {
			f, ok := gen.Manifest.Fragment(h.ID)
			if !ok || !matchAll(filters, &f, h.Similarity) {
				continue
			}
			files[f.Path] = true
			out = append(out, Result{Fragment: f, Similarity: h.Similarity, Score: h.Similarity})
		}

		enough := len(out) >= limit
		if dedupe {
			enough = len(files) >= limit
		}
		if enough || !narrowing || fetch >= live || len(hits) < fetch {
			return out, len(hits), nil
		}
		fetch = live
	}
}

// boost adds the keyword signal: min(1, matches/3) scaled by BoostWeight.
func (e *Engine) boost(r *Result, keyword *regexp.Regexp) {
	n := len(keyword.FindAllStringIndex(r.Fragment.Text, -1))
	r.KeywordMatches = n
	if n == 0 {
		return
	}
	signal := min(1, float64(n)/keywordSaturation)
	r.Score = r.Similarity + float32(e.opts.BoostWeight*signal)
}

// rank orders by score, then similarity, then fragment ID.
func rank(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Fragment.ID < b.Fragment.ID
	})
}

// dedupeFiles keeps the first, and so best ranked, result of each file.
func dedupeFiles(rs []Result) []Result {
	seen := make(map[string]bool, len(rs))
	out := rs[:0]
	for _, r := range rs {
		if seen[r.Fragment.Path] {
			continue
		}
		seen[r.Fragment.Path] = true
		out = append(out, r)
	}
	return out
}
