// Package index keeps a project's vector index in step with its files.
// A Runner performs one sync: enumerate, diff against the manifest, embed
// what changed, and publish a new generation.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	"github.com/Aman-CERP/vgrep/internal/config"
	"github.com/Aman-CERP/vgrep/internal/embed"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/manifest"
	"github.com/Aman-CERP/vgrep/internal/scanner"
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

// FileSource enumerates the files a sync considers.
type FileSource interface {
	// Collect lists every indexable file under the root.
	Collect(ctx context.Context) ([]*scanner.FileInfo, error)
	// Lookup resolves one relative path; nil means not indexable.
	Lookup(rel string) (*scanner.FileInfo, error)
	// Invalidate drops cached ignore rules.
	Invalidate()
}

// RunnerDependencies are the collaborators of a Runner.
type RunnerDependencies struct {
	Config   *config.Config
	Embedder embed.Embedder
	Layout   store.Layout
	Scanner  FileSource

	// Renderer shows progress. Defaults to ui.Nop.
	Renderer ui.Renderer

	// Handle receives each published generation so in-process readers see
	// it. Defaults to a handle on Layout.
	Handle *store.Handle
}

// RunOptions selects what one sync covers.
type RunOptions struct {
	// Force discards the existing index and rebuilds from scratch, also
	// when it was built with another model.
	Force bool

	// Paths restricts the sync to these relative paths (files or
	// directories). Empty means the whole tree.
	Paths []string
}

// Stats describes one sync.
type Stats struct {
	RunID      string
	Added      int
	Modified   int
	Removed    int
	Unchanged  int
	Skipped    int
	Fragments  int // Live fragments after the run
	Embedded   int
	Compacted  bool
	Published  bool
	Rebuilt    bool
	Generation uint64
	Duration   time.Duration
	Timings    ui.StageTimings
}

// Changed reports whether the run altered the index.
func (s *Stats) Changed() bool {
	return s.Added+s.Modified+s.Removed > 0
}

// Runner syncs one project. Runs are serialized in-process by a mutex and
// across processes by the writer lock.
type Runner struct {
	cfg      *config.Config
	embedder embed.Embedder
	layout   store.Layout
	files    FileSource
	renderer ui.Renderer
	handle   *store.Handle
	chunker  *chunk.Chunker

	mu sync.Mutex
}

// NewRunner validates deps and creates a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if deps.Layout.Dir == "" {
		return nil, errors.New("data directory is required")
	}
	if deps.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if deps.Renderer == nil {
		deps.Renderer = ui.Nop{}
	}
	if deps.Handle == nil {
		deps.Handle = store.Open(deps.Layout)
	}
	return &Runner{
		cfg:      deps.Config,
		embedder: deps.Embedder,
		layout:   deps.Layout,
		files:    deps.Scanner,
		renderer: deps.Renderer,
		handle:   deps.Handle,
		chunker: chunk.New(chunk.Options{
			Size:    deps.Config.Index.ChunkSize,
			Overlap: deps.Config.Index.ChunkOverlap,
		}),
	}, nil
}

// Handle returns the handle the runner publishes to.
func (r *Runner) Handle() *store.Handle { return r.handle }

// prepared is a file read, fingerprinted and, when changed, chunked.
type prepared struct {
	cand      manifest.Candidate
	fragments []chunk.Fragment
}

// Run performs one sync.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	stats := &Stats{RunID: uuid.NewString()}
	log := slog.With(slog.String("run_id", stats.RunID))

	lock := newWriterLock(r.layout.LockPath())
	if err := lock.acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			log.Warn("lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	model, dims := r.embedder.ModelName(), r.embedder.Dimensions()

	prev, err := r.loadPrevious(opts.Force, model, dims, log)
	if err != nil {
		return nil, err
	}
	graph, m, rebuilt := r.base(prev, model, dims)
	stats.Rebuilt = rebuilt

	// Enumerate and fingerprint.
	scanStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Scanning files"})

	var (
		infos []*scanner.FileInfo
		scope []string
	)
	if rebuilt || wholeTree(opts.Paths) {
		infos, err = r.files.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan files: %w", err)
		}
	} else {
		infos, scope, err = r.lookupPaths(opts.Paths, m)
		if err != nil {
			return nil, err
		}
	}

	preps, skipped := r.prepare(ctx, infos, m, log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats.Skipped = skipped

	cands := make([]manifest.Candidate, len(preps))
	byPath := make(map[string]*prepared, len(preps))
	for i, p := range preps {
		cands[i] = p.cand
		byPath[p.cand.Path] = p
	}

	var changes manifest.Changes
	if scope == nil {
		changes = manifest.Diff(m, cands)
	} else {
		changes = manifest.DiffPaths(m, cands, scope)
	}
	stats.Added = len(changes.Added)
	stats.Modified = len(changes.Modified)
	stats.Removed = len(changes.Removed)
	stats.Unchanged = len(changes.Unchanged)
	stats.Timings.Scan = time.Since(scanStart)

	log.Info("sync_diff",
		slog.Int("added", stats.Added),
		slog.Int("modified", stats.Modified),
		slog.Int("removed", stats.Removed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("skipped", stats.Skipped))

	if changes.Empty() && prev != nil && !rebuilt {
		stats.Generation = prev.Number
		stats.Fragments = prev.Graph.Live()
		stats.Duration = time.Since(start)
		r.complete(stats, model, dims)
		log.Info("sync_complete", slog.Bool("published", false), slog.Uint64("generation", stats.Generation))
		return stats, nil
	}

	// Embed every fragment of added and modified files, in path order.
	changed := append(append([]manifest.Candidate{}, changes.Added...), changes.Modified...)
	sort.Slice(changed, func(i, j int) bool { return changed[i].Path < changed[j].Path })

	var frags []chunk.Fragment
	for _, c := range changed {
		frags = append(frags, byPath[c.Path].fragments...)
	}

	embedStart := time.Now()
	vecs, err := r.embed(ctx, frags)
	if err != nil {
		return nil, err
	}
	stats.Embedded = len(frags)
	stats.Timings.Embed = time.Since(embedStart)

	// Single writer: apply to copies of the previous graph and manifest.
	indexStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Total: len(frags)})

	for _, p := range changes.Removed {
		r.drop(graph, m, p)
	}
	next := 0
	for _, c := range changed {
		r.drop(graph, m, c.Path)
		p := byPath[c.Path]
		for _, f := range p.fragments {
			if err := graph.Add(f.ID, vecs[next]); err != nil {
				return nil, err
			}
			next++
		}
		m.Put(&manifest.Entry{
			Path:        c.Path,
			Fingerprint: c.Fingerprint,
			ModTime:     c.ModTime,
			Size:        c.Size,
			Fragments:   p.fragments,
		})
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage: ui.StageIndexing, Current: next, Total: len(frags), CurrentFile: c.Path,
		})
	}

	threshold := r.cfg.Index.CompactionThreshold
	if graph.NeedsCompaction(threshold) {
		before := graph.Tombstones()
		compacted, err := graph.Compact()
		if err != nil {
			return nil, verrors.Wrap(verrors.ErrCodeInternal, err)
		}
		graph = compacted
		stats.Compacted = true
		log.Info("graph_compacted", slog.Int("tombstones", before), slog.Int("live", graph.Live()))
	}
	stats.Timings.Index = time.Since(indexStart)

	// Publish.
	publishStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePublishing, Message: "Publishing generation"})

	tag := store.ModelTag{Model: model, Dimensions: dims, CreatedAt: time.Now().UTC()}
	if prev != nil && !rebuilt {
		tag.CreatedAt = prev.Tag.CreatedAt
	}
	gen := &store.Generation{Graph: graph, Manifest: m, Tag: tag}
	if err := r.layout.Publish(gen); err != nil {
		return nil, err
	}
	r.handle.Swap(gen)
	stats.Timings.Publish = time.Since(publishStart)

	stats.Published = true
	stats.Generation = gen.Number
	stats.Fragments = graph.Live()
	stats.Duration = time.Since(start)

	log.Info("generation_published",
		slog.Uint64("generation", gen.Number),
		slog.Int("fragments", stats.Fragments),
		slog.Int("files", m.Len()),
		slog.Bool("compacted", stats.Compacted))
	log.Info("sync_complete",
		slog.Bool("published", true),
		slog.Int("embedded", stats.Embedded),
		slog.Int64("duration_ms", stats.Duration.Milliseconds()))

	r.complete(stats, model, dims)
	return stats, nil
}

// loadPrevious reads the published generation. It returns nil when there
// is none or when a forced run will discard it.
func (r *Runner) loadPrevious(force bool, model string, dims int, log *slog.Logger) (*store.Generation, error) {
	prev, err := r.layout.Load()
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotIndexed):
		return nil, nil
	case force && errors.Is(err, store.ErrCorruptIndex):
		log.Warn("corrupt_index_discarded", slog.String("error", err.Error()))
		return nil, nil
	default:
		return nil, err
	}
	if force {
		return nil, nil
	}
	if err := prev.Tag.Check(model, dims); err != nil {
		return nil, err
	}
	return prev, nil
}

// base returns mutable copies to apply the sync to. An index whose
// manifest disagrees with its graph is rebuilt from nothing.
func (r *Runner) base(prev *store.Generation, model string, dims int) (*store.Graph, *manifest.Manifest, bool) {
	if prev != nil {
		err := manifest.Verify(prev.Manifest, prev.Graph)
		if err == nil {
			return prev.Graph.Clone(), prev.Manifest.Clone(), false
		}
		slog.Warn("inconsistent_index_rebuild", verrors.LogAttrs(err)...)
	}
	graph := store.NewGraph(store.GraphConfig{
		Dimensions:     dims,
		M:              r.cfg.Index.M,
		EfConstruction: r.cfg.Index.EfConstruction,
		EfSearch:       r.cfg.Index.EfSearch,
	})
	return graph, manifest.New(model, dims), true
}

func wholeTree(paths []string) bool {
	if len(paths) == 0 {
		return true
	}
	for _, p := range paths {
		if c := path.Clean(filepath.ToSlash(p)); c == "." || c == "/" {
			return true
		}
	}
	return false
}

// lookupPaths resolves a partial sync. The returned scope holds every
// requested path plus the indexed files below requested directories, so
// deleted trees are detected.
func (r *Runner) lookupPaths(paths []string, m *manifest.Manifest) ([]*scanner.FileInfo, []string, error) {
	indexed := m.Paths()
	inScope := make(map[string]bool)
	for _, p := range paths {
		p = path.Clean(filepath.ToSlash(p))
		inScope[p] = true
		prefix := p + "/"
		i := sort.SearchStrings(indexed, prefix)
		for ; i < len(indexed) && strings.HasPrefix(indexed[i], prefix); i++ {
			inScope[indexed[i]] = true
		}
	}

	scope := make([]string, 0, len(inScope))
	for p := range inScope {
		scope = append(scope, p)
	}
	sort.Strings(scope)

	var infos []*scanner.FileInfo
	for _, p := range scope {
		fi, err := r.files.Lookup(p)
		if err != nil {
			slog.Warn("file_skipped", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if fi != nil {
			infos = append(infos, fi)
		}
	}
	return infos, scope, nil
}

// prepare reads and fingerprints files on a bounded worker pool. Files
// whose fingerprint differs from the manifest are chunked as well, from the
// same bytes that were hashed. Unreadable, oversized and binary files are
// skipped and counted.
func (r *Runner) prepare(ctx context.Context, infos []*scanner.FileInfo, m *manifest.Manifest, log *slog.Logger) ([]*prepared, int) {
	results := make([]*prepared, len(infos))
	var skipped sync.Map

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())

	maxSize := r.cfg.Index.MaxFileSize
	for i, fi := range infos {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p, err := r.prepareFile(fi, m, maxSize)
			if err != nil {
				skipped.Store(fi.Path, err)
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	var out []*prepared
	for _, p := range results {
		if p != nil {
			out = append(out, p)
		}
	}

	n := 0
	skipped.Range(func(k, v any) bool {
		n++
		err := v.(error)
		log.Warn("file_skipped", slog.String("path", k.(string)), slog.String("reason", err.Error()))
		r.renderer.AddError(ui.ErrorEvent{File: k.(string), Err: err, IsWarn: true})
		return true
	})
	return out, n
}

func (r *Runner) prepareFile(fi *scanner.FileInfo, m *manifest.Manifest, maxSize int64) (*prepared, error) {
	if maxSize > 0 && fi.Size > maxSize {
		return nil, verrors.Newf(verrors.ErrCodeFileTooLarge, "%d bytes exceeds the %d byte limit", fi.Size, maxSize)
	}
	content, err := os.ReadFile(fi.AbsPath)
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeFileUnreadable, "cannot read file", err)
	}
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, verrors.Newf(verrors.ErrCodeFileTooLarge, "%d bytes exceeds the %d byte limit", len(content), maxSize)
	}

	p := &prepared{cand: manifest.Candidate{
		Path:        fi.Path,
		Fingerprint: chunk.Fingerprint(content),
		ModTime:     fi.ModTime.UTC(),
		Size:        int64(len(content)),
	}}

	if e, ok := m.Get(fi.Path); ok && e.Fingerprint == p.cand.Fingerprint {
		return p, nil
	}
	frags, err := r.chunker.Chunk(fi.Path, content)
	if err != nil {
		return nil, err
	}
	p.fragments = frags
	return p, nil
}

// embed vectors for frags in batches, keeping input order.
func (r *Runner) embed(ctx context.Context, frags []chunk.Fragment) ([][]float32, error) {
	vecs := make([][]float32, len(frags))
	if len(frags) == 0 {
		return vecs, nil
	}

	batch := r.cfg.Embeddings.BatchSize
	if batch <= 0 {
		batch = embed.DefaultBatchSize
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: len(frags)})

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for lo := 0; lo < len(frags); lo += batch {
		hi := min(lo+batch, len(frags))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := range texts {
				texts[i] = frags[lo+i].Text
			}
			out, err := r.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return verrors.Newf(verrors.ErrCodeEmbeddingFailed, "provider returned %d vectors for %d texts", len(out), len(texts))
			}
			copy(vecs[lo:hi], out)

			mu.Lock()
			done += len(texts)
			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage: ui.StageEmbedding, Current: done, Total: len(frags), CurrentFile: frags[hi-1].Path,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// drop tombstones the fragments owned by path and forgets the entry.
func (r *Runner) drop(graph *store.Graph, m *manifest.Manifest, p string) {
	e, ok := m.Remove(p)
	if !ok {
		return
	}
	for _, id := range e.FragmentIDs() {
		graph.Delete(id)
	}
}

func (r *Runner) workers() int {
	if w := r.cfg.Index.Workers; w > 0 {
		return w
	}
	return runtime.NumCPU()
}

func (r *Runner) complete(stats *Stats, model string, dims int) {
	r.renderer.Complete(ui.CompletionStats{
		Added:      stats.Added,
		Modified:   stats.Modified,
		Removed:    stats.Removed,
		Unchanged:  stats.Unchanged,
		Skipped:    stats.Skipped,
		Fragments:  stats.Fragments,
		Embedded:   stats.Embedded,
		Generation: stats.Generation,
		Published:  stats.Published,
		Compacted:  stats.Compacted,
		Duration:   stats.Duration,
		Stages:     stats.Timings,
		Embedder:   ui.EmbedderInfo{Model: model, Dimensions: dims},
	})
}
