package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	"github.com/Aman-CERP/vgrep/internal/config"
	"github.com/Aman-CERP/vgrep/internal/embed"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/manifest"
	"github.com/Aman-CERP/vgrep/internal/scanner"
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/internal/watcher"
)

// countingEmbedder counts the texts it is asked to embed.
type countingEmbedder struct {
	*embed.StaticEmbedder
	texts atomic.Int64
	calls atomic.Int64
}

func newCountingEmbedder(t *testing.T, model string) *countingEmbedder {
	t.Helper()
	spec, err := embed.LookupModel(model)
	require.NoError(t, err)
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(spec)}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int64(len(texts)))
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

type fixture struct {
	root     string
	layout   store.Layout
	cfg      *config.Config
	embedder *countingEmbedder
	runner   *Runner
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}

	cfg := config.NewConfig()
	cfg.Index.Workers = 2
	cfg.Index.CompactionThreshold = 1
	cfg.Embeddings.BatchSize = 4

	f := &fixture{
		root:     root,
		layout:   store.NewLayout(config.DataDir(root)),
		cfg:      cfg,
		embedder: newCountingEmbedder(t, "minilm"),
	}
	f.runner = f.newRunner(t, f.embedder)
	return f
}

func (f *fixture) newRunner(t *testing.T, e embed.Embedder) *Runner {
	t.Helper()
	sc, err := scanner.New(scanner.Options{Root: f.root})
	require.NoError(t, err)
	r, err := NewRunner(RunnerDependencies{
		Config:   f.cfg,
		Embedder: e,
		Layout:   f.layout,
		Scanner:  sc,
	})
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func threeFiles() map[string]string {
	return map[string]string{
		"auth/jwt.go": "package auth\n\nfunc ValidateToken(token string) error {\n\treturn verifySignature(token)\n}\n",
		"db/conn.py":  "def connect_database(url):\n    return pool.open(url)\n",
		"README.md":   "# Project\n\nThis service issues tokens and stores users.\n",
	}
}

func TestRunner_FirstSyncPublishes(t *testing.T) {
	// Given a project with three files and no index
	f := newFixture(t, threeFiles())

	// When syncing
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	// Then every file is added and generation 1 is published
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Added)
	assert.True(t, stats.Published)
	assert.True(t, stats.Rebuilt)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, stats.Fragments, stats.Embedded)

	gen, err := f.runner.Handle().Current()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "auth/jwt.go", "db/conn.py"}, gen.Manifest.Paths())
	assert.Equal(t, "static:minilm", gen.Tag.Model)
	assert.Equal(t, 384, gen.Tag.Dimensions)

	loaded, err := f.layout.Load()
	require.NoError(t, err)
	assert.Equal(t, gen.Graph.IDs(), loaded.Graph.IDs())
}

func TestRunner_EmptyTreePublishesEmptyIndex(t *testing.T) {
	f := newFixture(t, nil)

	stats, err := f.runner.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.True(t, stats.Published)
	assert.Zero(t, stats.Fragments)
	assert.Zero(t, f.embedder.calls.Load())
}

func TestRunner_SecondSyncIsNoop(t *testing.T) {
	// Given an indexed project
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	calls := f.embedder.calls.Load()
	manifestBefore, err := os.ReadFile(filepath.Join(f.layout.GenerationDir(1), "manifest.gob"))
	require.NoError(t, err)

	// When syncing again without changes
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	// Then nothing is embedded or published
	require.NoError(t, err)
	assert.False(t, stats.Published)
	assert.False(t, stats.Changed())
	assert.Equal(t, 3, stats.Unchanged)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, calls, f.embedder.calls.Load())
	assert.Equal(t, []uint64{1}, f.layout.Generations())

	manifestAfter, err := os.ReadFile(filepath.Join(f.layout.GenerationDir(1), "manifest.gob"))
	require.NoError(t, err)
	assert.Equal(t, manifestBefore, manifestAfter)
}

func TestRunner_OnlyChangedFilesAreEmbedded(t *testing.T) {
	// Given an indexed project
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	before := f.embedder.texts.Load()

	// When one file changes and one is added
	writeFile(t, f.root, "db/conn.py", "def connect_database(url, timeout):\n    return pool.open(url, timeout)\n")
	writeFile(t, f.root, "auth/session.go", "package auth\n\nfunc NewSession() {}\n")
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	// Then only their fragments are embedded
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Modified)
	assert.Equal(t, 2, stats.Unchanged)
	assert.Equal(t, int64(2), f.embedder.texts.Load()-before)
	assert.Equal(t, 2, stats.Embedded)
	assert.Equal(t, uint64(2), stats.Generation)

	gen, err := f.runner.Handle().Current()
	require.NoError(t, err)
	e, ok := gen.Manifest.Get("db/conn.py")
	require.True(t, ok)
	assert.Contains(t, e.Fragments[0].Text, "timeout")
}

func TestRunner_TouchWithoutContentChange(t *testing.T) {
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.root, "README.md"), later, later))
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.False(t, stats.Published)
	assert.Equal(t, 3, stats.Unchanged)
}

func TestRunner_DeletedFileIsRemoved(t *testing.T) {
	// Given an indexed project
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	gen, err := f.runner.Handle().Current()
	require.NoError(t, err)
	entry, ok := gen.Manifest.Get("auth/jwt.go")
	require.True(t, ok)
	ids := entry.FragmentIDs()

	// When the file is deleted
	require.NoError(t, os.Remove(filepath.Join(f.root, "auth", "jwt.go")))
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	// Then its entry and fragments are gone
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Zero(t, stats.Embedded)

	gen, err = f.runner.Handle().Current()
	require.NoError(t, err)
	_, ok = gen.Manifest.Get("auth/jwt.go")
	assert.False(t, ok)
	for _, id := range ids {
		assert.False(t, gen.Graph.Contains(id), "fragment %s still live", chunk.IDString(id))
	}
	require.NoError(t, manifest.Verify(gen.Manifest, gen.Graph))
}

func TestRunner_SkipsBinaryAndOversizedFiles(t *testing.T) {
	// Given a binary source file and one over the size limit
	f := newFixture(t, map[string]string{
		"main.go":  "package main\n\nfunc main() {}\n",
		"blob.go":  "package main\x00\x01\x02",
		"large.go": "package main\n\n" + strings.Repeat("// padding\n", 40),
	})
	f.cfg.Index.MaxFileSize = 200

	// When syncing
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	// Then both are skipped and the rest is indexed
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, stats.Added)

	gen, err := f.runner.Handle().Current()
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, gen.Manifest.Paths())
}

func TestRunner_FileBecomingBinaryIsRemoved(t *testing.T) {
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	writeFile(t, f.root, "README.md", "\x00\x00binary now")
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Removed)
}

func TestRunner_PathsLimitScope(t *testing.T) {
	// Given an indexed project with a nested directory
	files := threeFiles()
	files["pkg/a.go"] = "package pkg\n\nfunc A() {}\n"
	files["pkg/sub/b.go"] = "package sub\n\nfunc B() {}\n"
	f := newFixture(t, files)
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// When pkg is deleted and the README changes, but only pkg is synced
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "pkg")))
	writeFile(t, f.root, "README.md", "# Changed\n")
	stats, err := f.runner.Run(context.Background(), RunOptions{Paths: []string{"pkg"}})

	// Then the whole directory is removed and the README is untouched
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Removed)
	assert.Zero(t, stats.Modified)

	gen, err := f.runner.Handle().Current()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "auth/jwt.go", "db/conn.py"}, gen.Manifest.Paths())
	e, _ := gen.Manifest.Get("README.md")
	assert.Contains(t, e.Fragments[0].Text, "Project")
}

func TestRunner_PathsDotMeansWholeTree(t *testing.T) {
	f := newFixture(t, threeFiles())
	stats, err := f.runner.Run(context.Background(), RunOptions{Paths: []string{"."}})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Added)
}

func TestRunner_CompactsPastThreshold(t *testing.T) {
	// Given an index whose threshold one modification exceeds
	f := newFixture(t, threeFiles())
	f.cfg.Index.CompactionThreshold = 0.2
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// When a file changes
	writeFile(t, f.root, "auth/jwt.go", "package auth\n\nfunc ValidateToken() {}\n")
	stats, err := f.runner.Run(context.Background(), RunOptions{})

	// Then the published graph has no tombstones
	require.NoError(t, err)
	assert.True(t, stats.Compacted)
	gen, err := f.runner.Handle().Current()
	require.NoError(t, err)
	assert.Zero(t, gen.Graph.Tombstones())
	require.NoError(t, manifest.Verify(gen.Manifest, gen.Graph))
}

func TestRunner_LockedByAnotherWriter(t *testing.T) {
	// Given another holder of the writer lock
	f := newFixture(t, threeFiles())
	require.NoError(t, os.MkdirAll(f.layout.Dir, 0o755))
	other := flock.New(f.layout.LockPath())
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = other.Unlock() }()

	// When syncing
	_, err = f.runner.Run(context.Background(), RunOptions{})

	// Then the run fails fast with a lock error
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, verrors.ErrCodeLocked, verrors.GetCode(err))
	assert.Zero(t, f.embedder.calls.Load())
}

func TestRunner_ReleasesLock(t *testing.T) {
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	other := flock.New(f.layout.LockPath())
	ok, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Unlock())
}

func TestRunner_ModelMismatch(t *testing.T) {
	// Given a project indexed with minilm (384 dims)
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// When syncing with nomic (768 dims)
	nomic := newCountingEmbedder(t, "nomic")
	r := f.newRunner(t, nomic)
	_, err = r.Run(context.Background(), RunOptions{})

	// Then the sync is refused and the index is untouched
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrModelMismatch)
	assert.Contains(t, err.Error(), "static:minilm")
	assert.Contains(t, err.Error(), "768")
	ve, ok := verrors.As(err)
	require.True(t, ok)
	assert.Contains(t, ve.Suggestion, "--force")
	assert.Contains(t, ve.Suggestion, "--model minilm")
	assert.Zero(t, nomic.calls.Load())
	assert.Equal(t, []uint64{1}, f.layout.Generations())
}

func TestRunner_ForceRebuildsWithNewModel(t *testing.T) {
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	nomic := newCountingEmbedder(t, "nomic")
	r := f.newRunner(t, nomic)
	stats, err := r.Run(context.Background(), RunOptions{Force: true})

	require.NoError(t, err)
	assert.True(t, stats.Rebuilt)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, uint64(2), stats.Generation)

	gen, err := f.layout.Load()
	require.NoError(t, err)
	assert.Equal(t, "static:nomic", gen.Tag.Model)
	assert.Equal(t, 768, gen.Tag.Dimensions)
	assert.Equal(t, 768, gen.Graph.Dimensions())
}

func TestRunner_ForceDiscardsCorruptIndex(t *testing.T) {
	// Given a published index whose graph file is damaged
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.layout.GenerationDir(1), "graph.gob"), []byte("garbage"), 0o644))

	// When syncing normally the corruption is reported
	r := f.newRunner(t, f.embedder)
	_, err = r.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrCorruptIndex)

	// And a forced sync rebuilds
	stats, err := r.Run(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, stats.Published)
	assert.Equal(t, 3, stats.Added)
}

func TestRunner_Cancelled(t *testing.T) {
	f := newFixture(t, threeFiles())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx, RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.layout.Generations())
}

func TestNewRunner_Validation(t *testing.T) {
	root := t.TempDir()
	sc, err := scanner.New(scanner.Options{Root: root})
	require.NoError(t, err)
	e := embed.NewStaticEmbedder(embed.ModelSpec{Name: "minilm", Dimensions: 384})
	layout := store.NewLayout(filepath.Join(root, ".vgrep"))

	tests := []struct {
		name string
		deps RunnerDependencies
		want string
	}{
		{"missing config", RunnerDependencies{Embedder: e, Layout: layout, Scanner: sc}, "config is required"},
		{"missing embedder", RunnerDependencies{Config: config.NewConfig(), Layout: layout, Scanner: sc}, "embedder is required"},
		{"missing layout", RunnerDependencies{Config: config.NewConfig(), Embedder: e, Scanner: sc}, "data directory is required"},
		{"missing scanner", RunnerDependencies{Config: config.NewConfig(), Embedder: e, Layout: layout}, "scanner is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	r, err := NewRunner(RunnerDependencies{Config: config.NewConfig(), Embedder: e, Layout: layout, Scanner: sc})
	require.NoError(t, err)
	assert.NotNil(t, r.Handle())
}

func TestRunner_WatchSyncsBatches(t *testing.T) {
	// Given an indexed project and a stream of event batches
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	events := make(chan []watcher.FileEvent)
	reports := make(chan *Stats, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.runner.Watch(ctx, events, func(s *Stats, err error) {
			assert.NoError(t, err)
			reports <- s
		})
	}()

	// When a file is created and another deleted
	writeFile(t, f.root, "auth/session.go", "package auth\n\nfunc Refresh() {}\n")
	require.NoError(t, os.Remove(filepath.Join(f.root, "README.md")))
	events <- []watcher.FileEvent{
		{Path: "README.md", Operation: watcher.OpDelete},
		{Path: "auth/session.go", Operation: watcher.OpCreate},
	}

	// Then one sync covers both
	select {
	case s := <-reports:
		assert.Equal(t, 1, s.Added)
		assert.Equal(t, 1, s.Removed)
		assert.True(t, s.Published)
	case <-time.After(5 * time.Second):
		t.Fatal("no sync reported")
	}

	close(events)
	require.NoError(t, <-done)
}

func TestRunner_WatchIgnoreChangeRunsFullSync(t *testing.T) {
	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	events := make(chan []watcher.FileEvent, 1)
	reports := make(chan *Stats, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = f.runner.Watch(ctx, events, func(s *Stats, _ error) { reports <- s })
	}()

	writeFile(t, f.root, ".vgrepignore", "db/\n")
	events <- []watcher.FileEvent{{Path: ".vgrepignore", Operation: watcher.OpIgnoreChange}}

	select {
	case s := <-reports:
		require.NotNil(t, s)
		assert.Equal(t, 1, s.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no sync reported")
	}
}

func TestRunner_WatchRetriesWhenLocked(t *testing.T) {
	// Given another writer holding the lock
	saved := lockedRetryDelay
	lockedRetryDelay = 20 * time.Millisecond
	defer func() { lockedRetryDelay = saved }()

	f := newFixture(t, threeFiles())
	_, err := f.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	other := flock.New(f.layout.LockPath())
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	events := make(chan []watcher.FileEvent, 1)
	reports := make(chan *Stats, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = f.runner.Watch(ctx, events, func(s *Stats, err error) {
			assert.NoError(t, err)
			reports <- s
		})
	}()

	// When a change arrives while locked
	writeFile(t, f.root, "auth/jwt.go", "package auth\n\nfunc Rotate() {}\n")
	events <- []watcher.FileEvent{{Path: "auth/jwt.go", Operation: watcher.OpModify}}

	select {
	case <-reports:
		t.Fatal("sync reported while locked")
	case <-time.After(100 * time.Millisecond):
	}

	// Then it is applied once the lock is released
	require.NoError(t, other.Unlock())
	select {
	case s := <-reports:
		assert.Equal(t, 1, s.Modified)
	case <-time.After(5 * time.Second):
		t.Fatal("deferred sync never ran")
	}
}

func TestRunner_WatchStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Watch(ctx, make(chan []watcher.FileEvent), nil) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}
}
