package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/manifest"
)

// File names inside the data directory.
const (
	currentFile      = "CURRENT"
	lockFile         = "lock"
	modelFile        = "model.json"
	historyFile      = "history.db"
	graphFileName    = "graph.gob"
	manifestFileName = "manifest.gob"
	genPrefix        = "gen-"
	tmpSuffix        = ".tmp"
)

// ModelTag identifies the embedding space of an index.
type ModelTag struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// Matches reports whether the tag describes model with dims.
func (t ModelTag) Matches(model string, dims int) bool {
	return t.Model == model && t.Dimensions == dims
}

// Generation is one immutable published index: graph plus manifest.
type Generation struct {
	Number      uint64
	Graph       *Graph
	Manifest    *manifest.Manifest
	Tag         ModelTag
	PublishedAt time.Time
}

// Layout resolves paths inside a project's data directory.
type Layout struct {
	Dir string
}

// NewLayout returns the layout for a data directory (usually <root>/.vgrep).
func NewLayout(dir string) Layout {
	return Layout{Dir: dir}
}

func (l Layout) LockPath() string     { return filepath.Join(l.Dir, lockFile) }
func (l Layout) CurrentPath() string  { return filepath.Join(l.Dir, currentFile) }
func (l Layout) ModelTagPath() string { return filepath.Join(l.Dir, modelFile) }
func (l Layout) HistoryPath() string  { return filepath.Join(l.Dir, historyFile) }

// GenerationDir returns the directory of generation n.
func (l Layout) GenerationDir(n uint64) string {
	return filepath.Join(l.Dir, genName(n))
}

func genName(n uint64) string { return fmt.Sprintf("%s%d", genPrefix, n) }

func parseGenName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, genPrefix) || strings.HasSuffix(name, tmpSuffix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, genPrefix), 10, 64)
	return n, err == nil && n > 0
}

// Ensure creates the data directory.
func (l Layout) Ensure() error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return verrors.New(verrors.ErrCodeDataDir, fmt.Sprintf("cannot create %s", l.Dir), err)
	}
	return nil
}

// Current returns the active generation number.
func (l Layout) Current() (uint64, error) {
	data, err := os.ReadFile(l.CurrentPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, notIndexed(l.Dir)
		}
		return 0, corrupt("CURRENT is unreadable", err)
	}
	n, ok := parseGenName(strings.TrimSpace(string(data)))
	if !ok {
		return 0, corrupt(fmt.Sprintf("CURRENT names %q", strings.TrimSpace(string(data))), nil)
	}
	return n, nil
}

// Load reads the active generation. A missing data directory or CURRENT
// file is ErrNotIndexed; anything unreadable after that is ErrCorruptIndex.
func (l Layout) Load() (*Generation, error) {
	n, err := l.Current()
	if err != nil {
		return nil, err
	}
	return l.LoadGeneration(n)
}

// LoadGeneration reads generation n.
func (l Layout) LoadGeneration(n uint64) (*Generation, error) {
	dir := l.GenerationDir(n)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, corrupt(fmt.Sprintf("%s is missing", genName(n)), err)
	}

	tag, err := readTag(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, err
	}

	gf, err := os.Open(filepath.Join(dir, graphFileName))
	if err != nil {
		return nil, corrupt("graph file is missing", err)
	}
	graph, err := ReadGraph(gf)
	_ = gf.Close()
	if err != nil {
		return nil, err
	}

	mf, err := os.Open(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, corrupt("manifest file is missing", err)
	}
	m, err := manifest.Read(mf)
	_ = mf.Close()
	if err != nil {
		return nil, err
	}

	if graph.Dimensions() != tag.Dimensions || m.Dimensions != tag.Dimensions || m.Model != tag.Model {
		return nil, corrupt("model tag does not match graph and manifest", nil)
	}

	return &Generation{
		Number:      n,
		Graph:       graph,
		Manifest:    m,
		Tag:         tag,
		PublishedAt: info.ModTime(),
	}, nil
}

// ReadTag returns the model tag of the last published generation.
func (l Layout) ReadTag() (ModelTag, error) {
	n, err := l.Current()
	if err != nil {
		return ModelTag{}, err
	}
	return readTag(filepath.Join(l.GenerationDir(n), modelFile))
}

func readTag(path string) (ModelTag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelTag{}, corrupt("model tag is missing", err)
	}
	var tag ModelTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return ModelTag{}, corrupt("model tag does not parse", err)
	}
	if tag.Model == "" || tag.Dimensions <= 0 {
		return ModelTag{}, corrupt("model tag is empty", nil)
	}
	return tag, nil
}

// Publish writes gen as the next generation and makes it current in one
// rename. The previous generation is kept; older ones are removed.
// gen.Number and gen.PublishedAt are set on success.
func (l Layout) Publish(gen *Generation) error {
	if err := l.Ensure(); err != nil {
		return err
	}

	next, err := l.nextNumber()
	if err != nil {
		return err
	}

	final := l.GenerationDir(next)
	tmp := final + tmpSuffix
	if err := os.RemoveAll(tmp); err != nil {
		return ioError("clear staging directory", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return ioError("create staging directory", err)
	}

	if err := writeSynced(filepath.Join(tmp, graphFileName), func(f *os.File) error {
		_, err := gen.Graph.WriteTo(f)
		return err
	}); err != nil {
		_ = os.RemoveAll(tmp)
		return ioError("write graph", err)
	}
	if err := writeSynced(filepath.Join(tmp, manifestFileName), func(f *os.File) error {
		_, err := gen.Manifest.WriteTo(f)
		return err
	}); err != nil {
		_ = os.RemoveAll(tmp)
		return ioError("write manifest", err)
	}
	tagData, err := json.MarshalIndent(gen.Tag, "", "  ")
	if err != nil {
		_ = os.RemoveAll(tmp)
		return verrors.Wrap(verrors.ErrCodeInternal, err)
	}
	if err := renameio.WriteFile(filepath.Join(tmp, modelFile), tagData, 0o644); err != nil {
		_ = os.RemoveAll(tmp)
		return ioError("write model tag", err)
	}
	if err := syncDir(tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return ioError("sync staging directory", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		return ioError("rename generation", err)
	}
	if err := syncDir(l.Dir); err != nil {
		_ = os.RemoveAll(final)
		return ioError("sync data directory", err)
	}

	// The swap: readers see the old or the new name, never a partial file.
	if err := renameio.WriteFile(l.CurrentPath(), []byte(genName(next)+"\n"), 0o644); err != nil {
		_ = os.RemoveAll(final)
		return ioError("swap CURRENT", err)
	}
	if err := syncDir(l.Dir); err != nil {
		return ioError("sync data directory", err)
	}

	// Mirror of the active tag for tools that inspect the directory.
	_ = renameio.WriteFile(l.ModelTagPath(), tagData, 0o644)

	gen.Number = next
	gen.PublishedAt = time.Now()
	l.prune(next)
	return nil
}

// syncDir flushes a directory's entries so renames inside it survive a
// crash. Replaced in tests.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// nextNumber is one past the highest generation on disk, so a crashed
// publish never reuses a directory name.
func (l Layout) nextNumber() (uint64, error) {
	var highest uint64
	for _, n := range l.generations() {
		highest = max(highest, n)
	}
	if cur, err := l.Current(); err == nil {
		highest = max(highest, cur)
	}
	return highest + 1, nil
}

// generations lists generation numbers present on disk, ascending.
func (l Layout) generations() []uint64 {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil
	}
	var nums []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseGenName(e.Name()); ok {
			nums = append(nums, n)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// prune removes generations older than the one before current, and
// staging directories left by interrupted publishes.
func (l Layout) prune(current uint64) {
	nums := l.generations()
	var prev uint64
	for _, n := range nums {
		if n < current {
			prev = n
		}
	}
	for _, n := range nums {
		if n != current && n != prev {
			_ = os.RemoveAll(l.GenerationDir(n))
		}
	}

	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) && strings.HasSuffix(e.Name(), tmpSuffix) {
			_ = os.RemoveAll(filepath.Join(l.Dir, e.Name()))
		}
	}
}

// Generations returns the generation numbers kept on disk.
func (l Layout) Generations() []uint64 {
	return l.generations()
}

// DiskUsage sums the size of every file in the data directory.
func (l Layout) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(l.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return total, err
	}
	return total, nil
}

func writeSynced(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ioError(what string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return verrors.New(verrors.ErrCodeDiskFull, "disk full while publishing index: "+what, err)
	}
	return verrors.New(verrors.ErrCodeDataDir, "cannot publish index: "+what, err)
}
