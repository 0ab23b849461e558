// Package manifest tracks which files are indexed, their content
// fingerprints, and the fragments each file owns.
package manifest

import (
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// Entry records one indexed file.
type Entry struct {
	Path        string
	Fingerprint string
	ModTime     time.Time
	Size        int64
	Fragments   []chunk.Fragment
}

// FragmentIDs returns the IDs of the fragments the file owns, in file order.
func (e *Entry) FragmentIDs() []uint64 {
	ids := make([]uint64, len(e.Fragments))
	for i, f := range e.Fragments {
		ids[i] = f.ID
	}
	return ids
}

type fragRef struct {
	path string
	pos  int
}

// Manifest maps paths to entries. It is not safe for concurrent mutation;
// a published manifest is only read.
type Manifest struct {
	Model      string
	Dimensions int

	entries map[string]*Entry
	byID    map[uint64]fragRef
}

// New creates an empty manifest for a model.
func New(model string, dims int) *Manifest {
	return &Manifest{
		Model:      model,
		Dimensions: dims,
		entries:    make(map[string]*Entry),
		byID:       make(map[uint64]fragRef),
	}
}

// Get returns the entry for path.
func (m *Manifest) Get(path string) (*Entry, bool) {
	e, ok := m.entries[path]
	return e, ok
}

// Put stores e, replacing any entry for the same path.
func (m *Manifest) Put(e *Entry) {
	m.Remove(e.Path)
	m.entries[e.Path] = e
	for i, f := range e.Fragments {
		m.byID[f.ID] = fragRef{path: e.Path, pos: i}
	}
}

// Remove drops the entry for path and returns it.
func (m *Manifest) Remove(path string) (*Entry, bool) {
	e, ok := m.entries[path]
	if !ok {
		return nil, false
	}
	for _, f := range e.Fragments {
		if ref, ok := m.byID[f.ID]; ok && ref.path == path {
			delete(m.byID, f.ID)
		}
	}
	delete(m.entries, path)
	return e, true
}

// Fragment looks up a fragment by ID.
func (m *Manifest) Fragment(id uint64) (chunk.Fragment, bool) {
	ref, ok := m.byID[id]
	if !ok {
		return chunk.Fragment{}, false
	}
	return m.entries[ref.path].Fragments[ref.pos], true
}

// Paths returns all indexed paths, sorted.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FragmentIDs returns every owned fragment ID, sorted.
func (m *Manifest) FragmentIDs() []uint64 {
	ids := make([]uint64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of files.
func (m *Manifest) Len() int { return len(m.entries) }

// FragmentCount returns the number of fragments across all files.
func (m *Manifest) FragmentCount() int { return len(m.byID) }

// Clone returns a copy whose entry set can be changed independently.
// Entries themselves are shared; Put replaces rather than mutates them.
func (m *Manifest) Clone() *Manifest {
	c := New(m.Model, m.Dimensions)
	for p, e := range m.entries {
		c.entries[p] = e
	}
	for id, ref := range m.byID {
		c.byID[id] = ref
	}
	return c
}

// fileFormat is the encoded form. Entries are sorted by path so identical
// manifests encode to identical bytes.
type fileFormat struct {
	Version    int
	Model      string
	Dimensions int
	Entries    []*Entry
}

const formatVersion = 1

// WriteTo encodes the manifest with gob.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	f := fileFormat{
		Version:    formatVersion,
		Model:      m.Model,
		Dimensions: m.Dimensions,
		Entries:    make([]*Entry, 0, len(m.entries)),
	}
	for _, p := range m.Paths() {
		f.Entries = append(f.Entries, m.entries[p])
	}
	cw := &countingWriter{w: w}
	if err := gob.NewEncoder(cw).Encode(&f); err != nil {
		return cw.n, fmt.Errorf("encode manifest: %w", err)
	}
	return cw.n, nil
}

// Read decodes a manifest. Malformed input is a corrupt index.
func Read(r io.Reader) (*Manifest, error) {
	var f fileFormat
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, verrors.New(verrors.ErrCodeCorruptIndex, "manifest does not decode", err)
	}
	if f.Version != formatVersion {
		return nil, verrors.Newf(verrors.ErrCodeCorruptIndex, "manifest format version %d, expected %d", f.Version, formatVersion)
	}

	m := New(f.Model, f.Dimensions)
	for _, e := range f.Entries {
		if e == nil || e.Path == "" {
			return nil, verrors.New(verrors.ErrCodeCorruptIndex, "manifest has an empty entry", nil)
		}
		if _, dup := m.entries[e.Path]; dup {
			return nil, verrors.Newf(verrors.ErrCodeCorruptIndex, "manifest lists %s twice", e.Path)
		}
		m.Put(e)
	}
	return m, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
