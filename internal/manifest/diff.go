package manifest

import (
	"fmt"
	"sort"
	"time"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// Candidate is a file found on disk, with its content fingerprint.
type Candidate struct {
	Path        string
	Fingerprint string
	ModTime     time.Time
	Size        int64
}

// Changes classifies candidates against a manifest. Every list is sorted
// by path.
type Changes struct {
	Added     []Candidate
	Modified  []Candidate
	Unchanged []Candidate
	Removed   []string
}

// Empty reports whether nothing needs to be written.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Diff compares a full enumeration of the tree against m. Manifest paths
// missing from candidates are removed.
func Diff(m *Manifest, candidates []Candidate) Changes {
	return diff(m, candidates, m.Paths())
}

// DiffPaths compares a partial enumeration. Only paths in scope can be
// reported as removed; manifest entries outside scope are left alone.
func DiffPaths(m *Manifest, candidates []Candidate, scope []string) Changes {
	return diff(m, candidates, scope)
}

func diff(m *Manifest, candidates []Candidate, scope []string) Changes {
	var ch Changes
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		if seen[c.Path] {
			continue
		}
		seen[c.Path] = true

		e, ok := m.Get(c.Path)
		switch {
		case !ok:
			ch.Added = append(ch.Added, c)
		case e.Fingerprint != c.Fingerprint:
			ch.Modified = append(ch.Modified, c)
		default:
			ch.Unchanged = append(ch.Unchanged, c)
		}
	}

	for _, p := range scope {
		if seen[p] {
			continue
		}
		if _, ok := m.Get(p); ok {
			ch.Removed = append(ch.Removed, p)
			seen[p] = true
		}
	}

	byPath := func(s []Candidate) {
		sort.Slice(s, func(i, j int) bool { return s[i].Path < s[j].Path })
	}
	byPath(ch.Added)
	byPath(ch.Modified)
	byPath(ch.Unchanged)
	sort.Strings(ch.Removed)
	return ch
}

// LiveSet is the view of a vector index Verify needs.
type LiveSet interface {
	IDs() []uint64
	Contains(id uint64) bool
}

// Verify checks that the fragment IDs owned by m are exactly the live IDs
// of the index.
func Verify(m *Manifest, live LiveSet) error {
	var missing, orphans int
	for _, id := range m.FragmentIDs() {
		if !live.Contains(id) {
			missing++
		}
	}
	for _, id := range live.IDs() {
		if _, ok := m.Fragment(id); !ok {
			orphans++
		}
	}
	if missing == 0 && orphans == 0 {
		return nil
	}
	return verrors.New(verrors.ErrCodeInconsistentIndex,
		fmt.Sprintf("manifest and index disagree: %d fragments missing from index, %d orphaned vectors", missing, orphans), nil).
		WithDetail("missing", fmt.Sprint(missing)).
		WithDetail("orphans", fmt.Sprint(orphans)).
		WithSuggestion("the next 'vgrep index' rebuilds the index")
}

// ErrInconsistent matches errors returned by Verify.
var ErrInconsistent = verrors.New(verrors.ErrCodeInconsistentIndex, "manifest and index disagree", nil)
