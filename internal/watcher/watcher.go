// Package watcher turns file system notifications under a project root into
// debounced, sorted batches of relative-path events for incremental syncs.
package watcher

import (
	"time"
)

// Operation is the kind of change a FileEvent reports.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename

	// OpIgnoreChange means a .gitignore or .vgrepignore file changed, so
	// the set of indexable paths may have shifted anywhere below it.
	OpIgnoreChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a path relative to the watched root.
type FileEvent struct {
	Path      string // Slash separated
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Filter decides which paths the watcher reports.
type Filter interface {
	Ignored(rel string, isDir bool) bool
}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is how long a path must stay quiet before its event
	// is emitted. Default 500ms.
	DebounceWindow time.Duration

	// EventBufferSize bounds the number of undelivered batches. Default 64.
	EventBufferSize int
}

const (
	DefaultDebounceWindow  = 500 * time.Millisecond
	DefaultEventBufferSize = 64
)

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = DefaultEventBufferSize
	}
	return o
}
