// Package ui renders sync progress: a bubbletea view on interactive
// terminals and line-oriented text everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of a sync run.
type Stage int

const (
	StageScanning Stage = iota
	StageChunking
	StageEmbedding
	StageIndexing
	StagePublishing
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageChunking:
		return "Chunking"
	case StageEmbedding:
		return "Embedding"
	case StageIndexing:
		return "Indexing"
	case StagePublishing:
		return "Publishing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon is the short tag used by the plain renderer.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageChunking:
		return "CHUNK"
	case StageEmbedding:
		return "EMBED"
	case StageIndexing:
		return "INDEX"
	case StagePublishing:
		return "PUBLISH"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent reports movement within a stage.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent reports a problem with one file. Warnings do not stop a sync.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings breaks a run's duration down by stage.
type StageTimings struct {
	Scan    time.Duration // Enumerate, read and fingerprint
	Embed   time.Duration
	Index   time.Duration // Graph updates and compaction
	Publish time.Duration
}

// EmbedderInfo names the model that produced the vectors.
type EmbedderInfo struct {
	Model      string // provider:model
	Dimensions int
}

// CompletionStats summarizes a finished sync.
type CompletionStats struct {
	Added      int
	Modified   int
	Removed    int
	Unchanged  int
	Skipped    int
	Fragments  int // Live fragments in the index after the run
	Embedded   int // Fragments embedded by this run
	Generation uint64
	Published  bool
	Compacted  bool
	Duration   time.Duration
	Stages     StageTimings
	Embedder   EmbedderInfo
}

// Files returns the number of files the index covers after the run.
func (s CompletionStats) Files() int {
	return s.Added + s.Modified + s.Unchanged
}

// Renderer displays sync progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures renderer selection.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	ProjectDir string // Shown in the TUI header
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig builds a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and the plain
// renderer for pipes, CI and explicit requests.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}

// Nop discards everything. Watch loops and the MCP server use it.
type Nop struct{}

func (Nop) Start(context.Context) error  { return nil }
func (Nop) UpdateProgress(ProgressEvent) {}
func (Nop) AddError(ErrorEvent)          {}
func (Nop) Complete(CompletionStats)     {}
func (Nop) Stop() error                  { return nil }
