package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// PlainRenderer writes one line per event, for pipes and CI logs.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	stage   Stage
	warns   int
	errors  int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Lines look like
// "[EMBED] 12/40 src/main.go".
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}

	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !stats.Published {
		_, _ = fmt.Fprintf(r.out, "Up to date: %s files, %s fragments (generation %d)\n",
			humanize.Comma(int64(stats.Files())), humanize.Comma(int64(stats.Fragments)), stats.Generation)
		return
	}

	_, _ = fmt.Fprintf(r.out, "Published generation %d: %s files, %s fragments in %s\n",
		stats.Generation,
		humanize.Comma(int64(stats.Files())),
		humanize.Comma(int64(stats.Fragments)),
		stats.Duration.Round(100*time.Millisecond))
	_, _ = fmt.Fprintf(r.out, "  +%d added, ~%d modified, -%d removed, %d unchanged",
		stats.Added, stats.Modified, stats.Removed, stats.Unchanged)
	if stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d skipped", stats.Skipped)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Embed > 0 && stats.Embedded > 0 {
		rate := float64(stats.Embedded) / stats.Stages.Embed.Seconds()
		_, _ = fmt.Fprintf(r.out, "  Embed:   %s (%d fragments @ %.1f/sec)\n",
			stats.Stages.Embed.Round(time.Millisecond), stats.Embedded, rate)
	}
	if stats.Stages.Scan > 0 {
		_, _ = fmt.Fprintf(r.out, "  Scan:    %s\n", stats.Stages.Scan.Round(time.Millisecond))
	}
	if stats.Stages.Index > 0 {
		note := ""
		if stats.Compacted {
			note = " (compacted)"
		}
		_, _ = fmt.Fprintf(r.out, "  Index:   %s%s\n", stats.Stages.Index.Round(time.Millisecond), note)
	}
	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "  Model:   %s (%d dims)\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
