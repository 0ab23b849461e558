package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// IndexStats describes a published index for 'vgrep stats'.
type IndexStats struct {
	Root           string    `json:"root"`
	Model          string    `json:"model"`
	Dimensions     int       `json:"dimensions"`
	Generation     uint64    `json:"generation"`
	Files          int       `json:"files"`
	Fragments      int       `json:"fragments"`
	Tombstones     int       `json:"tombstones"`
	TombstoneRatio float64   `json:"tombstone_ratio"`
	DiskBytes      int64     `json:"disk_bytes"`
	IndexedAt      time.Time `json:"indexed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// StatsRenderer prints IndexStats.
type StatsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatsRenderer creates a stats renderer.
func NewStatsRenderer(out io.Writer, noColor bool) *StatsRenderer {
	return &StatsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a labelled summary.
func (r *StatsRenderer) Render(s IndexStats) error {
	label := r.styles.Label.Render
	row := func(name, value string) {
		_, _ = fmt.Fprintf(r.out, "  %s %s\n", label(fmt.Sprintf("%-12s", name+":")), value)
	}

	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Index: "+s.Root))
	row("Model", fmt.Sprintf("%s (%d dims)", s.Model, s.Dimensions))
	row("Generation", fmt.Sprintf("%d", s.Generation))
	row("Files", humanize.Comma(int64(s.Files)))
	row("Fragments", humanize.Comma(int64(s.Fragments)))

	ratio := fmt.Sprintf("%d (%.1f%%)", s.Tombstones, s.TombstoneRatio*100)
	if s.Tombstones > 0 {
		ratio = r.styles.Warning.Render(ratio)
	}
	row("Tombstones", ratio)
	row("Disk", humanize.Bytes(uint64(max(s.DiskBytes, 0))))
	if !s.IndexedAt.IsZero() {
		row("Updated", humanize.Time(s.IndexedAt))
	}
	return nil
}

// RenderJSON writes s as indented JSON.
func (r *StatsRenderer) RenderJSON(s IndexStats) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
