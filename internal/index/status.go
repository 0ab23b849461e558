package index

import (
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

// Status describes the generation h currently serves, refreshing it
// first so another process's publish is reported.
func Status(root string, h *store.Handle) (ui.IndexStats, error) {
	if _, err := h.Refresh(); err != nil {
		return ui.IndexStats{}, err
	}
	gen, err := h.Current()
	if err != nil {
		return ui.IndexStats{}, err
	}

	gs := gen.Graph.Stats()
	st := ui.IndexStats{
		Root:           root,
		Model:          gen.Tag.Model,
		Dimensions:     gen.Tag.Dimensions,
		Generation:     gen.Number,
		Files:          gen.Manifest.Len(),
		Fragments:      gen.Manifest.FragmentCount(),
		Tombstones:     gs.Tombstones,
		TombstoneRatio: gs.TombstoneRatio,
		IndexedAt:      gen.PublishedAt,
		CreatedAt:      gen.Tag.CreatedAt,
	}
	// Disk usage is informational; a racing prune can make the walk fail.
	if n, err := h.Layout().DiskUsage(); err == nil {
		st.DiskBytes = n
	}
	return st, nil
}
