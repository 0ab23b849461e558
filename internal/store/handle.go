package store

import (
	"sync"
	"sync/atomic"
)

// Handle gives readers the current generation of one index. Each Current
// call returns a complete generation; a concurrent publish is seen either
// not at all or in full.
type Handle struct {
	layout Layout
	gen    atomic.Pointer[Generation]

	mu sync.Mutex // serializes disk loads
}

// Open creates a handle. Nothing is read until the first Current call.
func Open(layout Layout) *Handle {
	return &Handle{layout: layout}
}

// Layout returns the handle's data directory layout.
func (h *Handle) Layout() Layout { return h.layout }

// Current returns the loaded generation, loading it from disk on first use.
func (h *Handle) Current() (*Generation, error) {
	if g := h.gen.Load(); g != nil {
		return g, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g := h.gen.Load(); g != nil {
		return g, nil
	}
	g, err := h.layout.Load()
	if err != nil {
		return nil, err
	}
	h.gen.Store(g)
	return g, nil
}

// Refresh reloads from disk when another process published a newer
// generation. It reports whether the handle moved.
func (h *Handle) Refresh() (bool, error) {
	n, err := h.layout.Current()
	if err != nil {
		return false, err
	}
	if g := h.gen.Load(); g != nil && g.Number == n {
		return false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if g := h.gen.Load(); g != nil && g.Number >= n {
		return false, nil
	}
	g, err := h.layout.LoadGeneration(n)
	if err != nil {
		return false, err
	}
	h.gen.Store(g)
	return true, nil
}

// Swap installs a generation this process just published.
func (h *Handle) Swap(g *Generation) {
	h.gen.Store(g)
}
