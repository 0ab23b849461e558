package store

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// node is one arena slot. Neighbor lists hold arena indices, one list per
// layer from 0 to level.
//
// parent is the nearest node found when this one was inserted, or -1. The
// layer-0 edges between a node and its parent are never pruned, so layer 0
// always contains a spanning tree and every node stays reachable from the
// entry point.
type node struct {
	id        uint64
	vec       []float32
	level     int
	neighbors [][]int32
	parent    int32
	dead      bool
}

// Graph is a hierarchical navigable small-world graph over an arena of
// nodes. Deleted nodes are tombstoned and keep routing searches until
// Compact rebuilds the arena.
//
// A Graph is not safe for concurrent mutation. Concurrent Search calls are
// safe while no writer is active; writers work on a Clone.
type Graph struct {
	cfg      GraphConfig
	dist     func(a, b []float32) float32
	nodes    []node
	byID     map[uint64]int32 // live nodes only
	entry    int32            // -1 when empty
	topLevel int
	dead     int
}

// NewGraph creates an empty graph.
func NewGraph(cfg GraphConfig) *Graph {
	cfg = cfg.withDefaults()
	return &Graph{
		cfg:   cfg,
		dist:  cfg.distanceFunc(),
		byID:  make(map[uint64]int32),
		entry: -1,
	}
}

// Config returns the graph parameters.
func (g *Graph) Config() GraphConfig { return g.cfg }

// Dimensions returns the vector length the graph accepts.
func (g *Graph) Dimensions() int { return g.cfg.Dimensions }

// Len returns the number of arena nodes, tombstones included.
func (g *Graph) Len() int { return len(g.nodes) }

// Live returns the number of searchable nodes.
func (g *Graph) Live() int { return len(g.byID) }

// Tombstones returns the number of deleted nodes still in the arena.
func (g *Graph) Tombstones() int { return g.dead }

// TombstoneRatio is tombstones over live nodes. An empty live set with
// tombstones reports +Inf.
func (g *Graph) TombstoneRatio() float64 {
	if g.dead == 0 {
		return 0
	}
	if len(g.byID) == 0 {
		return math.Inf(1)
	}
	return float64(g.dead) / float64(len(g.byID))
}

// NeedsCompaction reports whether tombstones exceed threshold of live nodes.
func (g *Graph) NeedsCompaction(threshold float64) bool {
	return g.dead > 0 && g.TombstoneRatio() > threshold
}

// Contains reports whether id is live.
func (g *Graph) Contains(id uint64) bool {
	_, ok := g.byID[id]
	return ok
}

// IDs returns live IDs in ascending order.
func (g *Graph) IDs() []uint64 {
	ids := make([]uint64, 0, len(g.byID))
	for id := range g.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Vector returns a live node's stored (normalized) vector.
func (g *Graph) Vector(id uint64) ([]float32, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.nodes[idx].vec, true
}

// Stats summarizes occupancy.
func (g *Graph) Stats() Stats {
	return Stats{
		Nodes:          len(g.nodes),
		Live:           len(g.byID),
		Tombstones:     g.dead,
		TombstoneRatio: g.TombstoneRatio(),
		MaxLevel:       g.topLevel,
		Dimensions:     g.cfg.Dimensions,
	}
}

// maxConn is the neighbor cap for a layer.
func (g *Graph) maxConn(layer int) int {
	if layer == 0 {
		return 2 * g.cfg.M
	}
	return g.cfg.M
}

// randomLevel draws an exponentially decaying level from an RNG seeded by
// the graph seed and the node ID, so rebuilds are reproducible.
func (g *Graph) randomLevel(id uint64) int {
	r := rand.New(rand.NewPCG(g.cfg.Seed, id))
	u := 1 - r.Float64() // (0, 1]
	return min(int(math.Floor(-math.Log(u)*g.cfg.Ml)), maxLevel)
}

// Add inserts vec under id. A live node with the same id is tombstoned first.
func (g *Graph) Add(id uint64, vec []float32) error {
	if len(vec) != g.cfg.Dimensions {
		return dimensionMismatch(g.cfg.Dimensions, len(vec))
	}
	v := make([]float32, len(vec))
	copy(v, vec)
	normalize(v)

	g.Delete(id)

	level := g.randomLevel(id)
	idx := int32(len(g.nodes))
	g.nodes = append(g.nodes, node{
		id:        id,
		vec:       v,
		level:     level,
		neighbors: make([][]int32, level+1),
		parent:    -1,
	})
	g.byID[id] = idx

	if g.entry < 0 {
		g.entry = idx
		g.topLevel = level
		return nil
	}

	ep := g.entry
	for l := g.topLevel; l > level; l-- {
		ep = g.greedy(v, ep, l)
	}

	for l := min(level, g.topLevel); l >= 0; l-- {
		cands := g.searchLayer(v, ep, g.cfg.EfConstruction, l, idx)
		if len(cands) == 0 {
			continue
		}
		limit := min(g.cfg.M, len(cands))
		links := make([]int32, 0, limit)
		for _, c := range cands[:limit] {
			links = append(links, c.idx)
		}
		g.nodes[idx].neighbors[l] = links
		if l == 0 {
			g.nodes[idx].parent = cands[0].idx
		}
		for _, n := range links {
			g.link(n, idx, l)
		}
		ep = cands[0].idx
	}

	if level > g.topLevel {
		g.topLevel = level
		g.entry = idx
	}
	return nil
}

// link adds an edge from n to to at layer, pruning n's list to its nearest.
// At layer 0 tree edges survive pruning even if that leaves the list over
// the cap.
func (g *Graph) link(n, to int32, layer int) {
	nb := append(g.nodes[n].neighbors[layer], to)
	limit := g.maxConn(layer)
	if len(nb) > limit {
		base := g.nodes[n].vec
		sort.SliceStable(nb, func(i, j int) bool {
			return g.dist(base, g.nodes[nb[i]].vec) < g.dist(base, g.nodes[nb[j]].vec)
		})
		if layer == 0 {
			nb = g.prune(n, nb, limit)
		} else {
			nb = nb[:limit]
		}
	}
	g.nodes[n].neighbors[layer] = nb
}

// prune keeps every tree edge of n plus its nearest other neighbors up to
// limit. nb must be sorted nearest first; the result keeps that order.
func (g *Graph) prune(n int32, nb []int32, limit int) []int32 {
	room := limit
	for _, m := range nb {
		if g.treeEdge(n, m) {
			room--
		}
	}
	kept := make([]int32, 0, limit)
	for _, m := range nb {
		switch {
		case g.treeEdge(n, m):
			kept = append(kept, m)
		case room > 0:
			kept = append(kept, m)
			room--
		}
	}
	return kept
}

func (g *Graph) treeEdge(a, b int32) bool {
	return g.nodes[a].parent == b || g.nodes[b].parent == a
}

// Delete tombstones id. The node stays in the arena as a waypoint.
func (g *Graph) Delete(id uint64) bool {
	idx, ok := g.byID[id]
	if !ok {
		return false
	}
	g.nodes[idx].dead = true
	delete(g.byID, id)
	g.dead++
	return true
}

// Search returns up to k live nodes nearest to query, ordered by
// similarity descending then ID ascending. Tombstoned nodes are traversed
// but never returned. When tombstones crowd the beam it is widened until k
// live hits are found or the whole arena was considered.
func (g *Graph) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != g.cfg.Dimensions {
		return nil, dimensionMismatch(g.cfg.Dimensions, len(query))
	}
	if k <= 0 || len(g.byID) == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	ep := g.entry
	for l := g.topLevel; l > 0; l-- {
		ep = g.greedy(q, ep, l)
	}

	want := min(k, len(g.byID))
	ef := max(g.cfg.EfSearch, k)
	var hits []Hit
	for {
		hits = hits[:0]
		for _, c := range g.searchLayer(q, ep, ef, 0, -1) {
			n := &g.nodes[c.idx]
			if n.dead {
				continue
			}
			hits = append(hits, Hit{ID: n.id, Similarity: g.cfg.similarity(c.dist)})
		}
		if len(hits) >= want || ef >= len(g.nodes) {
			break
		}
		ef = min(ef*2, len(g.nodes))
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
}

// greedy walks layer toward q from ep and returns the closest node reached.
func (g *Graph) greedy(q []float32, ep int32, layer int) int32 {
	cur := ep
	curDist := g.dist(q, g.nodes[cur].vec)
	for changed := true; changed; {
		changed = false
		for _, n := range g.nodes[cur].neighbors[layer] {
			if d := g.dist(q, g.nodes[n].vec); d < curDist {
				cur, curDist = n, d
				changed = true
			}
		}
	}
	return cur
}

type candidate struct {
	idx  int32
	dist float32
}

// searchLayer runs a beam search of width ef on layer from ep, returning
// candidates sorted nearest first. skip excludes one arena index (the node
// being inserted).
func (g *Graph) searchLayer(q []float32, ep int32, ef, layer int, skip int32) []candidate {
	visited := make([]bool, len(g.nodes))
	visited[ep] = true
	if skip >= 0 {
		visited[skip] = true
	}

	start := candidate{idx: ep, dist: g.dist(q, g.nodes[ep].vec)}
	frontier := &minHeap{start}
	best := &maxHeap{start}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if best.Len() >= ef && c.dist > (*best)[0].dist {
			break
		}
		nb := g.nodes[c.idx].neighbors
		if layer >= len(nb) {
			continue
		}
		for _, n := range nb[layer] {
			if visited[n] {
				continue
			}
			visited[n] = true
			d := g.dist(q, g.nodes[n].vec)
			if best.Len() < ef || d < (*best)[0].dist {
				heap.Push(frontier, candidate{idx: n, dist: d})
				heap.Push(best, candidate{idx: n, dist: d})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]candidate, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(candidate)
	}
	return out
}

// Clone returns a deep copy for a writer to mutate. Vectors are shared;
// they are never modified after insertion.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		cfg:      g.cfg,
		dist:     g.dist,
		nodes:    make([]node, len(g.nodes)),
		byID:     make(map[uint64]int32, len(g.byID)),
		entry:    g.entry,
		topLevel: g.topLevel,
		dead:     g.dead,
	}
	for i, n := range g.nodes {
		nb := make([][]int32, len(n.neighbors))
		for l, list := range n.neighbors {
			nb[l] = append([]int32(nil), list...)
		}
		n.neighbors = nb
		c.nodes[i] = n
	}
	for id, idx := range g.byID {
		c.byID[id] = idx
	}
	return c
}

// Compact rebuilds the graph from live nodes in arena order. Indices are
// reassigned densely and a new entry point is chosen by insertion.
func (g *Graph) Compact() (*Graph, error) {
	c := NewGraph(g.cfg)
	for _, n := range g.nodes {
		if n.dead {
			continue
		}
		if err := c.Add(n.id, n.vec); err != nil {
			return nil, fmt.Errorf("compact node %016x: %w", n.id, err)
		}
	}
	if c.Live() != g.Live() {
		return nil, fmt.Errorf("compact kept %d of %d live nodes", c.Live(), g.Live())
	}
	return c, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
