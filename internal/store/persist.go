package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
)

// graphFormatVersion is bumped when graphFile changes shape. Version 1
// files carry no parents and load with every parent unset.
const graphFormatVersion = 2

type graphFile struct {
	Version  int
	Config   GraphConfig
	Entry    int32
	TopLevel int
	Nodes    []nodeRecord
}

type nodeRecord struct {
	ID        uint64
	Vec       []float32
	Level     int
	Neighbors [][]int32
	Parent    int32
	Dead      bool
}

// WriteTo encodes the graph with gob.
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	f := graphFile{
		Version:  graphFormatVersion,
		Config:   g.cfg,
		Entry:    g.entry,
		TopLevel: g.topLevel,
		Nodes:    make([]nodeRecord, len(g.nodes)),
	}
	for i, n := range g.nodes {
		f.Nodes[i] = nodeRecord{ID: n.id, Vec: n.vec, Level: n.level, Neighbors: n.neighbors, Parent: n.parent, Dead: n.dead}
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	if err := gob.NewEncoder(bw).Encode(&f); err != nil {
		return cw.n, fmt.Errorf("encode graph: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadGraph decodes and validates a graph. Any decoding or structural
// failure is reported as a corrupt index.
func ReadGraph(r io.Reader) (*Graph, error) {
	var f graphFile
	if err := gob.NewDecoder(bufio.NewReader(r)).Decode(&f); err != nil {
		return nil, corrupt("graph does not decode", err)
	}
	if f.Version != graphFormatVersion && f.Version != 1 {
		return nil, corrupt(fmt.Sprintf("graph format version %d, expected %d", f.Version, graphFormatVersion), nil)
	}
	if f.Config.Dimensions <= 0 {
		return nil, corrupt("graph has no dimensions", nil)
	}

	g := NewGraph(f.Config)
	g.nodes = make([]node, len(f.Nodes))
	g.entry = f.Entry
	g.topLevel = f.TopLevel

	count := int32(len(f.Nodes))
	if (count == 0) != (f.Entry < 0) || f.Entry >= count {
		return nil, corrupt(fmt.Sprintf("entry point %d out of range", f.Entry), nil)
	}

	for i, rec := range f.Nodes {
		if len(rec.Vec) != f.Config.Dimensions {
			return nil, corrupt(fmt.Sprintf("node %d has %d dimensions", i, len(rec.Vec)), nil)
		}
		if rec.Level < 0 || len(rec.Neighbors) != rec.Level+1 {
			return nil, corrupt(fmt.Sprintf("node %d has inconsistent levels", i), nil)
		}
		for _, list := range rec.Neighbors {
			for _, n := range list {
				if n < 0 || n >= count {
					return nil, corrupt(fmt.Sprintf("node %d links to %d", i, n), nil)
				}
			}
		}
		parent := rec.Parent
		if f.Version == 1 {
			parent = -1
		}
		if parent < -1 || parent >= count || parent == int32(i) {
			return nil, corrupt(fmt.Sprintf("node %d has parent %d", i, parent), nil)
		}
		g.nodes[i] = node{id: rec.ID, vec: rec.Vec, level: rec.Level, neighbors: rec.Neighbors, parent: parent, dead: rec.Dead}
		if rec.Dead {
			g.dead++
			continue
		}
		if _, dup := g.byID[rec.ID]; dup {
			return nil, corrupt(fmt.Sprintf("duplicate live id %016x", rec.ID), nil)
		}
		g.byID[rec.ID] = int32(i)
	}
	if count > 0 && g.nodes[g.entry].level != g.topLevel {
		return nil, corrupt("entry point is not on the top layer", nil)
	}
	return g, nil
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
