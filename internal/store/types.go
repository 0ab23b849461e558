// Package store holds the vector index: an arena-backed hierarchical
// proximity graph, and its on-disk generations with atomic publication.
package store

import (
	"fmt"
	"math"
	"strings"

	"github.com/coder/hnsw"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// Metric selects the distance function.
type Metric string

const (
	MetricCosine    Metric = "cos"
	MetricEuclidean Metric = "l2"
)

// Graph defaults.
const (
	DefaultM              = 16
	DefaultEfConstruction = 128
	DefaultEfSearch       = 64
	DefaultSeed           = 42

	// maxLevel caps node levels; reaching it needs ~16^16 nodes at M=16.
	maxLevel = 16
)

// GraphConfig holds construction and search parameters. They are persisted
// with the graph.
type GraphConfig struct {
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
	Ml             float64 // level multiplier, 1/ln(M) by default
	Metric         Metric
	Seed           uint64
}

func (c GraphConfig) withDefaults() GraphConfig {
	if c.M < 2 {
		c.M = DefaultM
	}
	if c.EfConstruction < c.M {
		c.EfConstruction = max(DefaultEfConstruction, c.M)
	}
	if c.EfSearch <= 0 {
		c.EfSearch = DefaultEfSearch
	}
	if c.Ml <= 0 {
		c.Ml = 1 / math.Log(float64(c.M))
	}
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	return c
}

// distanceFunc returns the coder/hnsw distance for the metric. NaN, which
// cosine yields for zero vectors, maps to orthogonal.
func (c GraphConfig) distanceFunc() func(a, b []float32) float32 {
	base := hnsw.CosineDistance
	if c.Metric == MetricEuclidean {
		base = hnsw.EuclideanDistance
	}
	return func(a, b []float32) float32 {
		d := base(a, b)
		if d != d {
			if c.Metric == MetricEuclidean {
				return float32(math.Sqrt2)
			}
			return 1
		}
		return d
	}
}

// similarity converts a distance between unit vectors to cosine similarity.
func (c GraphConfig) similarity(d float32) float32 {
	if c.Metric == MetricEuclidean {
		return 1 - d*d/2
	}
	return 1 - d
}

// Hit is one search result.
type Hit struct {
	ID         uint64
	Similarity float32
}

// Stats summarizes graph occupancy.
type Stats struct {
	Nodes          int
	Live           int
	Tombstones     int
	TombstoneRatio float64
	MaxLevel       int
	Dimensions     int
}

// Sentinel errors. Errors returned by this package carry the same codes,
// so errors.Is matches them.
var (
	ErrNotIndexed        = verrors.New(verrors.ErrCodeNotIndexed, "project is not indexed", nil)
	ErrCorruptIndex      = verrors.New(verrors.ErrCodeCorruptIndex, "index is corrupted", nil)
	ErrDimensionMismatch = verrors.New(verrors.ErrCodeDimensionMismatch, "vector dimension mismatch", nil)
	ErrModelMismatch     = verrors.New(verrors.ErrCodeModelMismatch, "index was built with another model", nil)
)

func dimensionMismatch(want, got int) error {
	return verrors.New(verrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector has %d dimensions, index expects %d", got, want), nil).
		WithSuggestion("the index was built with a different model; rebuild with 'vgrep index --force'")
}

func notIndexed(dir string) error {
	return verrors.New(verrors.ErrCodeNotIndexed, "project is not indexed", nil).
		WithDetail("data_dir", dir).
		WithSuggestion("run 'vgrep index' to build the index")
}

func corrupt(what string, cause error) error {
	return verrors.New(verrors.ErrCodeCorruptIndex, "index is corrupted: "+what, cause).
		WithSuggestion("rebuild with 'vgrep index --force'")
}

// Check returns ErrModelMismatch, with the indexed and configured models
// named, unless the tag describes model with dims.
func (t ModelTag) Check(model string, dims int) error {
	if t.Matches(model, dims) {
		return nil
	}
	_, name, ok := strings.Cut(t.Model, ":")
	if !ok {
		name = t.Model
	}
	return verrors.New(verrors.ErrCodeModelMismatch,
		fmt.Sprintf("index was built with %s (%d dims) but the configured model is %s (%d dims)",
			t.Model, t.Dimensions, model, dims), nil).
		WithDetail("indexed_model", t.Model).
		WithDetail("configured_model", model).
		WithSuggestion(fmt.Sprintf("rebuild with 'vgrep index --force' or search with --model %s", name))
}
