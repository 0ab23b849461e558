package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single provider request.
	MaxBatchSize = 256

	// DefaultTimeout is the default per-request timeout for remote providers.
	DefaultTimeout = 60 * time.Second
)

// Embedder maps text to fixed-dimension vectors. Output order matches input
// order, and identical (text, model) pairs always produce identical vectors.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier stored with the index,
	// "<provider>:<model>".
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// ModelID joins provider and registry model name into the identifier
// recorded in an index.
func ModelID(provider ProviderType, model string) string {
	return fmt.Sprintf("%s:%s", provider, model)
}

// normalizeVector scales v to unit length in place. Zero vectors are left as is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
	return v
}

// checkDimensions rejects provider output whose length differs from the
// model's registered dimensionality.
func checkDimensions(model string, want int, vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) != want {
			return verrors.New(verrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("provider returned %d dimensions for %s, expected %d", len(v), model, want), nil).
				WithDetail("index", fmt.Sprint(i))
		}
	}
	return nil
}

// errClosed is returned by every embedder after Close.
var errClosed = verrors.New(verrors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
