package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

func fastRetry() verrors.RetryConfig {
	return verrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

// fakeOllama answers /api/embed with vectors of the given size whose first
// component encodes the input position.
func fakeOllama(t *testing.T, dims int, failFirst int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"all-minilm:latest"}]}`))
		case "/api/embed":
			n := calls.Add(1)
			if n <= int64(failFirst) {
				http.Error(w, "loading model", http.StatusServiceUnavailable)
				return
			}
			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "all-minilm", req.Model)

			out := make([][]float64, len(req.Input))
			for i := range req.Input {
				v := make([]float64, dims)
				v[0] = float64(len(req.Input[i]))
				v[1] = 1
				out[i] = v
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	// Given a server returning 384-dimension vectors
	srv, calls := fakeOllama(t, 384, 0)
	e, err := NewOllamaEmbedder(mustModel(t, "minilm"), OllamaConfig{Host: srv.URL, BatchSize: 2, Retry: fastRetry()})
	require.NoError(t, err)

	// When five texts, one blank, are embedded
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "", "dddd", "eeeee"})

	// Then order is preserved and the blank text never hits the server
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, int64(2), calls.Load())
	assert.Greater(t, vecs[1][0], vecs[0][0])
	assert.Greater(t, vecs[4][0], vecs[3][0])
	for _, v := range vecs[2] {
		assert.Zero(t, v)
	}
	assert.Equal(t, "ollama:minilm", e.ModelName())
}

func TestOllamaEmbedder_RetriesTransientFailure(t *testing.T) {
	srv, calls := fakeOllama(t, 384, 1)
	e, err := NewOllamaEmbedder(mustModel(t, "minilm"), OllamaConfig{Host: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, vec, 384)
	assert.Equal(t, int64(2), calls.Load())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	// Given a server that answers with 768 dimensions for a 384 model
	srv, _ := fakeOllama(t, 768, 0)
	e, err := NewOllamaEmbedder(mustModel(t, "minilm"), OllamaConfig{Host: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	// When embedding
	_, err = e.Embed(context.Background(), "hello")

	// Then the output is rejected without retrying
	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeDimensionMismatch, verrors.GetCode(err))
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()

	e, err := NewOllamaEmbedder(mustModel(t, "minilm"), OllamaConfig{Host: host, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeProviderUnavailable, verrors.GetCode(err))
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_Available(t *testing.T) {
	srv, _ := fakeOllama(t, 384, 0)

	minilm, err := NewOllamaEmbedder(mustModel(t, "minilm"), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	nomic, err := NewOllamaEmbedder(mustModel(t, "nomic"), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	assert.True(t, minilm.Available(context.Background()))
	assert.False(t, nomic.Available(context.Background()))
}

func TestOllamaEmbedder_ModelWithoutTag(t *testing.T) {
	_, err := NewOllamaEmbedder(mustModel(t, "bge"), OllamaConfig{})

	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeUnknownModel, verrors.GetCode(err))
}

func TestOllamaEmbedder_HostWithoutScheme(t *testing.T) {
	e, err := NewOllamaEmbedder(mustModel(t, "minilm"), OllamaConfig{Host: "localhost:11434/"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", e.config.Host)
}
