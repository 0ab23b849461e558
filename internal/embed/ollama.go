package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// DefaultOllamaHost is the default Ollama API address.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	Host      string
	BatchSize int
	Timeout   time.Duration
	Retry     verrors.RetryConfig
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig
	spec   ModelSpec

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. It does not contact the
// server; the first request does.
func NewOllamaEmbedder(spec ModelSpec, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if spec.OllamaTag == "" {
		return nil, verrors.New(verrors.ErrCodeUnknownModel,
			fmt.Sprintf("model %s is not available through ollama", spec.Name), nil).
			WithSuggestion("use provider static or openai for this model, or pick minilm or nomic")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(cfg.Host, "://") {
		cfg.Host = "http://" + cfg.Host
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = verrors.DefaultRetryConfig()
	}
	cfg.Retry.ShouldRetry = verrors.IsRetryable

	return &OllamaEmbedder{
		client: &http.Client{},
		config: cfg,
		spec:   spec,
	}, nil
}

// Embed generates embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into provider-sized requests, preserving order.
// Empty texts get zero vectors without a round trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errClosed
	}

	results := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.spec.Dimensions)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, t)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))
		batch := pending[start:end]

		vecs, err := verrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
			return e.doEmbed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			results[idx[start+j]] = v
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.spec.OllamaTag, Input: texts})
	if err != nil {
		return nil, verrors.Wrap(verrors.ErrCodeInternal, err)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, verrors.Wrap(verrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := verrors.ErrCodeEmbeddingFailed
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = verrors.ErrCodeProviderUnavailable
		}
		return nil, verrors.New(code,
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, verrors.New(verrors.ErrCodeEmbeddingFailed, "decode ollama response", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, verrors.Newf(verrors.ErrCodeEmbeddingFailed,
			"ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	if err := checkDimensions(e.ModelName(), e.spec.Dimensions, vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (e *OllamaEmbedder) unavailable(cause error) error {
	return verrors.New(verrors.ErrCodeProviderUnavailable,
		fmt.Sprintf("cannot reach ollama at %s", e.config.Host), cause).
		WithSuggestion("start it with 'ollama serve' and run 'ollama pull " + e.spec.OllamaTag + "'")
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.spec.Dimensions
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return ModelID(ProviderOllama, e.spec.Name)
}

// Available reports whether the server is up and has the model pulled.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if strings.Split(strings.ToLower(m.Name), ":")[0] == e.spec.OllamaTag {
			return true
		}
	}
	return false
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
