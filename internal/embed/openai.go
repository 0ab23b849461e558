package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// DefaultOpenAIBaseURL points at a local OpenAI-compatible server
// (LM Studio, llama.cpp, vLLM).
const DefaultOpenAIBaseURL = "http://localhost:1234/v1"

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string

	// RemoteModel is the model name sent to the server. Defaults to the
	// registry entry's HuggingFace id.
	RemoteModel string

	BatchSize int
	Timeout   time.Duration
	Retry     verrors.RetryConfig
}

// OpenAIEmbedder talks to any server implementing the OpenAI embeddings
// endpoint. The registry model fixes the dimensionality, and responses of
// another length are rejected.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig
	spec   ModelSpec

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for spec. No request is made.
func NewOpenAIEmbedder(spec ModelSpec, cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.RemoteModel == "" {
		cfg.RemoteModel = spec.HuggingFace
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

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		spec:   spec,
	}
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in server-sized requests, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.config.RemoteModel),
		Input: texts,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, verrors.Newf(verrors.ErrCodeEmbeddingFailed,
			"server returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// Servers may answer out of order; Index is authoritative.
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vecs := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	if err := checkDimensions(e.ModelName(), e.spec.Dimensions, vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

// classify maps client errors onto retryable and permanent codes.
func (e *OpenAIEmbedder) classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == 0 || status >= 500 || status == http.StatusTooManyRequests {
		return verrors.New(verrors.ErrCodeProviderUnavailable,
			fmt.Sprintf("embedding server at %s unavailable", e.config.BaseURL), err).
			WithSuggestion("check that the server is running and serves " + e.config.RemoteModel)
	}
	return verrors.New(verrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding request rejected with status %d", status), err)
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.spec.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return ModelID(ProviderOpenAI, e.spec.Name)
}

// Available lists the server's models and looks for the remote model.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	list, err := e.client.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range list.Models {
		if m.ID == e.config.RemoteModel {
			return true
		}
	}
	return false
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
