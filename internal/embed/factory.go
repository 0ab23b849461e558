package embed

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/vgrep/internal/config"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses feature hashing. Offline and deterministic.
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses any OpenAI-compatible embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"
)

// Config selects and configures an embedder.
type Config struct {
	Provider ProviderType
	Model    string

	OllamaHost    string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	RemoteModel   string

	BatchSize int
	Timeout   time.Duration

	// CacheSize bounds the in-memory LRU. Negative disables caching.
	CacheSize int
}

// ConfigFrom builds an embedder Config from loaded settings.
func ConfigFrom(cfg *config.Config) Config {
	e := cfg.Embeddings
	return Config{
		Provider:      ProviderType(strings.ToLower(e.Provider)),
		Model:         e.Model,
		OllamaHost:    e.OllamaHost,
		OpenAIBaseURL: e.OpenAIBaseURL,
		OpenAIAPIKey:  e.OpenAIAPIKey,
		RemoteModel:   e.RemoteModel,
		BatchSize:     e.BatchSize,
		Timeout:       cfg.EmbedTimeout(),
		CacheSize:     e.CacheSize,
	}
}

// NewEmbedder creates the configured embedder wrapped in an LRU cache.
// Construction never touches the network, so an unreachable server shows
// up on the first embedding call as a retryable provider error.
func NewEmbedder(cfg Config) (Embedder, error) {
	spec, err := LookupModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	switch cfg.Provider {
	case ProviderStatic, "":
		embedder = NewStaticEmbedder(spec)
	case ProviderOllama:
		o, err := NewOllamaEmbedder(spec, OllamaConfig{
			Host:      cfg.OllamaHost,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		embedder = o
	case ProviderOpenAI:
		embedder = NewOpenAIEmbedder(spec, OpenAIConfig{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			RemoteModel: cfg.RemoteModel,
			BatchSize:   cfg.BatchSize,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, verrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("valid options: static, ollama, openai")
	}

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}
