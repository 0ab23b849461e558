package embed

import (
	"fmt"
	"strings"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// ModelSpec describes one supported embedding model.
type ModelSpec struct {
	// Name is the registry name recorded in the index (minilm, bge, ...).
	Name       string
	Dimensions int

	// HuggingFace is the upstream model id. It is also the default model
	// name sent to OpenAI-compatible servers.
	HuggingFace string

	// OllamaTag is the Ollama library tag, empty if Ollama does not ship it.
	OllamaTag string

	Description string
	Aliases     []string
}

// DefaultModel is used when no model is configured.
const DefaultModel = "minilm"

var registry = []ModelSpec{
	{
		Name:        "minilm",
		Dimensions:  384,
		HuggingFace: "sentence-transformers/all-MiniLM-L6-v2",
		OllamaTag:   "all-minilm",
		Description: "Fast, small model, good for most code bases",
		Aliases:     []string{"all-minilm-l6-v2", "all-minilm", "default"},
	},
	{
		Name:        "bge",
		Dimensions:  384,
		HuggingFace: "BAAI/bge-small-en-v1.5",
		Description: "Higher quality English model",
		Aliases:     []string{"bge-small", "bge-small-en-v1.5"},
	},
	{
		Name:        "nomic",
		Dimensions:  768,
		HuggingFace: "nomic-ai/nomic-embed-text-v1.5",
		OllamaTag:   "nomic-embed-text",
		Description: "Best quality for code, larger vectors",
		Aliases:     []string{"nomic-embed", "nomic-embed-text", "nomic-embed-text-v1.5"},
	},
	{
		Name:        "multilingual",
		Dimensions:  384,
		HuggingFace: "intfloat/multilingual-e5-small",
		Description: "Multilingual text and comments",
		Aliases:     []string{"e5", "multilingual-e5-small"},
	},
}

// Models returns the registry in display order.
func Models() []ModelSpec {
	out := make([]ModelSpec, len(registry))
	copy(out, registry)
	return out
}

// LookupModel resolves a registry name or alias, case-insensitively.
func LookupModel(name string) (ModelSpec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultModel
	}
	for _, m := range registry {
		if m.Name == key {
			return m, nil
		}
		for _, alias := range m.Aliases {
			if alias == key {
				return m, nil
			}
		}
	}

	names := make([]string, len(registry))
	for i, m := range registry {
		names[i] = m.Name
	}
	return ModelSpec{}, verrors.New(verrors.ErrCodeUnknownModel,
		fmt.Sprintf("unknown model: %s", name), nil).
		WithSuggestion("valid options: " + strings.Join(names, ", "))
}
