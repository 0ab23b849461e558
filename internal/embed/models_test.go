package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

func TestLookupModel(t *testing.T) {
	tests := []struct {
		name string
		want string
		dims int
	}{
		{"minilm", "minilm", 384},
		{"MiniLM", "minilm", 384},
		{"", "minilm", 384},
		{"all-minilm", "minilm", 384},
		{"bge-small", "bge", 384},
		{"nomic-embed-text", "nomic", 768},
		{"e5", "multilingual", 384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := LookupModel(tt.name)

			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.Name)
			assert.Equal(t, tt.dims, spec.Dimensions)
		})
	}
}

func TestLookupModel_Unknown(t *testing.T) {
	_, err := LookupModel("gpt-embed-9000")

	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeUnknownModel, verrors.GetCode(err))
	ve, ok := verrors.As(err)
	require.True(t, ok)
	assert.Contains(t, ve.Suggestion, "minilm")
	assert.Contains(t, ve.Suggestion, "nomic")
}

func TestModels_ReturnsCopy(t *testing.T) {
	models := Models()
	require.Len(t, models, 4)

	models[0].Name = "changed"

	assert.Equal(t, "minilm", Models()[0].Name)
}
