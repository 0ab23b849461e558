package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name string
		opts FilterOptions
		want []string
	}{
		{"empty", FilterOptions{}, nil},
		{"extensions trimmed and lowered", FilterOptions{Ext: " .GO, rs,,"}, []string{"ext=go,rs"}},
		{"languages", FilterOptions{Lang: "Python,go"}, []string{"lang=go,python"}},
		{"patterns", FilterOptions{PathPattern: "^src/", Exclude: "_test"}, []string{"path=^src/", "exclude=_test"}},
		{"min score", FilterOptions{MinScore: 0.5}, []string{"min_score=0.50"}},
		{"all in order", FilterOptions{Ext: "go", Lang: "go", PathPattern: "a", Exclude: "b", MinScore: 0.1},
			[]string{"ext=go", "lang=go", "path=a", "exclude=b", "min_score=0.10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := ParseFilters(tt.opts)
			require.NoError(t, err)

			var got []string
			for _, f := range filters {
				got = append(got, f.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilters_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		opts FilterOptions
	}{
		{"bad include", FilterOptions{PathPattern: "src/("}},
		{"bad exclude", FilterOptions{Exclude: "[a-"}},
		{"negative min score", FilterOptions{MinScore: -0.1}},
		{"min score above one", FilterOptions{MinScore: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilters(tt.opts)
			require.Error(t, err)
			assert.Equal(t, verrors.ErrCodeInvalidPattern, verrors.GetCode(err))
			assert.True(t, verrors.IsInput(err))
		})
	}
}

func TestCompileKeyword(t *testing.T) {
	re, err := CompileKeyword("")
	require.NoError(t, err)
	assert.Nil(t, re)

	re, err = CompileKeyword("jwt|oauth")
	require.NoError(t, err)
	assert.True(t, re.MatchString("validate a JWT"))
	assert.True(t, re.MatchString("OAuth flow"))

	_, err = CompileKeyword("(")
	assert.Equal(t, verrors.ErrCodeInvalidPattern, verrors.GetCode(err))
}

func TestFilter_Match(t *testing.T) {
	frag := &chunk.Fragment{Path: "src/auth/jwt.go", Ext: "go", Language: "go"}
	noLang := &chunk.Fragment{Path: "data/file.xyz", Ext: "xyz"}

	mustParse := func(opts FilterOptions) []Filter {
		f, err := ParseFilters(opts)
		require.NoError(t, err)
		return f
	}

	tests := []struct {
		name    string
		filters []Filter
		frag    *chunk.Fragment
		sim     float32
		want    bool
	}{
		{"no filters", nil, frag, 0.1, true},
		{"ext hit", mustParse(FilterOptions{Ext: "go,rs"}), frag, 0.5, true},
		{"ext miss", mustParse(FilterOptions{Ext: "py"}), frag, 0.5, false},
		{"lang hit any case", mustParse(FilterOptions{Lang: "GO"}), frag, 0.5, true},
		{"lang missing", mustParse(FilterOptions{Lang: "go"}), noLang, 0.5, false},
		{"include hit", mustParse(FilterOptions{PathPattern: "auth/"}), frag, 0.5, true},
		{"include miss", mustParse(FilterOptions{PathPattern: "^lib/"}), frag, 0.5, false},
		{"exclude hit", mustParse(FilterOptions{Exclude: `\.go$`}), frag, 0.5, false},
		{"below min score", mustParse(FilterOptions{MinScore: 0.6}), frag, 0.59, false},
		{"at min score", mustParse(FilterOptions{MinScore: 0.5}), frag, 0.5, true},
		{"all must pass", mustParse(FilterOptions{Ext: "go", Exclude: "jwt"}), frag, 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchAll(tt.filters, tt.frag, tt.sim))
		})
	}
}
