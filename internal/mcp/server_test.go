package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	"github.com/Aman-CERP/vgrep/internal/config"
	"github.com/Aman-CERP/vgrep/internal/embed"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/history"
	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/scanner"
	"github.com/Aman-CERP/vgrep/internal/search"
	"github.com/Aman-CERP/vgrep/internal/store"
)

func staticEmbedder(t *testing.T, model string) embed.Embedder {
	t.Helper()
	spec, err := embed.LookupModel(model)
	require.NoError(t, err)
	return embed.NewStaticEmbedder(spec)
}

// newTestServer serves root with the given query model. When files is
// non-nil the project is indexed with minilm first.
func newTestServer(t *testing.T, files map[string]string, model string) (*Server, *history.Store) {
	t.Helper()
	root := t.TempDir()
	layout := store.NewLayout(config.DataDir(root))
	cfg := config.NewConfig()

	if files != nil {
		for rel, content := range files {
			p := filepath.Join(root, filepath.FromSlash(rel))
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		}
		sc, err := scanner.New(scanner.Options{Root: root})
		require.NoError(t, err)
		runner, err := index.NewRunner(index.RunnerDependencies{
			Config: cfg, Embedder: staticEmbedder(t, "minilm"), Layout: layout, Scanner: sc,
		})
		require.NoError(t, err)
		_, err = runner.Run(context.Background(), index.RunOptions{})
		require.NoError(t, err)
	}

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	emb := staticEmbedder(t, model)
	handle := store.Open(layout)
	engine, err := search.NewEngine(handle, emb, search.OptionsFrom(cfg))
	require.NoError(t, err)

	s, err := NewServer(ServerDependencies{Engine: engine, Handle: handle, Embedder: emb, Root: root, History: hist})
	require.NoError(t, err)
	return s, hist
}

func projectFiles() map[string]string {
	return map[string]string{
		"auth/jwt.go": "package auth\n\n// ValidateToken performs jwt token validation.\n" +
			"func ValidateToken(token string) error {\n\treturn checkToken(token)\n}\n",
		"db/pool.go": "package db\n\n// NewPool opens a database connection pool.\n" +
			"func NewPool(dsn string) *Pool {\n\treturn &Pool{dsn: dsn}\n}\n",
		"notes.md": "The quick brown fox jumps over the lazy dog near the river bank.\n",
	}
}

// connect attaches an in-memory client to s.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcp.NewInMemoryTransports()

	ss, err := s.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func decode[T any](t *testing.T, v any) T {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestNewServer_Validation(t *testing.T) {
	s, _ := newTestServer(t, projectFiles(), "minilm")

	tests := []struct {
		name string
		deps ServerDependencies
	}{
		{"no engine", ServerDependencies{Handle: s.handle, Embedder: s.embedder}},
		{"no handle", ServerDependencies{Engine: s.engine, Embedder: s.embedder}},
		{"no embedder", ServerDependencies{Engine: s.engine, Handle: s.handle}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(tt.deps)
			assert.Error(t, err)
		})
	}
}

func TestServer_ListTools(t *testing.T) {
	s, _ := newTestServer(t, projectFiles(), "minilm")
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "index_status"}, names)
}

func TestServer_SearchOverProtocol(t *testing.T) {
	// Given an indexed project served over MCP
	s, hist := newTestServer(t, projectFiles(), "minilm")
	cs := connect(t, s)

	// When a client searches for token validation
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "token validation logic", "limit": 2},
	})

	// Then the jwt file ranks first in the structured output
	require.NoError(t, err)
	require.False(t, res.IsError)
	out := decode[SearchOutput](t, res.StructuredContent)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "auth/jwt.go", out.Results[0].File)
	assert.Contains(t, out.Results[0].Content, "ValidateToken")

	// And the text content is markdown naming the file
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "auth/jwt.go")

	// And the query was recorded
	recent, err := hist.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "token validation logic", recent[0].Query)
	assert.Equal(t, 2, recent[0].ResultCount)
}

func TestServer_IndexStatusOverProtocol(t *testing.T) {
	s, _ := newTestServer(t, projectFiles(), "minilm")
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "index_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode[IndexStatusOutput](t, res.StructuredContent)
	assert.True(t, out.Indexed)
	assert.True(t, out.Compatible)
	assert.Equal(t, "static:minilm", out.Model)
	assert.Equal(t, 384, out.Dimensions)
	assert.Equal(t, 3, out.Files)
	assert.Positive(t, out.Fragments)
	assert.NotEmpty(t, out.IndexedAt)
}

func TestServer_SearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		model    string
		input    SearchInput
		wantCode int
		wantMsg  string
	}{
		{"blank query", projectFiles(), "minilm", SearchInput{Query: "   "}, ErrCodeInvalidParams, "empty"},
		{"bad pattern", projectFiles(), "minilm", SearchInput{Query: "x", PathPattern: "src/("}, ErrCodeInvalidParams, ""},
		{"bad min score", projectFiles(), "minilm", SearchInput{Query: "x", MinScore: 2}, ErrCodeInvalidParams, ""},
		{"not indexed", nil, "minilm", SearchInput{Query: "x"}, ErrCodeIndexNotFound, "vgrep index"},
		{"model mismatch", projectFiles(), "nomic", SearchInput{Query: "x"}, ErrCodeIncompatible, "--force"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.files, tt.model)

			_, _, err := s.searchHandler(context.Background(), nil, tt.input)

			var me *MCPError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.wantCode, me.Code)
			assert.Contains(t, me.Message, tt.wantMsg)
		})
	}
}

func TestServer_IndexStatus(t *testing.T) {
	t.Run("not indexed", func(t *testing.T) {
		s, _ := newTestServer(t, nil, "minilm")

		_, out, err := s.indexStatusHandler(context.Background(), nil, IndexStatusInput{})

		require.NoError(t, err)
		assert.False(t, out.Indexed)
		assert.Equal(t, "static:minilm", out.ConfiguredModel)
		assert.Contains(t, out.Message, "vgrep index")
	})

	t.Run("incompatible model", func(t *testing.T) {
		s, _ := newTestServer(t, projectFiles(), "nomic")

		_, out, err := s.indexStatusHandler(context.Background(), nil, IndexStatusInput{})

		require.NoError(t, err)
		assert.True(t, out.Indexed)
		assert.False(t, out.Compatible)
		assert.Equal(t, "static:nomic", out.ConfiguredModel)
		assert.Contains(t, out.Message, "static:minilm")
	})
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, defaultLimit}, {-3, defaultLimit}, {5, 5}, {maxLimit, maxLimit}, {maxLimit + 1, maxLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.in))
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"passthrough", NewInvalidParamsError("bad"), ErrCodeInvalidParams},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"unknown", errors.New("boom"), ErrCodeInternalError},
		{"locked", verrors.Newf(verrors.ErrCodeLocked, "locked"), ErrCodeIndexBusy},
		{"provider", verrors.Newf(verrors.ErrCodeEmbeddingFailed, "down"), ErrCodeEmbeddingFailed},
		{"corrupt", verrors.Newf(verrors.ErrCodeCorruptIndex, "bad"), ErrCodeIndexNotFound},
		{"disk full", verrors.Newf(verrors.ErrCodeDiskFull, "full"), ErrCodeInternalError},
		{"dimension mismatch", verrors.Newf(verrors.ErrCodeDimensionMismatch, "dims"), ErrCodeIncompatible},
		{"input", verrors.Newf(verrors.ErrCodeQueryEmpty, "empty"), ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if tt.want == 0 {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := verrors.Newf(verrors.ErrCodeNotIndexed, "project is not indexed").WithSuggestion("run 'vgrep index'")
	assert.Equal(t, "project is not indexed. run 'vgrep index'", MapError(err).Message)
}

func TestFormatSearchResults(t *testing.T) {
	assert.Equal(t, `No results found for "jwt"`, FormatSearchResults("jwt", nil))

	results := []search.Result{{
		Fragment:       chunk.Fragment{Path: "a.md", StartLine: 1, EndLine: 3, Text: "text\n```go\nx\n```\n", Language: "markdown"},
		Score:          0.5,
		KeywordMatches: 2,
		Rank:           1,
	}}
	md := FormatSearchResults("jwt", results)
	assert.Contains(t, md, "Found 1 result\n")
	assert.Contains(t, md, "### 1. a.md:1-3 (score 0.50)")
	assert.Contains(t, md, "Keyword matches: 2")
	assert.True(t, strings.Contains(md, "````markdown\n"), "fence must outgrow the fragment's own fences")
}
