package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/store"
)

// run executes the command tree with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"auth/jwt.go": "package auth\n\n// ValidateToken performs jwt token validation.\n" +
			"func ValidateToken(token string) error {\n\treturn checkToken(token)\n}\n",
		"db/pool.go": "package db\n\n// NewPool opens a database connection pool.\n" +
			"func NewPool(dsn string) *Pool {\n\treturn &Pool{dsn: dsn}\n}\n",
		"notes.md": "The quick brown fox jumps over the lazy dog near the river bank.\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func indexedProject(t *testing.T) string {
	t.Helper()
	root := writeProject(t)
	_, _, err := run(t, "index", root, "--plain")
	require.NoError(t, err)
	return root
}

type jsonResult struct {
	File       string  `json:"file"`
	Rank       int     `json:"rank"`
	Score      float32 `json:"score"`
	Similarity float32 `json:"similarity"`
}

func searchJSON(t *testing.T, args ...string) []jsonResult {
	t.Helper()
	out, _, err := run(t, append([]string{"search"}, append(args, "--json")...)...)
	require.NoError(t, err)
	var rs []jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &rs))
	return rs
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"index", "watch", "search", "stats", "models", "history", "serve"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_NoArgsShowsHelp(t *testing.T) {
	out, _, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "vgrep searches a code base by meaning")
}

func TestIndexThenSearch(t *testing.T) {
	// Given an indexed project
	root := indexedProject(t)

	// When searching for token validation with two results
	rs := searchJSON(t, "token validation logic", root, "-m", "2")

	// Then the jwt file ranks first
	require.Len(t, rs, 2)
	assert.Equal(t, "auth/jwt.go", rs[0].File)
	assert.Equal(t, 1, rs[0].Rank)
	assert.GreaterOrEqual(t, rs[0].Score, rs[1].Score)
}

func TestSearch_BareQueryUsesPathFlag(t *testing.T) {
	root := indexedProject(t)

	out, _, err := run(t, "token", "validation", "-p", root)

	require.NoError(t, err)
	assert.Contains(t, out, "auth/jwt.go")
}

func TestSearch_Files(t *testing.T) {
	root := indexedProject(t)

	out, _, err := run(t, "search", "database connection", root, "--files")

	require.NoError(t, err)
	assert.Contains(t, out, "db/pool.go")
	assert.NotContains(t, out, "%")
}

func TestSearch_Filters(t *testing.T) {
	root := indexedProject(t)

	tests := []struct {
		name  string
		args  []string
		files []string
	}{
		{"ext", []string{"--ext", "md"}, []string{"notes.md"}},
		{"exclude", []string{"--exclude", "^auth/"}, []string{"db/pool.go", "notes.md"}},
		{"path pattern", []string{"--path-pattern", "^db/"}, []string{"db/pool.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := searchJSON(t, append([]string{"token validation", root}, tt.args...)...)

			got := make([]string, len(rs))
			for i, r := range rs {
				got[i] = r.File
			}
			assert.ElementsMatch(t, tt.files, got)
		})
	}
}

func TestSearch_InvalidInput(t *testing.T) {
	root := indexedProject(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"min score above one", []string{"search", "q", root, "--min-score", "1.5"}, verrors.ErrCodeInvalidPattern},
		{"bad exclude regex", []string{"search", "q", root, "--exclude", "("}, verrors.ErrCodeInvalidPattern},
		{"blank query", []string{"search", "   ", root}, verrors.ErrCodeQueryEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)

			require.Error(t, err)
			assert.Equal(t, tt.code, verrors.GetCode(err))
		})
	}
}

func TestSearch_NotIndexed(t *testing.T) {
	root := writeProject(t)

	_, _, err := run(t, "search", "token", root)

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotIndexed)
}

func TestSearch_SyncBuildsIndex(t *testing.T) {
	// Given a project that was never indexed
	root := writeProject(t)

	// When searching with --sync
	_, stderr, err := run(t, "search", "token validation", root, "--sync", "--files")

	// Then the index is built first
	require.NoError(t, err)
	assert.Contains(t, stderr, "Synced: +3")
}

func TestSearch_ModelMismatch(t *testing.T) {
	// Given an index built with minilm
	root := indexedProject(t)

	// When searching with nomic
	_, _, err := run(t, "search", "token", root, "--model", "nomic")

	// Then the search fails as incompatible
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrModelMismatch)
	assert.Equal(t, verrors.CategoryCompatibility, verrors.GetCategory(err))
}

func TestIndex_ForceSwitchesModel(t *testing.T) {
	root := indexedProject(t)

	_, _, err := run(t, "index", root, "--plain", "--force", "--model", "nomic")
	require.NoError(t, err)

	rs := searchJSON(t, "token validation", root, "--model", "nomic")
	assert.NotEmpty(t, rs)
}

func TestIndex_UnknownModel(t *testing.T) {
	root := writeProject(t)

	_, _, err := run(t, "index", root, "--model", "word2vec")

	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeUnknownModel, verrors.GetCode(err))
}

func TestIndex_NotADirectory(t *testing.T) {
	root := writeProject(t)

	_, _, err := run(t, "index", filepath.Join(root, "notes.md"))

	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeFileUnreadable, verrors.GetCode(err))
}

func TestStats_JSON(t *testing.T) {
	root := indexedProject(t)

	out, _, err := run(t, "stats", root, "--json")
	require.NoError(t, err)

	var st struct {
		Model      string `json:"model"`
		Dimensions int    `json:"dimensions"`
		Files      int    `json:"files"`
		Generation uint64 `json:"generation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, 384, st.Dimensions)
	assert.Contains(t, st.Model, "minilm")
	assert.Equal(t, uint64(1), st.Generation)
}

func TestStats_NotIndexed(t *testing.T) {
	_, _, err := run(t, "stats", writeProject(t))

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotIndexed)
}

func TestModels_ListsRegistry(t *testing.T) {
	out, _, err := run(t, "models")

	require.NoError(t, err)
	assert.Contains(t, out, "minilm (default)")
	assert.Contains(t, out, "nomic")
	assert.Contains(t, out, "768 dims")
}

func TestHistory(t *testing.T) {
	// Given an indexed project searched three times
	root := indexedProject(t)
	for _, q := range []string{"token validation", "database pool", "token validation"} {
		_, _, err := run(t, "search", q, root, "--files")
		require.NoError(t, err)
	}

	t.Run("recent", func(t *testing.T) {
		out, _, err := run(t, "history", root)
		require.NoError(t, err)
		assert.Contains(t, out, "Recent searches")
		assert.Contains(t, out, "database pool")
		assert.Contains(t, out, "Total queries: 3")
	})

	t.Run("top", func(t *testing.T) {
		out, _, err := run(t, "history", root, "--top")
		require.NoError(t, err)
		assert.Contains(t, out, "(used 2 times)")
	})

	t.Run("suggest", func(t *testing.T) {
		out, _, err := run(t, "history", root, "--suggest", "POOL")
		require.NoError(t, err)
		assert.Equal(t, "database pool\n", out)
	})

	t.Run("clear", func(t *testing.T) {
		_, _, err := run(t, "history", root, "--clear")
		require.NoError(t, err)

		out, _, err := run(t, "history", root)
		require.NoError(t, err)
		assert.Contains(t, out, "No search history yet.")
	})
}

func TestHistory_NotIndexed(t *testing.T) {
	_, _, err := run(t, "history", writeProject(t))

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotIndexed)
}

// configuredProject writes the scenario files plus a .vgrep.yaml and
// indexes them.
func configuredProject(t *testing.T, yaml string, extra map[string]string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := writeProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".vgrep.yaml"), []byte(yaml), 0o644))
	for rel, content := range extra {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	_, _, err := run(t, "index", root, "--plain")
	require.NoError(t, err)
	return root
}

func TestSearch_ContentFlagOverridesConfig(t *testing.T) {
	// Given a project whose config always shows content
	root := configuredProject(t, "search:\n  show_content: true\n", nil)
	const body = "ValidateToken performs jwt token validation"

	tests := []struct {
		name  string
		flags []string
		shown bool
	}{
		{"config default", nil, true},
		{"explicit false", []string{"--content=false"}, false},
		{"explicit true", []string{"-c"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When searching
			args := append([]string{"search", "jwt token validation", root, "-m", "1"}, tt.flags...)
			out, _, err := run(t, args...)

			// Then the fragment body follows the flag when given, else config
			require.NoError(t, err)
			assert.Contains(t, out, "auth/jwt.go")
			assert.Equal(t, tt.shown, strings.Contains(out, body))
		})
	}
}

func TestSearch_DedupeFlagOverridesConfig(t *testing.T) {
	// Given a project configured to dedupe, with a file split into many fragments
	handlers := strings.Repeat("func handleToken() { validate(token) }\n", 40)
	root := configuredProject(t, "search:\n  dedupe_files: true\nindex:\n  chunk_size: 200\n",
		map[string]string{"handlers.go": handlers})

	count := func(rs []jsonResult) int {
		n := 0
		for _, r := range rs {
			if r.File == "handlers.go" {
				n++
			}
		}
		return n
	}

	// When searching without and with --dedupe=false
	deduped := searchJSON(t, "validate token", root, "-m", "5")
	raw := searchJSON(t, "validate token", root, "-m", "5", "--dedupe=false")

	// Then config dedupes and the explicit flag turns it off
	assert.Equal(t, 1, count(deduped))
	assert.Greater(t, count(raw), 1)
}
