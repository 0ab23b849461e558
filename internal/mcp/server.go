package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/vgrep/internal/embed"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/history"
	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/search"
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/pkg/version"
)

const (
	serverName   = "vgrep"
	defaultLimit = 10
	maxLimit     = 50
)

// Server exposes one project's index as MCP tools.
type Server struct {
	mcp      *mcp.Server
	engine   *search.Engine
	handle   *store.Handle
	embedder embed.Embedder
	history  *history.Store
	root     string
	logger   *slog.Logger
}

// ServerDependencies are the collaborators of a Server.
type ServerDependencies struct {
	Engine   *search.Engine
	Handle   *store.Handle
	Embedder embed.Embedder
	Root     string

	// History records queries when set.
	History *history.Store
}

// NewServer creates a server with the search and index_status tools.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if deps.Handle == nil {
		return nil, errors.New("index handle is required")
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder is required")
	}

	s := &Server{
		engine:   deps.Engine,
		handle:   deps.Handle,
		embedder: deps.Embedder,
		history:  deps.History,
		root:     deps.Root,
		logger:   slog.Default().With(slog.String("component", "mcp")),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search",
		Description: "Semantic code search over the indexed project. Finds code and docs by meaning " +
			"rather than exact text. Supports extension, language and path filters and an optional " +
			"keyword pattern that boosts fragments containing it.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report whether the project is indexed, which model built the index and how large it is.",
	}, s.indexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	q, err := buildQuery(in)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	start := time.Now()
	log := s.logger.With(slog.String("request_id", requestID()))
	results, err := s.engine.Search(ctx, q)
	if err != nil {
		log.Warn("search_failed", append(verrors.LogAttrs(err), slog.Duration("duration", time.Since(start)))...)
		return nil, SearchOutput{}, MapError(err)
	}
	log.Info("search_completed",
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	s.record(ctx, in.Query, len(results), q.Filters)

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, ToSearchResultOutput(r))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(in.Query, results)}},
	}, out, nil
}

func buildQuery(in SearchInput) (search.Query, error) {
	filters, err := search.ParseFilters(search.FilterOptions{
		Ext:         in.Ext,
		Lang:        in.Lang,
		PathPattern: in.PathPattern,
		Exclude:     in.Exclude,
		MinScore:    in.MinScore,
	})
	if err != nil {
		return search.Query{}, err
	}
	keyword, err := search.CompileKeyword(in.Keyword)
	if err != nil {
		return search.Query{}, err
	}
	return search.Query{
		Text:        in.Query,
		Limit:       clampLimit(in.Limit),
		Filters:     filters,
		Keyword:     keyword,
		DedupeFiles: in.DedupeFiles,
	}, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

// record adds a query to history. Failures only cost the history entry.
func (s *Server) record(ctx context.Context, query string, n int, filters []search.Filter) {
	if s.history == nil {
		return
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	if err := s.history.Add(ctx, history.Entry{Query: query, ResultCount: n, Filters: strings.Join(parts, " ")}); err != nil {
		s.logger.Debug("history_add_failed", slog.String("error", err.Error()))
	}
}

func (s *Server) indexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out, err := s.status()
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	return nil, out, nil
}

// status reports the served index. A missing index is a normal answer,
// not an error.
func (s *Server) status() (IndexStatusOutput, error) {
	model, dims := s.embedder.ModelName(), s.embedder.Dimensions()
	out := IndexStatusOutput{Root: s.root, ConfiguredModel: model}

	st, err := index.Status(s.root, s.handle)
	if errors.Is(err, store.ErrNotIndexed) {
		out.Message = "Project is not indexed. Run 'vgrep index' first."
		return out, nil
	}
	if err != nil {
		return IndexStatusOutput{}, err
	}

	out.Indexed = true
	out.Generation = st.Generation
	out.Model = st.Model
	out.Dimensions = st.Dimensions
	out.Files = st.Files
	out.Fragments = st.Fragments
	out.Tombstones = st.Tombstones
	out.TombstoneRatio = st.TombstoneRatio
	out.DiskBytes = st.DiskBytes
	if !st.IndexedAt.IsZero() {
		out.IndexedAt = st.IndexedAt.UTC().Format(time.RFC3339)
	}

	tag := store.ModelTag{Model: st.Model, Dimensions: st.Dimensions}
	if err := tag.Check(model, dims); err != nil {
		out.Message = MapError(err).Message
	} else {
		out.Compatible = true
	}
	return out, nil
}

// Serve runs the server over stdio until ctx ends or the client leaves.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("root", s.root), slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// requestID is a short correlation ID for log lines.
func requestID() string {
	return uuid.NewString()[:8]
}
