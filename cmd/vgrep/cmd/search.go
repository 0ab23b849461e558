package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vgrep/internal/embed"
	"github.com/Aman-CERP/vgrep/internal/history"
	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/output"
	"github.com/Aman-CERP/vgrep/internal/search"
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	query string
	path  string

	limit   int
	content bool
	json    bool
	files   bool
	sync    bool
	model   string
	dedupe  bool
	keyword string
	filters search.FilterOptions
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query> [path]",
		Short: "Search the index by meaning",
		Long: `Search the project index for fragments semantically close to the query.

Filters narrow the candidates before the result count is applied. A
keyword pattern (-k) adds a small boost to fragments that contain it.

Examples:
  vgrep search "jwt token validation"
  vgrep search "open a database connection" ./services -m 5 -c
  vgrep search "retry with backoff" --ext go --exclude _test -k retry
  vgrep search "config loading" --json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.query = args[0]
			if len(args) == 2 {
				opts.path = args[1]
			}
			return runSearch(cmd, g, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.limit, "max-count", "m", 0, "Maximum number of results (default from config, 10)")
	f.BoolVarP(&opts.content, "content", "c", false, "Show fragment content")
	f.BoolVar(&opts.json, "json", false, "Output as JSON")
	f.BoolVar(&opts.files, "files", false, "Print matching file paths only")
	f.BoolVarP(&opts.sync, "sync", "s", false, "Sync the index before searching")
	f.StringVar(&opts.model, "model", "", "Embedding model; must match the index")
	f.BoolVar(&opts.dedupe, "dedupe", false, "Return at most one fragment per file")
	f.StringVarP(&opts.keyword, "keyword", "k", "", "Keyword regex for hybrid boosting (case-insensitive)")
	f.StringVar(&opts.filters.Ext, "ext", "", "Only these extensions, comma separated (go,rs)")
	f.StringVar(&opts.filters.Lang, "lang", "", "Only these languages, comma separated (go,python)")
	f.StringVar(&opts.filters.PathPattern, "path-pattern", "", "Only paths matching this regex")
	f.StringVar(&opts.filters.Exclude, "exclude", "", "Skip paths matching this regex")
	f.Float64Var(&opts.filters.MinScore, "min-score", 0, "Minimum similarity, 0 to 1")
	return cmd
}

func runSearch(cmd *cobra.Command, g *globalOptions, opts searchOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout(), g.noColor || opts.json || ui.DetectNoColor())

	// Validate input before touching the index or the embedder.
	filters, err := search.ParseFilters(opts.filters)
	if err != nil {
		return err
	}
	keyword, err := search.CompileKeyword(opts.keyword)
	if err != nil {
		return err
	}

	p, err := openProject(opts.path, opts.model)
	if err != nil {
		return err
	}
	emb, err := p.embedder()
	if err != nil {
		return err
	}
	defer emb.Close()

	handle := store.Open(p.layout)
	if opts.sync {
		if err := syncQuietly(cmd, p, emb, handle); err != nil {
			return err
		}
	}

	sopts := search.OptionsFrom(p.cfg)
	engine, err := search.NewEngine(handle, emb, sopts)
	if err != nil {
		return err
	}

	q := search.Query{
		Text:    opts.query,
		Limit:   opts.limit,
		Filters: filters,
		Keyword: keyword,
	}
	// An explicit flag beats config in both directions.
	if cmd.Flags().Changed("dedupe") {
		q.DedupeFiles = &opts.dedupe
	}
	showContent := p.cfg.Search.ShowContent
	if cmd.Flags().Changed("content") {
		showContent = opts.content
	}

	slog.Debug("search_started", slog.String("query", opts.query), slog.String("root", p.root))
	results, err := engine.Search(ctx, q)
	if err != nil {
		return err
	}

	recordHistory(cmd, p, opts.query, len(results), filters)

	switch {
	case opts.json:
		return out.JSON(results)
	case opts.files:
		out.Files(results)
	default:
		out.Results(results, showContent)
	}
	return nil
}

// syncQuietly brings the index up to date before a search, reporting only
// when something changed.
func syncQuietly(cmd *cobra.Command, p *project, emb embed.Embedder, handle *store.Handle) error {
	runner, _, err := p.runner(emb, ui.Nop{}, handle)
	if err != nil {
		return err
	}
	stats, err := runner.Run(cmd.Context(), index.RunOptions{})
	if err != nil {
		return err
	}
	if stats.Changed() {
		cmd.PrintErrf("Synced: +%d ~%d -%d (generation %d)\n", stats.Added, stats.Modified, stats.Removed, stats.Generation)
	}
	return nil
}

// recordHistory appends the query to the project's history. The search
// already succeeded, so failures are only logged.
func recordHistory(cmd *cobra.Command, p *project, query string, n int, filters []search.Filter) {
	h, err := history.Open(p.layout.HistoryPath())
	if err != nil {
		slog.Debug("history_open_failed", slog.String("error", err.Error()))
		return
	}
	defer h.Close()

	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	if err := h.Add(cmd.Context(), history.Entry{Query: query, ResultCount: n, Filters: strings.Join(parts, " ")}); err != nil {
		slog.Debug("history_add_failed", slog.String("error", err.Error()))
	}
}
