package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/history"
	"github.com/Aman-CERP/vgrep/internal/output"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

type historyOptions struct {
	limit   int
	top     bool
	suggest string
	clear   bool
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show past search queries",
		Long: `Show recent queries for a project, the most frequent ones (--top) or
past queries containing some text (--suggest).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runHistory(cmd, g, path, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Number of queries to show")
	cmd.Flags().BoolVar(&opts.top, "top", false, "Show the most frequent queries")
	cmd.Flags().StringVar(&opts.suggest, "suggest", "", "Show past queries containing this text")
	cmd.Flags().BoolVar(&opts.clear, "clear", false, "Delete the history")
	return cmd
}

func runHistory(cmd *cobra.Command, g *globalOptions, path string, opts historyOptions) error {
	ctx := cmd.Context()
	p, err := openProject(path, "")
	if err != nil {
		return err
	}
	if _, err := p.layout.Current(); err != nil {
		return err
	}

	h, err := history.Open(p.layout.HistoryPath())
	if err != nil {
		return err
	}
	defer h.Close()

	noColor := g.noColor || ui.DetectNoColor()
	styles := ui.GetStyles(noColor)
	out := output.New(cmd.OutOrStdout(), noColor)
	w := cmd.OutOrStdout()

	switch {
	case opts.clear:
		if err := h.Clear(ctx); err != nil {
			return verrors.Wrap(verrors.ErrCodeDataDir, err)
		}
		out.Success("History cleared")
		return nil

	case opts.suggest != "":
		queries, err := h.Suggest(ctx, opts.suggest, opts.limit)
		if err != nil {
			return err
		}
		for _, q := range queries {
			fmt.Fprintln(w, q)
		}
		return nil

	case opts.top:
		top, err := h.Top(ctx, opts.limit)
		if err != nil {
			return err
		}
		if len(top) == 0 {
			fmt.Fprintln(w, "No search history yet.")
			return nil
		}
		fmt.Fprintln(w, styles.Header.Render(fmt.Sprintf("Top %d queries", len(top))))
		for i, q := range top {
			fmt.Fprintf(w, "  %s %s %s\n",
				styles.Dim.Render(fmt.Sprintf("[%d]", i+1)),
				styles.Success.Render(q.Query),
				styles.Label.Render(fmt.Sprintf("(used %d times)", q.Count)))
		}

	default:
		recent, err := h.Recent(ctx, opts.limit)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			fmt.Fprintln(w, "No search history yet.")
			return nil
		}
		fmt.Fprintln(w, styles.Header.Render("Recent searches"))
		for i, e := range recent {
			fmt.Fprintf(w, "  %s %s %s %s\n",
				styles.Dim.Render(fmt.Sprintf("[%d]", i+1)),
				styles.Success.Render(e.Query),
				styles.Label.Render(fmt.Sprintf("(%d results)", e.ResultCount)),
				styles.Dim.Render(humanize.Time(e.At)))
			if e.Filters != "" {
				fmt.Fprintf(w, "      %s\n", styles.Dim.Render("filters: "+e.Filters))
			}
		}
	}

	n, err := h.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal queries: %d\n", n)
	return nil
}
