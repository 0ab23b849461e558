package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

type indexOptions struct {
	force bool
	model string
	plain bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or update the search index",
		Long: `Build the index for a project, or bring an existing one up to date.

Only files whose content changed since the last run are re-embedded.
Use --force to rebuild from scratch, for example to switch models.

Examples:
  vgrep index
  vgrep index ~/src/api --model nomic --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runIndex(cmd, g, path, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Discard the existing index and rebuild")
	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model (see 'vgrep models')")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output even on a terminal")
	return cmd
}

func runIndex(cmd *cobra.Command, g *globalOptions, path string, opts indexOptions) error {
	p, err := openProject(path, opts.model)
	if err != nil {
		return err
	}
	emb, err := p.embedder()
	if err != nil {
		return err
	}
	defer emb.Close()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(g.noColor),
		ui.WithProjectDir(p.root)))
	runner, _, err := p.runner(emb, renderer, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	stats, err := runner.Run(ctx, index.RunOptions{Force: opts.force})
	_ = renderer.Stop()
	if err != nil {
		return err
	}

	slog.Info("index_complete",
		slog.String("root", p.root),
		slog.Uint64("generation", stats.Generation),
		slog.Int("fragments", stats.Fragments),
		slog.Duration("duration", stats.Duration))
	return nil
}
