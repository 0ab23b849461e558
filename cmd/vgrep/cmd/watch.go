package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/output"
	"github.com/Aman-CERP/vgrep/internal/ui"
	"github.com/Aman-CERP/vgrep/internal/watcher"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index in sync with file changes",
		Long: `Sync the index once, then watch the project and re-sync changed files.

Edits are debounced (watch.debounce, default 500ms) so a burst of saves
becomes one sync. Changes to .gitignore files trigger a full rescan.
Stop with Ctrl+C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runWatch(cmd, g, path, model)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Embedding model (see 'vgrep models')")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalOptions, path, model string) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())

	p, err := openProject(path, model)
	if err != nil {
		return err
	}
	emb, err := p.embedder()
	if err != nil {
		return err
	}
	defer emb.Close()

	runner, sc, err := p.runner(emb, ui.Nop{}, nil)
	if err != nil {
		return err
	}

	out.Status("", fmt.Sprintf("Watching %s", p.root))
	stats, err := runner.Run(ctx, index.RunOptions{})
	if err != nil {
		return err
	}
	reportSync(out, stats, nil)

	w, err := watcher.NewFSWatcher(p.root, sc, watcher.Options{DebounceWindow: p.cfg.DebounceDuration()})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	go func() {
		for err := range w.Errors() {
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}()

	return runner.Watch(ctx, w.Events(), func(s *index.Stats, err error) { reportSync(out, s, err) })
}

// reportSync prints one line per sync that changed the index.
func reportSync(out *output.Writer, s *index.Stats, err error) {
	switch {
	case err != nil:
		out.Errorf("sync failed: %v", err)
	case s != nil && (s.Published || s.Rebuilt):
		out.Successf("%s generation %d: +%d ~%d -%d, %d fragments in %s",
			time.Now().Format("15:04:05"), s.Generation, s.Added, s.Modified, s.Removed,
			s.Fragments, s.Duration.Round(time.Millisecond))
	}
}
