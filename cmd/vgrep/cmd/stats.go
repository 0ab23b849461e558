package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

func newStatsCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats [path]",
		Short: "Show index statistics",
		Long: `Show what the index covers: files, fragments, the model it was built
with, its generation, tombstoned entries awaiting compaction and its size
on disk.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			p, err := openProject(path, "")
			if err != nil {
				return err
			}
			st, err := index.Status(p.root, store.Open(p.layout))
			if err != nil {
				return err
			}
			r := ui.NewStatsRenderer(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())
			if jsonOut {
				return r.RenderJSON(st)
			}
			return r.Render(st)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
