package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vgrep/internal/embed"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

func newModelsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available embedding models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			styles := ui.GetStyles(g.noColor || ui.DetectNoColor())
			w := cmd.OutOrStdout()

			fmt.Fprintln(w, styles.Header.Render("Available embedding models"))
			for _, m := range embed.Models() {
				name := m.Name
				if m.Name == embed.DefaultModel {
					name += " (default)"
				}
				fmt.Fprintf(w, "\n  %s  %s\n", styles.Success.Render(name), styles.Label.Render(fmt.Sprintf("%d dims", m.Dimensions)))
				fmt.Fprintf(w, "    %s\n", m.Description)
				fmt.Fprintf(w, "    %s\n", styles.Dim.Render(m.HuggingFace))
				if len(m.Aliases) > 0 {
					fmt.Fprintf(w, "    %s\n", styles.Dim.Render("aliases: "+strings.Join(m.Aliases, ", ")))
				}
			}
			fmt.Fprintf(w, "\nUsage: %s\n", styles.Warning.Render("vgrep index --model nomic --force"))
			return nil
		},
	}
}
