// Package cmd provides the CLI commands for vgrep.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/logging"
	"github.com/Aman-CERP/vgrep/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	debug   bool
	verbose bool
	noColor bool

	loggingCleanup func()
}

// NewRootCmd creates the vgrep command tree.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}
	var bare searchOptions

	cmd := &cobra.Command{
		Use:   "vgrep [query]",
		Short: "Local semantic grep",
		Long: `vgrep searches a code base by meaning. It splits files into fragments,
embeds them and keeps a vector index under .vgrep/ in the project root.

Everything runs offline with the default static embeddings.

  vgrep index .                 build or update the index
  vgrep "where are tokens validated"
  vgrep watch .                 keep the index fresh while you work`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			bare.query = joinArgs(args)
			return runSearch(cmd, g, bare)
		},
	}
	cmd.SetVersionTemplate(version.String() + "\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Write debug logs to ~/.vgrep/logs/")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug output to stderr and show error details")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	// A bare query accepts the common search flags.
	cmd.Flags().IntVarP(&bare.limit, "max-count", "m", 0, "Maximum number of results (default from config, 10)")
	cmd.Flags().BoolVarP(&bare.content, "content", "c", false, "Show fragment content")
	cmd.Flags().BoolVar(&bare.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&bare.sync, "sync", "s", false, "Sync the index before searching")
	cmd.Flags().StringVarP(&bare.path, "path", "p", "", "Project to search (default: nearest indexed ancestor)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return g.setupLogging(c)
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		g.stopLogging()
		return nil
	}

	cmd.AddCommand(
		newIndexCmd(g),
		newWatchCmd(g),
		newSearchCmd(g),
		newStatsCmd(g),
		newModelsCmd(g),
		newHistoryCmd(g),
		newServeCmd(g),
	)
	return cmd
}

// setupLogging installs the default slog logger. serve logs to the file
// only so stdout stays reserved for the protocol.
func (g *globalOptions) setupLogging(c *cobra.Command) error {
	cfg := logging.DefaultConfig()
	switch {
	case c.Name() == "serve":
		level := "info"
		if g.debug || g.verbose {
			level = "debug"
		}
		cfg = logging.ServeConfig(level)
	case g.debug:
		cfg = logging.DebugConfig()
	case g.verbose:
		cfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if g.debug {
		slog.Debug("debug_logging_enabled", slog.String("log_file", cfg.FilePath), slog.String("version", version.Version))
	}
	return nil
}

func (g *globalOptions) stopLogging() {
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// Execute runs the root command until interrupted and prints any failure
// with its hint and code.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		verbose, _ := cmd.PersistentFlags().GetBool("verbose")
		fmt.Fprint(os.Stderr, verrors.FormatForCLI(err, verbose))
	}
	return err
}
