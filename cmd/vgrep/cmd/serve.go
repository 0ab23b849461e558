package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vgrep/internal/history"
	"github.com/Aman-CERP/vgrep/internal/mcp"
	"github.com/Aman-CERP/vgrep/internal/search"
	"github.com/Aman-CERP/vgrep/internal/store"
)

func newServeCmd(_ *globalOptions) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve the index to AI assistants over MCP (stdio)",
		Long: `Run an MCP server on stdin/stdout exposing the project's index through
the search and index_status tools.

Logs go to ~/.vgrep/logs/vgrep.log since stdout carries the protocol.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runServe(cmd, path, model)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Embedding model; must match the index")
	return cmd
}

func runServe(cmd *cobra.Command, path, model string) error {
	p, err := openProject(path, model)
	if err != nil {
		return err
	}
	emb, err := p.embedder()
	if err != nil {
		return err
	}
	defer emb.Close()

	handle := store.Open(p.layout)
	engine, err := search.NewEngine(handle, emb, search.OptionsFrom(p.cfg))
	if err != nil {
		return err
	}

	// The server starts without an index; index_status reports that.
	var hist *history.Store
	if err := p.layout.Ensure(); err == nil {
		if hist, err = history.Open(p.layout.HistoryPath()); err != nil {
			slog.Warn("history_unavailable", slog.String("error", err.Error()))
			hist = nil
		}
	}
	if hist != nil {
		defer hist.Close()
	}

	srv, err := mcp.NewServer(mcp.ServerDependencies{
		Engine:   engine,
		Handle:   handle,
		Embedder: emb,
		Root:     p.root,
		History:  hist,
	})
	if err != nil {
		return err
	}

	slog.Info("mcp_server_starting",
		slog.String("root", p.root),
		slog.String("model", emb.ModelName()))
	return srv.Serve(cmd.Context())
}
