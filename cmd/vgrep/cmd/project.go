package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/vgrep/internal/config"
	"github.com/Aman-CERP/vgrep/internal/embed"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/index"
	"github.com/Aman-CERP/vgrep/internal/scanner"
	"github.com/Aman-CERP/vgrep/internal/store"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

// project is a resolved root with its configuration.
type project struct {
	root   string
	cfg    *config.Config
	layout store.Layout
}

// openProject resolves path to a project root and loads its config. An
// empty path searches upward from the working directory. model, when
// set, overrides the configured embedding model.
func openProject(path, model string) (*project, error) {
	root, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if model != "" {
		spec, err := embed.LookupModel(model)
		if err != nil {
			return nil, err
		}
		cfg.Embeddings.Model = spec.Name
	}
	return &project{root: root, cfg: cfg, layout: store.NewLayout(config.DataDir(root))}, nil
}

func resolveRoot(path string) (string, error) {
	if path == "" {
		return config.FindProjectRoot(".")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", verrors.New(verrors.ErrCodeFileUnreadable, fmt.Sprintf("%s is not a directory", path), err)
	}
	return abs, nil
}

func (p *project) embedder() (embed.Embedder, error) {
	return embed.NewEmbedder(embed.ConfigFrom(p.cfg))
}

func (p *project) scanner() (*scanner.Scanner, error) {
	return scanner.New(scanner.Options{Root: p.root, Exclude: p.cfg.Index.Exclude})
}

// runner builds a sync runner reporting through renderer.
func (p *project) runner(emb embed.Embedder, renderer ui.Renderer, handle *store.Handle) (*index.Runner, *scanner.Scanner, error) {
	sc, err := p.scanner()
	if err != nil {
		return nil, nil, err
	}
	r, err := index.NewRunner(index.RunnerDependencies{
		Config:   p.cfg,
		Embedder: emb,
		Layout:   p.layout,
		Scanner:  sc,
		Renderer: renderer,
		Handle:   handle,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, sc, nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
