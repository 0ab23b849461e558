// Package scanner discovers indexable files in a project, honoring
// .gitignore and .vgrepignore files at every level plus built-in excludes
// for dependency trees, VCS metadata and secrets.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	"github.com/Aman-CERP/vgrep/internal/config"
	"github.com/Aman-CERP/vgrep/internal/gitignore"
)

// Ignore files read in every directory.
const (
	GitignoreFile = ".gitignore"
	IgnoreFile    = ".vgrepignore"
)

// matcherCacheSize bounds the per-directory matcher cache.
const matcherCacheSize = 1000

// builtinExcludes are never indexed, whatever the ignore files say.
var builtinExcludes = []string{
	".git/",
	".hg/",
	".svn/",
	config.DataDirName + "/",
	"node_modules/",
	"target/",
	"vendor/",
	"__pycache__/",
	".venv/",

	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",

	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"id_rsa*",
	"id_ed25519*",
	".netrc",
	".npmrc",
}

// FileInfo describes a discovered file.
type FileInfo struct {
	Path     string // Relative to the root, slash separated
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string
}

// Result is one item of a scan stream.
type Result struct {
	File *FileInfo
	Err  error
}

// Options configures a Scanner.
type Options struct {
	Root           string
	Exclude        []string // Extra gitignore-style patterns
	FollowSymlinks bool
}

// Scanner walks one project root. It is safe for concurrent use.
type Scanner struct {
	root     string
	opts     Options
	builtin  *gitignore.Matcher
	matchers *lru.Cache[string, *gitignore.Matcher]
}

// New creates a scanner for opts.Root, which must be a directory.
func New(opts Options) (*Scanner, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher cache: %w", err)
	}

	builtin := gitignore.New()
	for _, p := range builtinExcludes {
		builtin.Add(p, "")
	}
	for _, p := range opts.Exclude {
		builtin.Add(p, "")
	}

	return &Scanner{root: root, opts: opts, builtin: builtin, matchers: cache}, nil
}

// Root returns the absolute project root.
func (s *Scanner) Root() string { return s.root }

// Scan streams indexable files in lexical path order. The channel closes
// when the walk finishes or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) <-chan Result {
	out := make(chan Result, 64)
	go func() {
		defer close(out)
		err := filepath.WalkDir(s.root, func(abs string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				// Unreadable subtrees are skipped, not fatal.
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, ok := s.rel(abs)
			if !ok {
				return nil
			}

			if d.IsDir() {
				if s.Ignored(rel, true) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
				return nil
			}
			if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			if !chunk.IsIndexable(rel) || s.ignoredFile(rel) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			select {
			case out <- Result{File: s.fileInfo(rel, abs, info)}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			select {
			case out <- Result{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// Collect runs Scan to completion and returns every file found.
func (s *Scanner) Collect(ctx context.Context) ([]*FileInfo, error) {
	var files []*FileInfo
	for r := range s.Scan(ctx) {
		if r.Err != nil {
			return files, r.Err
		}
		files = append(files, r.File)
	}
	return files, ctx.Err()
}

// Lookup resolves one relative path for incremental syncs. It returns nil
// without error when the file is gone, ignored or not indexable.
func (s *Scanner) Lookup(rel string) (*FileInfo, error) {
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || strings.HasPrefix(rel, "../") || !chunk.IsIndexable(rel) {
		return nil, nil
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		if !s.opts.FollowSymlinks {
			return nil, nil
		}
		if info, err = os.Stat(abs); err != nil {
			return nil, nil
		}
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	if s.ignoredFile(rel) {
		return nil, nil
	}
	return s.fileInfo(rel, abs, info), nil
}

// Ignored reports whether the relative path is excluded by the built-in
// patterns or by an ignore file in any of its ancestor directories.
func (s *Scanner) Ignored(rel string, isDir bool) bool {
	rel = path.Clean(filepath.ToSlash(rel))
	if s.builtin.Match(rel, isDir) {
		return true
	}
	for _, dir := range ancestors(rel) {
		if m := s.matcher(dir); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// ancestors lists the directories above rel from the root down, with ""
// standing for the root.
func ancestors(rel string) []string {
	dirs := []string{""}
	parent := path.Dir(rel)
	if parent == "." {
		return dirs
	}
	acc := ""
	for _, part := range strings.Split(parent, "/") {
		acc = path.Join(acc, part)
		dirs = append(dirs, acc)
	}
	return dirs
}

// ignoredFile also checks the ancestor directories themselves, which
// Scan prunes during the walk but Lookup must test explicitly.
func (s *Scanner) ignoredFile(rel string) bool {
	if s.Ignored(rel, false) {
		return true
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if s.Ignored(dir, true) {
			return true
		}
	}
	return false
}

// Invalidate drops cached ignore rules. Call it after an ignore file changes.
func (s *Scanner) Invalidate() {
	s.matchers.Purge()
}

// IsIgnoreFile reports whether rel names an ignore file the scanner reads.
func IsIgnoreFile(rel string) bool {
	base := path.Base(filepath.ToSlash(rel))
	return base == GitignoreFile || base == IgnoreFile
}

// matcher returns the rules declared in directory dir ("" is the root), or
// nil when it has no ignore files.
func (s *Scanner) matcher(dir string) *gitignore.Matcher {
	if m, ok := s.matchers.Get(dir); ok {
		return m
	}
	m := gitignore.New()
	for _, name := range []string{GitignoreFile, IgnoreFile} {
		file := filepath.Join(s.root, filepath.FromSlash(dir), name)
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = m.AddFile(file, dir)
	}
	if m.Len() == 0 {
		m = nil
	}
	s.matchers.Add(dir, m)
	return m
}

func (s *Scanner) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (s *Scanner) fileInfo(rel, abs string, info fs.FileInfo) *FileInfo {
	return &FileInfo{
		Path:     rel,
		AbsPath:  abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: chunk.DetectLanguage(rel),
	}
}
