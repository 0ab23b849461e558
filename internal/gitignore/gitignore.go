// Package gitignore matches paths against gitignore-style pattern files.
//
// The same syntax serves .gitignore and .vgrepignore: wildcards (*, ?, **),
// rooted patterns (/build), negation (!keep.log) and directory-only
// patterns (tmp/). Patterns read from a nested file apply only below the
// directory that holds it.
//
//	m := gitignore.New()
//	m.Add("*.log", "")
//	m.Add("!keep.log", "")
//	_ = m.AddFile("/repo/src/.gitignore", "src")
//	m.Match("src/debug.log", false) // true
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled rules. Later rules override earlier ones, so
// files must be added from the root downward.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	base     string // slash path of the directory that declared the rule
	negate   bool
	dirOnly  bool
	anchored bool
}

// New returns an empty matcher.
func New() *Matcher {
	return &Matcher{}
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Add compiles one pattern line declared in directory base ("" for root).
// Blank lines and comments are ignored.
func (m *Matcher) Add(line, base string) {
	r, ok := compile(line)
	if !ok {
		return
	}
	r.base = strings.Trim(path.Clean("/"+base), "/")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFile reads every pattern of an ignore file declared in directory base.
func (m *Matcher) AddFile(file, base string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read ignore file %s: %w", file, err)
	}
	return nil
}

// Match reports whether the slash-separated relative path p is ignored.
func (m *Matcher) Match(p string, isDir bool) bool {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(p, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func compile(line string) (rule, bool) {
	var r rule

	// "\ " at the end keeps a trailing space; anything else is trimmed.
	keepSpace := strings.HasSuffix(line, `\ `)
	line = strings.TrimSpace(line)
	if keepSpace && strings.HasSuffix(line, `\`) {
		line = strings.TrimSuffix(line, `\`) + " "
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return r, false
	}

	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	// A slash in the middle anchors the pattern to its base directory.
	if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		r.anchored = true
	}
	if line == "" {
		return r, false
	}

	re, err := regexp.Compile("^" + translate(line) + "$")
	if err != nil {
		return r, false
	}
	r.re = re
	return r, true
}

func (r rule) matches(p string, isDir bool) bool {
	if r.base != "" {
		if p != r.base && !strings.HasPrefix(p, r.base+"/") {
			return false
		}
		p = strings.TrimPrefix(strings.TrimPrefix(p, r.base), "/")
		if p == "" {
			return false
		}
	}

	parts := strings.Split(p, "/")

	if r.anchored {
		// The pattern names the path itself or one of its parent directories.
		for i := len(parts); i > 0; i-- {
			prefix := strings.Join(parts[:i], "/")
			if !r.re.MatchString(prefix) {
				continue
			}
			if i == len(parts) {
				return !r.dirOnly || isDir
			}
			return true
		}
		return false
	}

	for i, part := range parts {
		if !r.re.MatchString(part) {
			continue
		}
		if i == len(parts)-1 {
			return !r.dirOnly || isDir
		}
		return true
	}
	// Patterns such as "**/gen/*.go" match across components.
	return !r.dirOnly && r.re.MatchString(p)
}

// translate rewrites glob syntax as an unanchored regular expression.
func translate(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				atStart := i == 0 || glob[i-1] == '/'
				switch {
				case atStart && i+2 < len(glob) && glob[i+2] == '/':
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				case atStart && i+2 == len(glob):
					b.WriteString(".*")
					i++
					continue
				}
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
