package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// Filter decides whether a candidate fragment may appear in results.
// Filters compose by AND.
type Filter interface {
	Match(f *chunk.Fragment, similarity float32) bool
	String() string
}

// FilterExt keeps fragments whose file extension is in the set.
type FilterExt struct {
	Exts map[string]bool // Lower-case, no dot
}

func (x FilterExt) Match(f *chunk.Fragment, _ float32) bool {
	return x.Exts[strings.ToLower(f.Ext)]
}

func (x FilterExt) String() string { return "ext=" + joinSet(x.Exts) }

// FilterLang keeps fragments whose detected language is in the set.
type FilterLang struct {
	Langs map[string]bool // Lower-case
}

func (x FilterLang) Match(f *chunk.Fragment, _ float32) bool {
	return f.Language != "" && x.Langs[strings.ToLower(f.Language)]
}

func (x FilterLang) String() string { return "lang=" + joinSet(x.Langs) }

// FilterPathInclude keeps fragments whose path matches.
type FilterPathInclude struct {
	Pattern *regexp.Regexp
}

func (x FilterPathInclude) Match(f *chunk.Fragment, _ float32) bool {
	return x.Pattern.MatchString(f.Path)
}

func (x FilterPathInclude) String() string { return "path=" + x.Pattern.String() }

// FilterPathExclude drops fragments whose path matches.
type FilterPathExclude struct {
	Pattern *regexp.Regexp
}

func (x FilterPathExclude) Match(f *chunk.Fragment, _ float32) bool {
	return !x.Pattern.MatchString(f.Path)
}

func (x FilterPathExclude) String() string { return "exclude=" + x.Pattern.String() }

// FilterMinScore drops candidates whose similarity is below Min. It looks
// at the similarity before any keyword boost.
type FilterMinScore struct {
	Min float32
}

func (x FilterMinScore) Match(_ *chunk.Fragment, similarity float32) bool {
	return similarity >= x.Min
}

func (x FilterMinScore) String() string { return fmt.Sprintf("min_score=%.2f", x.Min) }

// FilterOptions is the raw filter input of a command line or tool call.
type FilterOptions struct {
	Ext         string // Comma separated, leading dots allowed
	Lang        string // Comma separated
	PathPattern string // Regex
	Exclude     string // Regex
	MinScore    float64
}

// ParseFilters builds the filter list for opts. An invalid regex is an
// input error.
func ParseFilters(opts FilterOptions) ([]Filter, error) {
	var filters []Filter

	if exts := splitSet(opts.Ext, "."); len(exts) > 0 {
		filters = append(filters, FilterExt{Exts: exts})
	}
	if langs := splitSet(opts.Lang, ""); len(langs) > 0 {
		filters = append(filters, FilterLang{Langs: langs})
	}
	if opts.PathPattern != "" {
		re, err := compilePattern("path pattern", opts.PathPattern)
		if err != nil {
			return nil, err
		}
		filters = append(filters, FilterPathInclude{Pattern: re})
	}
	if opts.Exclude != "" {
		re, err := compilePattern("exclude pattern", opts.Exclude)
		if err != nil {
			return nil, err
		}
		filters = append(filters, FilterPathExclude{Pattern: re})
	}
	if opts.MinScore < 0 || opts.MinScore > 1 {
		return nil, verrors.Newf(verrors.ErrCodeInvalidPattern, "min score must be between 0 and 1, got %g", opts.MinScore)
	}
	if opts.MinScore > 0 {
		filters = append(filters, FilterMinScore{Min: float32(opts.MinScore)})
	}
	return filters, nil
}

// CompileKeyword compiles a hybrid keyword pattern. Matching ignores case.
func CompileKeyword(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return compilePattern("keyword pattern", "(?i)"+pattern)
}

func compilePattern(what, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeInvalidPattern, "invalid "+what, err).
			WithDetail("pattern", pattern).
			WithSuggestion("patterns use Go regexp syntax, see https://pkg.go.dev/regexp/syntax")
	}
	return re, nil
}

func matchAll(filters []Filter, f *chunk.Fragment, similarity float32) bool {
	for _, flt := range filters {
		if !flt.Match(f, similarity) {
			return false
		}
	}
	return true
}

// splitSet parses a comma separated list into a lower-case set, trimming
// prefix from each item.
func splitSet(csv, prefix string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range strings.Split(csv, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if prefix != "" {
			item = strings.TrimPrefix(item, prefix)
		}
		if item != "" {
			set[item] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func joinSet(set map[string]bool) string {
	items := make([]string, 0, len(set))
	for k := range set {
		items = append(items, k)
	}
	sort.Strings(items)
	return strings.Join(items, ",")
}
