package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/vgrep/internal/search"
)

// FormatSearchResults renders results as markdown for the text content
// of a tool reply.
func FormatSearchResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for %q\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for _, r := range results {
		formatResult(&sb, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, r search.Result) {
	f := r.Fragment
	fmt.Fprintf(sb, "### %d. %s:%d-%d (score %.2f)\n\n", r.Rank, f.Path, f.StartLine, f.EndLine, r.Score)
	if r.KeywordMatches > 0 {
		fmt.Fprintf(sb, "Keyword matches: %d\n\n", r.KeywordMatches)
	}
	fence := "```"
	for strings.Contains(f.Text, fence) {
		fence += "`"
	}
	fmt.Fprintf(sb, "%s%s\n%s\n%s\n\n", fence, f.Language, strings.TrimRight(f.Text, "\n"), fence)
}

// ToSearchResultOutput converts a result to its structured form.
func ToSearchResultOutput(r search.Result) SearchResultOutput {
	f := r.Fragment
	return SearchResultOutput{
		File:           f.Path,
		StartLine:      f.StartLine,
		EndLine:        f.EndLine,
		Score:          float64(r.Score),
		Similarity:     float64(r.Similarity),
		Language:       f.Language,
		KeywordMatches: r.KeywordMatches,
		Content:        f.Text,
	}
}
