package mcp

// SearchInput is the argument schema of the search tool.
type SearchInput struct {
	Query       string  `json:"query" jsonschema:"natural language description of the code to find"`
	Limit       int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, at most 50"`
	Ext         string  `json:"ext,omitempty" jsonschema:"comma separated file extensions, e.g. go,rs"`
	Lang        string  `json:"lang,omitempty" jsonschema:"comma separated languages, e.g. go,python"`
	PathPattern string  `json:"path_pattern,omitempty" jsonschema:"regular expression paths must match"`
	Exclude     string  `json:"exclude,omitempty" jsonschema:"regular expression paths must not match"`
	MinScore    float64 `json:"min_score,omitempty" jsonschema:"minimum cosine similarity between 0 and 1"`
	Keyword     string  `json:"keyword,omitempty" jsonschema:"case-insensitive regular expression that boosts fragments containing it"`
	DedupeFiles *bool   `json:"dedupe_files,omitempty" jsonschema:"return at most one fragment per file"`
}

// SearchOutput is the structured result of the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked results, best first"`
}

// SearchResultOutput is one ranked fragment.
type SearchResultOutput struct {
	File           string  `json:"file" jsonschema:"path relative to the project root"`
	StartLine      int     `json:"start_line" jsonschema:"first line of the fragment, 1-based"`
	EndLine        int     `json:"end_line" jsonschema:"last line of the fragment, inclusive"`
	Score          float64 `json:"score" jsonschema:"ranking score: similarity plus keyword boost"`
	Similarity     float64 `json:"similarity" jsonschema:"cosine similarity to the query"`
	Language       string  `json:"language,omitempty" jsonschema:"language of the file"`
	KeywordMatches int     `json:"keyword_matches,omitempty" jsonschema:"occurrences of the keyword pattern"`
	Content        string  `json:"content" jsonschema:"fragment text"`
}

// IndexStatusInput takes no arguments.
type IndexStatusInput struct{}

// IndexStatusOutput describes the served index.
type IndexStatusOutput struct {
	Root            string  `json:"root" jsonschema:"project root"`
	Indexed         bool    `json:"indexed" jsonschema:"whether a published index exists"`
	Generation      uint64  `json:"generation,omitempty" jsonschema:"number of the served generation"`
	Model           string  `json:"model,omitempty" jsonschema:"model the index was built with"`
	Dimensions      int     `json:"dimensions,omitempty" jsonschema:"vector dimensions of the index"`
	ConfiguredModel string  `json:"configured_model" jsonschema:"model queries are embedded with"`
	Compatible      bool    `json:"compatible" jsonschema:"whether the configured model can query the index"`
	Files           int     `json:"files" jsonschema:"indexed files"`
	Fragments       int     `json:"fragments" jsonschema:"live fragments"`
	Tombstones      int     `json:"tombstones" jsonschema:"deleted graph nodes awaiting compaction"`
	TombstoneRatio  float64 `json:"tombstone_ratio" jsonschema:"tombstones over live fragments"`
	DiskBytes       int64   `json:"disk_bytes" jsonschema:"size of the data directory"`
	IndexedAt       string  `json:"indexed_at,omitempty" jsonschema:"RFC 3339 publish time"`
	Message         string  `json:"message,omitempty" jsonschema:"what to do when the index is missing or incompatible"`
}
