package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

const (
	// DataDirName is the project-local directory holding the index.
	DataDirName = ".vgrep"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VGREP_"
)

// Config represents the complete vgrep configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SearchConfig configures query defaults.
type SearchConfig struct {
	MaxResults  int  `yaml:"max_results" json:"max_results"`
	ShowContent bool `yaml:"show_content" json:"show_content"`

	// BoostWeight scales the hybrid keyword signal added to similarity.
	BoostWeight float64 `yaml:"boost_weight" json:"boost_weight"`

	// Overfetch multiplies the requested count when asking the graph for candidates.
	Overfetch int `yaml:"overfetch" json:"overfetch"`

	// DedupeFiles keeps only the best fragment per file.
	DedupeFiles bool `yaml:"dedupe_files" json:"dedupe_files"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"` // static, ollama, openai
	Model    string `yaml:"model" json:"model"`

	OllamaHost    string `yaml:"ollama_host" json:"ollama_host"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"-" json:"-"` // env only

	// RemoteModel overrides the model name sent to OpenAI-compatible servers.
	RemoteModel string `yaml:"remote_model" json:"remote_model"`

	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// IndexConfig configures chunking, scanning and the proximity graph.
type IndexConfig struct {
	ChunkSize    int      `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxFileSize  int64    `yaml:"max_file_size" json:"max_file_size"`
	Workers      int      `yaml:"workers" json:"workers"`
	Exclude      []string `yaml:"exclude" json:"exclude"`

	M                   int     `yaml:"m" json:"m"`
	EfConstruction      int     `yaml:"ef_construction" json:"ef_construction"`
	EfSearch            int     `yaml:"ef_search" json:"ef_search"`
	CompactionThreshold float64 `yaml:"compaction_threshold" json:"compaction_threshold"`
}

// WatchConfig configures continuous sync.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns a Config populated with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			MaxResults:  10,
			BoostWeight: 0.1,
			Overfetch:   4,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "static",
			Model:         "minilm",
			OllamaHost:    "http://localhost:11434",
			OpenAIBaseURL: "http://localhost:1234/v1",
			BatchSize:     32,
			CacheSize:     2048,
			Timeout:       "60s",
		},
		Index: IndexConfig{
			ChunkSize:           512,
			ChunkOverlap:        64,
			MaxFileSize:         10 * 1024 * 1024,
			Workers:             runtime.NumCPU(),
			M:                   16,
			EfConstruction:      128,
			EfSearch:            64,
			CompactionThreshold: 0.2,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DataDir returns the index directory for a project root.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/vgrep/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/vgrep/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vgrep", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vgrep", "config.yaml")
	}
	return filepath.Join(home, ".config", "vgrep", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Built-in defaults
//  2. User config (~/.config/vgrep/config.yaml)
//  3. Project config (.vgrep.yaml in project root)
//  4. Environment variables (VGREP_*), seeded from the project .env file
//
// Command-line flags are applied by the caller on top of the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	env, err := newEnvLookup(dir)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads .vgrep.yaml or .vgrep.yml from dir when present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".vgrep.yaml", ".vgrep.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return verrors.New(verrors.ErrCodeConfigRead, fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return verrors.New(verrors.ErrCodeConfigInvalid, fmt.Sprintf("failed to parse config file %s", path), err)
	}
	var switches fileSwitches
	if err := yaml.Unmarshal(data, &switches); err != nil {
		return verrors.New(verrors.ErrCodeConfigInvalid, fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	switches.apply(c)
	return nil
}

// fileSwitches holds the boolean keys of a config file as pointers, so an
// explicit false in a later layer overrides true from an earlier one.
type fileSwitches struct {
	Search struct {
		ShowContent *bool `yaml:"show_content"`
		DedupeFiles *bool `yaml:"dedupe_files"`
	} `yaml:"search"`
}

func (s fileSwitches) apply(c *Config) {
	if s.Search.ShowContent != nil {
		c.Search.ShowContent = *s.Search.ShowContent
	}
	if s.Search.DedupeFiles != nil {
		c.Search.DedupeFiles = *s.Search.DedupeFiles
	}
}

// mergeWith merges non-zero values from other into c. Booleans are
// applied by fileSwitches.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.BoostWeight != 0 {
		c.Search.BoostWeight = other.Search.BoostWeight
	}
	if other.Search.Overfetch != 0 {
		c.Search.Overfetch = other.Search.Overfetch
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.OpenAIBaseURL != "" {
		c.Embeddings.OpenAIBaseURL = other.Embeddings.OpenAIBaseURL
	}
	if other.Embeddings.RemoteModel != "" {
		c.Embeddings.RemoteModel = other.Embeddings.RemoteModel
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != "" {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}

	if other.Index.ChunkSize != 0 {
		c.Index.ChunkSize = other.Index.ChunkSize
	}
	if other.Index.ChunkOverlap != 0 {
		c.Index.ChunkOverlap = other.Index.ChunkOverlap
	}
	if other.Index.MaxFileSize != 0 {
		c.Index.MaxFileSize = other.Index.MaxFileSize
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if len(other.Index.Exclude) > 0 {
		c.Index.Exclude = append(c.Index.Exclude, other.Index.Exclude...)
	}
	if other.Index.M != 0 {
		c.Index.M = other.Index.M
	}
	if other.Index.EfConstruction != 0 {
		c.Index.EfConstruction = other.Index.EfConstruction
	}
	if other.Index.EfSearch != 0 {
		c.Index.EfSearch = other.Index.EfSearch
	}
	if other.Index.CompactionThreshold != 0 {
		c.Index.CompactionThreshold = other.Index.CompactionThreshold
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// envLookup resolves VGREP_* variables from the process environment first,
// then from the project .env file.
type envLookup struct {
	dotenv map[string]string
}

func newEnvLookup(dir string) (*envLookup, error) {
	l := &envLookup{dotenv: map[string]string{}}
	path := filepath.Join(dir, ".env")
	if !fileExists(path) {
		return l, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeConfigRead, fmt.Sprintf("failed to read %s", path), err)
	}
	l.dotenv = vals
	return l, nil
}

func (l *envLookup) get(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return l.dotenv[key]
}

// applyEnvOverrides applies VGREP_* environment variable overrides.
// Malformed numeric values are ignored so a typo never masks the file config.
func (c *Config) applyEnvOverrides(env *envLookup) {
	if v := env.get(EnvPrefix + "MAX_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := env.get(EnvPrefix + "CONTENT"); v != "" {
		c.Search.ShowContent = parseBool(v)
	}
	if v := env.get(EnvPrefix + "DEDUPE"); v != "" {
		c.Search.DedupeFiles = parseBool(v)
	}
	if v := env.get(EnvPrefix + "BOOST_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 {
			c.Search.BoostWeight = w
		}
	}
	if v := env.get(EnvPrefix + "MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := env.get(EnvPrefix + "PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := env.get(EnvPrefix + "OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := env.get(EnvPrefix + "OPENAI_BASE_URL"); v != "" {
		c.Embeddings.OpenAIBaseURL = v
	}
	if v := env.get(EnvPrefix + "OPENAI_API_KEY"); v != "" {
		c.Embeddings.OpenAIAPIKey = v
	} else if v := env.get("OPENAI_API_KEY"); v != "" {
		c.Embeddings.OpenAIAPIKey = v
	}
	if v := env.get(EnvPrefix + "REMOTE_MODEL"); v != "" {
		c.Embeddings.RemoteModel = v
	}
	if v := env.get(EnvPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}
	if v := env.get(EnvPrefix + "DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}
	if v := env.get(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// DebounceDuration returns the parsed watch debounce window.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// EmbedTimeout returns the parsed per-request provider timeout.
func (c *Config) EmbedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embeddings.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return verrors.Newf(verrors.ErrCodeConfigInvalid, format, args...)
	}

	if c.Search.MaxResults <= 0 {
		return invalid("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.BoostWeight < 0 || c.Search.BoostWeight > 1 {
		return invalid("search.boost_weight must be between 0 and 1, got %f", c.Search.BoostWeight)
	}
	if c.Search.Overfetch < 1 {
		return invalid("search.overfetch must be at least 1, got %d", c.Search.Overfetch)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama", "openai":
	default:
		return invalid("embeddings.provider must be 'static', 'ollama' or 'openai', got %q", c.Embeddings.Provider)
	}
	if strings.TrimSpace(c.Embeddings.Model) == "" {
		return invalid("embeddings.model must not be empty")
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.Index.ChunkSize <= 0 {
		return invalid("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return invalid("index.chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	}
	if c.Index.MaxFileSize <= 0 {
		return invalid("index.max_file_size must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.M < 2 {
		return invalid("index.m must be at least 2, got %d", c.Index.M)
	}
	if c.Index.EfConstruction < c.Index.M {
		return invalid("index.ef_construction must be >= m, got %d", c.Index.EfConstruction)
	}
	if c.Index.EfSearch <= 0 {
		return invalid("index.ef_search must be positive, got %d", c.Index.EfSearch)
	}
	if c.Index.CompactionThreshold <= 0 || c.Index.CompactionThreshold > 1 {
		return invalid("index.compaction_threshold must be in (0, 1], got %f", c.Index.CompactionThreshold)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// FindProjectRoot walks up from startDir looking for an existing index
// directory, then a .git directory. Falls back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for _, marker := range []string{DataDirName, ".git"} {
		dir := absDir
		for {
			if dirExists(filepath.Join(dir, marker)) {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return absDir, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
