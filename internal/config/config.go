// Package config loads ygrep configuration from defaults, the user config
// file, the project config file and YGREP_* environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// ProjectConfigNames are the per-workspace config files, in lookup order.
var ProjectConfigNames = []string{".ygrep.yaml", ".ygrep.yml"}

// Config represents the complete ygrep configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	DataDir     string            `yaml:"data_dir" json:"data_dir"`
	Walker      WalkerConfig      `yaml:"walker" json:"walker"`
	Text        TextConfig        `yaml:"text" json:"text"`
	Semantic    SemanticConfig    `yaml:"semantic" json:"semantic"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Watch       WatchConfig       `yaml:"watch" json:"watch"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// WalkerConfig controls which files reach the indexes.
type WalkerConfig struct {
	MaxFileSize      int64    `yaml:"max_file_size" json:"max_file_size" validate:"gt=0"`
	ExcludeDirs      []string `yaml:"exclude_dirs" json:"exclude_dirs"`
	FollowSymlinks   bool     `yaml:"follow_symlinks" json:"follow_symlinks"`
	RespectGitignore bool     `yaml:"respect_gitignore" json:"respect_gitignore"`
}

// TextConfig tunes the BM25 text index.
type TextConfig struct {
	// Backend is "native" (snapshot BM25) or "bleve".
	Backend string  `yaml:"backend" json:"backend" validate:"oneof=native bleve"`
	K1      float64 `yaml:"k1" json:"k1" validate:"gte=0,lte=10"`
	B       float64 `yaml:"b" json:"b" validate:"gte=0,lte=1"`
}

// SemanticConfig configures embeddings, chunking and the HNSW graph.
type SemanticConfig struct {
	Provider          string  `yaml:"provider" json:"provider" validate:"oneof=static ollama"`
	Model             string  `yaml:"model" json:"model"`
	Host              string  `yaml:"host" json:"host" validate:"omitempty,url"`
	Dimensions        int     `yaml:"dimensions" json:"dimensions" validate:"gt=0,lte=8192"`
	BatchSize         int     `yaml:"batch_size" json:"batch_size" validate:"gt=0,lte=1024"`
	ChunkLines        int     `yaml:"chunk_lines" json:"chunk_lines" validate:"gt=0"`
	ChunkOverlap      int     `yaml:"chunk_overlap" json:"chunk_overlap" validate:"gte=0,ltfield=ChunkLines"`
	MinChunkBytes     int     `yaml:"min_chunk_bytes" json:"min_chunk_bytes" validate:"gte=0"`
	MaxChunkBytes     int     `yaml:"max_chunk_bytes" json:"max_chunk_bytes" validate:"gt=0"`
	M                 int     `yaml:"m" json:"m" validate:"gte=2,lte=128"`
	EfSearch          int     `yaml:"ef_search" json:"ef_search" validate:"gt=0"`
	CacheSize         int     `yaml:"cache_size" json:"cache_size" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
}

// SearchConfig configures result limits and hybrid fusion weights.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit" validate:"gt=0"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit" validate:"gtefield=DefaultLimit"`
	// TextWeight and SemanticWeight must sum to 1.0.
	TextWeight     float64 `yaml:"text_weight" json:"text_weight" validate:"gte=0,lte=1"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight" validate:"gte=0,lte=1"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce" json:"debounce"`
	UsePolling   bool          `yaml:"use_polling" json:"use_polling"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// PerformanceConfig configures the worker pool. Zero workers means NumCPU.
type PerformanceConfig struct {
	Workers int `yaml:"workers" json:"workers" validate:"gte=0,lte=256"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb" validate:"gt=0"`
	MaxFiles  int    `yaml:"max_files" json:"max_files" validate:"gt=0"`
}

// DefaultExcludeDirs are directories that never hold indexable source.
var DefaultExcludeDirs = []string{
	"node_modules", "vendor", "target", "dist", "build", "out",
	"__pycache__", "venv", "coverage", "bower_components",
}

var validate = validator.New()

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Walker: WalkerConfig{
			MaxFileSize:      1 << 20,
			ExcludeDirs:      append([]string(nil), DefaultExcludeDirs...),
			FollowSymlinks:   true,
			RespectGitignore: true,
		},
		Text: TextConfig{
			Backend: "native",
			K1:      1.2,
			B:       0.75,
		},
		Semantic: SemanticConfig{
			Provider:          "static",
			Model:             "nomic-embed-text",
			Host:              "http://localhost:11434",
			Dimensions:        256,
			BatchSize:         64,
			ChunkLines:        30,
			ChunkOverlap:      10,
			MinChunkBytes:     50,
			MaxChunkBytes:     4096,
			M:                 16,
			EfSearch:          64,
			CacheSize:         4096,
			RequestsPerSecond: 20,
		},
		Search: SearchConfig{
			DefaultLimit:   20,
			MaxLimit:       500,
			TextWeight:     0.6,
			SemanticWeight: 0.4,
		},
		Watch: WatchConfig{
			Debounce:     200 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns $XDG_DATA_HOME/ygrep, falling back to
// ~/.local/share/ygrep.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "ygrep")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ygrep")
	}
	return filepath.Join(home, ".local", "share", "ygrep")
}

// UserConfigPath returns $XDG_CONFIG_HOME/ygrep/config.yaml, falling back
// to ~/.config/ygrep/config.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ygrep", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ygrep", "config.yaml")
}

// Load loads configuration for the workspace at dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/ygrep/config.yaml)
//  3. Project config (.ygrep.yaml in dir)
//  4. Environment variables (YGREP_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := UserConfigPath(); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if dir != "" {
		for _, name := range ProjectConfigNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path on top of c, so absent keys keep earlier values.
// A missing file is not an error.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return yerrors.ConfigError("failed to read config "+path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return yerrors.ConfigError("failed to parse config "+path, err)
	}
	return nil
}

// applyEnvOverrides applies YGREP_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("YGREP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("YGREP_TEXT_BACKEND"); v != "" {
		c.Text.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("YGREP_EMBEDDER"); v != "" {
		c.Semantic.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("YGREP_EMBED_MODEL"); v != "" {
		c.Semantic.Model = v
	}
	if v := os.Getenv("YGREP_OLLAMA_HOST"); v != "" {
		c.Semantic.Host = v
	}
	if v := os.Getenv("YGREP_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("YGREP_TEXT_WEIGHT"); v != "" {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil || w < 0 || w > 1 {
			return yerrors.ConfigError(fmt.Sprintf("YGREP_TEXT_WEIGHT must be a number in [0,1], got %q", v), err)
		}
		c.Search.TextWeight = w
		c.Search.SemanticWeight = 1 - w
	}
	if v := os.Getenv("YGREP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return yerrors.ConfigError(fmt.Sprintf("YGREP_WORKERS must be an integer, got %q", v), err)
		}
		c.Performance.Workers = n
	}
	if v := os.Getenv("YGREP_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return yerrors.ConfigError(fmt.Sprintf("YGREP_MAX_FILE_SIZE must be an integer, got %q", v), err)
		}
		c.Walker.MaxFileSize = n
	}
	return nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return yerrors.ConfigError("invalid configuration", err)
	}

	sum := c.Search.TextWeight + c.Search.SemanticWeight
	if math.Abs(sum-1.0) > 0.01 {
		return yerrors.ConfigError(
			fmt.Sprintf("search.text_weight + search.semantic_weight must equal 1.0, got %.2f", sum), nil)
	}
	if c.Watch.Debounce < 0 {
		return yerrors.ConfigError("watch.debounce must be non-negative", nil)
	}
	if c.Watch.UsePolling && c.Watch.PollInterval <= 0 {
		return yerrors.ConfigError("watch.poll_interval must be positive when polling", nil)
	}
	return nil
}

// Workers returns the worker pool size, resolving zero to NumCPU.
func (c *Config) Workers() int {
	if c.Performance.Workers > 0 {
		return c.Performance.Workers
	}
	return runtime.NumCPU()
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
