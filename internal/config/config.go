// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Staleness policies for the per-session checkpoint cache
const (
	StalenessConstruction = "construction"
	StalenessRead         = "read"
	StalenessWatch        = "watch"
)

// Duplicate message index policies
const (
	DuplicateOverwrite = "overwrite"
	DuplicateReject    = "reject"
)

// Config holds all application configuration
type Config struct {
	HomeDir string `koanf:"-" yaml:"-"`
	DataDir string `koanf:"data_dir" yaml:"data_dir"`
	LogDir  string `koanf:"log_dir" yaml:"log_dir"`

	Store  StoreConfig  `koanf:"store" yaml:"store"`
	Cache  CacheConfig  `koanf:"cache" yaml:"cache"`
	Index  IndexConfig  `koanf:"index" yaml:"index"`
	Diff   DiffConfig   `koanf:"diff" yaml:"diff"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
	Server ServerConfig `koanf:"server" yaml:"server"`
}

// StoreConfig controls how a project's checkpoint store is created
type StoreConfig struct {
	DirName                   string        `koanf:"dir_name" yaml:"dir_name"`
	CompressionLevel          int           `koanf:"compression_level" yaml:"compression_level"`
	CompressionMinSize        int64         `koanf:"compression_min_size" yaml:"compression_min_size"`
	SkipCompressionExtensions []string      `koanf:"skip_compression_extensions" yaml:"skip_compression_extensions"`
	IgnorePatterns            []string      `koanf:"ignore_patterns" yaml:"ignore_patterns"`
	GCGrace                   time.Duration `koanf:"gc_grace" yaml:"gc_grace"`
}

// CacheConfig controls when a manager re-reads the store
type CacheConfig struct {
	Staleness     string        `koanf:"staleness" yaml:"staleness"`
	WatchDebounce time.Duration `koanf:"watch_debounce" yaml:"watch_debounce"`
}

// IndexConfig controls the per-session message index
type IndexConfig struct {
	DuplicatePolicy string `koanf:"duplicate_policy" yaml:"duplicate_policy"`
}

// DiffConfig holds the default options for detailed diffs
type DiffConfig struct {
	ContextLines     int   `koanf:"context_lines" yaml:"context_lines"`
	IgnoreWhitespace bool  `koanf:"ignore_whitespace" yaml:"ignore_whitespace"`
	ShowLineNumbers  bool  `koanf:"show_line_numbers" yaml:"show_line_numbers"`
	MaxFileSize      int64 `koanf:"max_file_size" yaml:"max_file_size"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
	File   string `koanf:"file" yaml:"file"`
}

// ServerConfig controls the websocket host transport
type ServerConfig struct {
	Addr    string `koanf:"addr" yaml:"addr"`
	AuthKey string `koanf:"auth_key" yaml:"auth_key"`
}

// Default returns the built-in configuration rooted at homeDir
func Default(homeDir string) *Config {
	dataDir := filepath.Join(homeDir, ".checkpointd")
	return &Config{
		HomeDir: homeDir,
		DataDir: dataDir,
		LogDir:  filepath.Join(dataDir, "logs"),
		Store: StoreConfig{
			DirName:            ".checkpoints",
			CompressionLevel:   3,
			CompressionMinSize: 4096,
			SkipCompressionExtensions: []string{
				"jpg", "jpeg", "png", "gif", "mp4", "mp3",
				"zip", "gz", "bz2", "7z", "rar",
			},
			IgnorePatterns: []string{
				".git",
				".checkpoints",
				"node_modules",
				"target",
				"dist",
				"build",
				".next",
				"__pycache__",
				"*.log",
			},
			GCGrace: time.Minute,
		},
		Cache: CacheConfig{
			Staleness:     StalenessConstruction,
			WatchDebounce: 250 * time.Millisecond,
		},
		Index: IndexConfig{
			DuplicatePolicy: DuplicateOverwrite,
		},
		Diff: DiffConfig{
			ContextLines:     3,
			IgnoreWhitespace: false,
			ShowLineNumbers:  true,
			MaxFileSize:      10 * 1024 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:0",
		},
	}
}

// Validate rejects values the rest of the application cannot act on
func (c *Config) Validate() error {
	if c.Store.DirName == "" {
		return fmt.Errorf("store.dir_name must not be empty")
	}
	if c.Store.CompressionMinSize < 0 {
		return fmt.Errorf("store.compression_min_size must not be negative")
	}
	switch c.Cache.Staleness {
	case StalenessConstruction, StalenessRead, StalenessWatch:
	default:
		return fmt.Errorf("cache.staleness: unknown policy %q", c.Cache.Staleness)
	}
	switch c.Index.DuplicatePolicy {
	case DuplicateOverwrite, DuplicateReject:
	default:
		return fmt.Errorf("index.duplicate_policy: unknown policy %q", c.Index.DuplicatePolicy)
	}
	if c.Diff.ContextLines < 0 {
		return fmt.Errorf("diff.context_lines must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// EnsureDirs creates the data and log directories
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StorePath returns the checkpoint store directory for a project
func (c *Config) StorePath(projectPath string) string {
	return filepath.Join(projectPath, c.Store.DirName)
}
