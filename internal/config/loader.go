package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. CHECKPOINTD_CACHE_STALENESS
const EnvPrefix = "CHECKPOINTD_"

const maxConfigFileSize = 1024 * 1024

// listKeys take comma separated values from the environment
var listKeys = map[string]bool{
	"store.skip_compression_extensions": true,
	"store.ignore_patterns":             true,
}

var sections = map[string]bool{
	"store":  true,
	"cache":  true,
	"index":  true,
	"diff":   true,
	"log":    true,
	"server": true,
}

// Load resolves the configuration.
//
// Precedence (highest first): CHECKPOINTD_* environment variables, the YAML file at
// configPath (default ~/.checkpointd/config.yaml, optional), built-in defaults.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(home, ".checkpointd", "config.yaml")
	}
	return load(home, configPath)
}

func load(home, configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(Default(home))
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = envKey(key)
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.HomeDir = home

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps CHECKPOINTD_CACHE_WATCH_DEBOUNCE to cache.watch_debounce and
// CHECKPOINTD_DATA_DIR to data_dir.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 2 && sections[parts[0]] {
		return parts[0] + "." + parts[1]
	}
	return lower
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}
