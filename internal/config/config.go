// Package config handles Wren configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/wren/config.yaml, /etc/wren/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wren", "config.yaml"))
	}

	paths = append(paths, "/etc/wren/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Wren configuration.
type Config struct {
	Bot      BotConfig     `yaml:"bot"`
	Gateway  GatewayConfig `yaml:"gateway"`
	DataDir  string        `yaml:"data_dir"`
	CacheDir string        `yaml:"cache_dir"`
	LogLevel string        `yaml:"log_level"`
}

// BotConfig identifies the bot account this process runs as.
type BotConfig struct {
	// ID is the bot's account id on the chat platform. It namespaces
	// the activation cache so several bots can share a data directory.
	ID string `yaml:"id"`
	// Name is a human-readable label used only in logs.
	Name string `yaml:"name"`
}

// GatewayConfig defines the chat-platform gateway connection.
type GatewayConfig struct {
	// URL is the gateway endpoint (http(s) or ws(s) scheme).
	URL string `yaml:"url"`
	// Token authenticates the connection.
	Token string `yaml:"token"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so tokens can live outside the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
	}
}

// LedgerPath returns the path of the message ledger database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}
