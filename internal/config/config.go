// Package config handles loading and managing jolt configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort      int    `toml:"api_port"`       // HTTP server port (default: 8080)
	APIKey       string `toml:"api_key"`        // API authentication key
	RateLimitQPS int    `toml:"rate_limit_qps"` // per-client request rate (default: 25)
}

// AccountSchedule defines the sync schedule for a single account.
type AccountSchedule struct {
	Email    string `toml:"email"`    // account email
	Schedule string `toml:"schedule"` // cron expression (e.g., "*/5 * * * *")
	Enabled  bool   `toml:"enabled"`  // whether scheduled sync is active
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// SendConfig holds outbound delivery configuration.
type SendConfig struct {
	DefaultDelaySeconds int `toml:"default_delay_seconds"` // cancellation window for new accounts
}

// Config represents the jolt configuration.
type Config struct {
	Data     DataConfig        `toml:"data"`
	Server   ServerConfig      `toml:"server"`
	Send     SendConfig        `toml:"send"`
	Accounts []AccountSchedule `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default jolt home directory.
// Respects the JOLT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("JOLT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jolt"
	}
	return filepath.Join(home, ".jolt")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.jolt/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			APIPort:      8080,
			RateLimitQPS: 25,
		},
		Send: SendConfig{
			DefaultDelaySeconds: 30,
		},
		Accounts: []AccountSchedule{},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	return cfg, nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "jolt.db")
}

// ScheduledAccounts returns accounts with scheduling enabled.
func (c *Config) ScheduledAccounts() []AccountSchedule {
	var scheduled []AccountSchedule
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
