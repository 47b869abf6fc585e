package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration
type Config struct {
	Version   int             `toml:"version"`
	Database  DatabaseConfig  `toml:"database"`
	Source    SourceConfig    `toml:"source"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Digest    DigestConfig    `toml:"digest"`
}

type DatabaseConfig struct {
	// Path to the SQLite file. Empty means <config dir>/finx.db.
	Path string `toml:"path"`
}

type SourceConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type SchedulerConfig struct {
	Enabled      bool               `toml:"enabled"`
	Timezone     string             `toml:"timezone"`
	TradingHours TradingHoursConfig `toml:"trading_hours"`
	AfterHours   AfterHoursConfig   `toml:"after_hours"`
	Weekend      WeekendConfig      `toml:"weekend"`
	Retry        RetryConfig        `toml:"retry"`
}

type TradingHoursConfig struct {
	Start           string `toml:"start"`
	End             string `toml:"end"`
	IntervalMinutes int    `toml:"interval_minutes"`
}

type AfterHoursConfig struct {
	Enabled bool     `toml:"enabled"`
	Times   []string `toml:"times"`
}

type WeekendConfig struct {
	Enabled bool   `toml:"enabled"`
	Time    string `toml:"time"`
}

type RetryConfig struct {
	MaxAttempts    int `toml:"max_attempts"`
	BackoffSeconds int `toml:"backoff_seconds"`
}

type DigestConfig struct {
	MaxItemsPerAccount int `toml:"max_items_per_account"`
}

// Default returns a Config with sensible defaults: US market hours in
// Eastern time, twice-daily after-hours fetches, one weekend fetch.
func Default() *Config {
	return &Config{
		Version: 1,
		Source: SourceConfig{
			BaseURL: "https://api.twitterapi.io",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Timezone: "America/New_York",
			TradingHours: TradingHoursConfig{
				Start:           "09:30",
				End:             "16:00",
				IntervalMinutes: 30,
			},
			AfterHours: AfterHoursConfig{
				Enabled: true,
				Times:   []string{"20:00", "06:00"},
			},
			Weekend: WeekendConfig{
				Enabled: true,
				Time:    "20:00",
			},
			Retry: RetryConfig{
				MaxAttempts:    3,
				BackoffSeconds: 60,
			},
		},
		Digest: DigestConfig{
			MaxItemsPerAccount: 20,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "finx-sidekick"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath resolves the SQLite file location from config.
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "finx.db"), nil
}

// Load reads config from disk
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
