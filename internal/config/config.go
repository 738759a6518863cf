package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Host    string        `mapstructure:"host"`    // Management host, e.g. "pro.example.com"
	Project string        `mapstructure:"project"` // Project to select; empty selects the first
	CLI     CLIConfig     `mapstructure:"cli"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Health  HealthConfig  `mapstructure:"health"`
}

// CLIConfig holds settings for the external workspace command line
type CLIConfig struct {
	Binary string `mapstructure:"binary"` // Binary name or path
	Debug  bool   `mapstructure:"debug"`  // Log every command issued
}

// LogConfig holds logging configuration
type LogConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// HistoryConfig holds action history configuration
type HistoryConfig struct {
	Driver          string        `mapstructure:"driver"`            // "sqlite", "postgres" or "memory"
	DSN             string        `mapstructure:"dsn"`               // Connection string; empty uses DataDir
	FlushInterval   time.Duration `mapstructure:"flush_interval"`    // Transcript flush period
	MaxPerWorkspace int           `mapstructure:"max_per_workspace"` // Finished actions kept per workspace
	ValkeyAddr      string        `mapstructure:"valkey_addr"`       // Optional transcript mirror, e.g. "localhost:6379"
}

// HealthConfig holds host health polling configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("host", "")
	v.SetDefault("project", "")
	v.SetDefault("cli.binary", "devpod")
	v.SetDefault("cli.debug", false)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.flush_interval", 2*time.Second)
	v.SetDefault("history.max_per_workspace", 50)
	v.SetDefault("history.valkey_addr", "")
	v.SetDefault("health.interval", 5*time.Second)

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := ConfigDir(); err == nil {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override
	v.SetEnvPrefix("PRODESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.History.DSN == "" && cfg.History.Driver == "sqlite" {
		dir, err := DataDir()
		if err != nil {
			return nil, err
		}
		cfg.History.DSN = filepath.Join(dir, "history.db")
	}

	return &cfg, nil
}

// ConfigDir returns the config directory (~/.config/prodesk/ or platform equivalent).
// Can be overridden with PRODESK_CONFIG_DIR (for testing).
func ConfigDir() (string, error) {
	if dir := os.Getenv("PRODESK_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "prodesk"), nil
}

// DataDir returns the data directory (~/.local/share/prodesk), honoring
// XDG_DATA_HOME.
func DataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataHome, "prodesk"), nil
}
