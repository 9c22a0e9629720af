// Package config handles linksync configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for linksync.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Client settings used by the linksync CLI and live view.
	Client ClientConfig `yaml:"client" mapstructure:"client"`

	// Server settings used by linksyncd.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// GlobalConfig contains global linksync settings.
type GlobalConfig struct {
	// DataDir is where linksync stores its data (default: ~/.local/share/linksync).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/linksync).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (console, json).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path. Empty logs to stderr.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ClientConfig contains settings for talking to a relay.
type ClientConfig struct {
	// ServerURL is the relay base URL.
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`

	// StateFile holds the saved accounts and the active session.
	// Defaults to DataDir/state.json.
	StateFile string `yaml:"state_file" mapstructure:"state_file"`

	// PageSize is the number of messages fetched per timeline page.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// RequestTimeout bounds a single relay request.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// ServerConfig contains relay server settings.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// AccessTokenTTL is how long an access token stays valid.
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" mapstructure:"access_token_ttl"`

	// RefreshTokenTTL is how long a refresh token stays valid.
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" mapstructure:"refresh_token_ttl"`

	// BcryptCost is the password hashing cost.
	BcryptCost int `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`

	// PruneInterval is how often expired sessions are deleted.
	PruneInterval time.Duration `yaml:"prune_interval" mapstructure:"prune_interval"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// TUIConfig contains live view settings.
type TUIConfig struct {
	// Theme is the color theme (default, high-contrast, mono).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowTimestamps shows message timestamps.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "linksync"),
			ConfigDir: filepath.Join(homeDir, ".config", "linksync"),
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Client: ClientConfig{
			ServerURL:      "http://127.0.0.1:8787",
			StateFile:      "", // Will be set to DataDir/state.json
			PageSize:       25,
			RequestTimeout: 15 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8787",
			Database: DatabaseConfig{
				Path:           "", // Will be set to DataDir/relay.db
				MaxConnections: 10,
				BusyTimeoutMs:  5000,
			},
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			BcryptCost:      10,
			PruneInterval:   10 * time.Minute,
		},
		TUI: TUIConfig{
			Theme:          "default",
			ShowTimestamps: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error")
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be console or json")
	}

	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.server_url must be an http or https URL")
	}
	if c.Client.PageSize < 1 || c.Client.PageSize > 100 {
		return fmt.Errorf("client.page_size must be between 1 and 100")
	}
	if c.Client.RequestTimeout < time.Second {
		return fmt.Errorf("client.request_timeout must be at least 1s")
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.Database.MaxConnections < 1 {
		return fmt.Errorf("server.database.max_connections must be at least 1")
	}
	if c.Server.AccessTokenTTL < time.Minute {
		return fmt.Errorf("server.access_token_ttl must be at least 1m")
	}
	if c.Server.RefreshTokenTTL <= c.Server.AccessTokenTTL {
		return fmt.Errorf("server.refresh_token_ttl must be longer than server.access_token_ttl")
	}
	if c.Server.BcryptCost < 4 || c.Server.BcryptCost > 31 {
		return fmt.Errorf("server.bcrypt_cost must be between 4 and 31")
	}
	if c.Server.PruneInterval < time.Second {
		return fmt.Errorf("server.prune_interval must be at least 1s")
	}

	switch c.TUI.Theme {
	case "default", "high-contrast", "mono":
	default:
		return fmt.Errorf("tui.theme must be default, high-contrast or mono")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full relay database path.
func (c *Config) DatabasePath() string {
	if c.Server.Database.Path != "" {
		return c.Server.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "relay.db")
}

// StateFilePath returns the full client state file path.
func (c *Config) StateFilePath() string {
	if c.Client.StateFile != "" {
		return c.Client.StateFile
	}
	return filepath.Join(c.Global.DataDir, "state.json")
}

// OfflineDatabasePath returns the database used when the client runs
// without a relay.
func (c *Config) OfflineDatabasePath() string {
	return filepath.Join(c.Global.DataDir, "offline.db")
}
