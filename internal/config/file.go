package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteFile when the target exists and
// overwrite is false.
var ErrConfigExists = errors.New("config file already exists")

// DefaultConfigPath returns the path `linksync config init` writes to.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "linksync", "config.yaml")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "linksync", "config.yaml")
}

// document mirrors Config with durations rendered as strings so the
// written file stays readable and loads back through viper unchanged.
type document struct {
	Global  GlobalConfig  `yaml:"global"`
	Logging LoggingConfig `yaml:"logging"`
	Client  struct {
		ServerURL      string `yaml:"server_url"`
		StateFile      string `yaml:"state_file"`
		PageSize       int    `yaml:"page_size"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"client"`
	Server struct {
		ListenAddr      string         `yaml:"listen_addr"`
		Database        DatabaseConfig `yaml:"database"`
		AccessTokenTTL  string         `yaml:"access_token_ttl"`
		RefreshTokenTTL string         `yaml:"refresh_token_ttl"`
		BcryptCost      int            `yaml:"bcrypt_cost"`
		PruneInterval   string         `yaml:"prune_interval"`
	} `yaml:"server"`
	TUI TUIConfig `yaml:"tui"`
}

func newDocument(cfg *Config) document {
	var doc document
	doc.Global = cfg.Global
	doc.Logging = cfg.Logging
	doc.Client.ServerURL = cfg.Client.ServerURL
	doc.Client.StateFile = cfg.Client.StateFile
	doc.Client.PageSize = cfg.Client.PageSize
	doc.Client.RequestTimeout = cfg.Client.RequestTimeout.String()
	doc.Server.ListenAddr = cfg.Server.ListenAddr
	doc.Server.Database = cfg.Server.Database
	doc.Server.AccessTokenTTL = cfg.Server.AccessTokenTTL.String()
	doc.Server.RefreshTokenTTL = cfg.Server.RefreshTokenTTL.String()
	doc.Server.BcryptCost = cfg.Server.BcryptCost
	doc.Server.PruneInterval = cfg.Server.PruneInterval.String()
	doc.TUI = cfg.TUI
	return doc
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(newDocument(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	return data, nil
}

// WriteFile writes cfg to path as YAML, creating parent directories.
func WriteFile(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
