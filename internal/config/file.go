package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// fileConfig is the on-disk shape written by WriteFile. Durations are
// strings ("5s"); Load decodes them.
type fileConfig struct {
	DB struct {
		Path string `toml:"path"`
	} `toml:"db"`
	Remote struct {
		URL     string `toml:"url"`
		Token   string `toml:"token"`
		User    string `toml:"user"`
		Timeout string `toml:"timeout"`
	} `toml:"remote"`
	Sync struct {
		Interval string `toml:"interval"`
		Enabled  bool   `toml:"enabled"`
	} `toml:"sync"`
	Inbox struct {
		Dir string `toml:"dir"`
	} `toml:"inbox"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		Quiet      bool   `toml:"quiet"`
	} `toml:"log"`
	Server struct {
		Addr      string      `toml:"addr"`
		Backend   string      `toml:"backend"`
		DSN       string      `toml:"dsn"`
		RedisAddr string      `toml:"redis_addr"`
		Tokens    []fileToken `toml:"tokens,omitempty"`
	} `toml:"server"`
}

type fileToken struct {
	Token string `toml:"token"`
	User  string `toml:"user"`
}

const fileHeader = `# sticky configuration
#
# Every key can also be set with an environment variable:
# db.path -> STICKY_DB_PATH, remote.url -> STICKY_REMOTE_URL, ...
#
# Leave remote.url empty to keep the board local-only.
# server.backend is one of sqlite, libsql or redis.
# Add [[server.tokens]] tables (token, user) to require Bearer auth.

`

// Defaults returns the built-in configuration, ignoring files and the
// environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = decode(v, &cfg)
	return &cfg
}

// Encode renders cfg as TOML with a comment header.
func Encode(cfg *Config) ([]byte, error) {
	var fc fileConfig
	fc.DB.Path = cfg.DB.Path
	fc.Remote.URL = cfg.Remote.URL
	fc.Remote.Token = cfg.Remote.Token
	fc.Remote.User = cfg.Remote.User
	fc.Remote.Timeout = cfg.Remote.Timeout.String()
	fc.Sync.Interval = cfg.Sync.Interval.String()
	fc.Sync.Enabled = cfg.Sync.Enabled
	fc.Inbox.Dir = cfg.Inbox.Dir
	fc.Log.File = cfg.Log.File
	fc.Log.MaxSizeMB = cfg.Log.MaxSizeMB
	fc.Log.MaxBackups = cfg.Log.MaxBackups
	fc.Log.Quiet = cfg.Log.Quiet
	fc.Server.Addr = cfg.Server.Addr
	fc.Server.Backend = cfg.Server.Backend
	fc.Server.DSN = cfg.Server.DSN
	fc.Server.RedisAddr = cfg.Server.RedisAddr
	for _, t := range cfg.Server.Tokens {
		fc.Server.Tokens = append(fc.Server.Tokens, fileToken(t))
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(fc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes cfg to path as TOML. It refuses to overwrite an existing
// file unless force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file may hold tokens.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
