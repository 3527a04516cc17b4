// Package config loads sticky's settings from a config file, the
// environment and command-line overrides.
//
// Sources, highest precedence first:
//
//	overrides passed to Load (command-line flags)
//	STICKY_* environment variables (STICKY_DB_PATH, STICKY_REMOTE_URL, ...)
//	the config file: --config, $STICKY_CONFIG, ./sticky.{toml,yaml,json}, ~/.sticky/sticky.*
//	defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "STICKY"

// Config is the full set of settings.
type Config struct {
	DB     DBConfig     `mapstructure:"db"`
	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Inbox  InboxConfig  `mapstructure:"inbox"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`

	// File is the config file that was read, or "".
	File string `mapstructure:"-"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig points the client at a hosted backend. An empty URL keeps
// the board local-only.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	User    string        `mapstructure:"user"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Enabled turns cloud mode on at startup when a remote is configured.
	Enabled bool `mapstructure:"enabled"`
}

type InboxConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Quiet      bool   `mapstructure:"quiet"`
}

// ServerConfig configures `sticky serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Backend is one of sqlite, libsql or redis.
	Backend   string `mapstructure:"backend"`
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
	// Tokens lists the Bearer tokens the server accepts. A list rather
	// than a table: config keys are case-folded, tokens are not.
	Tokens []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig lets Token act for User.
type TokenConfig struct {
	Token string `mapstructure:"token"`
	User  string `mapstructure:"user"`
}

// TokenMap returns the token table in the form cloud.Config expects.
func (s ServerConfig) TokenMap() map[string]string {
	tokens := make(map[string]string, len(s.Tokens))
	for _, t := range s.Tokens {
		tokens[t.Token] = t.User
	}
	return tokens
}

// Backends lists the accepted server.backend values.
var Backends = []string{"sqlite", "libsql", "redis"}

// HomeDir returns ~/.sticky, or .sticky when the home directory is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sticky"
	}
	return filepath.Join(home, ".sticky")
}

func setDefaults(v *viper.Viper) {
	home := HomeDir()
	v.SetDefault("db.path", filepath.Join(home, "sticky.db"))
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("sync.interval", 5*time.Second)
	v.SetDefault("sync.enabled", false)
	v.SetDefault("inbox.dir", filepath.Join(home, "inbox"))
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.quiet", false)
	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.backend", "sqlite")
	v.SetDefault("server.dsn", filepath.Join(home, "cloud.db"))
	v.SetDefault("server.redis_addr", "localhost:6379")
}

// Load reads the configuration. path names an explicit config file and
// may be empty; a missing explicit file is an error, a missing discovered
// file is not. overrides are applied on top of everything else, keyed by
// dotted name ("db.path").
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sticky")
		v.AddConfigPath(".")
		v.AddConfigPath(HomeDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := decode(v, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(v *viper.Viper, cfg *Config) error {
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.DB.Path = expandHome(cfg.DB.Path)
	cfg.Inbox.Dir = expandHome(cfg.Inbox.Dir)
	cfg.Log.File = expandHome(cfg.Log.File)
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return errors.New("db.path cannot be empty")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout)
	}
	if c.Sync.Enabled && (c.Remote.URL == "" || c.Remote.User == "") {
		return errors.New("sync.enabled requires remote.url and remote.user")
	}
	for i, t := range c.Server.Tokens {
		if t.Token == "" || t.User == "" {
			return fmt.Errorf("server.tokens[%d] needs both token and user", i)
		}
	}
	for _, b := range Backends {
		if c.Server.Backend == b {
			return nil
		}
	}
	return fmt.Errorf("server.backend must be one of %s, got %q", strings.Join(Backends, ", "), c.Server.Backend)
}

// HasRemote reports whether a remote backend is configured.
func (c *Config) HasRemote() bool {
	return c.Remote.URL != ""
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
