package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at fresh temp dirs so no
// real config file is discovered.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("STICKY_CONFIG", "")
	t.Chdir(t.TempDir())
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".sticky", "sticky.db"), cfg.DB.Path)
	assert.Equal(t, 5*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, ":8787", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Server.Backend)
	assert.False(t, cfg.HasRemote())
	assert.Empty(t, cfg.File)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sticky.toml")
	content := `
[db]
path = "/tmp/board.db"

[remote]
url = "https://sticky.example.com"
user = "u-1"
timeout = "3s"

[sync]
interval = "250ms"

[server]
backend = "redis"

[[server.tokens]]
token = "MixedCaseToken"
user = "u-1"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("STICKY_REMOTE_TOKEN", "secret")
	t.Setenv("STICKY_SYNC_ENABLED", "true")

	cfg, err := Load(path, map[string]any{"db.path": "/tmp/override.db"})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/tmp/override.db", cfg.DB.Path)
	assert.Equal(t, "https://sticky.example.com", cfg.Remote.URL)
	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, map[string]string{"MixedCaseToken": "u-1"}, cfg.Server.TokenMap())
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"), nil)
	assert.Error(t, err, "explicit file must exist")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server]\nbackend = \"postgres\"\n"), 0600))
	_, err = Load(bad, nil)
	assert.ErrorContains(t, err, "server.backend")

	_, err = Load("", map[string]any{"sync.enabled": true})
	assert.ErrorContains(t, err, "remote.url")

	_, err = Load("", map[string]any{"sync.interval": "0s"})
	assert.ErrorContains(t, err, "sync.interval")
}

func TestWriteFile_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "conf", "sticky.toml")

	cfg := Defaults()
	cfg.Remote.URL = "http://localhost:8787"
	cfg.Remote.User = "me"
	cfg.Sync.Interval = 2 * time.Second
	cfg.Server.Tokens = []TokenConfig{{Token: "Tok", User: "me"}}
	require.NoError(t, WriteFile(path, cfg, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# sticky configuration")
	assert.Contains(t, string(data), `interval = "2s"`)

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	loaded.File = ""
	assert.Equal(t, cfg, loaded)

	assert.Error(t, WriteFile(path, cfg, false), "existing file is kept")
	assert.NoError(t, WriteFile(path, cfg, true))
}

func TestExpandHome(t *testing.T) {
	home := isolate(t)
	assert.Equal(t, filepath.Join(home, "x.db"), expandHome("~/x.db"))
	assert.Equal(t, "/abs/x.db", expandHome("/abs/x.db"))
	assert.Equal(t, "rel/~/x", expandHome("rel/~/x"))
}
