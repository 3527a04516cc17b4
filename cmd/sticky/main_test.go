package main

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesticker/sticky/internal/migrate"
	"github.com/tilesticker/sticky/internal/schema"
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func isolateCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("STICKY_CONFIG", "")
	t.Setenv("NO_COLOR", "1")
	t.Chdir(dir)
	return dir
}

func TestCLI_AddExportImport(t *testing.T) {
	dir := isolateCLI(t)
	first := filepath.Join(dir, "first.db")
	second := filepath.Join(dir, "second.db")
	exported := filepath.Join(dir, "out", "board.json")

	require.NoError(t, runCLI(t, "-q", "--db", first, "add", "memo", "Test", "--content", "Hello", "--tags", "a,b"))
	require.NoError(t, runCLI(t, "-q", "--db", first, "export", exported))

	items, ok, err := migrate.ReadFile(exported)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, schema.TypeMemo, items[0].Type)
	assert.Equal(t, "Test", items[0].Title)
	assert.Equal(t, "Hello", *items[0].Content)
	assert.Equal(t, []string{"a", "b"}, items[0].Tags)
	assert.Greater(t, items[0].UpdatedAt, items[0].CreatedAt)

	require.NoError(t, runCLI(t, "-q", "--db", second, "import", exported))
	again := filepath.Join(dir, "again.yaml")
	require.NoError(t, runCLI(t, "-q", "--db", second, "export", again))

	roundTrip, ok, err := migrate.ReadFile(again)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(items, roundTrip); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := isolateCLI(t)
	db := filepath.Join(dir, "err.db")

	assert.Error(t, runCLI(t, "-q", "--db", db, "add", "sticker"))
	assert.ErrorContains(t, runCLI(t, "-q", "--db", db, "done", "missing"), "item not found")
	assert.ErrorContains(t, runCLI(t, "-q", "--db", db, "sync"), "remote.url")
}

func TestPatchFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addFieldFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--title", "T", "--done", "--list", "a,b", "--date", "2024-02-03", "--note", "n", "--color", "#fff",
	}))

	p, err := patchFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "T", *p.Title)
	assert.True(t, *p.Done)
	assert.Equal(t, []string{"a", "b"}, *p.List)
	assert.Equal(t, schema.DateInfo{SelectedDate: "2024-02-03", Note: "n"}, *p.Date)
	assert.Equal(t, "#fff", p.Color.Base)
	assert.Nil(t, p.Content)
	assert.Nil(t, p.Tags)

	bad := &cobra.Command{Use: "y"}
	addFieldFlags(bad)
	require.NoError(t, bad.ParseFlags([]string{"--date", "qqqq"}))
	_, err = patchFromFlags(bad)
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatSize(512))
	assert.Equal(t, "2.0 KB", formatSize(2048))
	assert.Equal(t, "3.0 MB", formatSize(3*1024*1024))
}
