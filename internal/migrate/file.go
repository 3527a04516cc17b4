package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tilesticker/sticky/internal/schema"
)

// WriteOptions controls WriteFile.
type WriteOptions struct {
	// Format overrides the extension-derived format.
	Format Format
	// Backup copies an existing file to path.backup.<timestamp> first.
	Backup bool
}

// WriteResult reports what WriteFile did.
type WriteResult struct {
	Items         int
	BackupCreated string
}

// WriteFile writes items to path atomically via a temp file in the same
// directory.
func WriteFile(path string, items []schema.Item, opts WriteOptions) (*WriteResult, error) {
	format := opts.Format
	if format == "" {
		format = FormatFromPath(path)
	}

	data, err := Marshal(format, items)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	result := &WriteResult{Items: len(items)}
	if opts.Backup {
		backup, err := backupFile(path)
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backup
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// ReadFile reads an export file. ok is false when it holds no items array.
func ReadFile(path string) (items []schema.Item, ok bool, err error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read export file: %w", err)
	}
	return Unmarshal(FormatFromPath(path), data)
}

// backupFile copies path aside if it exists and returns the copy's path.
func backupFile(path string) (string, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file for backup: %w", err)
	}
	backupPath := path + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backupPath, nil
}
