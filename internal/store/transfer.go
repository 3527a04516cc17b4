package store

import (
	"context"
	"fmt"

	"github.com/tilesticker/sticky/internal/migrate"
	"github.com/tilesticker/sticky/internal/schema"
)

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int
	// Skipped holds ids of items that failed validation.
	Skipped []string
	// Pushed counts items written to the remote (cloud mode only).
	Pushed int
}

// ExportJSON serializes the whole local cache as a version 1 envelope.
func (s *Store) ExportJSON(ctx context.Context) ([]byte, error) {
	return s.Export(ctx, migrate.FormatJSON)
}

// Export serializes the whole local cache in format.
func (s *Store) Export(ctx context.Context, format migrate.Format) ([]byte, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	items, err := s.db.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read items for export: %w", err)
	}
	return migrate.Marshal(format, items)
}

// ImportJSON imports a JSON envelope.
func (s *Store) ImportJSON(ctx context.Context, data []byte) (ImportResult, error) {
	return s.Import(ctx, migrate.FormatJSON, data)
}

// Import upserts every valid item of an envelope in one local transaction
// and reloads. Items are stored exactly as given; invalid ones are skipped.
// A document without an items array is a no-op. In cloud mode the imported
// items are also pushed; push failures are logged, not returned.
func (s *Store) Import(ctx context.Context, format migrate.Format, data []byte) (ImportResult, error) {
	items, ok, err := migrate.Unmarshal(format, data)
	if err != nil {
		return ImportResult{}, err
	}
	if !ok {
		return ImportResult{}, nil
	}

	var result ImportResult
	valid := make([]schema.Item, 0, len(items))
	for _, item := range items {
		if err := schema.Validate(item); err != nil {
			s.logger.Printf("WARNING: skipping invalid imported item: %v", err)
			result.Skipped = append(result.Skipped, item.ID)
			continue
		}
		valid = append(valid, item)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.db.PutAll(ctx, valid); err != nil {
		return result, fmt.Errorf("failed to import items: %w", err)
	}
	result.Imported = len(valid)

	if s.engine.Active() && len(valid) > 0 {
		pushed, err := s.engine.Push(ctx, valid)
		if err != nil {
			s.logger.Printf("WARNING: imported items not fully pushed: %v", err)
		}
		result.Pushed = pushed
	}

	return result, s.load(ctx)
}
