package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

// RedisBackend stores each row as a JSON string and keeps a per-user sorted
// set of ids scored by updated_at (epoch ms).
//
// Keys:
//
//	sticky:user:{uid}:item:{id}   row JSON
//	sticky:user:{uid}:items       ZSET id -> updated_at
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend wraps client. prefix namespaces every key (default
// "sticky").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "sticky"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) rowKey(userID, id string) string {
	return fmt.Sprintf("%s:user:%s:item:%s", b.prefix, userID, id)
}

func (b *RedisBackend) indexKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:items", b.prefix, userID)
}

func (b *RedisBackend) Get(ctx context.Context, userID, id string) (schema.Row, error) {
	data, err := b.client.Get(ctx, b.rowKey(userID, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return schema.Row{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return schema.Row{}, fmt.Errorf("failed to get row %s: %w", id, err)
	}
	var row schema.Row
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return schema.Row{}, fmt.Errorf("failed to decode row %s: %w", id, err)
	}
	return row, nil
}

func (b *RedisBackend) Insert(ctx context.Context, row schema.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row %s: %w", row.ID, err)
	}
	ok, err := b.client.SetNX(ctx, b.rowKey(row.UserID, row.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert row %s: %w", row.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflict, row.ID)
	}
	if err := b.client.ZAdd(ctx, b.indexKey(row.UserID), &redis.Z{
		Score:  float64(row.UpdatedAt.UnixMilli()),
		Member: row.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index row %s: %w", row.ID, err)
	}
	return nil
}

func (b *RedisBackend) Put(ctx context.Context, row schema.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row %s: %w", row.ID, err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.rowKey(row.UserID, row.ID), data, 0)
	pipe.ZAdd(ctx, b.indexKey(row.UserID), &redis.Z{
		Score:  float64(row.UpdatedAt.UnixMilli()),
		Member: row.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store row %s: %w", row.ID, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, userID string, includeDeleted bool) ([]schema.Row, error) {
	ids, err := b.client.ZRevRange(ctx, b.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list row ids: %w", err)
	}
	if len(ids) == 0 {
		return []schema.Row{}, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, b.rowKey(userID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}

	rows := make([]schema.Row, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to load row: %w", err)
		}
		var row schema.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		if row.Deleted() && !includeDeleted {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *RedisBackend) Stats(ctx context.Context, userID string) (remote.Stats, error) {
	rows, err := b.List(ctx, userID, true)
	if err != nil {
		return remote.Stats{}, err
	}
	stats := remote.Stats{Total: len(rows)}
	for _, row := range rows {
		if row.Deleted() {
			stats.Deleted++
		}
	}
	stats.Active = stats.Total - stats.Deleted
	return stats, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
