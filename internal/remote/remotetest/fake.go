// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

// Op names a Fake operation for failure injection.
type Op string

const (
	OpIsEmpty    Op = "IsEmpty"
	OpInsert     Op = "Insert"
	OpUpsert     Op = "Upsert"
	OpUpdate     Op = "Update"
	OpSoftDelete Op = "SoftDelete"
	OpListActive Op = "ListActive"
	OpSubscribe  Op = "Subscribe"
	OpPing       Op = "Ping"
)

// Fake is a thread-safe in-memory remote store with soft deletes and
// synchronous change notifications.
type Fake struct {
	mu     sync.Mutex
	rows   map[string]map[string]schema.Row // user -> id -> row
	errs   map[Op]error
	calls  map[Op]int
	subs   map[string]map[int]func()
	nextID int

	// Now supplies server time (default: time.Now).
	Now func() time.Time
}

var _ remote.Client = (*Fake)(nil)

// NewFake returns an empty fake.
func NewFake() *Fake {
	return &Fake{
		rows:  make(map[string]map[string]schema.Row),
		errs:  make(map[Op]error),
		calls: make(map[Op]int),
		subs:  make(map[string]map[int]func()),
		Now:   time.Now,
	}
}

// FailWith makes op return err until cleared with FailWith(op, nil).
func (f *Fake) FailWith(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// FailAll makes every operation return err (nil clears).
func (f *Fake) FailAll(err error) {
	for _, op := range []Op{OpIsEmpty, OpInsert, OpUpsert, OpUpdate, OpSoftDelete, OpListActive, OpSubscribe, OpPing} {
		f.FailWith(op, err)
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Row returns the stored row, deleted or not.
func (f *Fake) Row(userID, id string) (schema.Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID][id]
	return row, ok
}

// Subscribers returns the number of live subscriptions for userID.
func (f *Fake) Subscribers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}

// Seed stores item directly, as if written by another device, and notifies
// subscribers.
func (f *Fake) Seed(userID string, item schema.Item) {
	f.mu.Lock()
	f.store(schema.ToRow(item, userID))
	notify := f.listeners(userID)
	f.mu.Unlock()
	fire(notify)
}

// MarkDeleted soft-deletes a row as if from another device.
func (f *Fake) MarkDeleted(userID, id string) {
	f.mu.Lock()
	if row, ok := f.rows[userID][id]; ok {
		now := f.Now().UTC()
		row.DeletedAt = &now
		row.UpdatedAt = now
		f.store(row)
	}
	notify := f.listeners(userID)
	f.mu.Unlock()
	fire(notify)
}

func (f *Fake) begin(op Op) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *Fake) IsEmpty(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpIsEmpty); err != nil {
		return false, err
	}
	return len(f.rows[userID]) == 0, nil
}

func (f *Fake) Insert(ctx context.Context, userID string, item schema.Item) (schema.Item, error) {
	f.mu.Lock()
	if err := f.begin(OpInsert); err != nil {
		f.mu.Unlock()
		return schema.Item{}, err
	}
	if _, exists := f.rows[userID][item.ID]; exists {
		f.mu.Unlock()
		return schema.Item{}, fmt.Errorf("%w: %s", remote.ErrConflict, item.ID)
	}
	row := schema.ToRow(item, userID)
	now := f.Now().UTC().Truncate(time.Millisecond)
	if item.CreatedAt == 0 {
		row.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		row.UpdatedAt = now
	}
	f.store(row)
	notify := f.listeners(userID)
	f.mu.Unlock()

	fire(notify)
	return row.ToItem(), nil
}

func (f *Fake) Upsert(ctx context.Context, userID string, item schema.Item) (schema.Item, error) {
	f.mu.Lock()
	if err := f.begin(OpUpsert); err != nil {
		f.mu.Unlock()
		return schema.Item{}, err
	}
	row := schema.ToRow(item, userID)
	f.store(row)
	notify := f.listeners(userID)
	f.mu.Unlock()

	fire(notify)
	return row.ToItem(), nil
}

func (f *Fake) Update(ctx context.Context, userID, id string, patch schema.Patch) (schema.Item, error) {
	f.mu.Lock()
	if err := f.begin(OpUpdate); err != nil {
		f.mu.Unlock()
		return schema.Item{}, err
	}
	row, ok := f.rows[userID][id]
	if !ok || row.Deleted() {
		f.mu.Unlock()
		return schema.Item{}, fmt.Errorf("%w: %s", remote.ErrNotFound, id)
	}
	prev := row.UpdatedAt
	updated := schema.ToRow(schema.Apply(row.ToItem(), patch), userID)
	updated.CreatedAt = row.CreatedAt
	updated.UpdatedAt = bump(prev, f.Now())
	f.store(updated)
	notify := f.listeners(userID)
	f.mu.Unlock()

	fire(notify)
	return updated.ToItem(), nil
}

func (f *Fake) SoftDelete(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	if err := f.begin(OpSoftDelete); err != nil {
		f.mu.Unlock()
		return err
	}
	row, ok := f.rows[userID][id]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", remote.ErrNotFound, id)
	}
	row.UpdatedAt = bump(row.UpdatedAt, f.Now())
	at := row.UpdatedAt
	row.DeletedAt = &at
	f.store(row)
	notify := f.listeners(userID)
	f.mu.Unlock()

	fire(notify)
	return nil
}

func (f *Fake) ListActive(ctx context.Context, userID string) ([]schema.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpListActive); err != nil {
		return nil, err
	}
	rows := make([]schema.Row, 0, len(f.rows[userID]))
	for _, row := range f.rows[userID] {
		if !row.Deleted() {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b schema.Row) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	items := make([]schema.Item, len(rows))
	for i, row := range rows {
		items[i] = row.ToItem()
	}
	return items, nil
}

func (f *Fake) Subscribe(ctx context.Context, userID string, onChange func()) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpSubscribe); err != nil {
		return nil, err
	}
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[int]func())
	}
	id := f.nextID
	f.nextID++
	f.subs[userID][id] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[userID], id)
			f.mu.Unlock()
		})
	}, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begin(OpPing)
}

func (f *Fake) store(row schema.Row) {
	if f.rows[row.UserID] == nil {
		f.rows[row.UserID] = make(map[string]schema.Row)
	}
	f.rows[row.UserID][row.ID] = row
}

func (f *Fake) listeners(userID string) []func() {
	out := make([]func(), 0, len(f.subs[userID]))
	for _, fn := range f.subs[userID] {
		out = append(out, fn)
	}
	return out
}

func fire(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// bump returns a millisecond timestamp strictly after prev.
func bump(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
