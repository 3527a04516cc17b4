package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

// DefaultInterval is how often an active engine pulls from the remote.
const DefaultInterval = 5 * time.Second

// Config holds configuration for the sync engine.
type Config struct {
	// DB is the local cache (required).
	DB Local

	// Client talks to the hosted backend. Nil means local-only: cloud mode
	// can never activate.
	Client remote.Client

	// Interval between background pulls (default: DefaultInterval)
	Interval time.Duration

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger

	// Now supplies the time recorded as the last sync (default: time.Now).
	Now func() time.Time
}

// Migration reports what InitializeCloudFirst uploaded.
type Migration struct {
	// Ran is true when the remote account was empty and local items were
	// copied into it.
	Ran      bool
	Uploaded int
	// Skipped holds ids of local items that failed validation.
	Skipped []string
}

// SyncResult reports what a pull changed locally.
type SyncResult struct {
	// Items is the number of active remote items written locally.
	Items int
	// Removed holds ids deleted locally because the remote no longer lists
	// them.
	Removed []string
}

// Engine owns cloud mode for one local cache.
//
// Lifecycle:
//
//	engine, _ := sync.New(sync.Config{DB: database, Client: client})
//	if _, err := engine.InitializeCloudFirst(ctx, userID); err != nil {
//	    // still local-only
//	}
//	engine.SyncFromCloud(ctx, userID)
//	engine.Start(ctx) // background pulls until Stop or Deactivate
type Engine struct {
	db       Local
	client   remote.Client
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu       gosync.Mutex
	active   bool
	userID   string
	lastSync time.Time
	reloader func(ctx context.Context) error

	// pullMu serializes pulls so two reconciliations never interleave.
	pullMu gosync.Mutex

	trigger chan struct{}
	errs    chan error

	runMu       gosync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          gosync.WaitGroup
}

// New creates a sync engine. Cloud mode starts inactive.
func New(config Config) (*Engine, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Engine{
		db:       config.DB,
		client:   config.Client,
		interval: config.Interval,
		logger:   config.Logger,
		now:      config.Now,
		trigger:  make(chan struct{}, 1),
		errs:     make(chan error, 16),
	}, nil
}

// SetReloader registers the function run after every successful pull,
// normally the reactive store's Load. It must not call Stop or Deactivate.
func (e *Engine) SetReloader(fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloader = fn
}

// HasRemote reports whether a remote client is configured.
func (e *Engine) HasRemote() bool {
	return e.client != nil
}

// Active reports whether cloud mode is on.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// UserID returns the user cloud mode is active for, or "".
func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// LastSync returns the completion time of the last successful pull.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// Errors delivers failures from background work (pulls, fire-and-forget
// tasks). Errors are dropped when nobody drains the channel.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Report hands a background failure to Errors and the log.
func (e *Engine) Report(err error) {
	if err == nil {
		return
	}
	e.logger.Printf("Background sync error: %v", err)
	select {
	case e.errs <- err:
	default:
		e.logger.Printf("WARNING: error channel full, dropped: %v", err)
	}
}

// Notify asks the background loop for a pull. Calls coalesce while a
// pull is pending.
func (e *Engine) Notify() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Remote returns a Backend that writes to the hosted store for the active
// user, or fails with ErrCloudInactive while cloud mode is off.
func (e *Engine) Remote() Backend {
	return remoteBackend{engine: e}
}

// InitializeCloudFirst activates cloud mode for userID.
//
// When the remote account holds no rows at all (soft-deleted ones count),
// every local item is sanitized, validated and upserted with its id and
// timestamps intact. Items that fail validation are skipped with a warning.
// Any remote failure leaves cloud mode inactive and is returned.
//
// Calling it again for the already active user is a no-op. Calling it for a
// different user deactivates the current session first.
func (e *Engine) InitializeCloudFirst(ctx context.Context, userID string) (Migration, error) {
	if e.client == nil {
		return Migration{}, ErrNoRemote
	}
	if userID == "" {
		return Migration{}, fmt.Errorf("user id cannot be empty")
	}

	e.mu.Lock()
	active, current := e.active, e.userID
	e.mu.Unlock()
	if active && current == userID {
		return Migration{}, nil
	}
	if active {
		e.Deactivate()
	}

	empty, err := e.client.IsEmpty(ctx, userID)
	if err != nil {
		return Migration{}, fmt.Errorf("failed to check remote account: %w", err)
	}

	var m Migration
	if empty {
		m, err = e.migrate(ctx, userID)
		if err != nil {
			return m, err
		}
	}

	e.mu.Lock()
	e.active = true
	e.userID = userID
	e.mu.Unlock()

	e.logger.Printf("Cloud mode active for %s (migrated %d, skipped %d)", userID, m.Uploaded, len(m.Skipped))
	return m, nil
}

func (e *Engine) migrate(ctx context.Context, userID string) (Migration, error) {
	m := Migration{Ran: true}

	items, err := e.db.All(ctx)
	if err != nil {
		return m, fmt.Errorf("failed to read local items: %w", err)
	}

	for _, item := range items {
		clean := schema.SanitizeItem(item)
		if err := schema.Validate(clean); err != nil {
			e.logger.Printf("WARNING: skipping invalid item during migration: %v", err)
			m.Skipped = append(m.Skipped, item.ID)
			continue
		}
		if _, err := e.client.Upsert(ctx, userID, clean); err != nil {
			return m, fmt.Errorf("failed to migrate item %s: %w", item.ID, err)
		}
		m.Uploaded++
	}
	return m, nil
}

// SyncFromCloud makes the local cache equal to the remote active set and
// then runs the reloader. An empty userID means the active user.
//
// A failure leaves the local cache untouched; the next tick retries.
func (e *Engine) SyncFromCloud(ctx context.Context, userID string) (SyncResult, error) {
	e.mu.Lock()
	active, current := e.active, e.userID
	e.mu.Unlock()

	if !active {
		return SyncResult{}, ErrCloudInactive
	}
	if userID == "" {
		userID = current
	}
	if userID != current {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrUserMismatch, userID)
	}

	e.pullMu.Lock()
	defer e.pullMu.Unlock()

	items, err := e.client.ListActive(ctx, userID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to list remote items: %w", err)
	}

	removed, err := e.db.Reconcile(ctx, items)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to reconcile local items: %w", err)
	}

	e.mu.Lock()
	e.lastSync = e.now()
	reload := e.reloader
	e.mu.Unlock()

	if len(removed) > 0 {
		e.logger.Printf("Pulled %d items, removed %d", len(items), len(removed))
	}

	if reload != nil {
		if err := reload(ctx); err != nil {
			return SyncResult{Items: len(items), Removed: removed}, fmt.Errorf("failed to reload after sync: %w", err)
		}
	}
	return SyncResult{Items: len(items), Removed: removed}, nil
}

// Push upserts items for the active user with ids and timestamps intact.
// Every item is attempted; failures are joined into the returned error.
func (e *Engine) Push(ctx context.Context, items []schema.Item) (int, error) {
	userID, err := remoteBackend{engine: e}.user(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	pushed := 0
	for _, item := range items {
		if _, err := e.client.Upsert(ctx, userID, item); err != nil {
			errs = append(errs, fmt.Errorf("failed to push item %s: %w", item.ID, err))
			continue
		}
		pushed++
	}
	return pushed, errors.Join(errs...)
}

// Start launches background pulls: one every interval and one per change
// notification. It returns once the ticker and subscription are set up.
// A subscription failure is logged and polling continues without it.
//
// The loop runs until ctx ends, Stop, or Deactivate.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	active, userID := e.active, e.userID
	e.mu.Unlock()
	if !active {
		return ErrCloudInactive
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	unsubscribe, err := e.client.Subscribe(loopCtx, userID, e.Notify)
	if err != nil {
		e.logger.Printf("WARNING: change subscription failed, polling only: %v", err)
	} else {
		e.unsubscribe = unsubscribe
	}

	e.wg.Add(1)
	go e.run(loopCtx, userID)

	e.logger.Printf("Background sync started (every %s)", e.interval)
	return nil
}

func (e *Engine) run(ctx context.Context, userID string) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		if ctx.Err() != nil {
			return
		}
		e.pull(ctx, userID)
	}
}

// pull runs one background reconciliation. In-flight pulls are not
// cancelled by Stop; their result is still applied.
func (e *Engine) pull(ctx context.Context, userID string) {
	_, err := e.SyncFromCloud(context.WithoutCancel(ctx), userID)
	if err == nil || errors.Is(err, ErrCloudInactive) || errors.Is(err, ErrUserMismatch) {
		return
	}
	e.Report(err)
}

// Stop tears down the ticker and subscription and waits for the loop to
// exit. Cloud mode stays active.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, unsubscribe := e.cancel, e.unsubscribe
	e.cancel, e.unsubscribe = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	e.wg.Wait()
	e.logger.Println("Background sync stopped")
}

// Deactivate stops background work and returns to local-only mode.
func (e *Engine) Deactivate() {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.userID = ""
}

type userKey struct{}

// WithUserID scopes remote writes made with ctx to userID instead of the
// engine's active user.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// remoteBackend adapts remote.Client to Backend for the engine's user.
type remoteBackend struct {
	engine *Engine
}

func (b remoteBackend) user(ctx context.Context) (string, error) {
	e := b.engine
	if e.client == nil {
		return "", ErrCloudInactive
	}
	e.mu.Lock()
	active, userID := e.active, e.userID
	e.mu.Unlock()
	if !active {
		return "", ErrCloudInactive
	}
	if override, ok := ctx.Value(userKey{}).(string); ok {
		return override, nil
	}
	return userID, nil
}

func (b remoteBackend) Put(ctx context.Context, w Write) (schema.Item, error) {
	userID, err := b.user(ctx)
	if err != nil {
		return schema.Item{}, err
	}
	if w.Patch == nil {
		return b.engine.client.Insert(ctx, userID, w.Item)
	}
	return b.engine.client.Update(ctx, userID, w.Item.ID, *w.Patch)
}

// Delete soft-deletes remotely. A row the remote never saw counts as
// deleted.
func (b remoteBackend) Delete(ctx context.Context, id string) error {
	userID, err := b.user(ctx)
	if err != nil {
		return err
	}
	err = b.engine.client.SoftDelete(ctx, userID, id)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	return err
}

func (b remoteBackend) List(ctx context.Context) ([]schema.Item, error) {
	userID, err := b.user(ctx)
	if err != nil {
		return nil, err
	}
	return b.engine.client.ListActive(ctx, userID)
}
