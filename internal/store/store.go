package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tilesticker/sticky/internal/db"
	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/search"
	cloudsync "github.com/tilesticker/sticky/internal/sync"
)

var (
	// ErrNotFound is returned when an operation names an id that is not in
	// the working set.
	ErrNotFound = errors.New("item not found")

	// ErrNotToggleable is returned by ToggleDone for non-todo items.
	ErrNotToggleable = errors.New("only todo items can be marked done")
)

// Config holds configuration for a Store.
type Config struct {
	// DB is the local cache (required).
	DB *db.DB

	// Engine owns cloud mode. Nil builds a local-only engine over DB.
	Engine *cloudsync.Engine

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger

	// Now is the clock used for createdAt/updatedAt (default: time.Now).
	Now func() time.Time

	// NewID generates item ids (default: uuid.NewString).
	NewID func() string
}

// Store is the reactive item store.
type Store struct {
	db      *db.DB
	engine  *cloudsync.Engine
	backend *cloudsync.Composite
	logger  *log.Logger
	now     func() time.Time
	newID   func() string

	// opMu serializes operations that touch persistence.
	opMu sync.Mutex

	mu    sync.RWMutex
	state State

	obsMu     sync.Mutex
	observers map[int]func(State)
	nextObs   int

	tasks sync.WaitGroup
}

// New creates a Store. Call Load before reading items.
func New(config Config) (*Store, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}

	engine := config.Engine
	if engine == nil {
		var err error
		engine, err = cloudsync.New(cloudsync.Config{DB: config.DB, Logger: config.Logger})
		if err != nil {
			return nil, fmt.Errorf("failed to create sync engine: %w", err)
		}
	}

	s := &Store{
		db:        config.DB,
		engine:    engine,
		backend:   cloudsync.NewComposite(config.DB, engine.Remote(), config.Logger),
		logger:    config.Logger,
		now:       config.Now,
		newID:     config.NewID,
		observers: make(map[int]func(State)),
		state: State{
			Loading: true,
			Sort:    search.SortCreated,
		},
	}
	engine.SetReloader(s.reloadAfterSync)
	return s, nil
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Get returns the item with id from the working set.
func (s *Store) Get(id string) (schema.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.state.Find(id)
	if !ok {
		return schema.Item{}, false
	}
	return item.Clone(), true
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change, outside the store's locks.
// It returns a function that removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

// Errors delivers failures of background tasks and background pulls.
func (s *Store) Errors() <-chan error {
	return s.engine.Errors()
}

// Close stops background sync and waits for scheduled tasks. It does not
// close the database.
func (s *Store) Close() error {
	s.engine.Stop()
	s.tasks.Wait()
	return nil
}

// commit applies fn to the state and notifies observers.
func (s *Store) commit(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.obsMu.Lock()
	observers := make([]func(State), 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.obsMu.Unlock()

	for _, obs := range observers {
		obs(snapshot)
	}
}

// applyFilter recomputes Filtered. Callers hold mu.
func applyFilter(st *State) {
	st.Filtered = search.Filter(st.Items, search.Options{
		Query: st.Query,
		Type:  st.FilterType,
		Sort:  st.Sort,
	})
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// bumpMs returns a timestamp strictly after prev.
func (s *Store) bumpMs(prev int64) int64 {
	now := s.nowMs()
	if now <= prev {
		return prev + 1
	}
	return now
}

// spawn runs fn in the background. Its error goes to Errors.
func (s *Store) spawn(ctx context.Context, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		if err := fn(ctx); err != nil {
			s.engine.Report(err)
		}
	}()
}
