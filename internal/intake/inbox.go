package intake

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InboxConfig holds configuration for an Inbox.
type InboxConfig struct {
	// DebounceInterval is how long a file must be quiet before it is read.
	// This lets editors finish writing.
	DebounceInterval time.Duration

	// Now anchors relative dates (default: time.Now).
	Now func() time.Time

	// Logger for inbox activity
	Logger *log.Logger
}

// DefaultInboxConfig returns sensible defaults.
func DefaultInboxConfig() *InboxConfig {
	return &InboxConfig{
		DebounceInterval: 200 * time.Millisecond,
		Now:              time.Now,
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Inbox watches a directory for instruction files and applies them.
//
// Each *.txt or *.url file holds one instruction query per line, either a
// bare query string or a full URL whose query is used. Blank lines and lines
// starting with # are ignored. A file is deleted once every line applied;
// a file with a failing line is renamed to *.failed.
type Inbox struct {
	dir     string
	creator Creator
	config  *InboxConfig

	watcher   *fsnotify.Watcher
	pending   map[string]time.Time // path -> last event
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInbox creates an inbox over dir, creating the directory if needed.
func NewInbox(dir string, creator Creator, config *InboxConfig) (*Inbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox dir cannot be empty")
	}
	if creator == nil {
		return nil, fmt.Errorf("creator cannot be nil")
	}
	if config == nil {
		config = DefaultInboxConfig()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		dir:     dir,
		creator: creator,
		config:  config,
		watcher: watcher,
		pending: make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start drains files already in the directory, then watches it. It blocks
// until ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}

	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("failed to list inbox: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isInstructionFile(entry.Name()) {
			in.queue(filepath.Join(in.dir, entry.Name()))
		}
	}

	in.config.Logger.Printf("Watching inbox: %s", in.dir)

	in.wg.Add(2)
	go in.watchEvents()
	go in.processQueue()

	select {
	case <-ctx.Done():
		return in.Stop()
	case <-in.ctx.Done():
		return nil
	}
}

// Stop shuts the watcher down and waits for in-flight files.
func (in *Inbox) Stop() error {
	in.cancel()
	if err := in.watcher.Close(); err != nil {
		in.config.Logger.Printf("Error closing watcher: %v", err)
	}
	in.wg.Wait()
	return nil
}

func isInstructionFile(name string) bool {
	switch filepath.Ext(name) {
	case ".txt", ".url":
		return true
	}
	return false
}

func (in *Inbox) queue(path string) {
	in.pendingMu.Lock()
	defer in.pendingMu.Unlock()
	in.pending[path] = in.config.Now()
}

func (in *Inbox) watchEvents() {
	defer in.wg.Done()

	for {
		select {
		case <-in.ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isInstructionFile(event.Name) {
				continue
			}
			in.queue(event.Name)

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (in *Inbox) processQueue() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-in.ctx.Done():
			return
		case <-ticker.C:
			in.processPending()
		}
	}
}

// processPending handles files that have been quiet for a debounce interval.
func (in *Inbox) processPending() {
	now := in.config.Now()

	in.pendingMu.Lock()
	var ready []string
	for path, queuedAt := range in.pending {
		if now.Sub(queuedAt) < in.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(in.pending, path)
	}
	in.pendingMu.Unlock()

	for _, path := range ready {
		if err := in.ProcessFile(in.ctx, path); err != nil {
			in.config.Logger.Printf("WARNING: %v", err)
		}
	}
}

// ProcessFile applies every instruction line in path.
func (in *Inbox) ProcessFile(ctx context.Context, path string) error {
	// #nosec G304 - files inside the configured inbox
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		return fmt.Errorf("failed to read %s: %w", path, scanErr)
	}

	created := 0
	for _, line := range lines {
		n, err := in.applyLine(ctx, line)
		created += n
		if err != nil {
			_ = os.Rename(path, path+".failed")
			return fmt.Errorf("inbox file %s: %w", filepath.Base(path), err)
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	in.config.Logger.Printf("Processed %s: created %d items", filepath.Base(path), created)
	return nil
}

// applyLine runs every instruction group in one line, one group per pass.
func (in *Inbox) applyLine(ctx context.Context, line string) (int, error) {
	query := line
	if u, err := url.Parse(line); err == nil && u.Scheme != "" {
		query = u.RawQuery
	}

	created := 0
	for {
		items, rest, err := Run(ctx, in.creator, query, in.config.Now())
		created += len(items)
		if err != nil {
			return created, err
		}
		if len(items) == 0 {
			return created, nil
		}
		query = rest
	}
}
