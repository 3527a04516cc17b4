package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/tilesticker/sticky/internal/remote"
)

// Notifier fans row changes out to subscribers of the same user.
type Notifier interface {
	Publish(ctx context.Context, change remote.Change) error

	// Subscribe returns a channel of the user's changes and a cancel
	// function that closes it.
	Subscribe(ctx context.Context, userID string) (<-chan remote.Change, func(), error)

	Close() error
}

// Hub is an in-process Notifier. Slow subscribers lose messages rather
// than blocking publishers; a lost trigger is harmless because clients
// also poll.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan remote.Change]struct{}
	logger *log.Logger
	closed bool
}

var _ Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	return &Hub{
		subs:   make(map[string]map[chan remote.Change]struct{}),
		logger: logger,
	}
}

func (h *Hub) Publish(ctx context.Context, change remote.Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[change.UserID] {
		select {
		case ch <- change:
		default:
			h.logger.Printf("WARNING: subscriber for %s is full, dropping change %s", change.UserID, change.ItemID)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan remote.Change, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, fmt.Errorf("hub is closed")
	}
	ch := make(chan remote.Change, 16)
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan remote.Change]struct{})
	}
	h.subs[userID][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[userID][ch]; ok {
				delete(h.subs[userID], ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// Close closes every subscriber channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for user, chans := range h.subs {
		for ch := range chans {
			close(ch)
		}
		delete(h.subs, user)
	}
	h.closed = true
	return nil
}

// RedisNotifier publishes changes on a per-user Redis channel so that
// several servers sharing one Redis see each other's writes.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier wraps client. prefix namespaces channel names.
func NewRedisNotifier(client *redis.Client, prefix string, logger *log.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "sticky"
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger}
}

func (n *RedisNotifier) channel(userID string) string {
	return fmt.Sprintf("%s:changes:%s", n.prefix, userID)
}

func (n *RedisNotifier) Publish(ctx context.Context, change remote.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(change.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, userID string) (<-chan remote.Change, func(), error) {
	pubsub := n.client.Subscribe(ctx, n.channel(userID))
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan remote.Change, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change remote.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					n.logger.Printf("WARNING: ignoring malformed change: %v", err)
					continue
				}
				select {
				case out <- change:
				default:
					n.logger.Printf("WARNING: subscriber for %s is full, dropping change %s", userID, change.ItemID)
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (n *RedisNotifier) Close() error {
	return nil
}
