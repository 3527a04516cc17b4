package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/mod/semver"

	"github.com/tilesticker/sticky/internal/schema"
)

// Config configures an HTTPClient.
type Config struct {
	// BaseURL of the hosted backend, e.g. https://sticky.example.com
	BaseURL string

	// Token is sent as a Bearer token on every request.
	Token string

	// Timeout bounds each REST call (default: 10s). Subscriptions are not
	// affected.
	Timeout time.Duration

	// ReconnectDelay is the first wait before re-dialing a dropped change
	// stream; it doubles up to MaxReconnectDelay (defaults: 1s and 30s).
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// HTTPClient overrides the transport (default: a client with Timeout).
	HTTPClient *http.Client

	// Logger for connection events (default: stderr logger)
	Logger *log.Logger
}

// HTTPClient talks to the cloud server over REST and a websocket change
// stream.
type HTTPClient struct {
	base   *url.URL
	token  string
	http   *http.Client
	config Config
	logger *log.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates config and returns a client.
func NewHTTPClient(config Config) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote base URL must be http or https, got %q", base.Scheme)
	}

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPClient{
		base:   base,
		token:  config.Token,
		http:   httpClient,
		config: config,
		logger: config.Logger,
	}, nil
}

// IsEmpty reports whether the user owns no rows at all.
func (c *HTTPClient) IsEmpty(ctx context.Context, userID string) (bool, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, c.userPath(userID, "stats"), nil, &stats); err != nil {
		return false, fmt.Errorf("failed to check remote rows: %w", err)
	}
	return stats.Total == 0, nil
}

// Insert creates a new row.
func (c *HTTPClient) Insert(ctx context.Context, userID string, item schema.Item) (schema.Item, error) {
	var row schema.Row
	if err := c.do(ctx, http.MethodPost, c.userPath(userID, "items"), schema.ToRow(item, userID), &row); err != nil {
		return schema.Item{}, fmt.Errorf("failed to insert remote item %s: %w", item.ID, err)
	}
	return row.ToItem(), nil
}

// Upsert writes item as-is, keeping id and timestamps.
func (c *HTTPClient) Upsert(ctx context.Context, userID string, item schema.Item) (schema.Item, error) {
	var row schema.Row
	path := c.userPath(userID, "items", item.ID)
	if err := c.do(ctx, http.MethodPut, path, schema.ToRow(item, userID), &row); err != nil {
		return schema.Item{}, fmt.Errorf("failed to upsert remote item %s: %w", item.ID, err)
	}
	return row.ToItem(), nil
}

// Update patches one row.
func (c *HTTPClient) Update(ctx context.Context, userID, id string, patch schema.Patch) (schema.Item, error) {
	var row schema.Row
	if err := c.do(ctx, http.MethodPatch, c.userPath(userID, "items", id), patch, &row); err != nil {
		return schema.Item{}, fmt.Errorf("failed to update remote item %s: %w", id, err)
	}
	return row.ToItem(), nil
}

// SoftDelete marks one row deleted.
func (c *HTTPClient) SoftDelete(ctx context.Context, userID, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.userPath(userID, "items", id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete remote item %s: %w", id, err)
	}
	return nil
}

// ListActive returns the user's live rows.
func (c *HTTPClient) ListActive(ctx context.Context, userID string) ([]schema.Item, error) {
	var list ItemList
	if err := c.do(ctx, http.MethodGet, c.userPath(userID, "items"), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list remote items: %w", err)
	}
	items := make([]schema.Item, 0, len(list.Items))
	for _, row := range list.Items {
		if row.Deleted() {
			continue
		}
		items = append(items, row.ToItem())
	}
	return items, nil
}

// Ping checks /health and the server's API major version.
func (c *HTTPClient) Ping(ctx context.Context) error {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return fmt.Errorf("remote unreachable: %w", err)
	}
	if !semver.IsValid(health.Version) {
		return fmt.Errorf("%w: server reported %q", ErrIncompatible, health.Version)
	}
	if semver.Major(health.Version) != semver.Major(APIVersion) {
		return fmt.Errorf("%w: server %s, client %s", ErrIncompatible, health.Version, APIVersion)
	}
	return nil
}

// Subscribe opens the change stream for userID. The stream reconnects with
// exponential backoff until the returned stop function is called or ctx is
// done. The first dial happens before Subscribe returns so that an
// unreachable server or a rejected token is reported immediately.
func (c *HTTPClient) Subscribe(ctx context.Context, userID string, onChange func()) (func(), error) {
	conn, err := c.dial(ctx, userID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.streamLoop(subCtx, userID, conn, onChange)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
	return stop, nil
}

func (c *HTTPClient) streamLoop(ctx context.Context, userID string, conn *websocket.Conn, onChange func()) {
	delay := c.config.ReconnectDelay
	for {
		if conn != nil {
			c.readChanges(ctx, conn, onChange)
			_ = conn.Close(websocket.StatusNormalClosure, "")
			conn = nil
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		next, err := c.dial(ctx, userID)
		if err != nil {
			c.logger.Printf("WARNING: change stream reconnect failed: %v", err)
			delay *= 2
			if delay > c.config.MaxReconnectDelay {
				delay = c.config.MaxReconnectDelay
			}
			continue
		}
		c.logger.Printf("Change stream reconnected for %s", userID)
		delay = c.config.ReconnectDelay
		conn = next
		// Anything may have changed while disconnected.
		onChange()
	}
}

func (c *HTTPClient) readChanges(ctx context.Context, conn *websocket.Conn, onChange func()) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Printf("Change stream closed: %v", err)
			}
			return
		}
		var change Change
		if err := json.Unmarshal(data, &change); err != nil {
			c.logger.Printf("WARNING: ignoring malformed change message: %v", err)
			continue
		}
		onChange()
	}
}

func (c *HTTPClient) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := scheme + strings.TrimPrefix(c.base.String(), c.base.Scheme) + c.userPath(userID, "changes")

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("failed to open change stream: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	return conn, nil
}

func (c *HTTPClient) userPath(userID string, parts ...string) string {
	segs := []string{"/v1/users", url.PathEscape(userID)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body ErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	return fmt.Errorf("remote returned %d: %s", resp.StatusCode, msg)
}
