package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8787")
	Addr string

	// Backend stores rows (required)
	Backend Backend

	// Notifier fans out changes (default: in-process Hub)
	Notifier Notifier

	// Tokens maps Bearer tokens to the single user id each may act for.
	// Empty disables authentication.
	Tokens map[string]string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger

	// Now supplies server time (default: time.Now)
	Now func() time.Time
}

// Server serves the remote item API:
//
//	GET    /health
//	GET    /v1/users/{user}/items            active rows (?deleted=1 for all)
//	POST   /v1/users/{user}/items            insert, 409 on duplicate id
//	GET    /v1/users/{user}/stats
//	PUT    /v1/users/{user}/items/{id}       upsert keeping id and timestamps
//	PATCH  /v1/users/{user}/items/{id}       partial update
//	DELETE /v1/users/{user}/items/{id}       soft delete
//	GET    /v1/users/{user}/changes          websocket change stream
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	handler  http.Handler

	backend      Backend
	notifier     Notifier
	tokens       map[string]string
	now          func() time.Time
	ownsNotifier bool

	// Serializes read-modify-write on rows.
	writeMu sync.Mutex

	// WebSocket client management
	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server. Call Start to listen, or use Handler with an
// existing http.Server.
func NewServer(config Config) (*Server, error) {
	if config.Backend == nil {
		return nil, errors.New("cloud server requires a backend")
	}
	if config.Addr == "" {
		config.Addr = ":8787"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[cloud] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	ownsNotifier := false
	if config.Notifier == nil {
		config.Notifier = NewHub(config.Logger)
		ownsNotifier = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:         config.Addr,
		backend:      config.Backend,
		notifier:     config.Notifier,
		tokens:       config.Tokens,
		now:          config.Now,
		ownsNotifier: ownsNotifier,
		clients:      make(map[*websocket.Conn]string),
		ctx:          ctx,
		cancel:       cancel,
		logger:       config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/users/{user}/items", s.authorized(s.handleList))
	mux.HandleFunc("POST /v1/users/{user}/items", s.authorized(s.handleInsert))
	mux.HandleFunc("GET /v1/users/{user}/stats", s.authorized(s.handleStats))
	mux.HandleFunc("PUT /v1/users/{user}/items/{id}", s.authorized(s.handleUpsert))
	mux.HandleFunc("PATCH /v1/users/{user}/items/{id}", s.authorized(s.handlePatch))
	mux.HandleFunc("DELETE /v1/users/{user}/items/{id}", s.authorized(s.handleDelete))
	mux.HandleFunc("GET /v1/users/{user}/changes", s.authorized(s.handleChanges))

	s.handler = loggingMiddleware(s.logger)(authMiddleware(s.tokens)(mux))
	return s, nil
}

// Handler returns the routed handler with logging and auth applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Cloud server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop closes change streams and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping cloud server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	if s.ownsNotifier {
		_ = s.notifier.Close()
	}
	s.logger.Println("Cloud server stopped")
	return nil
}

// authorized rejects requests whose token belongs to a different user.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user id is required")
			return
		}
		if tokenUserID, ok := tokenUser(r); ok && tokenUserID != userID {
			writeError(w, http.StatusForbidden, "token may not access this user")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, http.StatusOK, remote.Health{
		Status:  "ok",
		Version: remote.APIVersion,
		Clients: clientCount,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("deleted") == "1"
	rows, err := s.backend.List(r.Context(), r.PathValue("user"), includeDeleted)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.ItemList{Items: rows})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.Stats(r.Context(), r.PathValue("user"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	row, ok := s.decodeRow(w, r, userID, "")
	if !ok {
		return
	}

	now := s.stamp()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() || row.UpdatedAt.Before(row.CreatedAt) {
		row.UpdatedAt = row.CreatedAt
	}
	row.DeletedAt = nil

	if err := s.backend.Insert(r.Context(), row); err != nil {
		if errors.Is(err, ErrConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}

	s.publish(r.Context(), userID, row.ID, remote.ChangeInsert)
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	row, ok := s.decodeRow(w, r, userID, r.PathValue("id"))
	if !ok {
		return
	}

	now := s.stamp()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	row.DeletedAt = nil

	if err := s.backend.Put(r.Context(), row); err != nil {
		s.internalError(w, err)
		return
	}

	s.publish(r.Context(), userID, row.ID, remote.ChangeUpdate)
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	userID, id := r.PathValue("user"), r.PathValue("id")

	var patch schema.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid patch: %v", err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row, err := s.backend.Get(r.Context(), userID, id)
	if err != nil || row.Deleted() {
		if err == nil || errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("item %s not found", id))
			return
		}
		s.internalError(w, err)
		return
	}

	merged := schema.Apply(row.ToItem(), patch)
	updated := schema.ToRow(merged, userID)
	updated.CreatedAt = row.CreatedAt
	updated.UpdatedAt = s.bump(row.UpdatedAt)
	if err := schema.Validate(updated.ToItem()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.backend.Put(r.Context(), updated); err != nil {
		s.internalError(w, err)
		return
	}

	s.publish(r.Context(), userID, id, remote.ChangeUpdate)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, id := r.PathValue("user"), r.PathValue("id")

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row, err := s.backend.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("item %s not found", id))
			return
		}
		s.internalError(w, err)
		return
	}
	if row.Deleted() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	row.UpdatedAt = s.bump(row.UpdatedAt)
	deletedAt := row.UpdatedAt
	row.DeletedAt = &deletedAt
	if err := s.backend.Put(r.Context(), row); err != nil {
		s.internalError(w, err)
		return
	}

	s.publish(r.Context(), userID, id, remote.ChangeDelete)
	w.WriteHeader(http.StatusNoContent)
}

// handleChanges upgrades to a websocket and streams the user's changes
// until either side closes.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	changes, unsubscribe, err := s.notifier.Subscribe(s.ctx, userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = userID
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Change stream opened for %s (total: %d)", userID, clientCount)
	defer s.removeClient(conn)

	// We never read client messages; CloseRead handles control frames and
	// cancels ctx when the client goes away.
	ctx := conn.CloseRead(s.ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				s.logger.Printf("Failed to marshal change: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Printf("Failed to send change to %s: %v", userID, err)
				return
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	userID, exists := s.clients[conn]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Change stream closed for %s (total: %d)", userID, clientCount)
}

func (s *Server) decodeRow(w http.ResponseWriter, r *http.Request, userID, pathID string) (schema.Row, bool) {
	var row schema.Row
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid row: %v", err))
		return row, false
	}
	if pathID != "" {
		if row.ID != "" && row.ID != pathID {
			writeError(w, http.StatusBadRequest, "row id does not match path")
			return row, false
		}
		row.ID = pathID
	}
	row.UserID = userID
	if row.Tags == nil {
		row.Tags = []string{}
	}

	item := row.ToItem()
	if row.CreatedAt.IsZero() || row.UpdatedAt.IsZero() {
		// Missing timestamps are stamped by the handler.
		item.CreatedAt, item.UpdatedAt = 0, 0
	}
	if err := schema.Validate(item); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return row, false
	}
	return row, true
}

func (s *Server) publish(ctx context.Context, userID, itemID string, action remote.ChangeAction) {
	change := remote.Change{
		UserID:    userID,
		ItemID:    itemID,
		Action:    action,
		Timestamp: s.now().UTC(),
	}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), change); err != nil {
		s.logger.Printf("WARNING: failed to publish change for %s: %v", itemID, err)
	}
}

func (s *Server) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// bump returns a timestamp strictly after prev so updated_at always moves
// forward even when clocks collide.
func (s *Server) bump(prev time.Time) time.Time {
	now := s.stamp()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Printf("Internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, remote.ErrorBody{Error: msg})
}
