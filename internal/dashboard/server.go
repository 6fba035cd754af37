// Package dashboard provides the real-time WebSocket server for watch mode.
//
// The dashboard broadcasts watcher milestones (file changes, sync runs,
// retries) to connected WebSocket clients, enabling live monitoring of a
// long-running sync session.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/watch"
)

// MessageType discriminates the JSON messages sent to clients.
type MessageType string

const (
	// MessageTypeChange reports a local markdown file changed.
	MessageTypeChange MessageType = "change"

	// MessageTypeSyncStart reports a sync pass began.
	MessageTypeSyncStart MessageType = "sync_start"

	// MessageTypeSyncComplete reports a sync pass finished.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncError reports a sync pass failed terminally.
	MessageTypeSyncError MessageType = "sync_error"

	// MessageTypeRetry reports a failed pass entering a backoff retry.
	MessageTypeRetry MessageType = "retry"
)

// Message is one timestamped broadcast frame. Data holds the
// type-specific payload.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChangeData is the payload for change messages.
type ChangeData struct {
	Path string `json:"path"`
}

// SyncCompleteData summarizes one finished sync pass
type SyncCompleteData struct {
	OperationID string `json:"operation_id"`
	Pushed      int    `json:"pushed"`
	Pulled      int    `json:"pulled"`
	Conflicted  int    `json:"conflicted"`
	Unchanged   int    `json:"unchanged"`
	Errors      int    `json:"errors"`
}

// SyncErrorData is the payload for sync_error messages.
type SyncErrorData struct {
	Error string `json:"error"`
}

// RetryData is the payload for retry messages.
type RetryData struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// Server fans watch events out to WebSocket clients. Slow clients never
// stall the watcher: the broadcast channel drops when full.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds dashboard tuning knobs.
type Config struct {
	// Port is the TCP listen port (default 8780).
	Port int

	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns the default dashboard settings.
func DefaultConfig() *Config {
	return &Config{
		Port:   8780,
		Logger: log.Default(),
	}
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start binds the listen port and begins serving the WebSocket endpoint,
// health check, and landing page.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast queues a message for every connected client, dropping it if
// the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// PublishWatchEvent converts a watcher milestone into a broadcast message.
func (s *Server) PublishWatchEvent(ev watch.Event) {
	msg := Message{Timestamp: time.Now()}

	switch ev.Type {
	case watch.EventChange:
		msg.Type = MessageTypeChange
		msg.Data = mustMarshal(ChangeData{Path: ev.Path})
	case watch.EventSyncStart:
		msg.Type = MessageTypeSyncStart
	case watch.EventSyncComplete:
		msg.Type = MessageTypeSyncComplete
		msg.Data = mustMarshal(syncCompleteData(ev.Result))
	case watch.EventSyncError:
		msg.Type = MessageTypeSyncError
		msg.Data = mustMarshal(SyncErrorData{Error: ev.Err.Error()})
	case watch.EventRetry:
		msg.Type = MessageTypeRetry
		data := RetryData{Attempt: ev.Attempt}
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
		msg.Data = mustMarshal(data)
	default:
		return
	}

	s.Broadcast(msg)
}

func syncCompleteData(result *engine.Result) SyncCompleteData {
	if result == nil {
		return SyncCompleteData{}
	}
	return SyncCompleteData{
		OperationID: result.OperationID,
		Pushed:      len(result.Pushed),
		Pulled:      len(result.Pulled),
		Conflicted:  len(result.Conflicted),
		Unchanged:   len(result.Unchanged),
		Errors:      len(result.Errors),
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// broadcastLoop drains the broadcast channel and writes each frame to
// every client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the read lock; a failed write is removed
			// afterwards
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket accepts a client and registers it for broadcasts.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // any origin may connect
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop drains the client until it disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// one-way connection; inbound frames are discarded
	}
}

// removeClient deregisters and closes one client.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth reports server status and connected-client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleRoot serves a minimal landing page pointing at the endpoint.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Confsync Dashboard</title>
</head>
<body>
    <h1>Confsync Watch Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive live sync events.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the bound listen address, empty before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns how many clients are connected.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
