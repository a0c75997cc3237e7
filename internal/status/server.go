// Package status provides a local WebSocket feed of sync progress.
//
// The server subscribes to the engine and broadcasts every progress
// snapshot to connected clients, so menubar apps and other local observers
// can render sync state without polling the database. Clients get the
// newest snapshot immediately on connect.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/engine"
)

// MessageType defines the type of status message.
type MessageType string

const (
	// MessageTypeState announces an engine state transition.
	MessageTypeState MessageType = "state"

	// MessageTypeProgress carries a full progress snapshot.
	MessageTypeProgress MessageType = "progress"

	// MessageTypeQueue announces a change in queue depth.
	MessageTypeQueue MessageType = "queue"

	// MessageTypeError announces a failed round.
	MessageTypeError MessageType = "error"
)

// Message is the broadcast envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StateData is the payload of a state message.
type StateData struct {
	State    engine.State `json:"state"`
	Hydrated bool         `json:"hydrated"`
}

// QueueData is the payload of a queue message.
type QueueData struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Error string `json:"error"`
}

// Server broadcasts engine progress over WebSocket connections.
type Server struct {
	eng  engine.Engine
	addr string

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log zerolog.Logger
}

// New creates a status server bound to the given engine. addr is a host:port
// to listen on; loopback addresses keep the feed local to the machine.
func New(eng engine.Engine, addr string, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		eng:       eng,
		addr:      addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		log:       logger.With().Str("component", "status").Logger(),
	}
}

// Start listens on the configured address and begins broadcasting. It
// returns once the listener is up; serving happens in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.pump()
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", ln.Addr().String()).Msg("status feed listening")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server error")
		}
	}()

	return nil
}

// Stop closes every client connection and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the address the server is listening on, useful when the
// configured port was 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// pump converts engine snapshots into broadcast messages.
func (s *Server) pump() {
	defer s.wg.Done()

	snapshots, cancel := s.eng.Subscribe()
	defer cancel()

	var last engine.Progress
	first := true
	for {
		select {
		case <-s.ctx.Done():
			return
		case p, ok := <-snapshots:
			if !ok {
				return
			}
			for _, msg := range s.diff(last, p, first) {
				s.send(msg)
			}
			last, first = p, false
		}
	}
}

// diff derives the messages a snapshot transition produces. Every snapshot
// carries a progress message; state, queue, and error messages go out only
// when the respective part changed.
func (s *Server) diff(prev, cur engine.Progress, first bool) []Message {
	var out []Message
	if first || cur.State != prev.State {
		out = append(out, s.message(MessageTypeState, StateData{State: cur.State, Hydrated: cur.Hydrated}))
	}
	out = append(out, s.message(MessageTypeProgress, cur))
	if first || cur.Pending != prev.Pending || cur.Failed != prev.Failed {
		out = append(out, s.message(MessageTypeQueue, QueueData{Pending: cur.Pending, Failed: cur.Failed}))
	}
	if cur.LastError != "" && cur.LastError != prev.LastError {
		out = append(out, s.message(MessageTypeError, ErrorData{Error: cur.LastError}))
	}
	return out
}

func (s *Server) message(t MessageType, v any) Message {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal status payload")
	}
	return Message{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// send queues a message for broadcast. A full channel drops the message;
// the next snapshot supersedes it anyway.
func (s *Server) send(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.log.Warn().Msg("broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to marshal message")
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so one slow client cannot
			// stall accepting new ones.
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Debug().Int("clients", count).Msg("client connected")

	// The newest snapshot goes out immediately so the client never renders
	// an empty state.
	snapshot := s.message(MessageTypeProgress, s.eng.Progress())
	if data, err := json.Marshal(snapshot); err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop drains client frames so pings are answered; the feed is one-way.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.log.Debug().Int("clients", count).Msg("client disconnected")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
