// Package server exposes the conversation service over WebSocket. Clients
// exchange JSON frames: a request names a conversation and a message, the
// response carries the reply, the owning handler and the ended flag.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/internal/observability"
	"github.com/agilbank/concierge/internal/tracing"
	"github.com/agilbank/concierge/pkg/orchestrator"
)

// Frame types accepted on the wire. "reset_conversation" is accepted as an
// alias for TypeReset.
const (
	TypeProcessTurn = "process_turn"
	TypeReset       = "reset"
)

// Request is one inbound client frame.
type Request struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message,omitempty"`
}

// Response is the frame written back for every request.
type Response struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply,omitempty"`
	Handler        string `json:"handler,omitempty"`
	Ended          bool   `json:"ended,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Config holds server configuration.
type Config struct {
	Addr        string
	Service     *orchestrator.Service
	TurnTimeout time.Duration
	Logger      zerolog.Logger
}

// Server accepts WebSocket connections and hands frames to the service.
type Server struct {
	addr        string
	turnTimeout time.Duration
	service     *orchestrator.Service
	logger      zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	shutdownMu     sync.RWMutex
	isShuttingDown bool

	connsMu sync.Mutex
	conns   map[string]*websocket.Conn

	inFlight sync.WaitGroup
}

// NewServer creates a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}

	return &Server{
		addr:        cfg.Addr,
		turnTimeout: cfg.TurnTimeout,
		service:     cfg.Service,
		logger:      cfg.Logger,
		conns:       make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP handler serving /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins listening. It does not block.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting conversation server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Conversation server error")
		}
	}()

	return nil
}

// Stop drains in-flight turns and closes all connections.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down conversation server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.connsMu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Conversation server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	s.connsMu.Lock()
	s.conns[clientID] = conn
	s.connsMu.Unlock()

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(clientID, conn)
}

func (s *Server) handleClient(clientID string, conn *websocket.Conn) {
	// One writer per connection; turns for a conversation are already
	// serialized by the service.
	var writeMu sync.Mutex

	defer func() {
		conn.Close()
		s.connsMu.Lock()
		delete(s.conns, clientID)
		s.connsMu.Unlock()
		s.logger.Info().Str("client_id", clientID).Msg("Client disconnected")
	}()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("client_id", clientID).Msg("WebSocket error")
			}
			return
		}

		s.inFlight.Add(1)
		go func(req Request) {
			defer s.inFlight.Done()

			resp := s.dispatch(req)

			writeMu.Lock()
			err := conn.WriteJSON(resp)
			writeMu.Unlock()
			if err != nil {
				s.logger.Error().
					Err(err).
					Str("client_id", clientID).
					Str("conversation_id", req.ConversationID).
					Msg("Failed to send response")
			}
		}(req)
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{Type: req.Type, ID: req.ID, ConversationID: req.ConversationID}

	ctx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	defer cancel()
	ctx = tracing.NewRequestContext(ctx)

	logger := tracing.LoggerFromContext(ctx, s.logger)

	switch req.Type {
	case TypeProcessTurn:
		turn, err := s.service.ProcessTurn(ctx, req.ConversationID, req.Message)
		if err != nil {
			logger.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("Turn failed")
			resp.Error = err.Error()
			return resp
		}
		resp.Reply = turn.Reply
		resp.Handler = turn.Handler
		resp.Ended = turn.Ended

	case TypeReset, "reset_conversation":
		if err := s.service.ResetConversation(ctx, req.ConversationID); err != nil {
			logger.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("Reset failed")
			resp.Error = err.Error()
			return resp
		}

	default:
		resp.Error = fmt.Sprintf("unknown frame type %q", req.Type)
	}

	return resp
}
