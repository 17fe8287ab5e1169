// Package gateway exposes agent sessions over WebSocket. Each connected
// client sends prompt frames; the server runs one turn per prompt and
// streams the loop's events back as they happen. Turns on the same
// session are serialized with a keyed lock so two clients cannot
// interleave one history.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/locks"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/store"
)

// Runner executes one agent turn for a session, pushing events onto the
// queue as it goes. The gateway owns session load/save around the call.
type Runner func(ctx context.Context, sess *session.Session, prompt string, queue *events.Queue) error

// Options configures the server.
type Options struct {
	Addr  string
	Token string

	// RateLimit caps prompts per second per client. Zero disables.
	RateLimit float64

	Store  store.Store
	Runner Runner
	Log    *slog.Logger
}

// Server is the WebSocket endpoint plus a health route.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	locks    *locks.Keyed
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Non-browser clients send no Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		locks:   locks.NewKeyed(),
		log:     log,
		clients: make(map[string]*client),
	}
}

// Handler returns the HTTP mux serving /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens until ctx is cancelled, then drains with a short grace.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Handler(),
	}
	s.log.Info("gateway starting", "addr", s.opts.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// authorize checks the configured token against the Authorization header
// or a token query parameter. No token configured means open access.
func (s *Server) authorize(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ") == s.opts.Token
	}
	return r.URL.Query().Get("token") == s.opts.Token
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString()[:8],
		conn: conn,
		srv:  s,
	}
	if s.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), 3)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Info("client connected", "id", c.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		s.log.Info("client disconnected", "id", c.id)
	}()

	c.run(r.Context())
}

// runTurn loads (or creates) the session, executes the turn under the
// session lock, and persists the result.
func (s *Server) runTurn(ctx context.Context, sessionID, prompt string, queue *events.Queue) (string, error) {
	release, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer release()

	sess, err := s.opts.Store.Load(ctx, sessionID)
	if err == store.ErrNotFound {
		sess = session.NewWithID(sessionID)
		err = nil
	}
	if err != nil {
		return "", err
	}

	if err := s.opts.Runner(ctx, sess, prompt, queue); err != nil {
		return "", err
	}
	if err := s.opts.Store.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	if m := sess.History.LastOfRole(session.RoleAssistant); m != nil {
		return m.Text(), nil
	}
	return "", nil
}

// Frame types on the wire. Client sends prompt frames; the server answers
// with event frames followed by one done or error frame carrying the same
// request id.
const (
	FramePrompt = "prompt"
	FrameEvent  = "event"
	FrameDone   = "done"
	FrameError  = "error"
)

// Frame is the single wire envelope for both directions.
type Frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Text      string          `json:"text,omitempty"`
	Event     string          `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}
