package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clawinfra/pilink/internal/journal"
	"github.com/clawinfra/pilink/internal/orchestrator"
	"github.com/clawinfra/pilink/internal/scheduler"
	"github.com/clawinfra/pilink/internal/security"
	"github.com/clawinfra/pilink/internal/sessions"
	"github.com/clawinfra/pilink/internal/types"
)

// Version is reported by /api/health and /mcp/info.
var Version = "0.1.0"

// Sender is the gateway as seen by the HTTP surface.
type Sender interface {
	orchestrator.Sender
	Configured() bool
}

// JournalReader exposes recent publishes and per-status totals.
type JournalReader interface {
	Recent(ctx context.Context, topic types.Topic, limit int) ([]journal.Entry, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// Server is the HTTP API server
type Server struct {
	port     int
	gateway  Sender
	sessions sessions.Store
	journal  JournalReader
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	started  time.Time

	jwtSecret []byte
	jwtIssuer string

	// loop and systemPrompt are swapped on config reload
	mu           sync.RWMutex
	loop         *orchestrator.ToolLoop
	systemPrompt string

	httpServer *http.Server
}

// NewServer creates a new API server. loop may be nil when no model
// provider is configured; /api/chat then answers 500.
func NewServer(port int, gateway Sender, loop *orchestrator.ToolLoop, logger *slog.Logger) *Server {
	return &Server{
		port:    port,
		gateway: gateway,
		loop:    loop,
		logger:  logger.With("component", "api"),
		started: time.Now(),
	}
}

// SetSessions enables session_id on /api/chat.
func (s *Server) SetSessions(store sessions.Store) { s.sessions = store }

// SetJournal enables /api/requests.
func (s *Server) SetJournal(j JournalReader) { s.journal = j }

// SetScheduler enables the /api/scheduler routes.
func (s *Server) SetScheduler(sched *scheduler.Scheduler) { s.sched = sched }

// SetAuth enables bearer auth on /api/* (health excepted). An empty secret
// leaves the API open.
func (s *Server) SetAuth(secret, issuer string) {
	s.jwtSecret = []byte(secret)
	s.jwtIssuer = issuer
}

// SetToolLoop replaces the loop used by /api/chat.
func (s *Server) SetToolLoop(loop *orchestrator.ToolLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
}

// SetSystemPrompt overrides the default system prompt for chat turns.
func (s *Server) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

func (s *Server) chatConfig() (*orchestrator.ToolLoop, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loop, s.systemPrompt
}

// Handler returns the full route table wrapped in middleware.
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("/api/telemetry", s.handleTelemetry)
	protected.HandleFunc("/api/action", s.handleAction)
	protected.HandleFunc("/api/chat", s.handleChat)
	protected.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	protected.HandleFunc("/api/requests", s.handleRequests)
	s.registerSchedulerRoutes(protected)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/mcp/info", s.handleMCPInfo)
	mux.HandleFunc("/mcp/tools", s.handleMCPTools)
	mux.Handle("/api/", security.AuthMiddleware(s.jwtSecret, s.jwtIssuer, s.logger)(protected))

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // chat turns wait on the model
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
