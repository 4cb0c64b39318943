package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/sqlask/internal/observability"
	"github.com/harun/sqlask/pkg/agent"
	"github.com/rs/zerolog"
)

// AgentRunner answers questions. *agent.Runner satisfies it.
type AgentRunner interface {
	Run(ctx context.Context, query, model string, stepLimit int, opts ...agent.RunOption) (agent.Result, error)
	DefaultModel() string
}

// HealthChecker reports database reachability. *store.Store satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Options configures the server. Port 0 binds an ephemeral port.
type Options struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	MaxConcurrentRuns  int
	RequestTimeout     time.Duration
	AllowedOrigins     []string
	ModelsURL          string
	Banner             string
}

// Server is the HTTP front end of the agent.
type Server struct {
	options     Options
	runner      AgentRunner
	health      HealthChecker
	models      *ModelCatalog
	rateLimiter *RateLimiter
	runSlots    *RunSlots
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	startTime   time.Time

	server         *http.Server
	listener       net.Listener
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new server. health may be nil.
func NewServer(options Options, runner AgentRunner, health HealthChecker, logger zerolog.Logger) (*Server, error) {
	observability.EnsureRegistered()

	if runner == nil {
		return nil, errors.New("agent runner is required")
	}

	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 120 * time.Second
	}
	if len(options.AllowedOrigins) == 0 {
		options.AllowedOrigins = []string{"*"}
	}
	if options.Banner == "" {
		options.Banner = "sqlask backend running"
	}

	s := &Server{
		options:     options,
		runner:      runner,
		health:      health,
		models:      NewModelCatalog(options.ModelsURL, logger),
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		runSlots:    NewRunSlots(options.MaxConcurrentRuns),
		logger:      logger.With().Str("component", "api").Logger(),
		startTime:   time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}

	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/models", s.handleModels)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/chat/stream", s.handleStream)
	mux.Handle("/metrics", observability.MetricsHandler())

	return s.withRecovery(s.withRequestContext(s.withCORS(mux)))
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.options.Host, s.options.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.shutdownMu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting API server")

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Addr returns the bound address once serving.
func (s *Server) Addr() string {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new agent runs, waits for in-flight ones and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.options.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
