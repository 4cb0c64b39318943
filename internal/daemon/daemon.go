// Package daemon wires the store, tool dispatch, model gateway, agent loop and
// HTTP API into one serving process.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/sqlask/internal/config"
	"github.com/harun/sqlask/internal/logger"
	"github.com/harun/sqlask/internal/observability"
	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/agent"
	"github.com/harun/sqlask/pkg/api"
	"github.com/harun/sqlask/pkg/store"
	"github.com/harun/sqlask/pkg/toolexecutor"
)

// Daemon is a running sqlask server.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store        *store.Store
	toolExecutor *toolexecutor.Executor
	agentRunner  *agent.Runner
	prompt       agent.PromptSource
	apiServer    *api.Server
	lifecycle    *LifecycleManager

	serveErr  chan error
	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes the daemon
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
}

// OpenStore opens the configured database.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		URI:             cfg.Database.URI,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	}, log.Component("store"))
}

// NewToolExecutor builds tool dispatch over st.
func NewToolExecutor(st toolexecutor.Store, cfg *config.Config, log *logger.Logger) (*toolexecutor.Executor, error) {
	toolCfg := toolexecutor.DefaultConfig()
	if cfg.Tools.DefaultRowLimit > 0 {
		toolCfg.DefaultRowLimit = cfg.Tools.DefaultRowLimit
	}
	if cfg.Tools.MaxRowLimit > 0 {
		toolCfg.MaxRowLimit = cfg.Tools.MaxRowLimit
	}
	if cfg.Tools.Timeout > 0 {
		toolCfg.Timeout = time.Duration(cfg.Tools.Timeout) * time.Second
	}
	if cfg.Tools.MaxResultBytes > 0 {
		toolCfg.MaxResultBytes = cfg.Tools.MaxResultBytes
	}
	return toolexecutor.New(st, toolCfg, log.Component("tools"))
}

// NewPromptSource returns the configured system prompt. The closer is nil
// unless the prompt is watched on disk.
func NewPromptSource(cfg *config.Config, log *logger.Logger) (agent.PromptSource, io.Closer, error) {
	if cfg.Agent.SystemPromptFile == "" {
		return agent.StaticPrompt(agent.DefaultSystemPrompt), nil, nil
	}
	fp, err := agent.NewFilePrompt(cfg.Agent.SystemPromptFile, log.Component("prompt"))
	if err != nil {
		return nil, nil, err
	}
	return fp, fp, nil
}

// NewAgentRunner builds the agent loop over tools.
func NewAgentRunner(cfg *config.Config, tools agent.ToolInvoker, prompt agent.PromptSource, log *logger.Logger) (*agent.Runner, error) {
	gateway := agent.NewProviderFactory(agent.GatewayConfig{
		OpenAIAPIKey:      cfg.AI.OpenAIAPIKey,
		OpenRouterAPIKey:  cfg.AI.OpenRouterAPIKey,
		AnthropicAPIKey:   cfg.AI.AnthropicAPIKey,
		OpenRouterBaseURL: cfg.AI.OpenRouterBaseURL,
		Timeout:           time.Duration(cfg.AI.Timeout) * time.Second,
	})

	return agent.NewRunner(agent.Config{
		Gateway:      gateway,
		Tools:        tools,
		Prompt:       prompt,
		Logger:       log.Zerolog(),
		DefaultModel: cfg.Agent.DefaultModel,
		StepLimit:    cfg.Agent.StepLimit,
		MaxStepLimit: cfg.Agent.MaxStepLimit,
		Temperature:  cfg.AI.Temperature,
		MaxTokens:    cfg.AI.MaxTokens,
	})
}

// New creates a daemon. It opens the database, so a bad URI fails here.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config:    cfg,
		logger:    log,
		lifecycle: NewLifecycleManager(cfg.DataDir, log.Component("lifecycle")),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			zl := log.Zerolog()
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
		}
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			zl := log.Zerolog()
			zl.Warn().Err(err).Str("path", cfg.Logging.AuditFile).Msg("Failed to open audit log, auditing to stderr")
		}
	}

	if err := d.initialize(); err != nil {
		d.release()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := OpenStore(ctx, d.config, d.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.store = st

	d.toolExecutor, err = NewToolExecutor(st, d.config, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create tool executor: %w", err)
	}

	d.prompt, _, err = NewPromptSource(d.config, d.logger)
	if err != nil {
		return fmt.Errorf("failed to load system prompt: %w", err)
	}

	d.agentRunner, err = NewAgentRunner(d.config, d.toolExecutor, d.prompt, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	d.apiServer, err = api.NewServer(api.Options{
		Host:               d.config.Server.Host,
		Port:               d.config.Server.Port,
		RateLimitPerMinute: d.config.Server.RateLimitPerMinute,
		MaxConcurrentRuns:  d.config.Server.MaxConcurrentRuns,
		RequestTimeout:     time.Duration(d.config.Server.RequestTimeout) * time.Second,
		AllowedOrigins:     d.config.Server.AllowedOrigins,
		ModelsURL:          d.config.Server.ModelsURL,
	}, d.agentRunner, d.store, d.logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	return nil
}

// Start begins serving. It returns once the listener is bound.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.serveErr = make(chan error, 1)
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().
		Str("database", config.MaskDSN(d.config.Database.URI)).
		Str("driver", d.store.Driver()).
		Str("default_model", d.agentRunner.DefaultModel()).
		Msg("Starting sqlask")

	if err := d.lifecycle.Start(); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	go func() {
		d.serveErr <- d.apiServer.Start()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for d.apiServer.Addr() == "" {
		select {
		case err := <-d.serveErr:
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			_ = d.lifecycle.Stop()
			if err == nil {
				err = fmt.Errorf("API server exited before binding")
			}
			return err
		default:
		}
		if time.Now().After(deadline) {
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			_ = d.lifecycle.Stop()
			return fmt.Errorf("timed out waiting for API server to bind")
		}
		time.Sleep(10 * time.Millisecond)
	}

	logger.Info().Str("addr", d.apiServer.Addr()).Msg("sqlask started")
	return nil
}

// Stop drains in-flight runs and releases every resource.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping sqlask")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop API server")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	logger.Info().Msg("sqlask stopped")
	return nil
}

// release closes what New opened. Safe on a partially built daemon.
func (d *Daemon) release() {
	log := d.logger.Zerolog()

	if c, ok := d.prompt.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close prompt watcher")
		}
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownTracerProvider(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.apiServer.Addr()
	}
	return status
}

// Wait blocks until SIGINT/SIGTERM or a server failure, then stops the daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	zl := d.logger.Zerolog()
	var serveErr error
	select {
	case sig := <-sigChan:
		zl.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
		zl.Error().Err(serveErr).Msg("API server exited")
	}

	if err := d.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop daemon")
	}
	return serveErr
}

// Runner returns the agent loop.
func (d *Daemon) Runner() *agent.Runner {
	return d.agentRunner
}

// Store returns the database handle.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Handler returns the API handler, for embedding and tests.
func (d *Daemon) Handler() http.Handler {
	return d.apiServer.Handler()
}
