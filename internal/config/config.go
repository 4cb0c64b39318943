package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main sqlask configuration
type Config struct {
	// Database connection and pool
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Model gateway credentials and call settings
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tool dispatch
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// DatabaseConfig holds the store DSN and pool bounds
type DatabaseConfig struct {
	URI             string `json:"uri" mapstructure:"uri"`
	MaxOpenConns    int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"` // seconds
}

// AIConfig holds model gateway configuration
type AIConfig struct {
	OpenAIAPIKey      string  `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenRouterAPIKey  string  `json:"openrouter_api_key" mapstructure:"openrouter_api_key"`
	AnthropicAPIKey   string  `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenRouterBaseURL string  `json:"openrouter_base_url" mapstructure:"openrouter_base_url"`
	Timeout           int     `json:"timeout" mapstructure:"timeout"` // seconds
	Temperature       float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens         int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig configures the agent loop
type AgentConfig struct {
	DefaultModel     string `json:"default_model" mapstructure:"default_model"`
	StepLimit        int    `json:"step_limit" mapstructure:"step_limit"`
	MaxStepLimit     int    `json:"max_step_limit" mapstructure:"max_step_limit"`
	SystemPromptFile string `json:"system_prompt_file" mapstructure:"system_prompt_file"`
}

// ToolsConfig configures tool dispatch
type ToolsConfig struct {
	DefaultRowLimit int `json:"default_row_limit" mapstructure:"default_row_limit"`
	MaxRowLimit     int `json:"max_row_limit" mapstructure:"max_row_limit"`
	Timeout         int `json:"timeout" mapstructure:"timeout"`                   // seconds
	MaxResultBytes  int `json:"max_result_bytes" mapstructure:"max_result_bytes"` // 0 disables truncation
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string   `json:"host" mapstructure:"host"`
	Port               int      `json:"port" mapstructure:"port"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	MaxConcurrentRuns  int      `json:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
	RequestTimeout     int      `json:"request_timeout" mapstructure:"request_timeout"` // seconds
	AllowedOrigins     []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	ModelsURL          string   `json:"models_url" mapstructure:"models_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    1,
			ConnMaxLifetime: 300,
		},
		AI: AIConfig{
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
			Timeout:           30,
			Temperature:       0,
			MaxTokens:         1024,
		},
		Agent: AgentConfig{
			DefaultModel: "mistralai/mistral-7b-instruct:free",
			StepLimit:    5,
			MaxStepLimit: 20,
		},
		Tools: ToolsConfig{
			DefaultRowLimit: 50,
			MaxRowLimit:     200,
			Timeout:         30,
			MaxResultBytes:  0,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			RateLimitPerMinute: 60,
			MaxConcurrentRuns:  10,
			RequestTimeout:     120,
			AllowedOrigins:     []string{"*"},
			ModelsURL:          "https://openrouter.ai/api/v1/models",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "sqlask",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.AI.OpenAIAPIKey = maskSecret(c.AI.OpenAIAPIKey)
	masked.AI.OpenRouterAPIKey = maskSecret(c.AI.OpenRouterAPIKey)
	masked.AI.AnthropicAPIKey = maskSecret(c.AI.AnthropicAPIKey)
	masked.Database.URI = MaskDSN(c.Database.URI)

	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return fmt.Errorf("POSTGRES_DB_URI is missing: database.uri is required")
	}
	if _, err := DriverForURI(c.Database.URI); err != nil {
		return err
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns must be between 0 and max_open_conns")
	}

	if c.AI.OpenAIAPIKey == "" && c.AI.OpenRouterAPIKey == "" && c.AI.AnthropicAPIKey == "" {
		return fmt.Errorf("no AI credentials configured: set at least one of OPENAI_API_KEY, OPENROUTER_API_KEY, ANTHROPIC_API_KEY")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}

	if c.Agent.DefaultModel == "" {
		return fmt.Errorf("agent.default_model is required")
	}
	if c.Agent.StepLimit <= 0 {
		return fmt.Errorf("agent.step_limit must be positive")
	}
	if c.Agent.MaxStepLimit < c.Agent.StepLimit {
		return fmt.Errorf("agent.max_step_limit must be >= agent.step_limit")
	}

	if c.Tools.DefaultRowLimit <= 0 || c.Tools.DefaultRowLimit > c.Tools.MaxRowLimit {
		return fmt.Errorf("tools.default_row_limit must be between 1 and tools.max_row_limit")
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// DriverForURI maps a DSN to the database/sql driver that serves it.
func DriverForURI(uri string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(uri))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return "postgres", nil
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"),
		lower == ":memory:", strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported database uri: expected postgres:// or a sqlite file")
	}
}

// MaskDSN hides the password component of a URL-style DSN.
func MaskDSN(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return uri
	}
	creds := uri[schemeEnd+3 : at]
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return uri
	}
	return uri[:schemeEnd+3] + creds[:colon] + ":****" + uri[at:]
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
