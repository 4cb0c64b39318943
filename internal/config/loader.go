package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that may set them.
// The SQLASK_ prefixed name always wins; the bare names are the conventional ones.
var envBindings = map[string][]string{
	"database.uri":             {"SQLASK_DATABASE_URI", "POSTGRES_DB_URI", "DATABASE_URL"},
	"ai.openai_api_key":        {"SQLASK_AI_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"ai.openrouter_api_key":    {"SQLASK_AI_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"},
	"ai.anthropic_api_key":     {"SQLASK_AI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	"ai.openrouter_base_url":   {"SQLASK_AI_OPENROUTER_BASE_URL"},
	"ai.timeout":               {"SQLASK_AI_TIMEOUT"},
	"agent.default_model":      {"SQLASK_AGENT_DEFAULT_MODEL"},
	"agent.step_limit":         {"SQLASK_AGENT_STEP_LIMIT"},
	"agent.system_prompt_file": {"SQLASK_AGENT_SYSTEM_PROMPT_FILE"},
	"server.host":              {"SQLASK_SERVER_HOST"},
	"server.port":              {"SQLASK_SERVER_PORT", "PORT"},
	"logging.level":            {"SQLASK_LOGGING_LEVEL"},
	"logging.file":             {"SQLASK_LOGGING_FILE"},
	"data_dir":                 {"SQLASK_DATA_DIR"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultPath returns $HOME/.sqlask/sqlask.json
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".sqlask", "sqlask.json"), nil
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	v := viper.New()
	v.SetEnvPrefix("SQLASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// A missing file is not an error: defaults plus environment are a complete config.
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".sqlask")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "sqlask.log")
	}
	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	return cfg, nil
}

// Save writes cfg to the loader's path as JSON.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("database", cfg.Database)
	v.Set("ai", cfg.AI)
	v.Set("agent", cfg.Agent)
	v.Set("tools", cfg.Tools)
	v.Set("server", cfg.Server)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
