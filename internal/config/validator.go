package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "openrouter":
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	}

	return nil
}

// ValidateDatabaseURI checks that the DSN is parseable and maps to a supported driver
func (v *Validator) ValidateDatabaseURI(uri string) error {
	driver, err := DriverForURI(uri)
	if err != nil {
		return err
	}
	if driver != "postgres" || !strings.Contains(uri, "://") {
		return nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid database uri: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid database uri: missing host")
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("invalid database uri: missing database name")
	}
	return nil
}

// ValidateStepLimit validates an agent step limit against the configured ceiling
func (v *Validator) ValidateStepLimit(steps, ceiling int) error {
	if steps <= 0 {
		return fmt.Errorf("step limit must be positive, got %d", steps)
	}
	if ceiling > 0 && steps > ceiling {
		return fmt.Errorf("step limit %d exceeds maximum %d", steps, ceiling)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.Database.URI != "" {
		if err := v.ValidateDatabaseURI(cfg.Database.URI); err != nil {
			errors = append(errors, err)
		}
	}

	keys := []struct {
		key      string
		provider string
	}{
		{cfg.AI.OpenAIAPIKey, "openai"},
		{cfg.AI.OpenRouterAPIKey, "openrouter"},
		{cfg.AI.AnthropicAPIKey, "anthropic"},
	}
	for _, k := range keys {
		if k.key == "" {
			continue
		}
		if err := v.ValidateAPIKey(k.key, k.provider); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateStepLimit(cfg.Agent.StepLimit, cfg.Agent.MaxStepLimit); err != nil {
		errors = append(errors, fmt.Errorf("agent.step_limit: %w", err))
	}
	if err := v.ValidateTemperature(cfg.AI.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Server.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}
	if cfg.Server.MaxConcurrentRuns < 0 {
		errors = append(errors, fmt.Errorf("server.max_concurrent_runs must be >= 0"))
	}
	if cfg.Tools.MaxResultBytes < 0 {
		errors = append(errors, fmt.Errorf("tools.max_result_bytes must be >= 0"))
	}

	return errors
}
