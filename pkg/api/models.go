package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ModelInfo describes a selectable model.
type ModelInfo struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	ContextLength int           `json:"context_length,omitempty"`
	Pricing       *ModelPricing `json:"pricing,omitempty"`
}

// ModelPricing is the OpenRouter price per token, as decimal strings.
type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// StaticModels are always offered.
var StaticModels = []ModelInfo{
	{ID: "gpt-4o-mini", Name: "OpenAI GPT-4o Mini"},
	{ID: "gpt-3.5-turbo", Name: "OpenAI GPT-3.5 Turbo"},
	{ID: "gpt-4o", Name: "OpenAI GPT-4o"},
}

// ModelCatalog lists models, merging the static list with the free models
// OpenRouter currently offers. Fetch failures only drop the OpenRouter part.
type ModelCatalog struct {
	url    string
	client *http.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	cached    []ModelInfo
	fetchedAt time.Time
}

// NewModelCatalog creates a catalog backed by url. An empty url disables fetching.
func NewModelCatalog(url string, logger zerolog.Logger) *ModelCatalog {
	return &ModelCatalog{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    10 * time.Minute,
		logger: logger,
	}
}

// List returns the static models followed by free OpenRouter models sorted by name.
func (c *ModelCatalog) List(ctx context.Context) []ModelInfo {
	models := make([]ModelInfo, len(StaticModels))
	copy(models, StaticModels)

	free, err := c.freeModels(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to fetch OpenRouter models")
		return models
	}
	return append(models, free...)
}

func (c *ModelCatalog) freeModels(ctx context.Context) ([]ModelInfo, error) {
	if c.url == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}

	free := make([]ModelInfo, 0, len(payload.Data))
	for _, m := range payload.Data {
		if m.Pricing != nil && m.Pricing.Prompt == "0" && m.Pricing.Completion == "0" {
			free = append(free, m)
		}
	}
	sort.SliceStable(free, func(i, j int) bool { return free[i].Name < free[j].Name })

	c.cached = free
	c.fetchedAt = time.Now()
	return free, nil
}
