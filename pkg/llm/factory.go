package llm

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/retry"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	openAIDefaultHost       = "api.openai.com"
)

// NewOracle builds the configured provider wrapped in ResilientOracle.
func NewOracle(cfg config.LLMConfig, logger *zap.Logger) (Oracle, error) {
	var provider Oracle
	var err error

	switch cfg.Provider {
	case "", "openai":
		provider, err = NewOpenAIOracle(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	case "anthropic":
		baseURL := cfg.BaseURL
		// The shared default points at OpenAI; let the SDK use its own.
		if strings.Contains(baseURL, openAIDefaultHost) {
			baseURL = ""
		}
		provider, err = NewAnthropicOracle(AnthropicConfig{
			BaseURL:   baseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s oracle: %w", cfg.Provider, err)
	}

	return NewResilientOracle(provider, Resilience{
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             retry.DefaultConfig().WithMaxRetries(cfg.MaxRetries),
		BreakerThreshold:  defaultBreakerThreshold,
		BreakerCooldown:   defaultBreakerCooldown,
	}, logger), nil
}

// NewEmbedder builds the embedding client. It returns nil when embeddings
// are disabled; callers then skip semantic matching.
func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	if !cfg.Enabled {
		return nil
	}
	return NewResilientEmbedder(
		NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions),
		Resilience{
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Retry:             retry.DefaultConfig().WithMaxRetries(1),
			BreakerThreshold:  defaultBreakerThreshold,
			BreakerCooldown:   defaultBreakerCooldown,
		})
}
