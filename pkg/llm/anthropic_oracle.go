package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicConfig configures the Anthropic messages API.
type AnthropicConfig struct {
	// BaseURL overrides the API root, e.g. "https://api.anthropic.com/v1".
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// AnthropicOracle completes requests through the messages API. The API has
// no schema-constrained output, so the schema travels in the system prompt
// and the reply is parsed with ExtractJSON.
type AnthropicOracle struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicOracle creates an Anthropic-backed oracle.
func NewAnthropicOracle(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicOracle{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger.Named("anthropic"),
	}, nil
}

func (o *AnthropicOracle) Complete(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
	system := req.System
	if len(req.Schema) > 0 {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object matching this JSON schema and nothing else:\n" + string(req.Schema))
	}

	prompt := req.Prompt
	start := time.Now()
	resp, err := o.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(o.model),
		MaxTokens: o.maxTokens,
		System:    system,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return nil, ClassifyError(err, o.model)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}

	content, err := extractContent(text.String(), o.model)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	o.logger.Debug("Oracle call completed",
		zap.String("task", req.Task),
		zap.String("model", string(resp.Model)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", elapsed))

	return &OracleResponse{
		Content: content,
		Model:   string(resp.Model),
		Usage:   Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		Elapsed: elapsed,
	}, nil
}

var _ Oracle = (*AnthropicOracle)(nil)
