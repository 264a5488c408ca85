package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// OpenAIOracle completes requests through the chat completions API using a
// strict JSON schema response format.
type OpenAIOracle struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewOpenAIOracle creates an oracle for any OpenAI-compatible endpoint.
func NewOpenAIOracle(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIOracle, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OpenAIOracle{
		client:    openai.NewClientWithConfig(openAIClientConfig(cfg.BaseURL, cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("openai"),
	}, nil
}

func openAIClientConfig(baseURL, apiKey string) openai.ClientConfig {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return clientConfig
}

func (o *OpenAIOracle) Complete(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: o.maxTokens,
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Task,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, ClassifyError(err, o.model)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Type: ErrorTypeResponse, Message: "no choices in response", Model: o.model}
	}

	content, err := extractContent(resp.Choices[0].Message.Content, o.model)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	o.logger.Debug("Oracle call completed",
		zap.String("task", req.Task),
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))

	return &OracleResponse{
		Content: content,
		Model:   resp.Model,
		Usage:   Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
		Elapsed: elapsed,
	}, nil
}

var _ Oracle = (*OpenAIOracle)(nil)

// OpenAIEmbedder calls the embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder. dimensions must match the vector columns.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(openAIClientConfig(baseURL, apiKey)),
		model:      model,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      []string{text},
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, ClassifyError(err, e.model)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &Error{Type: ErrorTypeResponse, Message: "no embedding in response", Model: e.model}
	}

	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, &Error{
			Type:    ErrorTypeResponse,
			Message: fmt.Sprintf("embedding has %d dimensions, want %d", len(vec), e.dimensions),
			Model:   e.model,
		}
	}
	return vec, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
