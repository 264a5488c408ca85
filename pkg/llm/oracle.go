// Package llm talks to the reasoning oracle and the embedding oracle.
//
// Providers implement Oracle and Embedder; ResilientOracle layers rate
// limiting, retries, a circuit breaker and the per-request timeout on top.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// OracleRequest is one structured completion.
type OracleRequest struct {
	// Task identifies the caller in logs and names the response schema.
	Task   string
	System string
	Prompt string
	// Schema is the JSON schema the response must satisfy.
	Schema json.RawMessage
	// ModelHint is a coarse tier ("fast", "smart") for providers that route by it.
	ModelHint string
	// Timeout bounds the whole call including retries. Zero uses the oracle default.
	Timeout time.Duration
}

// Usage reports token counts for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// OracleResponse carries the JSON the model produced.
type OracleResponse struct {
	Content json.RawMessage
	Model   string
	Usage   Usage
	Elapsed time.Duration
}

// Oracle performs structured completions.
type Oracle interface {
	Complete(ctx context.Context, req OracleRequest) (*OracleResponse, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// extractContent validates the model text and converts it to raw JSON.
func extractContent(text, model string) (json.RawMessage, error) {
	s, err := ExtractJSON(text)
	if err != nil {
		e := NewError(ErrorTypeResponse, "malformed response", false, err)
		e.Model = model
		return nil, e
	}
	return json.RawMessage(s), nil
}
