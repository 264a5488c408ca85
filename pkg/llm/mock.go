package llm

import (
	"context"
	"sync/atomic"
)

// MockOracle is a configurable Oracle for tests.
type MockOracle struct {
	// CompleteFunc is called by Complete. If nil, Complete returns an empty object.
	CompleteFunc func(ctx context.Context, req OracleRequest) (*OracleResponse, error)

	calls atomic.Int32
}

func (m *MockOracle) Complete(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
	m.calls.Add(1)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &OracleResponse{Content: []byte(`{}`)}, nil
}

// Calls returns how many times Complete ran.
func (m *MockOracle) Calls() int {
	return int(m.calls.Load())
}

// MockEmbedder is a configurable Embedder for tests.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	calls atomic.Int32
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return nil, nil
}

func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}

var (
	_ Oracle   = (*MockOracle)(nil)
	_ Embedder = (*MockEmbedder)(nil)
)
