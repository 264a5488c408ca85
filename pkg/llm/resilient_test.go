package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/retry"
)

func fastRetry(n int) *retry.Config {
	return &retry.Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestResilientOracle_RetriesTransientErrors(t *testing.T) {
	mock := &MockOracle{}
	mock.CompleteFunc = func(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
		if mock.Calls() < 3 {
			return nil, NewError(ErrorTypeEndpoint, "server error", true, nil)
		}
		return &OracleResponse{Content: []byte(`{"ok":true}`)}, nil
	}

	o := NewResilientOracle(mock, Resilience{Timeout: time.Second, Retry: fastRetry(2)}, zap.NewNop())
	resp, err := o.Complete(context.Background(), OracleRequest{Task: "t"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Content))
	assert.Equal(t, 3, mock.Calls())
}

func TestResilientOracle_DoesNotRetryPermanentErrors(t *testing.T) {
	mock := &MockOracle{CompleteFunc: func(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, nil)
	}}

	o := NewResilientOracle(mock, Resilience{Retry: fastRetry(3)}, zap.NewNop())
	_, err := o.Complete(context.Background(), OracleRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	assert.Equal(t, 1, mock.Calls())
}

func TestResilientOracle_RequestTimeout(t *testing.T) {
	mock := &MockOracle{CompleteFunc: func(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	o := NewResilientOracle(mock, Resilience{Timeout: time.Hour, Retry: fastRetry(0)}, zap.NewNop())
	start := time.Now()
	_, err := o.Complete(context.Background(), OracleRequest{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))
	assert.Less(t, time.Since(start), time.Second, "per-request timeout overrides the default")
}

func TestResilientOracle_BreakerShortCircuits(t *testing.T) {
	mock := &MockOracle{CompleteFunc: func(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
		return nil, NewError(ErrorTypeEndpoint, "server error", true, nil)
	}}

	o := NewResilientOracle(mock, Resilience{Retry: fastRetry(0), BreakerThreshold: 2, BreakerCooldown: time.Hour}, zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := o.Complete(context.Background(), OracleRequest{})
		require.Error(t, err)
	}

	_, err := o.Complete(context.Background(), OracleRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeUnavailable, GetErrorType(err))
	assert.Equal(t, 2, mock.Calls(), "open breaker skips the provider")
}

func TestResilientEmbedder_RateLimited(t *testing.T) {
	mock := &MockEmbedder{EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}

	e := NewResilientEmbedder(mock, Resilience{Timeout: time.Second, RequestsPerSecond: 1000})
	for i := 0; i < 5; i++ {
		vec, err := e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, vec)
	}
	assert.Equal(t, 5, mock.Calls())
}
