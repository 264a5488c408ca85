package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-fusion/pkg/logging"
	"github.com/ekaya-inc/ekaya-fusion/pkg/retry"
)

// Resilience bundles the call policies a provider is wrapped in.
type Resilience struct {
	// Timeout bounds a call including retries and limiter waits.
	Timeout time.Duration
	// RequestsPerSecond throttles calls. Zero disables throttling.
	RequestsPerSecond float64
	Retry             *retry.Config
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

func (r Resilience) limiter() *rate.Limiter {
	if r.RequestsPerSecond <= 0 {
		return nil
	}
	burst := int(r.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.RequestsPerSecond), burst)
}

type guard struct {
	timeout time.Duration
	limiter *rate.Limiter
	retry   *retry.Config
	breaker *Breaker
}

func newGuard(r Resilience) *guard {
	return &guard{
		timeout: r.Timeout,
		limiter: r.limiter(),
		retry:   r.Retry,
		breaker: NewBreaker(r.BreakerThreshold, r.BreakerCooldown),
	}
}

func guarded[T any](ctx context.Context, g *guard, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = g.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := g.breaker.Allow(); err != nil {
		return zero, err
	}

	result, err := retry.DoWithResult(ctx, g.retry, func(ctx context.Context) (T, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, NewError(ErrorTypeTimeout, "rate limiter wait", false, err)
			}
		}
		return fn(ctx)
	})
	if err != nil && ctx.Err() != nil {
		err = NewError(ErrorTypeTimeout, "deadline exceeded", false, err)
	}
	g.breaker.Record(err)
	return result, err
}

// ResilientOracle wraps an Oracle with timeout, rate limit, retry and breaker.
type ResilientOracle struct {
	next   Oracle
	guard  *guard
	logger *zap.Logger
}

// NewResilientOracle wraps next.
func NewResilientOracle(next Oracle, r Resilience, logger *zap.Logger) *ResilientOracle {
	return &ResilientOracle{next: next, guard: newGuard(r), logger: logger.Named("oracle")}
}

func (o *ResilientOracle) Complete(ctx context.Context, req OracleRequest) (*OracleResponse, error) {
	resp, err := guarded(ctx, o.guard, req.Timeout, func(ctx context.Context) (*OracleResponse, error) {
		return o.next.Complete(ctx, req)
	})
	if err != nil {
		o.logger.Warn("Oracle call failed",
			zap.String("task", req.Task),
			zap.String("error_type", string(GetErrorType(err))),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	return resp, nil
}

var _ Oracle = (*ResilientOracle)(nil)

// ResilientEmbedder wraps an Embedder with the same policies.
type ResilientEmbedder struct {
	next  Embedder
	guard *guard
}

// NewResilientEmbedder wraps next.
func NewResilientEmbedder(next Embedder, r Resilience) *ResilientEmbedder {
	return &ResilientEmbedder{next: next, guard: newGuard(r)}
}

func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return guarded(ctx, e.guard, 0, func(ctx context.Context) ([]float32, error) {
		return e.next.Embed(ctx, text)
	})
}

var _ Embedder = (*ResilientEmbedder)(nil)
