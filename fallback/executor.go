// Package fallback executes a caller-supplied operation against the routed
// provider, advancing through alternates on failure. Providers are
// independent external systems, so trying the same operation against a
// second one after the first failed has no financial effect: an unconfirmed
// intent on a dead provider never settles.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/models"
	"github.com/madfam-org/janua-sub020/monitoring"
	"github.com/madfam-org/janua-sub020/routing"
)

// Operation is the provider-facing command the executor retries across
// candidates. Implementations perform the only I/O in the decision path.
type Operation interface {
	Execute(ctx context.Context, provider string) (any, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context, provider string) (any, error)

func (f OperationFunc) Execute(ctx context.Context, provider string) (any, error) {
	return f(ctx, provider)
}

// ExecutionResult reports which provider succeeded and after how many
// operation invocations.
type ExecutionResult struct {
	Provider string
	Attempts int
	Result   any
}

// ExhaustedError is the terminal failure after every candidate was tried.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Executor owns one circuit breaker per provider; an open breaker skips the
// provider without spending an attempt on it.
type Executor struct {
	engine   *routing.Engine
	tracker  *health.Tracker
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewExecutor wires the executor over the routing engine's provider set.
func NewExecutor(engine *routing.Engine, tracker *health.Tracker, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range engine.Providers() {
		breakers[p] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        p,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Executor{engine: engine, tracker: tracker, breakers: breakers, logger: logger}
}

// ExecuteWithFallback runs the operation against the decided provider first,
// then against the remaining configured providers ordered healthy-first by
// success rate. The caller routes once and passes the decision in, so the
// decision it reports is exactly the one executed. Attempts are strictly
// sequential and bounded by the number of configured providers; a cancelled
// context stops before the next attempt but does not force-cancel one in
// flight.
func (x *Executor) ExecuteWithFallback(ctx context.Context, decision models.RoutingDecision, op Operation) (ExecutionResult, error) {
	candidates := x.candidateOrder(decision.Provider)

	attempts := 0
	var lastErr error
	for _, provider := range candidates {
		if err := ctx.Err(); err != nil {
			return ExecutionResult{Attempts: attempts}, err
		}

		breaker := x.breakers[provider]
		result, err := breaker.Execute(func() (any, error) {
			return op.Execute(ctx, provider)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Breaker refused the call; the operation never ran, so no
			// attempt or health sample is recorded.
			lastErr = err
			continue
		}

		attempts++
		if err != nil {
			x.tracker.RecordFailure(provider)
			lastErr = err
			x.logger.Warn("provider operation failed, advancing to next candidate",
				zap.String("provider", provider),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			continue
		}

		x.tracker.RecordSuccess(provider)
		if provider != decision.Provider || attempts > 1 {
			monitoring.ProviderFailovers.Add(ctx, 1)
		}
		return ExecutionResult{Provider: provider, Attempts: attempts, Result: result}, nil
	}

	return ExecutionResult{Attempts: attempts}, &ExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// candidateOrder starts with the routed choice, then the remaining
// configured providers, healthy before unhealthy, best success rate first.
func (x *Executor) candidateOrder(first string) []string {
	rest := make([]string, 0)
	for _, p := range x.engine.Providers() {
		if p != first {
			rest = append(rest, p)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		hi, hj := x.tracker.Healthy(rest[i]), x.tracker.Healthy(rest[j])
		if hi != hj {
			return hi
		}
		return x.tracker.SuccessRate(rest[i]) > x.tracker.SuccessRate(rest[j])
	})
	return append([]string{first}, rest...)
}
