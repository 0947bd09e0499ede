package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/models"
	"github.com/madfam-org/janua-sub020/routing"
)

func newTestExecutor(providers []string) (*Executor, *routing.Engine, *health.Tracker) {
	tracker := health.NewTracker(providers)
	engine := routing.NewEngine(providers, tracker, routing.Options{})
	return NewExecutor(engine, tracker, nil), engine, tracker
}

func usContext() models.TransactionContext {
	return models.TransactionContext{Amount: 500, Currency: "USD", Country: "US", CustomerID: "cust_1"}
}

func routeUS(t *testing.T, engine *routing.Engine) models.RoutingDecision {
	t.Helper()
	decision, err := engine.SelectProvider(usContext())
	require.NoError(t, err)
	return decision
}

func TestSuccessOnFirstCandidate(t *testing.T) {
	x, engine, tracker := newTestExecutor([]string{"stripe", "conekta"})

	op := OperationFunc(func(_ context.Context, provider string) (any, error) {
		return "ok:" + provider, nil
	})

	result, err := x.ExecuteWithFallback(context.Background(), routeUS(t, engine), op)
	require.NoError(t, err)
	assert.Equal(t, "stripe", result.Provider)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "ok:stripe", result.Result)

	snap, err := tracker.ProviderHealth("stripe")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.SuccessCount)
}

func TestFailoverToSecondProvider(t *testing.T) {
	x, engine, tracker := newTestExecutor([]string{"stripe", "conekta"})

	op := OperationFunc(func(_ context.Context, provider string) (any, error) {
		if provider == "stripe" {
			return nil, errors.New("stripe is down")
		}
		return "ok", nil
	})

	result, err := x.ExecuteWithFallback(context.Background(), routeUS(t, engine), op)
	require.NoError(t, err)
	assert.Equal(t, "conekta", result.Provider)
	assert.Equal(t, 2, result.Attempts)

	failed, err := tracker.ProviderHealth("stripe")
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed.FailureCount)
	assert.Equal(t, int64(1), failed.ConsecutiveFailures)
}

func TestExhaustionSurfacesAttemptsAndLastError(t *testing.T) {
	x, engine, _ := newTestExecutor([]string{"stripe", "conekta", "dlocal"})

	lastErr := errors.New("dlocal timeout")
	op := OperationFunc(func(_ context.Context, provider string) (any, error) {
		if provider == "dlocal" {
			return nil, lastErr
		}
		return nil, errors.New(provider + " unavailable")
	})

	_, err := x.ExecuteWithFallback(context.Background(), routeUS(t, engine), op)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.True(t, errors.Is(err, lastErr), "last error must be wrapped")
}

func TestExecutionFollowsProvidedDecision(t *testing.T) {
	x, engine, tracker := newTestExecutor([]string{"stripe", "conekta"})

	// Route first, then let stripe go unhealthy before execution. The
	// executor must honor the decision it was handed, not re-route.
	decision := routeUS(t, engine)
	require.Equal(t, "stripe", decision.Provider)
	for i := 0; i < 3; i++ {
		tracker.RecordFailure("stripe")
	}

	var tried []string
	op := OperationFunc(func(_ context.Context, provider string) (any, error) {
		tried = append(tried, provider)
		return provider, nil
	})

	result, err := x.ExecuteWithFallback(context.Background(), decision, op)
	require.NoError(t, err)
	assert.Equal(t, []string{"stripe"}, tried)
	assert.Equal(t, "stripe", result.Provider)
}

func TestUnhealthyProviderIsNotChosenByRouting(t *testing.T) {
	x, engine, tracker := newTestExecutor([]string{"stripe", "conekta"})

	// stripe would win the US rule, but three consecutive failures exclude
	// it at routing time.
	for i := 0; i < 3; i++ {
		tracker.RecordFailure("stripe")
	}

	op := OperationFunc(func(_ context.Context, provider string) (any, error) {
		return provider, nil
	})

	result, err := x.ExecuteWithFallback(context.Background(), routeUS(t, engine), op)
	require.NoError(t, err)
	assert.Equal(t, "conekta", result.Provider)
}

func TestCancelledContextStopsBetweenAttempts(t *testing.T) {
	x, engine, _ := newTestExecutor([]string{"stripe", "conekta"})

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	op := OperationFunc(func(_ context.Context, provider string) (any, error) {
		calls++
		cancel() // cancel while the first attempt is in flight
		return nil, errors.New("boom")
	})

	_, err := x.ExecuteWithFallback(ctx, routeUS(t, engine), op)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls, "no further attempt after cancellation")
}
