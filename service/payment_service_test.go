package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/madfam-org/janua-sub020/compliance"
	"github.com/madfam-org/janua-sub020/fallback"
	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/models"
	"github.com/madfam-org/janua-sub020/routing"
)

var serviceProviders = []string{"stripe", "conekta", "dlocal"}

func newTestService(gateways map[string]ProviderGateway) (*PaymentService, *health.Tracker) {
	tracker := health.NewTracker(serviceProviders)
	engine := routing.NewEngine(serviceProviders, tracker, routing.Options{})
	executor := fallback.NewExecutor(engine, tracker, nil)
	if gateways == nil {
		gateways = LocalGateways(serviceProviders)
	}
	svc := NewPaymentService(otel.Tracer("test"), engine, executor, compliance.NewEvaluator(nil), gateways)
	return svc, tracker
}

func mxContext() models.TransactionContext {
	return models.TransactionContext{
		Amount:     1000,
		Currency:   "MXN",
		Country:    "MX",
		CustomerID: "cust_123",
	}
}

func TestCreatePaymentIntentRoutesMexicoToConekta(t *testing.T) {
	svc, _ := newTestService(nil)

	result, err := svc.CreatePaymentIntent(context.Background(), mxContext())
	require.NoError(t, err)
	assert.False(t, result.Blocked)
	assert.Equal(t, "conekta", result.Provider)
	assert.Equal(t, 1, result.Attempts)

	require.NotNil(t, result.Intent)
	assert.Equal(t, "conekta", result.Intent.ProviderID)
	assert.InDelta(t, 1000, result.Intent.Amount, 0.001)
	assert.Equal(t, "MXN", result.Intent.Currency)
	assert.Equal(t, "requires_confirmation", result.Intent.Status)
	assert.NotEmpty(t, result.Intent.ID)

	assert.Equal(t, "conekta", result.Decision.Provider)
	require.Len(t, result.Checks, 2)
}

func TestCreatePaymentIntentBlockedByCompliance(t *testing.T) {
	svc, _ := newTestService(nil)

	tctx := mxContext()
	tctx.Country = "IR"

	result, err := svc.CreatePaymentIntent(context.Background(), tctx)
	require.NoError(t, err, "a compliance block is data, not an error")
	assert.True(t, result.Blocked)
	assert.Nil(t, result.Intent, "no intent may be created for a blocked transaction")
	assert.NotEmpty(t, result.Checks)
}

type failingGateway struct{ err error }

func (g failingGateway) CreatePaymentIntent(context.Context, models.TransactionContext) (*models.PaymentIntent, error) {
	return nil, g.err
}

func TestCreatePaymentIntentFallsOver(t *testing.T) {
	gateways := LocalGateways(serviceProviders)
	gateways["conekta"] = failingGateway{err: errors.New("conekta unavailable")}
	svc, tracker := newTestService(gateways)

	result, err := svc.CreatePaymentIntent(context.Background(), mxContext())
	require.NoError(t, err)
	assert.NotEqual(t, "conekta", result.Provider)
	assert.Equal(t, 2, result.Attempts)

	snap, err := tracker.ProviderHealth("conekta")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.FailureCount)
}

func TestCreatePaymentIntentExhaustion(t *testing.T) {
	down := errors.New("processor outage")
	gateways := map[string]ProviderGateway{}
	for _, p := range serviceProviders {
		gateways[p] = failingGateway{err: down}
	}
	svc, _ := newTestService(gateways)

	_, err := svc.CreatePaymentIntent(context.Background(), mxContext())
	require.Error(t, err)

	var exhausted *fallback.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, len(serviceProviders), exhausted.Attempts)
	assert.True(t, errors.Is(err, down))
}

func TestCreatePaymentIntentNoEligibleProvider(t *testing.T) {
	svc, tracker := newTestService(nil)
	for _, p := range serviceProviders {
		for i := 0; i < 3; i++ {
			tracker.RecordFailure(p)
		}
	}

	_, err := svc.CreatePaymentIntent(context.Background(), mxContext())
	assert.True(t, errors.Is(err, routing.ErrNoEligibleProvider))
}

func TestCreatePaymentIntentMissingGateway(t *testing.T) {
	// Only stripe has a gateway; the MX route lands on conekta first, then
	// the fallback chain reaches stripe.
	gateways := map[string]ProviderGateway{"stripe": &LocalGateway{ProviderID: "stripe"}}
	svc, _ := newTestService(gateways)

	result, err := svc.CreatePaymentIntent(context.Background(), mxContext())
	require.NoError(t, err)
	assert.Equal(t, "stripe", result.Provider)
}

func TestSelectProviderDelegatesToEngine(t *testing.T) {
	svc, _ := newTestService(nil)

	decision, err := svc.SelectProvider(mxContext())
	require.NoError(t, err)
	assert.Equal(t, "conekta", decision.Provider)
	assert.Contains(t, decision.Reason, "Mexican market")
}
