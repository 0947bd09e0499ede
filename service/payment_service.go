package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/compliance"
	"github.com/madfam-org/janua-sub020/fallback"
	"github.com/madfam-org/janua-sub020/logging"
	"github.com/madfam-org/janua-sub020/models"
	"github.com/madfam-org/janua-sub020/monitoring"
	"github.com/madfam-org/janua-sub020/routing"
)

// PaymentService orchestrates payment creation: compliance gate, provider
// routing and fallback execution over the configured gateways.
type PaymentService struct {
	tracer    trace.Tracer
	engine    *routing.Engine
	executor  *fallback.Executor
	evaluator *compliance.Evaluator
	gateways  map[string]ProviderGateway
}

// PaymentResult carries the created intent together with the decision data
// callers need for remediation. Compliance failures are data, not errors:
// a blocked transaction returns Blocked=true with the failing checks.
type PaymentResult struct {
	Intent   *models.PaymentIntent    `json:"intent,omitempty"`
	Provider string                   `json:"provider,omitempty"`
	Attempts int                      `json:"attempts,omitempty"`
	Decision models.RoutingDecision   `json:"routing_decision"`
	Checks   []models.ComplianceCheck `json:"compliance_checks"`
	Blocked  bool                     `json:"blocked"`
}

// NewPaymentService creates a new payment service
func NewPaymentService(tracer trace.Tracer, engine *routing.Engine, executor *fallback.Executor, evaluator *compliance.Evaluator, gateways map[string]ProviderGateway) *PaymentService {
	return &PaymentService{
		tracer:    tracer,
		engine:    engine,
		executor:  executor,
		evaluator: evaluator,
		gateways:  gateways,
	}
}

// SelectProvider exposes the routing decision without executing anything,
// for callers that only need the choice.
func (s *PaymentService) SelectProvider(tctx models.TransactionContext) (models.RoutingDecision, error) {
	decision, err := s.engine.SelectProvider(tctx)
	if err != nil {
		return models.RoutingDecision{}, err
	}
	monitoring.RoutingDecisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", decision.Provider),
	))
	return decision, nil
}

// PerformComplianceChecks exposes the compliance gate for callers driving
// remediation flows directly.
func (s *PaymentService) PerformComplianceChecks(tctx models.TransactionContext) []models.ComplianceCheck {
	return s.evaluator.PerformComplianceChecks(tctx)
}

// CreatePaymentIntent gates the context through compliance, routes it and
// drives the fallback executor against the provider gateways.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, tctx models.TransactionContext) (*PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "create_payment_intent")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.customer_id", tctx.CustomerID),
		attribute.Float64("payment.amount", tctx.Amount),
		attribute.String("payment.currency", tctx.Currency),
		attribute.String("payment.country", tctx.Country),
	)

	logger := logging.WithTraceContext(span)

	checks := s.evaluator.PerformComplianceChecks(tctx)
	if compliance.Blocked(checks) {
		logger.Warn("transaction blocked by compliance",
			zap.String("customer_id", tctx.CustomerID),
			zap.String("country", tctx.Country),
		)
		span.SetAttributes(attribute.String("payment.status", "compliance_blocked"))
		monitoring.PaymentCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("country", tctx.Country),
			attribute.String("status", "compliance_blocked"),
		))
		return &PaymentResult{Checks: checks, Blocked: true}, nil
	}

	decision, err := s.engine.SelectProvider(tctx)
	if err != nil {
		span.SetAttributes(attribute.String("payment.status", "routing_failed"))
		return nil, err
	}
	monitoring.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", decision.Provider),
	))

	op := fallback.OperationFunc(func(ctx context.Context, provider string) (any, error) {
		gateway, ok := s.gateways[provider]
		if !ok {
			return nil, &GatewayNotConfiguredError{Provider: provider}
		}
		return gateway.CreatePaymentIntent(ctx, tctx)
	})

	result, err := s.executor.ExecuteWithFallback(ctx, decision, op)
	if err != nil {
		logger.Error("payment intent creation failed",
			zap.Error(err),
			zap.String("customer_id", tctx.CustomerID),
			zap.Int("attempts", result.Attempts),
		)
		monitoring.PaymentCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("country", tctx.Country),
			attribute.String("status", "failed"),
		))
		span.SetAttributes(attribute.String("payment.status", "failed"))
		return nil, err
	}

	intent := result.Result.(*models.PaymentIntent)

	monitoring.PaymentCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("country", tctx.Country),
		attribute.String("provider", result.Provider),
		attribute.String("status", "success"),
	))
	monitoring.PaymentAmount.Record(ctx, tctx.Amount, metric.WithAttributes(
		attribute.String("currency", tctx.Currency),
	))

	span.SetAttributes(
		attribute.String("payment.intent_id", intent.ID),
		attribute.String("payment.provider", result.Provider),
		attribute.Int("payment.attempts", result.Attempts),
		attribute.String("payment.status", "success"),
	)

	logger.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("provider", result.Provider),
		zap.Int("attempts", result.Attempts),
	)

	return &PaymentResult{
		Intent:   intent,
		Provider: result.Provider,
		Attempts: result.Attempts,
		Decision: decision,
		Checks:   checks,
	}, nil
}

// GatewayNotConfiguredError marks a routed provider with no wired gateway.
type GatewayNotConfiguredError struct {
	Provider string
}

func (e *GatewayNotConfiguredError) Error() string {
	return "no gateway configured for provider " + e.Provider
}
