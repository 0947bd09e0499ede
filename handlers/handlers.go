package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/fallback"
	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/logging"
	"github.com/madfam-org/janua-sub020/models"
	"github.com/madfam-org/janua-sub020/routing"
	"github.com/madfam-org/janua-sub020/service"
	"github.com/madfam-org/janua-sub020/webhook"
)

// Large but bounded: Stripe invoice events with many line items run well
// past 64 KiB.
const maxWebhookBody = int64(1 << 20) // 1 MiB

// PaymentHandler handles HTTP requests for payments and webhooks
type PaymentHandler struct {
	paymentService *service.PaymentService
	tracker        *health.Tracker
	ingestor       *webhook.Ingestor
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService *service.PaymentService, tracker *health.Tracker, ingestor *webhook.Ingestor) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		tracker:        tracker,
		ingestor:       ingestor,
	}
}

// CreatePayment handles payment intent creation requests
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	var tctx models.TransactionContext
	if err := c.ShouldBindJSON(&tctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg, ok := validate(tctx); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	result, err := h.paymentService.CreatePaymentIntent(ctx, tctx)
	if err != nil {
		logger := logging.WithTraceContext(span)
		logger.Error("payment creation failed",
			zap.Error(err),
			zap.String("customer_id", tctx.CustomerID),
			zap.Float64("amount", tctx.Amount),
		)
		var exhausted *fallback.ExhaustedError
		switch {
		case errors.Is(err, routing.ErrNoEligibleProvider):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no eligible provider"})
		case errors.As(err, &exhausted):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    "all providers failed",
				"attempts": exhausted.Attempts,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment creation failed"})
		}
		return
	}

	if result.Blocked {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	span.AddEvent("payment_intent_created")
	c.JSON(http.StatusOK, result)
}

// RouteTransaction returns the routing decision without executing anything
func (h *PaymentHandler) RouteTransaction(c *gin.Context) {
	var tctx models.TransactionContext
	if err := c.ShouldBindJSON(&tctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.paymentService.SelectProvider(tctx)
	if err != nil {
		if errors.Is(err, routing.ErrNoEligibleProvider) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no eligible provider"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}
	c.JSON(http.StatusOK, decision)
}

// ComplianceChecks runs the compliance gate and returns the results as data
func (h *PaymentHandler) ComplianceChecks(c *gin.Context) {
	var tctx models.TransactionContext
	if err := c.ShouldBindJSON(&tctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checks": h.paymentService.PerformComplianceChecks(tctx)})
}

// ProviderHealth returns the per-provider health snapshot
func (h *PaymentHandler) ProviderHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.tracker.Snapshot()})
}

// Webhook ingests one provider delivery
func (h *PaymentHandler) Webhook(c *gin.Context) {
	provider := c.Param("provider")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	receipt, err := h.ingestor.Process(c.Request.Context(), provider, body, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignatureInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, webhook.ErrUnknownReceiver):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		default:
			// Includes handler failures: the provider's retry policy takes
			// over on 500.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, receipt)
}

// WebhookHealth enumerates the configured webhook receivers
func (h *PaymentHandler) WebhookHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"receivers": h.ingestor.Receivers(),
	})
}

// HealthCheck handles health check requests
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func validate(tctx models.TransactionContext) (string, bool) {
	switch {
	case tctx.Amount <= 0:
		return "amount must be positive", false
	case len(tctx.Currency) != 3:
		return "currency must be a 3-letter ISO code", false
	case len(tctx.Country) != 2:
		return "country must be a 2-letter ISO code", false
	case tctx.CustomerID == "":
		return "customer_id is required", false
	}
	return "", true
}
