package webhook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc applies one canonical event's side effects. Handlers must be
// internally idempotent (update-by-id, not append): the dedup store narrows
// the redelivery race but does not close it completely.
type HandlerFunc func(ctx context.Context, event *NormalizedEvent) error

// Handlers builds the default canonical handler registry over the
// collaborator interfaces.
type Handlers struct {
	records   RecordStore
	notifier  Notifier
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandlers wires the default registry dependencies.
func NewHandlers(records RecordStore, notifier Notifier, scheduler Scheduler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		records:   records,
		notifier:  notifier,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// Registry returns the canonical-type dispatch map.
func (h *Handlers) Registry() map[CanonicalType]HandlerFunc {
	return map[CanonicalType]HandlerFunc{
		PaymentSucceeded:  h.paymentSucceeded,
		PaymentFailed:     h.paymentFailed,
		PaymentProcessing: h.paymentProcessing,

		RefundSucceeded: h.refundSucceeded,
		RefundFailed:    h.refundFailed,

		SubscriptionCreated:   h.subscriptionChanged("active"),
		SubscriptionUpdated:   h.subscriptionChanged("active"),
		SubscriptionCancelled: h.subscriptionChanged("cancelled"),

		DisputeCreated: h.disputeCreated,
		DisputeUpdated: h.disputeUpdated,

		InvoicePaid:   h.invoicePaid,
		InvoiceFailed: h.invoiceFailed,

		CustomerCreated: h.customerChanged,
		CustomerUpdated: h.customerChanged,

		TaxCalculationCompleted:    h.taxCalculationCompleted,
		ComplianceDocumentRequired: h.complianceDocumentRequired,
		CashPaymentReceived:        h.cashPaymentReceived,
	}
}

func (h *Handlers) paymentSucceeded(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "payment", e.PaymentID, map[string]any{
		"status":     "succeeded",
		"provider":   e.Provider,
		"amount":     e.Amount,
		"currency":   e.Currency,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return fmt.Errorf("upsert payment %s: %w", e.PaymentID, err)
	}
	return h.notify(ctx, "payment.succeeded", e)
}

func (h *Handlers) paymentFailed(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "payment", e.PaymentID, map[string]any{
		"status":     "failed",
		"provider":   e.Provider,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return fmt.Errorf("upsert payment %s: %w", e.PaymentID, err)
	}
	// A failed payment may be retryable later (expired card, insufficient
	// funds); let the job runner decide.
	if err := h.schedule(ctx, "payment.retry_eligibility", h.now().Add(time.Hour), e); err != nil {
		return err
	}
	return h.notify(ctx, "payment.failed", e)
}

func (h *Handlers) paymentProcessing(ctx context.Context, e *NormalizedEvent) error {
	return h.records.Upsert(ctx, "payment", e.PaymentID, map[string]any{
		"status":     "processing",
		"provider":   e.Provider,
		"updated_at": e.ReceivedAt,
	})
}

func (h *Handlers) refundSucceeded(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "refund", e.PaymentID, map[string]any{
		"status":     "succeeded",
		"provider":   e.Provider,
		"amount":     e.Amount,
		"currency":   e.Currency,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return err
	}
	return h.notify(ctx, "refund.succeeded", e)
}

func (h *Handlers) refundFailed(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "refund", e.PaymentID, map[string]any{
		"status":     "failed",
		"provider":   e.Provider,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return err
	}
	return h.notify(ctx, "refund.failed", e)
}

func (h *Handlers) subscriptionChanged(status string) HandlerFunc {
	return func(ctx context.Context, e *NormalizedEvent) error {
		return h.records.Upsert(ctx, "subscription", e.SubscriptionID, map[string]any{
			"status":     status,
			"provider":   e.Provider,
			"customer":   e.CustomerID,
			"updated_at": e.ReceivedAt,
		})
	}
}

func (h *Handlers) disputeCreated(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "dispute", e.DisputeID, map[string]any{
		"status":     "needs_response",
		"provider":   e.Provider,
		"amount":     e.Amount,
		"currency":   e.Currency,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return err
	}
	// Evidence is due well before the provider deadline.
	if err := h.schedule(ctx, "dispute.submit_evidence", h.now().Add(7*24*time.Hour), e); err != nil {
		return err
	}
	return h.notify(ctx, "dispute.created", e)
}

func (h *Handlers) disputeUpdated(ctx context.Context, e *NormalizedEvent) error {
	return h.records.Upsert(ctx, "dispute", e.DisputeID, map[string]any{
		"status":     e.Status,
		"provider":   e.Provider,
		"updated_at": e.ReceivedAt,
	})
}

func (h *Handlers) invoicePaid(ctx context.Context, e *NormalizedEvent) error {
	return h.records.Upsert(ctx, "invoice", e.InvoiceID, map[string]any{
		"status":     "paid",
		"provider":   e.Provider,
		"amount":     e.Amount,
		"currency":   e.Currency,
		"updated_at": e.ReceivedAt,
	})
}

func (h *Handlers) invoiceFailed(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "invoice", e.InvoiceID, map[string]any{
		"status":     "payment_failed",
		"provider":   e.Provider,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return err
	}
	if err := h.schedule(ctx, "invoice.expiration_check", h.now().Add(72*time.Hour), e); err != nil {
		return err
	}
	return h.notify(ctx, "invoice.failed", e)
}

func (h *Handlers) customerChanged(ctx context.Context, e *NormalizedEvent) error {
	return h.records.Upsert(ctx, "customer", e.CustomerID, map[string]any{
		"provider":   e.Provider,
		"updated_at": e.ReceivedAt,
	})
}

func (h *Handlers) taxCalculationCompleted(ctx context.Context, e *NormalizedEvent) error {
	return h.records.Upsert(ctx, "tax_calculation", e.ExternalEventID, map[string]any{
		"provider":   e.Provider,
		"status":     "completed",
		"updated_at": e.ReceivedAt,
	})
}

func (h *Handlers) complianceDocumentRequired(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "compliance_request", e.ExternalEventID, map[string]any{
		"provider":   e.Provider,
		"payment":    e.PaymentID,
		"status":     "pending",
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return err
	}
	return h.notify(ctx, "compliance.document_required", e)
}

func (h *Handlers) cashPaymentReceived(ctx context.Context, e *NormalizedEvent) error {
	if err := h.records.Upsert(ctx, "payment", e.PaymentID, map[string]any{
		"status":     "succeeded",
		"method":     "cash_or_transfer",
		"provider":   e.Provider,
		"amount":     e.Amount,
		"currency":   e.Currency,
		"updated_at": e.ReceivedAt,
	}); err != nil {
		return err
	}
	return h.notify(ctx, "payment.cash_received", e)
}

func (h *Handlers) notify(ctx context.Context, event string, e *NormalizedEvent) error {
	if h.notifier == nil {
		return nil
	}
	err := h.notifier.Send(ctx, event, map[string]any{
		"provider":    e.Provider,
		"payment_id":  e.PaymentID,
		"customer_id": e.CustomerID,
		"amount":      e.Amount,
		"currency":    e.Currency,
	})
	if err != nil {
		// Notification channels are best effort; the domain record is
		// already updated.
		h.logger.Warn("notification send failed",
			zap.String("event", event),
			zap.Error(err),
		)
	}
	return nil
}

func (h *Handlers) schedule(ctx context.Context, task string, runAt time.Time, e *NormalizedEvent) error {
	if h.scheduler == nil {
		return nil
	}
	err := h.scheduler.Schedule(ctx, task, runAt, map[string]any{
		"provider":   e.Provider,
		"payment_id": e.PaymentID,
		"event_id":   e.ExternalEventID,
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", task, err)
	}
	return nil
}
