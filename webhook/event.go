// Package webhook ingests asynchronous processor notifications: signature
// verification, idempotent dedup, canonical normalization and side-effect
// dispatch. Delivery is at-least-once upstream; this package makes the
// effect at-most-once within the dedup retention window.
package webhook

import (
	"encoding/json"
	"time"
)

// CanonicalType is the internal category a provider event maps onto before
// dispatch.
type CanonicalType string

const (
	PaymentSucceeded  CanonicalType = "payment.succeeded"
	PaymentFailed     CanonicalType = "payment.failed"
	PaymentProcessing CanonicalType = "payment.processing"

	RefundSucceeded CanonicalType = "refund.succeeded"
	RefundFailed    CanonicalType = "refund.failed"

	SubscriptionCreated   CanonicalType = "subscription.created"
	SubscriptionUpdated   CanonicalType = "subscription.updated"
	SubscriptionCancelled CanonicalType = "subscription.cancelled"

	DisputeCreated CanonicalType = "dispute.created"
	DisputeUpdated CanonicalType = "dispute.updated"

	InvoicePaid   CanonicalType = "invoice.paid"
	InvoiceFailed CanonicalType = "invoice.failed"

	CustomerCreated CanonicalType = "customer.created"
	CustomerUpdated CanonicalType = "customer.updated"

	// Provider-specific categories.
	TaxCalculationCompleted    CanonicalType = "tax.calculation_completed"
	ComplianceDocumentRequired CanonicalType = "compliance.document_required"
	CashPaymentReceived        CanonicalType = "cash.payment_received"
)

// Event is the tagged union a provider delivery becomes before extraction:
// the provider tag plus the opaque raw payload.
type Event struct {
	Provider   string          `json:"provider"`
	Raw        json.RawMessage `json:"raw"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NormalizedEvent is the provider-independent record canonical handlers
// consume. One extraction function per provider fills it.
type NormalizedEvent struct {
	Provider        string          `json:"provider"`
	ExternalEventID string          `json:"external_event_id"`
	Canonical       CanonicalType   `json:"canonical"`
	ProviderType    string          `json:"provider_type"`
	PaymentID       string          `json:"payment_id,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
	InvoiceID       string          `json:"invoice_id,omitempty"`
	DisputeID       string          `json:"dispute_id,omitempty"`
	Amount          float64         `json:"amount,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	Status          string          `json:"status,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	Raw             json.RawMessage `json:"-"`
}
