package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// Per-provider event-type maps onto the canonical category set. Types
// missing here are unknown events: logged, stored and acknowledged, never
// an error.
var stripeTypes = map[string]CanonicalType{
	"payment_intent.succeeded":      PaymentSucceeded,
	"payment_intent.payment_failed": PaymentFailed,
	"payment_intent.processing":     PaymentProcessing,
	"charge.refunded":               RefundSucceeded,
	"refund.failed":                 RefundFailed,
	"customer.subscription.created": SubscriptionCreated,
	"customer.subscription.updated": SubscriptionUpdated,
	"customer.subscription.deleted": SubscriptionCancelled,
	"charge.dispute.created":        DisputeCreated,
	"charge.dispute.updated":        DisputeUpdated,
	"invoice.paid":                  InvoicePaid,
	"invoice.payment_failed":        InvoiceFailed,
	"customer.created":              CustomerCreated,
	"customer.updated":              CustomerUpdated,
	"tax.calculation.completed":     TaxCalculationCompleted,
}

var conektaTypes = map[string]CanonicalType{
	"order.paid":                PaymentSucceeded,
	"order.declined":            PaymentFailed,
	"order.expired":             PaymentFailed,
	"order.pending_payment":     PaymentProcessing,
	"order.refunded":            RefundSucceeded,
	"charge.chargeback.created": DisputeCreated,
	"charge.chargeback.updated": DisputeUpdated,
	"subscription.created":      SubscriptionCreated,
	"subscription.updated":      SubscriptionUpdated,
	"subscription.canceled":     SubscriptionCancelled,
	"customer.created":          CustomerCreated,
	"customer.updated":          CustomerUpdated,
	// OXXO and SPEI confirmations arrive as charge.paid.
	"charge.paid": CashPaymentReceived,
}

var dlocalTypes = map[string]CanonicalType{
	"PAYMENT_SUCCESS":              PaymentSucceeded,
	"PAYMENT_REJECTED":             PaymentFailed,
	"PAYMENT_PENDING":              PaymentProcessing,
	"REFUND_SUCCESS":               RefundSucceeded,
	"REFUND_REJECTED":              RefundFailed,
	"CHARGEBACK":                   DisputeCreated,
	"CHARGEBACK_UPDATED":           DisputeUpdated,
	"COMPLIANCE_DOCUMENT_REQUIRED": ComplianceDocumentRequired,
	"BANK_TRANSFER_RECEIVED":       CashPaymentReceived,
}

// Normalize parses a verified delivery into the canonical record. The bool
// reports whether the provider type maps to a known canonical category.
func Normalize(event Event) (*NormalizedEvent, bool, error) {
	switch event.Provider {
	case "stripe":
		return normalizeStripe(event)
	case "conekta":
		return normalizeConekta(event)
	case "dlocal":
		return normalizeDlocal(event)
	default:
		return nil, false, fmt.Errorf("no normalizer for provider %q", event.Provider)
	}
}

type stripePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Customer string `json:"customer"`
			Status   string `json:"status"`
			Invoice  string `json:"invoice"`
		} `json:"object"`
	} `json:"data"`
}

func normalizeStripe(event Event) (*NormalizedEvent, bool, error) {
	var p stripePayload
	if err := json.Unmarshal(event.Raw, &p); err != nil {
		return nil, false, fmt.Errorf("parse stripe payload: %w", err)
	}

	n := &NormalizedEvent{
		Provider:        "stripe",
		ExternalEventID: p.ID,
		ProviderType:    p.Type,
		CustomerID:      p.Data.Object.Customer,
		Amount:          float64(p.Data.Object.Amount) / 100, // minor units
		Currency:        p.Data.Object.Currency,
		Status:          p.Data.Object.Status,
		ReceivedAt:      receivedAt(event),
		Raw:             event.Raw,
	}

	canonical, ok := stripeTypes[p.Type]
	if !ok {
		return n, false, nil
	}
	n.Canonical = canonical
	assignObjectID(n, p.Data.Object.ID)
	if p.Data.Object.Invoice != "" {
		n.InvoiceID = p.Data.Object.Invoice
	}
	return n, true, nil
}

type conektaPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			Amount        int64  `json:"amount"`
			Currency      string `json:"currency"`
			PaymentStatus string `json:"payment_status"`
			CustomerInfo  struct {
				CustomerID string `json:"customer_id"`
			} `json:"customer_info"`
		} `json:"object"`
	} `json:"data"`
}

func normalizeConekta(event Event) (*NormalizedEvent, bool, error) {
	var p conektaPayload
	if err := json.Unmarshal(event.Raw, &p); err != nil {
		return nil, false, fmt.Errorf("parse conekta payload: %w", err)
	}

	n := &NormalizedEvent{
		Provider:        "conekta",
		ExternalEventID: p.ID,
		ProviderType:    p.Type,
		CustomerID:      p.Data.Object.CustomerInfo.CustomerID,
		Amount:          float64(p.Data.Object.Amount) / 100, // centavos
		Currency:        p.Data.Object.Currency,
		Status:          p.Data.Object.PaymentStatus,
		ReceivedAt:      receivedAt(event),
		Raw:             event.Raw,
	}

	canonical, ok := conektaTypes[p.Type]
	if !ok {
		return n, false, nil
	}
	n.Canonical = canonical
	assignObjectID(n, p.Data.Object.ID)
	return n, true, nil
}

type dlocalPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payment struct {
		ID       string  `json:"id"`
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
		Status   string  `json:"status"`
		Payer    struct {
			ID string `json:"id"`
		} `json:"payer"`
	} `json:"payment"`
}

func normalizeDlocal(event Event) (*NormalizedEvent, bool, error) {
	var p dlocalPayload
	if err := json.Unmarshal(event.Raw, &p); err != nil {
		return nil, false, fmt.Errorf("parse dlocal payload: %w", err)
	}

	n := &NormalizedEvent{
		Provider:        "dlocal",
		ExternalEventID: p.ID,
		ProviderType:    p.Type,
		CustomerID:      p.Payment.Payer.ID,
		Amount:          p.Payment.Amount,
		Currency:        p.Payment.Currency,
		Status:          p.Payment.Status,
		ReceivedAt:      receivedAt(event),
		Raw:             event.Raw,
	}

	canonical, ok := dlocalTypes[p.Type]
	if !ok {
		return n, false, nil
	}
	n.Canonical = canonical
	assignObjectID(n, p.Payment.ID)
	return n, true, nil
}

// assignObjectID routes the primary object id into the field matching the
// canonical category.
func assignObjectID(n *NormalizedEvent, id string) {
	switch n.Canonical {
	case SubscriptionCreated, SubscriptionUpdated, SubscriptionCancelled:
		n.SubscriptionID = id
	case DisputeCreated, DisputeUpdated:
		n.DisputeID = id
	case InvoicePaid, InvoiceFailed:
		n.InvoiceID = id
	case CustomerCreated, CustomerUpdated:
		n.CustomerID = id
	default:
		n.PaymentID = id
	}
}

func receivedAt(event Event) time.Time {
	if event.ReceivedAt.IsZero() {
		return time.Now().UTC()
	}
	return event.ReceivedAt
}
