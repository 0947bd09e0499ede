package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripePaymentSucceeded(t *testing.T) {
	raw := []byte(`{
		"id": "evt_100",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_100",
			"amount": 150000,
			"currency": "usd",
			"customer": "cus_9",
			"status": "succeeded"
		}}
	}`)

	received := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	n, known, err := Normalize(Event{Provider: "stripe", Raw: raw, ReceivedAt: received})
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, PaymentSucceeded, n.Canonical)
	assert.Equal(t, "evt_100", n.ExternalEventID)
	assert.Equal(t, "pi_100", n.PaymentID)
	assert.Equal(t, "cus_9", n.CustomerID)
	assert.InDelta(t, 1500.00, n.Amount, 0.001, "minor units converted")
	assert.Equal(t, "usd", n.Currency)
	assert.Equal(t, received, n.ReceivedAt)
}

func TestNormalizeStripeObjectIDRouting(t *testing.T) {
	tests := []struct {
		name         string
		providerType string
		canonical    CanonicalType
		field        func(*NormalizedEvent) string
	}{
		{"subscription", "customer.subscription.created", SubscriptionCreated, func(n *NormalizedEvent) string { return n.SubscriptionID }},
		{"dispute", "charge.dispute.created", DisputeCreated, func(n *NormalizedEvent) string { return n.DisputeID }},
		{"invoice", "invoice.paid", InvoicePaid, func(n *NormalizedEvent) string { return n.InvoiceID }},
		{"customer", "customer.created", CustomerCreated, func(n *NormalizedEvent) string { return n.CustomerID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(`{"id":"evt_1","type":"` + tt.providerType + `","data":{"object":{"id":"obj_1"}}}`)
			n, known, err := Normalize(Event{Provider: "stripe", Raw: raw})
			require.NoError(t, err)
			require.True(t, known)
			assert.Equal(t, tt.canonical, n.Canonical)
			assert.Equal(t, "obj_1", tt.field(n))
		})
	}
}

func TestNormalizeConektaCashPayment(t *testing.T) {
	raw := []byte(`{
		"id": "evt_oxxo",
		"type": "charge.paid",
		"data": {"object": {
			"id": "ord_7",
			"amount": 50000,
			"currency": "MXN",
			"payment_status": "paid",
			"customer_info": {"customer_id": "cus_mx"}
		}}
	}`)

	n, known, err := Normalize(Event{Provider: "conekta", Raw: raw})
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, CashPaymentReceived, n.Canonical)
	assert.Equal(t, "ord_7", n.PaymentID)
	assert.Equal(t, "cus_mx", n.CustomerID)
	assert.InDelta(t, 500.00, n.Amount, 0.001, "centavos converted")
}

func TestNormalizeDlocalKeepsMajorUnits(t *testing.T) {
	raw := []byte(`{
		"id": "ntf_1",
		"type": "PAYMENT_SUCCESS",
		"payment": {
			"id": "pay_dl",
			"amount": 250.50,
			"currency": "BRL",
			"status": "PAID",
			"payer": {"id": "payer_1"}
		}
	}`)

	n, known, err := Normalize(Event{Provider: "dlocal", Raw: raw})
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, PaymentSucceeded, n.Canonical)
	assert.Equal(t, "pay_dl", n.PaymentID)
	assert.InDelta(t, 250.50, n.Amount, 0.001)
}

func TestNormalizeUnknownTypeIsNotAnError(t *testing.T) {
	raw := []byte(`{"id":"evt_x","type":"balance.available","data":{"object":{"id":"obj"}}}`)

	n, known, err := Normalize(Event{Provider: "stripe", Raw: raw})
	require.NoError(t, err)
	assert.False(t, known)
	assert.Equal(t, "balance.available", n.ProviderType)
	assert.Equal(t, "evt_x", n.ExternalEventID)
}

func TestNormalizeMalformedPayload(t *testing.T) {
	_, _, err := Normalize(Event{Provider: "conekta", Raw: []byte(`{"id":`)})
	assert.Error(t, err)
}

func TestNormalizeUnknownProvider(t *testing.T) {
	_, _, err := Normalize(Event{Provider: "adyen", Raw: []byte(`{}`)})
	assert.Error(t, err)
}
