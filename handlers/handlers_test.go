package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/madfam-org/janua-sub020/compliance"
	"github.com/madfam-org/janua-sub020/edgecase"
	"github.com/madfam-org/janua-sub020/fallback"
	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/kvstore"
	"github.com/madfam-org/janua-sub020/routing"
	"github.com/madfam-org/janua-sub020/service"
	"github.com/madfam-org/janua-sub020/webhook"
)

const conektaSecret = "conekta_test_secret"

var handlerProviders = []string{"stripe", "conekta", "dlocal"}

func newTestRouter(t *testing.T) (*gin.Engine, *health.Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := kvstore.NewMemory()
	tracker := health.NewTracker(handlerProviders)
	engine := routing.NewEngine(handlerProviders, tracker, routing.Options{})
	executor := fallback.NewExecutor(engine, tracker, nil)
	evaluator := compliance.NewEvaluator(nil)

	paymentService := service.NewPaymentService(
		otel.Tracer("test"), engine, executor, evaluator, service.LocalGateways(handlerProviders),
	)

	registry := webhook.NewHandlers(
		webhook.NewMemoryRecordStore(), webhook.NewMemoryNotifier(), webhook.NewMemoryScheduler(), nil,
	).Registry()
	verifiers := map[string]webhook.Verifier{
		"conekta": webhook.HMACVerifier{
			Secret:   conektaSecret,
			Header:   "X-Conekta-Signature",
			IDFields: []string{"id"},
		},
	}
	ingestor := webhook.NewIngestor(store, verifiers, registry, nil)

	paymentHandler := NewPaymentHandler(paymentService, tracker, ingestor)
	edgeHandler := NewEdgeCaseHandler(edgecase.NewHandler(store, nil))

	router := gin.New()
	api := router.Group("/api")
	{
		api.POST("/payments", paymentHandler.CreatePayment)
		api.POST("/payments/route", paymentHandler.RouteTransaction)
		api.POST("/payments/compliance", paymentHandler.ComplianceChecks)
		api.POST("/payments/edge-cases/:type", edgeHandler.Handle)
		api.GET("/providers/health", paymentHandler.ProviderHealth)
	}
	router.POST("/webhooks/:provider", paymentHandler.Webhook)
	router.GET("/webhooks/health", paymentHandler.WebhookHealth)
	router.GET("/health", paymentHandler.HealthCheck)

	return router, tracker
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreatePaymentMexicoEndToEnd(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/payments", gin.H{
		"amount":      1000,
		"currency":    "MXN",
		"country":     "MX",
		"customer_id": "cust_123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result service.PaymentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "conekta", result.Provider)
	assert.False(t, result.Blocked)
	require.NotNil(t, result.Intent)
	assert.InDelta(t, 1000, result.Intent.Amount, 0.001)
	assert.Equal(t, "MXN", result.Intent.Currency)
}

func TestCreatePaymentValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"zero amount", gin.H{"amount": 0, "currency": "USD", "country": "US", "customer_id": "c"}},
		{"bad currency", gin.H{"amount": 10, "currency": "USDT", "country": "US", "customer_id": "c"}},
		{"bad country", gin.H{"amount": 10, "currency": "USD", "country": "USA", "customer_id": "c"}},
		{"missing customer", gin.H{"amount": 10, "currency": "USD", "country": "US"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/payments", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreatePaymentComplianceBlocked(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/payments", gin.H{
		"amount":      100,
		"currency":    "USD",
		"country":     "IR",
		"customer_id": "cust_1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var result service.PaymentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Blocked)
	assert.Nil(t, result.Intent)
}

func TestCreatePaymentAllProvidersUnhealthy(t *testing.T) {
	router, tracker := newTestRouter(t)
	for _, p := range handlerProviders {
		for i := 0; i < 3; i++ {
			tracker.RecordFailure(p)
		}
	}

	w := doJSON(router, http.MethodPost, "/api/payments", gin.H{
		"amount":      100,
		"currency":    "USD",
		"country":     "US",
		"customer_id": "cust_1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouteTransaction(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/payments/route", gin.H{
		"amount":      100,
		"currency":    "EUR",
		"country":     "DE",
		"customer_id": "cust_1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var decision struct {
		Provider string            `json:"provider"`
		Metadata map[string]string `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, "stripe", decision.Provider)
	assert.Equal(t, "true", decision.Metadata["requiresTaxCompliance"])
}

func TestComplianceEndpointReturnsChecksAsData(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/payments/compliance", gin.H{
		"amount":      15000,
		"currency":    "USD",
		"country":     "US",
		"customer_id": "cust_1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Identity verification")
}

func TestProviderHealthSnapshot(t *testing.T) {
	router, tracker := newTestRouter(t)
	tracker.RecordSuccess("stripe")
	tracker.RecordFailure("dlocal")

	req := httptest.NewRequest(http.MethodGet, "/api/providers/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []struct {
			Provider     string `json:"provider"`
			Healthy      bool   `json:"healthy"`
			SuccessCount int64  `json:"success_count"`
			FailureCount int64  `json:"failure_count"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, len(handlerProviders))

	byID := map[string]int64{}
	for _, p := range resp.Providers {
		byID[p.Provider+":success"] = p.SuccessCount
		byID[p.Provider+":failure"] = p.FailureCount
		if p.Provider == "dlocal" {
			assert.True(t, p.Healthy, "one failure is below the threshold")
		}
	}
	assert.Equal(t, int64(1), byID["stripe:success"])
	assert.Equal(t, int64(1), byID["dlocal:failure"])
}

func signedWebhook(body []byte) *http.Request {
	mac := hmac.New(sha256.New, []byte(conektaSecret))
	mac.Write(body)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/conekta", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Conekta-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestWebhookLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	body := []byte(`{"id":"evt_http_1","type":"order.paid","data":{"object":{"id":"ord_1","amount":50000,"currency":"MXN","payment_status":"paid"}}}`)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhook(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var receipt webhook.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "success", receipt.Status)
	assert.Equal(t, "evt_http_1", receipt.ExternalEventID)

	// Redelivery of the same event is acknowledged without reprocessing.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhook(body))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "already_processed", receipt.Status)
}

func TestWebhookAcceptsLargePayload(t *testing.T) {
	router, _ := newTestRouter(t)

	// Payloads well past 64 KiB arrive in practice (invoice events with
	// many line items) and must not be truncated into 400s.
	padding := strings.Repeat("x", 200*1024)
	body := []byte(`{"id":"evt_big","type":"order.paid","data":{"object":{"id":"ord_big","amount":10000,"currency":"MXN","payment_status":"paid","memo":"` + padding + `"}}}`)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhook(body))
	require.Equal(t, http.StatusOK, w.Code, "status = %d", w.Code)

	var receipt webhook.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "success", receipt.Status)
	assert.Equal(t, "evt_big", receipt.ExternalEventID)
}

func TestWebhookTamperedSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	body := []byte(`{"id":"evt_http_2","type":"order.paid","data":{"object":{"id":"ord_2"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/conekta", bytes.NewReader(body))
	req.Header.Set("X-Conekta-Signature", "deadbeef")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookUnknownProvider(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/adyen", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHealthListsReceivers(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conekta")
}

func TestEdgeCaseEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("currency mismatch converts", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/payments/edge-cases/currency_mismatch", gin.H{
			"transaction": gin.H{
				"amount":      108,
				"currency":    "USD",
				"country":     "US",
				"customer_id": "cust_1",
			},
			"merchant_currency": "EUR",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "EUR")
	})

	t.Run("fraud block returns 403", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/payments/edge-cases/fraud_detection", gin.H{
			"transaction": gin.H{
				"amount":         9000,
				"currency":       "USD",
				"country":        "NG",
				"customer_id":    "cust_1",
				"payment_method": "crypto",
			},
			"new_customer": true,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("operation-backed case not invocable", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/payments/edge-cases/network_timeout", gin.H{})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
