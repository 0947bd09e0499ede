package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/madfam-org/janua-sub020/edgecase"
	"github.com/madfam-org/janua-sub020/models"
)

// EdgeCaseHandler exposes the data-only edge cases to internal callers.
// Cases that require a caller-supplied operation (network_timeout,
// duplicate_payment, webhook_failure, complex_refund) are code-level
// contracts and are not invocable over HTTP.
type EdgeCaseHandler struct {
	handler *edgecase.Handler
}

// NewEdgeCaseHandler creates a new edge case handler
func NewEdgeCaseHandler(handler *edgecase.Handler) *EdgeCaseHandler {
	return &EdgeCaseHandler{handler: handler}
}

var httpInvocableCases = map[edgecase.CaseType]bool{
	edgecase.CaseCurrencyMismatch: true,
	edgecase.Case3DSChallenge:     true,
	edgecase.CasePartialPayment:   true,
	edgecase.CaseFraudDetection:   true,
	edgecase.CaseChargeback:       true,
}

type edgeCaseRequest struct {
	Transaction      models.TransactionContext `json:"transaction"`
	MerchantCurrency string                    `json:"merchant_currency,omitempty"`
	RemainingAmount  float64                   `json:"remaining_amount,omitempty"`
	Installments     int                       `json:"installments,omitempty"`
	PaymentID        string                    `json:"payment_id,omitempty"`
	PaymentDate      *time.Time                `json:"payment_date,omitempty"`
	NewCustomer      bool                      `json:"new_customer,omitempty"`
}

// Handle dispatches one edge case by path parameter
func (h *EdgeCaseHandler) Handle(c *gin.Context) {
	caseType := edgecase.CaseType(c.Param("type"))
	if !httpInvocableCases[caseType] {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or non-invocable edge case"})
		return
	}

	var req edgeCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ec := edgecase.Case{
		Transaction:      req.Transaction,
		MerchantCurrency: req.MerchantCurrency,
		RemainingAmount:  req.RemainingAmount,
		Installments:     req.Installments,
		PaymentID:        req.PaymentID,
		NewCustomer:      req.NewCustomer,
	}
	if req.PaymentDate != nil {
		ec.PaymentDate = *req.PaymentDate
	}

	result, err := h.handler.Handle(c.Request.Context(), caseType, ec)
	if err != nil {
		switch {
		case errors.Is(err, edgecase.ErrTransactionBlocked):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "risk_score": result.RiskScore})
		case errors.Is(err, edgecase.ErrUnknownCase):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
