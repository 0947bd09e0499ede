// Package edgecase is a dispatch table of named recovery and decision
// procedures. Each case is an independently testable contract; callers pass
// work as explicit single-method Operations rather than ad hoc closures.
package edgecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/kvstore"
	"github.com/madfam-org/janua-sub020/models"
)

// CaseType names a recovery/decision procedure.
type CaseType string

const (
	CaseNetworkTimeout   CaseType = "network_timeout"
	CaseDuplicatePayment CaseType = "duplicate_payment"
	CaseCurrencyMismatch CaseType = "currency_mismatch"
	Case3DSChallenge     CaseType = "3ds_challenge"
	CasePartialPayment   CaseType = "partial_payment"
	CaseWebhookFailure   CaseType = "webhook_failure"
	CaseFraudDetection   CaseType = "fraud_detection"
	CaseChargeback       CaseType = "chargeback"
	CaseComplexRefund    CaseType = "complex_refund"
)

// Failures that must stop the transaction.
var (
	ErrDuplicatePayment   = errors.New("duplicate payment detected")
	ErrTransactionBlocked = errors.New("transaction blocked by fraud check")
	ErrRefundNotAllowed   = errors.New("refund window expired")
	ErrUnknownCase        = errors.New("unknown edge case")
)

// Operation is the command a caller hands to a case procedure.
type Operation interface {
	Execute(ctx context.Context) (any, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context) (any, error)

func (f OperationFunc) Execute(ctx context.Context) (any, error) { return f(ctx) }

// Case carries the inputs a procedure needs. Only the fields relevant to the
// dispatched case type are read.
type Case struct {
	Transaction models.TransactionContext

	// Operation drives network_timeout and duplicate_payment.
	Operation Operation
	// RetryOperation is the webhook delivery retried by webhook_failure.
	RetryOperation Operation
	// ProcessRefund performs the refund for complex_refund.
	ProcessRefund Operation

	// MerchantCurrency is the target of currency_mismatch conversion.
	MerchantCurrency string
	// RemainingAmount and Installments drive partial_payment.
	RemainingAmount float64
	Installments    int
	// Attempt is the zero-based delivery attempt for webhook_failure.
	Attempt int
	// PaymentID and PaymentDate identify the payment for chargeback and
	// complex_refund.
	PaymentID   string
	PaymentDate time.Time
	// NewCustomer feeds the fraud score.
	NewCustomer bool
}

// Result is the union of case outcomes; each procedure fills its own fields.
type Result struct {
	Value                  any                     `json:"value,omitempty"`
	Converted              *models.ConvertedAmount `json:"converted,omitempty"`
	SCAExempted            bool                    `json:"sca_exempted,omitempty"`
	RequiresAuthentication bool                    `json:"requires_authentication,omitempty"`
	Plan                   *models.InstallmentPlan `json:"plan,omitempty"`
	Dispute                *models.DisputeRecord   `json:"dispute,omitempty"`
	RiskScore              float64                 `json:"risk_score,omitempty"`
}

// EvidenceStore retrieves dispute evidence for a payment. Implemented by an
// external collaborator; nil means no evidence is available.
type EvidenceStore interface {
	FindByPayment(ctx context.Context, paymentID string) ([]string, error)
}

// DisputeStore persists dispute records created by chargeback handling.
type DisputeStore interface {
	CreateDispute(ctx context.Context, record models.DisputeRecord) error
}

type procedure func(ctx context.Context, c Case) (Result, error)

// Handler dispatches case types to their procedures.
type Handler struct {
	store    kvstore.Store
	evidence EvidenceStore
	disputes DisputeStore
	logger   *zap.Logger

	procedures map[CaseType]procedure

	now             func() time.Time
	duplicateWindow time.Duration
	backoffBase     time.Duration
	refundWindow    time.Duration
}

// HandlerOption tweaks handler construction.
type HandlerOption func(*Handler)

// WithEvidenceStore supplies the dispute-evidence collaborator.
func WithEvidenceStore(es EvidenceStore) HandlerOption {
	return func(h *Handler) { h.evidence = es }
}

// WithDisputeStore supplies the dispute persistence collaborator.
func WithDisputeStore(ds DisputeStore) HandlerOption {
	return func(h *Handler) { h.disputes = ds }
}

// WithClock overrides the handler clock. Test hook.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// WithBackoffBase overrides the webhook_failure backoff base.
func WithBackoffBase(d time.Duration) HandlerOption {
	return func(h *Handler) { h.backoffBase = d }
}

// NewHandler builds the dispatch table. The KV store backs duplicate
// detection; everything else is in-memory rule data.
func NewHandler(store kvstore.Store, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		store:           store,
		logger:          logger,
		now:             time.Now,
		duplicateWindow: 60 * time.Second,
		backoffBase:     time.Second,
		refundWindow:    180 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.procedures = map[CaseType]procedure{
		CaseNetworkTimeout:   h.networkTimeout,
		CaseDuplicatePayment: h.duplicatePayment,
		CaseCurrencyMismatch: h.currencyMismatch,
		Case3DSChallenge:     h.scaChallenge,
		CasePartialPayment:   h.partialPayment,
		CaseWebhookFailure:   h.webhookFailure,
		CaseFraudDetection:   h.fraudDetection,
		CaseChargeback:       h.chargeback,
		CaseComplexRefund:    h.complexRefund,
	}
	return h
}

// Handle dispatches to the named procedure.
func (h *Handler) Handle(ctx context.Context, caseType CaseType, c Case) (Result, error) {
	proc, ok := h.procedures[caseType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCase, caseType)
	}
	return proc(ctx, c)
}
