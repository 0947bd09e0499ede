package edgecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/models"
)

// SCAExemptionThreshold is the EUR-equivalent amount under which strong
// customer authentication may be skipped.
const SCAExemptionThreshold = 30.0

// FraudBlockThreshold is the composite score above which a transaction is
// rejected outright.
const FraudBlockThreshold = 0.7

// networkTimeout invokes the operation and retries exactly once on failure.
func (h *Handler) networkTimeout(ctx context.Context, c Case) (Result, error) {
	value, err := c.Operation.Execute(ctx)
	if err == nil {
		return Result{Value: value}, nil
	}

	h.logger.Warn("operation failed, retrying once",
		zap.String("customer_id", c.Transaction.CustomerID),
		zap.Error(err),
	)

	value, err = c.Operation.Execute(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("retry failed: %w", err)
	}
	return Result{Value: value}, nil
}

// duplicatePayment derives an idempotency key from the transaction tuple and
// rejects a second submission inside the window. The record-and-check is a
// single SetNX so concurrent submissions cannot both pass.
func (h *Handler) duplicatePayment(ctx context.Context, c Case) (Result, error) {
	key := "payment:idem:" + IdempotencyKey(c.Transaction)

	stored, err := h.store.SetNX(ctx, key, "1", h.duplicateWindow)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency store: %w", err)
	}
	if !stored {
		return Result{}, fmt.Errorf("%w: customer %s, amount %.2f %s",
			ErrDuplicatePayment, c.Transaction.CustomerID, c.Transaction.Amount, c.Transaction.Currency)
	}

	value, err := c.Operation.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: value}, nil
}

// IdempotencyKey hashes the attributes that identify a duplicate submission.
func IdempotencyKey(t models.TransactionContext) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%.2f|%s|%s",
		t.CustomerID, t.Amount, t.Currency, t.PaymentMethod))
	return hex.EncodeToString(sum[:])
}

// currencyMismatch converts the customer amount to the merchant currency.
func (h *Handler) currencyMismatch(_ context.Context, c Case) (Result, error) {
	converted, err := Convert(c.Transaction.Amount, c.Transaction.Currency, c.MerchantCurrency)
	if err != nil {
		return Result{}, err
	}
	return Result{Converted: converted}, nil
}

// scaChallenge grants the low-value SCA exemption or demands authentication.
func (h *Handler) scaChallenge(_ context.Context, c Case) (Result, error) {
	eur, err := EUREquivalent(c.Transaction.Amount, c.Transaction.Currency)
	if err != nil {
		return Result{}, err
	}
	if eur < SCAExemptionThreshold {
		return Result{SCAExempted: true}, nil
	}
	return Result{RequiresAuthentication: true}, nil
}

// partialPayment splits the remaining amount into equal monthly charges.
func (h *Handler) partialPayment(_ context.Context, c Case) (Result, error) {
	n := c.Installments
	if n <= 0 {
		return Result{}, fmt.Errorf("installments must be positive, got %d", n)
	}
	if c.RemainingAmount <= 0 {
		return Result{}, fmt.Errorf("remaining amount must be positive, got %.2f", c.RemainingAmount)
	}

	per := math.Round(c.RemainingAmount/float64(n)*100) / 100
	now := h.now()

	installments := make([]models.Installment, n)
	total := 0.0
	for i := 0; i < n; i++ {
		amount := per
		if i == n-1 {
			// Last installment absorbs rounding drift.
			amount = math.Round((c.RemainingAmount-total)*100) / 100
		}
		total += amount
		installments[i] = models.Installment{
			Number: i + 1,
			Amount: amount,
			DueAt:  now.AddDate(0, i+1, 0),
		}
	}

	plan := &models.InstallmentPlan{
		ID:           "plan_" + uuid.NewString(),
		Total:        c.RemainingAmount,
		Currency:     c.Transaction.Currency,
		Installments: installments,
		NextDueAt:    installments[0].DueAt,
	}
	return Result{Plan: plan}, nil
}

// webhookFailure retries a delivery after an exponential backoff. Only the
// calling goroutine waits; the delay honors context cancellation.
func (h *Handler) webhookFailure(ctx context.Context, c Case) (Result, error) {
	delay := h.backoffBase << uint(c.Attempt)
	if max := 5 * time.Minute; delay > max {
		delay = max
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(delay):
	}

	value, err := c.RetryOperation.Execute(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("webhook retry after %s: %w", delay, err)
	}
	return Result{Value: value}, nil
}

var countryRisk = map[string]float64{
	"NG": 0.30, "RU": 0.30, "PK": 0.25, "VN": 0.20, "UA": 0.20,
}

var paymentMethodRisk = map[string]float64{
	"crypto":        0.30,
	"prepaid_card":  0.20,
	"card":          0.10,
	"credit_card":   0.10,
	"oxxo":          0.05,
	"bank_transfer": 0.02,
}

// fraudDetection computes a composite risk score and blocks above threshold.
func (h *Handler) fraudDetection(_ context.Context, c Case) (Result, error) {
	t := c.Transaction

	score := 0.05
	if r, ok := countryRisk[t.Country]; ok {
		score = r
	}
	switch {
	case t.Amount > 5000:
		score += 0.30
	case t.Amount > 1000:
		score += 0.15
	}
	if c.NewCustomer {
		score += 0.20
	}
	if r, ok := paymentMethodRisk[t.PaymentMethod]; ok {
		score += r
	}

	if score > FraudBlockThreshold {
		h.logger.Warn("transaction blocked by fraud score",
			zap.String("customer_id", t.CustomerID),
			zap.Float64("score", score),
		)
		return Result{RiskScore: score}, fmt.Errorf("%w: score %.2f", ErrTransactionBlocked, score)
	}
	return Result{RiskScore: score}, nil
}

// chargeback opens a dispute record and gathers whatever evidence exists for
// the referenced payment, possibly none.
func (h *Handler) chargeback(ctx context.Context, c Case) (Result, error) {
	var evidence []string
	if h.evidence != nil {
		found, err := h.evidence.FindByPayment(ctx, c.PaymentID)
		if err != nil {
			h.logger.Warn("evidence lookup failed, opening dispute without evidence",
				zap.String("payment_id", c.PaymentID),
				zap.Error(err),
			)
		} else {
			evidence = found
		}
	}

	record := models.DisputeRecord{
		ID:        "dp_" + uuid.NewString(),
		PaymentID: c.PaymentID,
		Status:    "pending",
		Evidence:  evidence,
		CreatedAt: h.now(),
	}

	if h.disputes != nil {
		if err := h.disputes.CreateDispute(ctx, record); err != nil {
			return Result{}, fmt.Errorf("persist dispute: %w", err)
		}
	}

	return Result{Dispute: &record}, nil
}

// complexRefund verifies the payment age against the refund window before
// delegating to the refund operation.
func (h *Handler) complexRefund(ctx context.Context, c Case) (Result, error) {
	if c.PaymentDate.IsZero() {
		return Result{}, fmt.Errorf("payment date required for refund eligibility")
	}
	if h.now().Sub(c.PaymentDate) > h.refundWindow {
		return Result{}, fmt.Errorf("%w: payment %s is older than %s",
			ErrRefundNotAllowed, c.PaymentID, h.refundWindow)
	}

	value, err := c.ProcessRefund.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: value}, nil
}
