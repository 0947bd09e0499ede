package models

import "time"

// TransactionContext is the immutable input to routing, compliance and
// edge-case decisions. All decision components read it, none mutate it.
type TransactionContext struct {
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	Country       string            `json:"country"`
	CustomerID    string            `json:"customer_id"`
	BusinessType  string            `json:"business_type,omitempty"`
	DeviceInfo    map[string]string `json:"device_info,omitempty"`
	RiskScore     float64           `json:"risk_score,omitempty"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RoutingDecision is the outcome of provider selection.
type RoutingDecision struct {
	Provider   string            `json:"provider"`
	Reason     string            `json:"reason"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ProviderHealth is a read-only snapshot of one provider's counters.
type ProviderHealth struct {
	Provider            string  `json:"provider"`
	SuccessCount        int64   `json:"success_count"`
	FailureCount        int64   `json:"failure_count"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	Healthy             bool    `json:"healthy"`
	SuccessRate         float64 `json:"success_rate"`
}

// ComplianceCheckType distinguishes the rule families run per transaction.
type ComplianceCheckType string

const (
	CheckKYC ComplianceCheckType = "kyc"
	CheckTax ComplianceCheckType = "tax"
)

// ComplianceCheck is always returned as data, never raised as an error, so
// callers can drive user-facing remediation from RequiredActions.
type ComplianceCheck struct {
	Type            ComplianceCheckType `json:"type"`
	Passed          bool                `json:"passed"`
	Reason          string              `json:"reason,omitempty"`
	RequiredActions []string            `json:"required_actions,omitempty"`
}

// PaymentIntent is the record a provider gateway returns for a created
// payment attempt.
type PaymentIntent struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisputeRecord is created by the chargeback edge case and updated by
// dispute webhooks.
type DisputeRecord struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Status    string    `json:"status"`
	Evidence  []string  `json:"evidence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Installment is a single scheduled charge of an InstallmentPlan.
type Installment struct {
	Number int       `json:"number"`
	Amount float64   `json:"amount"`
	DueAt  time.Time `json:"due_at"`
}

// InstallmentPlan splits a remaining amount into equal monthly charges.
type InstallmentPlan struct {
	ID           string        `json:"id"`
	Total        float64       `json:"total"`
	Currency     string        `json:"currency"`
	Installments []Installment `json:"installments"`
	NextDueAt    time.Time     `json:"next_due_at"`
}

// ConvertedAmount is the result of a currency-mismatch conversion.
type ConvertedAmount struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Rate     float64 `json:"rate"`
}
