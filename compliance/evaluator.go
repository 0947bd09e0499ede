// Package compliance runs jurisdiction rules against a transaction context.
// Evaluation is pure: static rule tables, no network calls, results always
// returned as data so callers can drive user-facing remediation. The only
// side effect is audit logging.
package compliance

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/models"
	"github.com/madfam-org/janua-sub020/routing"
)

const (
	// KYCAmountThreshold is the amount above which identity verification
	// is required regardless of jurisdiction.
	KYCAmountThreshold = 10000.0
	// MXInvoiceThreshold is the amount above which Mexican transactions
	// need an RFC for invoicing.
	MXInvoiceThreshold = 2000.0
)

var sanctionedCountries = map[string]bool{
	"IR": true, "KP": true, "SY": true, "CU": true,
}

// EU VAT numbers: two-letter country prefix then 8-12 alphanumerics.
var vatPattern = regexp.MustCompile(`^[A-Z]{2}[0-9A-Z]{8,12}$`)

// Evaluator gates transactions against KYC and tax rules.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator returns an evaluator that audit-logs through the given
// logger.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// PerformComplianceChecks runs every rule family and returns one check per
// family. Failures are data, never errors.
func (e *Evaluator) PerformComplianceChecks(tctx models.TransactionContext) []models.ComplianceCheck {
	checks := []models.ComplianceCheck{
		e.checkKYC(tctx),
		e.checkTax(tctx),
	}

	for _, c := range checks {
		if !c.Passed {
			e.logger.Info("compliance check failed",
				zap.String("type", string(c.Type)),
				zap.String("reason", c.Reason),
				zap.String("country", tctx.Country),
				zap.String("customer_id", tctx.CustomerID),
			)
		}
	}

	return checks
}

func (e *Evaluator) checkKYC(tctx models.TransactionContext) models.ComplianceCheck {
	if sanctionedCountries[tctx.Country] {
		return models.ComplianceCheck{
			Type:            models.CheckKYC,
			Passed:          false,
			Reason:          "Sanctioned country",
			RequiredActions: []string{"Block transaction"},
		}
	}
	if tctx.Amount > KYCAmountThreshold {
		return models.ComplianceCheck{
			Type:            models.CheckKYC,
			Passed:          false,
			Reason:          "Amount exceeds threshold",
			RequiredActions: []string{"Identity verification"},
		}
	}
	return models.ComplianceCheck{Type: models.CheckKYC, Passed: true}
}

func (e *Evaluator) checkTax(tctx models.TransactionContext) models.ComplianceCheck {
	if routing.IsEUCountry(tctx.Country) && tctx.BusinessType == "b2b" && !hasValidVAT(tctx.Metadata) {
		return models.ComplianceCheck{
			Type:            models.CheckTax,
			Passed:          false,
			Reason:          "Invalid VAT number",
			RequiredActions: []string{"Collect valid VAT number"},
		}
	}
	if tctx.Country == "MX" && tctx.Amount > MXInvoiceThreshold && tctx.Metadata["rfc"] == "" {
		return models.ComplianceCheck{
			Type:            models.CheckTax,
			Passed:          false,
			Reason:          "RFC required",
			RequiredActions: []string{"Collect RFC"},
		}
	}
	return models.ComplianceCheck{Type: models.CheckTax, Passed: true}
}

func hasValidVAT(metadata map[string]string) bool {
	return vatPattern.MatchString(metadata["vatNumber"])
}

// Blocked reports whether any check demands the transaction be stopped
// outright (currently only the sanctioned-country KYC failure).
func Blocked(checks []models.ComplianceCheck) bool {
	for _, c := range checks {
		if c.Passed {
			continue
		}
		for _, a := range c.RequiredActions {
			if a == "Block transaction" {
				return true
			}
		}
	}
	return false
}
