package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madfam-org/janua-sub020/models"
)

func checkOfType(t *testing.T, checks []models.ComplianceCheck, typ models.ComplianceCheckType) models.ComplianceCheck {
	t.Helper()
	for _, c := range checks {
		if c.Type == typ {
			return c
		}
	}
	t.Fatalf("no %s check in %v", typ, checks)
	return models.ComplianceCheck{}
}

func TestSanctionedCountryFailsKYC(t *testing.T) {
	e := NewEvaluator(nil)

	checks := e.PerformComplianceChecks(models.TransactionContext{
		Amount: 100, Currency: "USD", Country: "IR", CustomerID: "cust_1",
	})

	kyc := checkOfType(t, checks, models.CheckKYC)
	assert.False(t, kyc.Passed)
	assert.Contains(t, kyc.Reason, "Sanctioned country")
	assert.Contains(t, kyc.RequiredActions, "Block transaction")
}

func TestLargeAmountRequiresIdentityVerification(t *testing.T) {
	e := NewEvaluator(nil)

	checks := e.PerformComplianceChecks(models.TransactionContext{
		Amount: KYCAmountThreshold + 1, Currency: "USD", Country: "US", CustomerID: "cust_1",
	})

	kyc := checkOfType(t, checks, models.CheckKYC)
	assert.False(t, kyc.Passed)
	assert.Equal(t, "Amount exceeds threshold", kyc.Reason)
	assert.Contains(t, kyc.RequiredActions, "Identity verification")
}

func TestEUB2BRequiresValidVAT(t *testing.T) {
	e := NewEvaluator(nil)
	base := models.TransactionContext{
		Amount: 100, Currency: "EUR", Country: "DE", CustomerID: "cust_1", BusinessType: "b2b",
	}

	t.Run("missing VAT fails", func(t *testing.T) {
		tax := checkOfType(t, e.PerformComplianceChecks(base), models.CheckTax)
		assert.False(t, tax.Passed)
		assert.Equal(t, "Invalid VAT number", tax.Reason)
		assert.Contains(t, tax.RequiredActions, "Collect valid VAT number")
	})

	t.Run("malformed VAT fails", func(t *testing.T) {
		tctx := base
		tctx.Metadata = map[string]string{"vatNumber": "not-a-vat"}
		tax := checkOfType(t, e.PerformComplianceChecks(tctx), models.CheckTax)
		assert.False(t, tax.Passed)
	})

	t.Run("valid VAT passes", func(t *testing.T) {
		tctx := base
		tctx.Metadata = map[string]string{"vatNumber": "DE123456789"}
		tax := checkOfType(t, e.PerformComplianceChecks(tctx), models.CheckTax)
		assert.True(t, tax.Passed)
	})

	t.Run("b2c does not need VAT", func(t *testing.T) {
		tctx := base
		tctx.BusinessType = ""
		tax := checkOfType(t, e.PerformComplianceChecks(tctx), models.CheckTax)
		assert.True(t, tax.Passed)
	})
}

func TestMexicoInvoiceThresholdRequiresRFC(t *testing.T) {
	e := NewEvaluator(nil)
	base := models.TransactionContext{
		Amount: MXInvoiceThreshold + 1, Currency: "MXN", Country: "MX", CustomerID: "cust_1",
	}

	tax := checkOfType(t, e.PerformComplianceChecks(base), models.CheckTax)
	assert.False(t, tax.Passed)
	assert.Equal(t, "RFC required", tax.Reason)
	assert.Contains(t, tax.RequiredActions, "Collect RFC")

	withRFC := base
	withRFC.Metadata = map[string]string{"rfc": "XAXX010101000"}
	tax = checkOfType(t, e.PerformComplianceChecks(withRFC), models.CheckTax)
	assert.True(t, tax.Passed)

	small := base
	small.Amount = 100
	tax = checkOfType(t, e.PerformComplianceChecks(small), models.CheckTax)
	assert.True(t, tax.Passed)
}

func TestCleanContextPassesAllChecks(t *testing.T) {
	e := NewEvaluator(nil)

	checks := e.PerformComplianceChecks(models.TransactionContext{
		Amount: 100, Currency: "USD", Country: "US", CustomerID: "cust_1",
	})
	require.Len(t, checks, 2)
	for _, c := range checks {
		assert.True(t, c.Passed, "%s should pass", c.Type)
	}
	assert.False(t, Blocked(checks))
}

func TestBlockedOnlyForBlockAction(t *testing.T) {
	e := NewEvaluator(nil)

	sanctioned := e.PerformComplianceChecks(models.TransactionContext{
		Amount: 100, Currency: "USD", Country: "KP", CustomerID: "cust_1",
	})
	assert.True(t, Blocked(sanctioned))

	// Over-threshold KYC failure requires verification but does not block.
	large := e.PerformComplianceChecks(models.TransactionContext{
		Amount: KYCAmountThreshold + 1, Currency: "USD", Country: "US", CustomerID: "cust_1",
	})
	assert.False(t, Blocked(large))
}
