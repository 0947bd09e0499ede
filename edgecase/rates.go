package edgecase

import (
	"fmt"

	"github.com/madfam-org/janua-sub020/models"
)

// eurRates expresses each supported currency in units per EUR. A static
// table keeps decisions free of network I/O; rates are refreshed with
// deploys, which is adequate for threshold checks and plan math.
var eurRates = map[string]float64{
	"EUR": 1.0,
	"USD": 1.08,
	"GBP": 0.86,
	"MXN": 18.50,
	"CAD": 1.47,
	"BRL": 5.40,
	"COP": 4300.0,
	"JPY": 160.0,
}

// Convert translates an amount between two supported currencies.
func Convert(amount float64, from, to string) (*models.ConvertedAmount, error) {
	fromRate, ok := eurRates[from]
	if !ok {
		return nil, fmt.Errorf("no exchange rate for currency %q", from)
	}
	toRate, ok := eurRates[to]
	if !ok {
		return nil, fmt.Errorf("no exchange rate for currency %q", to)
	}
	rate := toRate / fromRate
	return &models.ConvertedAmount{
		Amount:   amount * rate,
		Currency: to,
		Rate:     rate,
	}, nil
}

// EUREquivalent expresses an amount in EUR for threshold comparisons.
func EUREquivalent(amount float64, currency string) (float64, error) {
	rate, ok := eurRates[currency]
	if !ok {
		return 0, fmt.Errorf("no exchange rate for currency %q", currency)
	}
	return amount / rate, nil
}
