// Package routing maps a transaction context and the current health snapshot
// to a provider choice. Selection reads only the in-memory rule table and
// health counters, so it resolves in microseconds regardless of upstream
// outages.
package routing

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/models"
)

// ErrNoEligibleProvider means neither the routed candidate nor any
// configured alternate is currently usable.
var ErrNoEligibleProvider = errors.New("no eligible provider")

// MetadataTaxCompliance marks decisions whose destination requires tax
// compliance handling downstream.
const MetadataTaxCompliance = "requiresTaxCompliance"

// euCountries is the EU member set used by both routing and tax compliance.
var euCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "IT": true, "LV": true, "LT": true, "LU": true,
	"MT": true, "NL": true, "PL": true, "PT": true, "RO": true, "SK": true,
	"SI": true, "ES": true, "SE": true,
}

// IsEUCountry reports membership in the EU country set.
func IsEUCountry(code string) bool {
	return euCountries[code]
}

type rule struct {
	match      func(models.TransactionContext) bool
	provider   string
	confidence float64
	reason     string
	metadata   map[string]string
}

// Engine applies ordered static rules, then substitutes an alternate when
// the candidate is unhealthy.
type Engine struct {
	rules             []rule
	providers         []string
	tracker           *health.Tracker
	fallbackPenalty   float64
	defaultConfidence float64
	logger            *zap.Logger
}

// Options tunes engine behavior; zero values fall back to defaults.
type Options struct {
	FallbackPenalty   float64
	DefaultConfidence float64
	Logger            *zap.Logger
}

// NewEngine builds the rule table over the configured providers.
// The provider order defines the alternate sequence.
func NewEngine(providers []string, tracker *health.Tracker, opts Options) *Engine {
	if opts.FallbackPenalty <= 0 {
		opts.FallbackPenalty = 0.2
	}
	if opts.DefaultConfidence <= 0 {
		opts.DefaultConfidence = 0.6
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		providers:         append([]string(nil), providers...),
		tracker:           tracker,
		fallbackPenalty:   opts.FallbackPenalty,
		defaultConfidence: opts.DefaultConfidence,
		logger:            opts.Logger,
	}

	e.rules = []rule{
		{
			match:      func(t models.TransactionContext) bool { return t.Country == "MX" },
			provider:   "conekta",
			confidence: 0.8,
			reason:     "Mexican market",
		},
		{
			match:      func(t models.TransactionContext) bool { return t.Country == "US" || t.Country == "CA" },
			provider:   "stripe",
			confidence: 0.85,
			reason:     "North America coverage",
		},
		{
			match:      func(t models.TransactionContext) bool { return IsEUCountry(t.Country) },
			provider:   "stripe",
			confidence: 0.75,
			reason:     "EU region",
			metadata:   map[string]string{MetadataTaxCompliance: "true"},
		},
		{
			match:      func(models.TransactionContext) bool { return true },
			provider:   "stripe",
			confidence: opts.DefaultConfidence,
			reason:     "Default provider",
		},
	}

	return e
}

// SelectProvider resolves the transaction context to a routing decision.
// An unhealthy candidate is substituted with the next configured alternate
// at a confidence penalty; no usable provider at all is an error.
func (e *Engine) SelectProvider(tctx models.TransactionContext) (models.RoutingDecision, error) {
	matched, ok := e.matchRule(tctx)
	if !ok || !e.configured(matched.provider) {
		return models.RoutingDecision{}, fmt.Errorf("country %q: %w", tctx.Country, ErrNoEligibleProvider)
	}

	decision := models.RoutingDecision{
		Provider:   matched.provider,
		Reason:     matched.reason,
		Confidence: matched.confidence,
	}
	if len(matched.metadata) > 0 {
		decision.Metadata = make(map[string]string, len(matched.metadata))
		for k, v := range matched.metadata {
			decision.Metadata[k] = v
		}
	}

	if e.tracker.Healthy(decision.Provider) {
		return decision, nil
	}

	alternate, ok := e.firstHealthyAlternate(decision.Provider)
	if !ok {
		return models.RoutingDecision{}, fmt.Errorf("candidate %q unhealthy and no healthy alternate: %w",
			decision.Provider, ErrNoEligibleProvider)
	}

	e.logger.Info("routing substituted unhealthy provider",
		zap.String("candidate", decision.Provider),
		zap.String("alternate", alternate),
	)

	decision.Reason = fmt.Sprintf("%s (fallback: %s unhealthy)", decision.Reason, decision.Provider)
	decision.Provider = alternate
	decision.Confidence -= e.fallbackPenalty
	if decision.Confidence < 0.1 {
		decision.Confidence = 0.1
	}

	return decision, nil
}

func (e *Engine) matchRule(tctx models.TransactionContext) (rule, bool) {
	for _, r := range e.rules {
		if r.match(tctx) {
			return r, true
		}
	}
	return rule{}, false
}

func (e *Engine) configured(provider string) bool {
	for _, p := range e.providers {
		if p == provider {
			return true
		}
	}
	return false
}

func (e *Engine) firstHealthyAlternate(candidate string) (string, bool) {
	for _, p := range e.providers {
		if p == candidate {
			continue
		}
		if e.tracker.Healthy(p) {
			return p, true
		}
	}
	return "", false
}

// Providers returns the configured provider order.
func (e *Engine) Providers() []string {
	return append([]string(nil), e.providers...)
}
