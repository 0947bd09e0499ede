package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/madfam-org/janua-sub020/models"
)

// ProviderGateway is the narrow interface a payment processor integration
// implements. The real processors are external collaborators; this core
// only drives them through this seam.
type ProviderGateway interface {
	CreatePaymentIntent(ctx context.Context, tctx models.TransactionContext) (*models.PaymentIntent, error)
}

// LocalGateway is an in-process gateway used for development and tests. It
// mints intents without any network call.
type LocalGateway struct {
	ProviderID string
}

func (g *LocalGateway) CreatePaymentIntent(_ context.Context, tctx models.TransactionContext) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{
		ID:         "pi_" + uuid.NewString(),
		ProviderID: g.ProviderID,
		Amount:     tctx.Amount,
		Currency:   tctx.Currency,
		Status:     "requires_confirmation",
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// LocalGateways builds one LocalGateway per provider id.
func LocalGateways(providers []string) map[string]ProviderGateway {
	out := make(map[string]ProviderGateway, len(providers))
	for _, p := range providers {
		out[p] = &LocalGateway{ProviderID: p}
	}
	return out
}
