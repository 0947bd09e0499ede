package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/kvstore"
	"github.com/madfam-org/janua-sub020/monitoring"
)

// DedupTTL is the retention window during which a (provider, event id) pair
// is handled at most once.
const DedupTTL = 7 * 24 * time.Hour

// ErrUnknownReceiver rejects deliveries for providers with no configured
// verifier.
var ErrUnknownReceiver = errors.New("no webhook receiver configured for provider")

// HandlerError wraps a canonical handler failure so the HTTP layer returns
// 500 and the provider's retry policy takes over.
type HandlerError struct {
	Provider  string
	EventID   string
	Canonical CanonicalType
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed for %s event %s: %v", e.Canonical, e.Provider, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Receipt is the ingestion outcome returned to the HTTP layer.
type Receipt struct {
	Status          string        `json:"status"` // "success" or "already_processed"
	ExternalEventID string        `json:"event_id,omitempty"`
	Canonical       CanonicalType `json:"canonical_type,omitempty"`
}

// Ingestor runs the per-delivery state machine:
// RECEIVED -> SIGNATURE_VALIDATED -> {DUPLICATE | NEW} -> PROCESSED | FAILED.
type Ingestor struct {
	store     kvstore.Store
	verifiers map[string]Verifier
	handlers  map[CanonicalType]HandlerFunc
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestor wires verifiers and the canonical handler registry over the
// dedup store.
func NewIngestor(store kvstore.Store, verifiers map[string]Verifier, handlers map[CanonicalType]HandlerFunc, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:     store,
		verifiers: verifiers,
		handlers:  handlers,
		logger:    logger,
		now:       time.Now,
	}
}

// Receivers lists the providers with configured webhook receivers.
func (i *Ingestor) Receivers() []string {
	out := make([]string, 0, len(i.verifiers))
	for p := range i.verifiers {
		out = append(out, p)
	}
	return out
}

// Process ingests one delivery. Signature failures and handler failures are
// errors (401 and 500 respectively at the HTTP layer); duplicates and
// unknown event types are acknowledged successes.
func (i *Ingestor) Process(ctx context.Context, provider string, body []byte, header http.Header) (*Receipt, error) {
	start := i.now()

	verifier, ok := i.verifiers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReceiver, provider)
	}

	eventID, err := verifier.Verify(body, header)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			monitoring.WebhooksRejected.Add(ctx, 1,
				metric.WithAttributes(attribute.String("provider", provider)))
			return nil, err
		}
		return nil, err
	}

	// Single atomic check-and-mark. Two concurrent redeliveries can still
	// interleave with handler failure cleanup, which is why handlers stay
	// internally idempotent.
	dedupKey := fmt.Sprintf("webhook:dedup:%s:%s", provider, eventID)
	fresh, err := i.store.SetNX(ctx, dedupKey, "1", DedupTTL)
	if err != nil {
		return nil, fmt.Errorf("dedup store: %w", err)
	}
	if !fresh {
		i.logger.Info("webhook already processed",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
		)
		i.recordMetrics(ctx, provider, "duplicate", "duplicate", start)
		return &Receipt{Status: "already_processed", ExternalEventID: eventID}, nil
	}

	event, known, err := Normalize(Event{Provider: provider, Raw: body, ReceivedAt: start})
	if err != nil {
		// Verified but unparseable; clear the mark so a corrected redelivery
		// is not swallowed as a duplicate.
		i.unmark(ctx, dedupKey)
		return nil, err
	}

	if !known {
		i.storeUnknown(ctx, provider, event)
		i.recordMetrics(ctx, provider, event.ProviderType, "unknown", start)
		return &Receipt{Status: "success", ExternalEventID: eventID}, nil
	}

	handler, ok := i.handlers[event.Canonical]
	if !ok {
		i.storeUnknown(ctx, provider, event)
		i.recordMetrics(ctx, provider, event.ProviderType, "unknown", start)
		return &Receipt{Status: "success", ExternalEventID: eventID}, nil
	}

	if err := handler(ctx, event); err != nil {
		// Surface as 500 so the provider redelivers; drop the mark so the
		// redelivery is actually reprocessed.
		i.unmark(ctx, dedupKey)
		i.logger.Error("webhook handler failed",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
			zap.String("canonical_type", string(event.Canonical)),
			zap.ByteString("payload", body),
			zap.Error(err),
		)
		i.recordMetrics(ctx, provider, event.ProviderType, "failed", start)
		return nil, &HandlerError{Provider: provider, EventID: eventID, Canonical: event.Canonical, Err: err}
	}

	i.recordMetrics(ctx, provider, event.ProviderType, "processed", start)
	return &Receipt{Status: "success", ExternalEventID: eventID, Canonical: event.Canonical}, nil
}

func (i *Ingestor) unmark(ctx context.Context, dedupKey string) {
	if err := i.store.Delete(ctx, dedupKey); err != nil {
		i.logger.Warn("failed to clear dedup mark", zap.String("key", dedupKey), zap.Error(err))
	}
}

func (i *Ingestor) storeUnknown(ctx context.Context, provider string, event *NormalizedEvent) {
	i.logger.Warn("unknown webhook event type",
		zap.String("provider", provider),
		zap.String("event_type", event.ProviderType),
		zap.String("event_id", event.ExternalEventID),
	)
	entry, _ := json.Marshal(map[string]any{
		"provider":    provider,
		"event_type":  event.ProviderType,
		"event_id":    event.ExternalEventID,
		"received_at": event.ReceivedAt,
	})
	if err := i.store.SortedAppend(ctx, "webhook:unknown", float64(event.ReceivedAt.UnixMilli()), string(entry)); err != nil {
		i.logger.Warn("failed to store unknown event", zap.Error(err))
	}
}

// recordMetrics appends the processed-event sample to the KV aggregate and
// the time-ordered event log, and to the otel instruments.
func (i *Ingestor) recordMetrics(ctx context.Context, provider, eventType, status string, start time.Time) {
	elapsed := i.now().Sub(start)

	monitoring.WebhooksReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	monitoring.WebhookDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
	))

	if _, err := i.store.Incr(ctx, fmt.Sprintf("webhook:metrics:%s:%s:%s", provider, eventType, status)); err != nil {
		i.logger.Warn("failed to increment webhook metrics", zap.Error(err))
	}
	entry, _ := json.Marshal(map[string]any{
		"provider":         provider,
		"eventType":        eventType,
		"processingTimeMs": elapsed.Milliseconds(),
		"status":           status,
	})
	if err := i.store.SortedAppend(ctx, "webhook:events", float64(start.UnixMilli()), string(entry)); err != nil {
		i.logger.Warn("failed to append webhook event log", zap.Error(err))
	}
}
