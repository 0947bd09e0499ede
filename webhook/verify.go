package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// ErrSignatureInvalid rejects a delivery whose signature does not match the
// shared secret. Re-POSTing the same payload will fail the same way; the
// operator has to fix the secret.
var ErrSignatureInvalid = errors.New("invalid webhook signature")

// Verifier authenticates a raw delivery and returns the provider's external
// event id.
type Verifier interface {
	Verify(body []byte, header http.Header) (externalEventID string, err error)
}

// StripeVerifier delegates signature and timestamp verification to the
// Stripe SDK.
type StripeVerifier struct {
	Secret string
}

func (v StripeVerifier) Verify(body []byte, header http.Header) (string, error) {
	event, err := stripewebhook.ConstructEvent(body, header.Get("Stripe-Signature"), v.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return event.ID, nil
}

// HMACVerifier checks a hex HMAC-SHA256 over the exact received body, as
// Conekta and dLocal document, then pulls the event id out of the payload.
type HMACVerifier struct {
	Secret string
	// Header carries the hex signature, optionally prefixed "sha256=".
	Header string
	// IDFields are tried in order to locate the external event id.
	IDFields []string
}

func (v HMACVerifier) Verify(body []byte, header http.Header) (string, error) {
	sig := strings.TrimPrefix(header.Get(v.Header), "sha256=")
	if sig == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrSignatureInvalid, v.Header)
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", ErrSignatureInvalid
	}

	id, err := extractEventID(body, v.IDFields)
	if err != nil {
		return "", err
	}
	return id, nil
}

func extractEventID(body []byte, fields []string) (string, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parse webhook payload: %w", err)
	}
	for _, f := range fields {
		raw, ok := payload[f]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("webhook payload has no event id (tried %v)", fields)
}
