package bank

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"event-ticketing/internal/status"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw notification body.
const SignatureHeader = "X-Signature"

// Verifier authenticates a settlement notification before it is allowed to
// confirm a payment.
type Verifier interface {
	Verify(ctx context.Context, body []byte, signature string) error
}

// HMACVerifier checks notifications signed with a secret shared with the
// gateway. With no secret configured every notification is rejected.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, body []byte, signature string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no webhook secret configured", status.ErrUnverifiedWebhook)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", status.ErrUnverifiedWebhook, SignatureHeader)
	}
	received, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: malformed signature", status.ErrUnverifiedWebhook)
	}
	if !hmac.Equal(mac(body, v.secret), received) {
		return status.ErrUnverifiedWebhook
	}
	return nil
}

// Sign returns the signature the gateway is expected to send for body.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(mac(body, []byte(secret)))
}

func mac(body, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(body)
	return h.Sum(nil)
}
