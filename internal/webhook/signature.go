// Package webhook implements the Stripe webhook pipeline: signature
// verification, event dispatch, account resolution, and the per-event
// reconciliation of subscription state.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/admitly/backend/internal/models"
)

var (
	// ErrSignatureInvalid is returned when the signature header is absent,
	// no digest matches, or the signed timestamp falls outside the replay
	// tolerance window.
	ErrSignatureInvalid = errors.New("webhook: invalid signature")

	// ErrMalformedPayload is returned when a correctly signed body is not a
	// valid event envelope. The signature covers bytes, not semantics.
	ErrMalformedPayload = errors.New("webhook: malformed payload")
)

// DefaultTolerance bounds how old a signed timestamp may be before the
// delivery is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// ConstructEvent authenticates the raw request body against the
// Stripe-Signature header and parses it into an event envelope. The header
// has the form "t=<unix-seconds>,v1=<hex-hmac-sha256>"; the digest is
// HMAC-SHA256(secret, "<t>.<raw-body>") over the exact bytes received.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (models.StripeEvent, error) {
	var event models.StripeEvent

	if sigHeader == "" || secret == "" {
		return event, ErrSignatureInvalid
	}

	timestamp, digests, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return event, err
	}

	if tolerance > 0 && time.Since(time.Unix(timestamp, 0)) > tolerance {
		return event, ErrSignatureInvalid
	}

	expected := computeSignature(timestamp, payload, secret)
	matched := false
	for _, digest := range digests {
		supplied, err := hex.DecodeString(digest)
		if err != nil {
			continue
		}
		if hmac.Equal(supplied, expected) {
			matched = true
		}
	}
	if !matched {
		return event, ErrSignatureInvalid
	}

	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return event, nil
}

// Signature computes the hex digest for the given timestamp and payload.
// Exposed so callers (and tests) can produce valid signature headers.
func Signature(timestamp int64, payload []byte, secret string) string {
	return hex.EncodeToString(computeSignature(timestamp, payload, secret))
}

func computeSignature(timestamp int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// parseSignatureHeader extracts the timestamp and every v1 digest from the
// header. Unknown schemes are skipped for forward compatibility.
func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		timestamp int64
		haveTS    bool
		digests   []string
	)

	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return 0, nil, ErrSignatureInvalid
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrSignatureInvalid
			}
			timestamp = ts
			haveTS = true
		case "v1":
			digests = append(digests, value)
		}
	}

	if !haveTS || len(digests) == 0 {
		return 0, nil, ErrSignatureInvalid
	}

	return timestamp, digests, nil
}
