package event_verifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/fx"
)

// SignatureHeader is the header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

// VerificationError rejects an inbound event at the boundary. Nothing past
// the verifier ever sees the request.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "webhook verification failed: " + e.Reason
	}
	return fmt.Sprintf("webhook verification failed: %s: %v", e.Reason, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Verifier checks Stripe signatures and decodes events. It holds no state
// besides the timestamp tolerance and is safe for concurrent use.
type Verifier struct {
	tolerance time.Duration
}

func New() *Verifier {
	return &Verifier{tolerance: webhook.DefaultTolerance}
}

// Verify authenticates rawBody against signatureHeader using secret and
// decodes it. Every failure is a *VerificationError.
func (v *Verifier) Verify(rawBody []byte, signatureHeader, secret string) (*VerifiedEvent, error) {
	if secret == "" {
		return nil, &VerificationError{Reason: "signing secret not configured"}
	}
	if signatureHeader == "" {
		return nil, &VerificationError{Reason: "missing " + SignatureHeader + " header"}
	}

	ev, err := webhook.ConstructEventWithOptions(rawBody, signatureHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &VerificationError{Reason: reasonFor(err), Err: err}
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, &VerificationError{Reason: "event id or type missing"}
	}

	payload, err := decodePayload(&ev)
	if err != nil {
		return nil, &VerificationError{Reason: "malformed event object", Err: err}
	}
	return &VerifiedEvent{
		ID:       ev.ID,
		Type:     string(ev.Type),
		Created:  unix(ev.Created),
		Livemode: ev.Livemode,
		Account:  ev.Account,
		Raw:      rawBody,
		Payload:  payload,
	}, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, webhook.ErrNotSigned):
		return "missing signature"
	case errors.Is(err, webhook.ErrInvalidHeader):
		return "invalid signature header"
	case errors.Is(err, webhook.ErrNoValidSignature):
		return "signature mismatch"
	case errors.Is(err, webhook.ErrTooOld):
		return "timestamp outside tolerance"
	default:
		return "malformed payload"
	}
}

// IsKnown reports whether the event decoded to a handled variant.
func (e *VerifiedEvent) IsKnown() bool {
	_, unknown := e.Payload.(*Unknown)
	return !unknown
}

// String is used in logs.
func (e *VerifiedEvent) String() string {
	return e.Type + "/" + e.ID
}

var Module = fx.Options(
	fx.Provide(New),
)
