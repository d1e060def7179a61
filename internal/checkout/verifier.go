package checkout

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	EventSessionCompleted = string(stripe.EventTypeCheckoutSessionCompleted)
	EventSessionExpired   = string(stripe.EventTypeCheckoutSessionExpired)
	// Delayed payment methods (SEPA debit and similar) complete unpaid and
	// settle later through one of these.
	EventSessionAsyncPaymentSucceeded = string(stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded)
	EventSessionAsyncPaymentFailed    = string(stripe.EventTypeCheckoutSessionAsyncPaymentFailed)
)

func carriesSession(eventType string) bool {
	switch eventType {
	case EventSessionCompleted, EventSessionExpired, EventSessionAsyncPaymentSucceeded, EventSessionAsyncPaymentFailed:
		return true
	}
	return false
}

type Event struct {
	ID   string
	Type string
	// SessionID is set for checkout.session.* events.
	SessionID string
}

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// VerifyEvent checks the signature header against the raw payload and decodes
// the event envelope. Any failure is ErrInvalidSignature.
func (v *Verifier) VerifyEvent(payload []byte, header string) (Event, error) {
	if v.secret == "" {
		return Event{}, errors.Wrap(domain.ErrInvalidSignature, "webhook secret not configured")
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Wrapf(domain.ErrInvalidSignature, "%v", err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if carriesSession(out.Type) && ev.Data != nil {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil || obj.ID == "" {
			return Event{}, errors.Wrapf(domain.ErrMissingMetadata, "event %s carries no session id", ev.ID)
		}
		out.SessionID = obj.ID
	}
	return out, nil
}
