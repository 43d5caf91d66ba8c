package stripe

import (
	"encoding/json"
	"fmt"

	"billing-app/internal/domain/billing"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

// ErrSignature is returned when the payload does not verify against the
// endpoint secret.
type ErrSignature struct{ Err error }

func (e *ErrSignature) Error() string { return "stripe signature: " + e.Err.Error() }
func (e *ErrSignature) Unwrap() error { return e.Err }

// ParseEvent verifies a webhook delivery and decodes the object of the event
// types the processor handles. Other types come back with only ID and Type.
func ParseEvent(payload []byte, sigHeader, secret string) (billing.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return billing.Event{}, &ErrSignature{Err: err}
	}
	out := billing.Event{ID: ev.ID, Type: string(ev.Type)}
	if !billing.HandledEvent(out.Type) {
		return out, nil
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, fmt.Errorf("event %s has no data object", ev.ID)
	}

	switch out.Type {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripego.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return out, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = toSubscription(&sub)
	case billing.EventPaymentIntentSucceeded:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntent = toPaymentIntent(&pi)
	default:
		var inv stripego.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return out, fmt.Errorf("decode invoice: %w", err)
		}
		out.Invoice = toInvoice(&inv)
	}
	return out, nil
}
