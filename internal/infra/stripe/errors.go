package stripe

import (
	"errors"
	"net/http"
	"strings"

	"billing-app/internal/domain/billing"

	stripego "github.com/stripe/stripe-go/v75"
)

// normalize maps a stripe-go failure onto the billing error taxonomy.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *stripego.Error
	if !errors.As(err, &se) {
		return billing.Internal("stripe "+op+" failed", err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized:
		return &billing.Error{
			Code:    billing.CodeFailedPrecondition,
			Message: "Stripe rejected the API key; check STRIPE_SECRET_KEY",
			Err:     err,
		}
	case se.Code == stripego.ErrorCodeResourceMissing:
		return &billing.Error{Code: billing.CodeNotFound, Message: se.Msg, Err: err}
	}
	msg := se.Msg
	if msg == "" {
		msg = "stripe " + op + " failed"
	}
	return billing.Internal(msg, err)
}

func alreadyAttached(err error) bool {
	var se *stripego.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == stripego.ErrorCodeResourceAlreadyExists ||
		strings.Contains(strings.ToLower(se.Msg), "already been attached")
}
