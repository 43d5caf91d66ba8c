package billing

import (
	"context"
	"strings"

	"billing-app/internal/domain/billing"

	"go.uber.org/zap"
)

// ConfirmPaymentInput carries the client's confirmation of a subscription
// checkout that used a setup intent instead of an immediate charge.
type ConfirmPaymentInput struct {
	PaymentMethodID string
	SubscriptionID  string
	BillingEmail    string
}

// ConfirmSubscriptionPayment binds the payment method to the customer and the
// subscription, settles the pending invoice and re-reads the subscription.
// Finalize and pay run once each; a failure is returned, not retried.
func (s *Service) ConfirmSubscriptionPayment(ctx context.Context, caller Caller, in ConfirmPaymentInput) (*StatusResult, error) {
	pmID := strings.TrimSpace(in.PaymentMethodID)
	if pmID == "" {
		return nil, billing.InvalidArgument("paymentMethodId is required")
	}
	billingEmail, err := validateEmail(in.BillingEmail)
	if err != nil {
		return nil, err
	}

	ref, acct, p, err := s.loadCustomer(ctx, caller)
	if err != nil {
		return nil, err
	}
	customerID := acct.CustomerID()

	subID := strings.TrimSpace(in.SubscriptionID)
	if subID == "" {
		subID = acct.SubscriptionID()
	}
	if subID == "" {
		return nil, billing.FailedPrecondition("no subscription linked to this account")
	}

	sub, err := p.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.CustomerID != customerID {
		return nil, billing.PermissionDenied("subscription belongs to a different account")
	}

	pm, err := p.GetPaymentMethod(ctx, pmID)
	if err != nil {
		return nil, err
	}
	if pm.CustomerID != "" && pm.CustomerID != customerID {
		return nil, billing.PermissionDenied("payment method belongs to a different account")
	}

	if err := p.AttachPaymentMethod(ctx, pmID, customerID); err != nil {
		return nil, err
	}
	if err := p.SetCustomerDefaultPaymentMethod(ctx, customerID, pmID); err != nil {
		return nil, err
	}
	sub, err = p.UpdateSubscription(ctx, sub.ID, billing.SubscriptionUpdate{DefaultPaymentMethod: &pmID})
	if err != nil {
		return nil, err
	}

	if invoiceID := sub.LatestInvoiceID(); invoiceID != "" {
		inv, err := p.GetInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		if billingEmail != "" && inv.PaymentIntent != nil {
			if err := p.SetPaymentIntentReceiptEmail(ctx, inv.PaymentIntent.ID, billingEmail); err != nil {
				return nil, err
			}
		}
		if inv.Status == billing.InvoiceDraft {
			if inv, err = p.FinalizeInvoice(ctx, inv.ID); err != nil {
				return nil, err
			}
		}
		if inv.Status == billing.InvoiceOpen {
			if inv, err = p.PayInvoice(ctx, inv.ID, pmID); err != nil {
				return nil, err
			}
		}
		s.log.Info("subscription invoice settled",
			zap.String("account", ref.String()),
			zap.String("invoice_id", inv.ID),
			zap.String("invoice_status", inv.Status),
		)
	}

	fresh, err := p.GetSubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if err := s.persistSnapshot(ctx, ref, acct, fresh, nil); err != nil {
		return nil, err
	}
	return statusOf(fresh), nil
}
