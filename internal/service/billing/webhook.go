package billing

import (
	"context"
	"errors"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"

	"go.uber.org/zap"
)

// HandleEvent reconciles the account behind a verified event. Every branch is
// safe to re-run: a returned error makes Stripe redeliver the event.
func (s *Service) HandleEvent(ctx context.Context, ev billing.Event) error {
	p, err := s.stripe()
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	switch ev.Type {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		if ev.Subscription == nil || ev.Subscription.ID == "" {
			return errors.New("subscription event without subscription")
		}
		return s.onSubscriptionEvent(ctx, p, log, ev.Subscription)
	case billing.EventPaymentIntentSucceeded:
		if ev.PaymentIntent == nil || ev.PaymentIntent.ID == "" {
			return errors.New("payment intent event without payment intent")
		}
		return s.onPaymentIntentSucceeded(ctx, p, log, ev.PaymentIntent)
	case billing.EventInvoicePaid, billing.EventInvoicePaymentSucceeded, billing.EventInvoicePaymentFailed:
		if ev.Invoice == nil || ev.Invoice.ID == "" {
			return errors.New("invoice event without invoice")
		}
		return s.onInvoiceEvent(ctx, p, log, ev.Type, ev.Invoice)
	}
	log.Debug("event ignored")
	return nil
}

func (s *Service) onSubscriptionEvent(ctx context.Context, p billing.Provider, log *zap.Logger, in *billing.Subscription) error {
	acct, err := s.accountFor(ctx, in.Metadata, in.CustomerID)
	if err != nil {
		return err
	}
	if acct == nil {
		log.Warn("no account for subscription", zap.String("subscription_id", in.ID), zap.String("customer_id", in.CustomerID))
		return nil
	}

	// the event payload can be stale by the time it arrives
	sub, err := p.GetSubscription(ctx, in.ID)
	if err != nil {
		return err
	}
	if err := s.reconcile(ctx, log, acct, sub); err != nil {
		return err
	}

	if id := sub.LatestInvoiceID(); id != "" {
		inv, err := p.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.SendSubscriptionEmailIfNeeded(ctx, acct.Ref(), inv); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onPaymentIntentSucceeded(ctx context.Context, p billing.Provider, log *zap.Logger, pi *billing.PaymentIntent) error {
	if pi.Metadata[billing.MetaKind] == billing.KindScheduledUpgrade {
		acct, err := s.accountFor(ctx, pi.Metadata, pi.CustomerID)
		if err != nil {
			return err
		}
		switch {
		case acct == nil:
			log.Warn("no account for upgrade payment", zap.String("payment_intent_id", pi.ID))
		case acct.SubscriptionID() == "":
			log.Warn("upgrade payment for account without subscription", zap.String("account", acct.Ref().String()))
		default:
			_, err := s.completeUpgrade(ctx, p, acct.Ref(), acct, pi)
			if errors.Is(err, errUpgradeMismatch) {
				log.Warn("upgrade payment does not match pending upgrade",
					zap.String("account", acct.Ref().String()),
					zap.String("payment_intent_id", pi.ID),
				)
			} else if err != nil {
				return err
			}
		}
	}

	inv, err := s.invoiceForPaymentIntent(ctx, p, pi)
	if err != nil {
		return err
	}
	if inv == nil {
		return nil
	}
	acct, err := s.accountFor(ctx, pi.Metadata, inv.CustomerID)
	if err != nil {
		return err
	}
	if acct == nil {
		return nil
	}
	_, err = s.SendSubscriptionEmailIfNeeded(ctx, acct.Ref(), inv)
	return err
}

func (s *Service) onInvoiceEvent(ctx context.Context, p billing.Provider, log *zap.Logger, eventType string, in *billing.Invoice) error {
	var acct *accounts.Account
	var err error
	if in.SubscriptionID != "" {
		sub, err := p.GetSubscription(ctx, in.SubscriptionID)
		if err != nil {
			return err
		}
		acct, err = s.accountFor(ctx, sub.Metadata, sub.CustomerID)
		if err != nil {
			return err
		}
		if acct != nil {
			if err := s.reconcile(ctx, log, acct, sub); err != nil {
				return err
			}
		}
	}
	if acct == nil {
		if acct, err = s.accountFor(ctx, nil, in.CustomerID); err != nil {
			return err
		}
	}
	if acct == nil {
		log.Warn("no account for invoice", zap.String("invoice_id", in.ID), zap.String("customer_id", in.CustomerID))
		return nil
	}

	if eventType == billing.EventInvoicePaymentFailed {
		return nil
	}
	inv, err := p.GetInvoice(ctx, in.ID)
	if err != nil {
		return err
	}
	_, err = s.SendSubscriptionEmailIfNeeded(ctx, acct.Ref(), inv)
	return err
}

// reconcile persists the snapshot of sub and clears a scheduled change once
// Stripe shows it in effect, or once no schedule backs it any more (released
// from the dashboard or portal, or completed). A terminal subscription that
// was already replaced on the account is left alone.
func (s *Service) reconcile(ctx context.Context, log *zap.Logger, acct *accounts.Account, sub *billing.Subscription) error {
	if current := acct.SubscriptionID(); current != "" && current != sub.ID && billing.IsTerminalStatus(sub.Status) {
		log.Info("skipping terminal subscription that is not current",
			zap.String("account", acct.Ref().String()),
			zap.String("subscription_id", sub.ID),
			zap.String("current_subscription_id", current),
		)
		return nil
	}

	var extra map[string]interface{}
	switch {
	case scheduledChangeTookEffect(acct, sub) || (acct.HasScheduledChange() && billing.IsTerminalStatus(sub.Status)):
		extra = clearScheduledChange(extra)
		log.Info("scheduled plan change settled",
			zap.String("account", acct.Ref().String()),
			zap.String("subscription_id", sub.ID),
			zap.String("interval", sub.Interval),
		)
	case acct.HasScheduledChange() && sub.ScheduleID == "":
		extra = clearScheduledChange(extra)
		log.Info("scheduled plan change dropped, subscription has no schedule",
			zap.String("account", acct.Ref().String()),
			zap.String("subscription_id", sub.ID),
			zap.String("scheduled_interval", *acct.SubscriptionScheduledInterval),
		)
	}
	return s.persistSnapshot(ctx, acct.Ref(), acct, sub, extra)
}

// accountFor resolves the owner of a Stripe object from its metadata, falling
// back to the customer id.
func (s *Service) accountFor(ctx context.Context, md map[string]string, customerID string) (*accounts.Account, error) {
	if ref, ok := refFromMetadata(md); ok {
		acct, err := s.accounts.Get(ctx, ref)
		if err != nil {
			return nil, billing.Internal("account store unavailable", err)
		}
		if acct != nil {
			return acct, nil
		}
	}
	acct, err := s.accounts.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, billing.Internal("account store unavailable", err)
	}
	return acct, nil
}

// invoiceForPaymentIntent finds the invoice a payment intent paid, scanning
// the customer's recent invoices when the intent does not reference one.
func (s *Service) invoiceForPaymentIntent(ctx context.Context, p billing.Provider, pi *billing.PaymentIntent) (*billing.Invoice, error) {
	if pi.InvoiceID != "" {
		return p.GetInvoice(ctx, pi.InvoiceID)
	}
	if pi.CustomerID == "" {
		return nil, nil
	}
	recent, err := p.ListInvoices(ctx, pi.CustomerID, 10)
	if err != nil {
		return nil, err
	}
	for _, inv := range recent {
		if inv.PaymentIntent != nil && inv.PaymentIntent.ID == pi.ID {
			return p.GetInvoice(ctx, inv.ID)
		}
	}
	return nil, nil
}
