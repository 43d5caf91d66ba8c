package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"
	"billing-app/internal/domain/plans"

	"go.uber.org/zap"
)

// pendingUpgradeTTL is how long an unpaid upgrade intent holds off other
// plan changes before it counts as abandoned.
const pendingUpgradeTTL = 24 * time.Hour

// errUpgradeMismatch marks an upgrade payment that does not match the
// account's pending upgrade.
var errUpgradeMismatch = errors.New("payment intent does not match pending upgrade")

// CreateUpgradePaymentIntent charges the target plan up front and records the
// pending upgrade. The plan change itself runs once the charge succeeds.
func (s *Service) CreateUpgradePaymentIntent(ctx context.Context, caller Caller, plan string, startAt *time.Time) (*PaymentIntentResult, error) {
	plan, targetPrice, err := s.priceFor(plan)
	if err != nil {
		return nil, err
	}
	ref, acct, p, err := s.loadSubscribed(ctx, caller)
	if err != nil {
		return nil, err
	}

	sub, err := p.GetSubscription(ctx, acct.SubscriptionID())
	if err != nil {
		return nil, err
	}
	if scheduledTo(acct, sub, plan) {
		return nil, billing.FailedPrecondition("a switch to the %s plan is already scheduled", plan)
	}
	if sub.PriceID == targetPrice {
		return nil, billing.FailedPrecondition("subscription is already on the %s plan", plan)
	}
	if !billing.IsPremiumStatus(sub.Status) {
		return nil, billing.FailedPrecondition("subscription is %s, upgrades need an active subscription", sub.Status)
	}

	switchAt, err := billing.ResolveSwitchAt(sub.CurrentPeriodEnd, startAt, s.now())
	if err != nil {
		return nil, err
	}
	price, err := p.GetPrice(ctx, targetPrice)
	if err != nil {
		return nil, err
	}
	if price.UnitAmount <= 0 {
		return nil, billing.FailedPrecondition("price %s has no unit amount", targetPrice)
	}

	md := accountMetadata(ref)
	md[billing.MetaKind] = billing.KindScheduledUpgrade
	md[billing.MetaPlan] = plan
	md[billing.MetaSwitchAt] = strconv.FormatInt(switchAt.Unix(), 10)
	md[billing.MetaSubscription] = sub.ID
	pi, err := p.CreatePaymentIntent(ctx, billing.PaymentIntentParams{
		Amount:           price.UnitAmount,
		Currency:         price.Currency,
		CustomerID:       acct.CustomerID(),
		ReceiptEmail:     acct.Email,
		SetupFutureUsage: "off_session",
		Metadata:         md,
	})
	if err != nil {
		return nil, err
	}

	// a newer intent replaces an abandoned one; the group is written whole
	if err := s.accounts.Update(ctx, ref, map[string]interface{}{
		accounts.FieldPendingUpgradePaymentIntentID: pi.ID,
		accounts.FieldPendingUpgradePlan:            plan,
		accounts.FieldPendingUpgradeSwitchAt:        switchAt,
		accounts.FieldPendingUpgradeCreatedAt:       s.now().UTC(),
	}); err != nil {
		return nil, billing.Internal("failed to store pending upgrade", err)
	}

	s.log.Info("upgrade payment intent created",
		zap.String("account", ref.String()),
		zap.String("payment_intent_id", pi.ID),
		zap.String("plan", plan),
		zap.Time("switch_at", switchAt),
	)
	return &PaymentIntentResult{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		SwitchAt:        &switchAt,
	}, nil
}

// ConfirmUpgradePayment is the client-driven completion of an upgrade. It
// races the payment_intent.succeeded webhook; whichever runs second is a no-op.
func (s *Service) ConfirmUpgradePayment(ctx context.Context, caller Caller, paymentIntentID, billingEmail string) (*PlanChangeResult, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, billing.InvalidArgument("paymentIntentId is required")
	}
	billingEmail, err := validateEmail(billingEmail)
	if err != nil {
		return nil, err
	}
	ref, acct, p, err := s.loadSubscribed(ctx, caller)
	if err != nil {
		return nil, err
	}

	pi, err := p.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if pi.CustomerID != acct.CustomerID() {
		return nil, billing.PermissionDenied("payment intent belongs to a different account")
	}
	if pi.Metadata[billing.MetaKind] != billing.KindScheduledUpgrade {
		return nil, billing.InvalidArgument("payment intent is not an upgrade payment")
	}
	if pi.Status != billing.PaymentIntentSucceeded {
		return nil, billing.FailedPrecondition("upgrade payment is %s", pi.Status)
	}
	if billingEmail != "" {
		if err := p.SetPaymentIntentReceiptEmail(ctx, pi.ID, billingEmail); err != nil {
			return nil, err
		}
	}

	res, err := s.completeUpgrade(ctx, p, ref, acct, pi)
	if errors.Is(err, errUpgradeMismatch) {
		return nil, billing.FailedPrecondition("payment does not match the pending upgrade")
	}
	return res, err
}

// completeUpgrade applies a succeeded upgrade payment at most once. The plan
// change engine runs only when the plan is not in place yet; the pending
// group is cleared and the intent stamped on every non-replay path.
func (s *Service) completeUpgrade(ctx context.Context, p billing.Provider, ref accounts.Ref, acct *accounts.Account, pi *billing.PaymentIntent) (*PlanChangeResult, error) {
	plan, err := plans.Normalize(pi.Metadata[billing.MetaPlan])
	if err != nil {
		return nil, errUpgradeMismatch
	}

	if !acct.HasPendingUpgrade() && deref(acct.LastUpgradePaymentIntentID) == pi.ID {
		s.log.Debug("upgrade already completed",
			zap.String("account", ref.String()),
			zap.String("payment_intent_id", pi.ID),
		)
		res := &PlanChangeResult{Status: deref(acct.SubscriptionStatus), Plan: plan}
		if acct.SubscriptionScheduledAt != nil {
			res.SwitchAt = *acct.SubscriptionScheduledAt
		}
		return res, nil
	}
	if !acct.HasPendingUpgrade() || *acct.PendingUpgradePaymentIntentID != pi.ID || deref(acct.PendingUpgradePlan) != plan {
		return nil, errUpgradeMismatch
	}

	switchAt := upgradeSwitchAt(acct, pi)
	status := deref(acct.SubscriptionStatus)

	applied := deref(acct.SubscriptionInterval) == plan ||
		(deref(acct.SubscriptionScheduledInterval) == plan &&
			acct.SubscriptionScheduledAt != nil && acct.SubscriptionScheduledAt.Equal(switchAt))

	fields := clearPendingUpgrade(nil)
	if !applied {
		targetPrice, err := s.catalog.PriceID(plan)
		if err != nil {
			return nil, billing.FailedPrecondition("plan %s is not configured", plan)
		}
		sub, err := p.GetSubscription(ctx, acct.SubscriptionID())
		if err != nil {
			return nil, err
		}
		// the charge may settle after the requested switch time
		if !switchAt.After(s.now()) {
			if switchAt, err = billing.ResolveSwitchAt(sub.CurrentPeriodEnd, nil, s.now()); err != nil {
				return nil, err
			}
		}
		fresh, err := s.applyPlanChange(ctx, p, ref, acct, sub, plan, targetPrice, switchAt)
		if err != nil {
			return nil, err
		}
		status = fresh.Status
	} else if acct.SubscriptionScheduledAt != nil && deref(acct.SubscriptionScheduledInterval) == plan {
		switchAt = *acct.SubscriptionScheduledAt
	}

	fields[accounts.FieldLastUpgradePaymentIntentID] = pi.ID
	fields[accounts.FieldLastUpgradePaymentIntentAt] = s.now().UTC()
	if err := s.accounts.Update(ctx, ref, fields); err != nil {
		return nil, billing.Internal("failed to clear pending upgrade", err)
	}

	s.log.Info("upgrade completed",
		zap.String("account", ref.String()),
		zap.String("payment_intent_id", pi.ID),
		zap.String("plan", plan),
		zap.Bool("already_applied", applied),
	)
	return &PlanChangeResult{Status: status, Plan: plan, SwitchAt: switchAt}, nil
}

// settlePendingUpgrade checks a pending upgrade against Stripe and reports
// whether it is still in flight. A succeeded charge is completed. A canceled
// or missing intent clears the group; so does an unpaid one older than
// pendingUpgradeTTL, or of any age when abandon is set, after canceling it on
// Stripe. The returned account reflects what was written.
func (s *Service) settlePendingUpgrade(ctx context.Context, p billing.Provider, ref accounts.Ref, acct *accounts.Account, abandon bool) (*accounts.Account, bool, error) {
	if !acct.HasPendingUpgrade() {
		return acct, false, nil
	}
	id := *acct.PendingUpgradePaymentIntentID
	log := s.log.With(zap.String("account", ref.String()), zap.String("payment_intent_id", id))

	pi, err := p.GetPaymentIntent(ctx, id)
	if err != nil && billing.CodeOf(err) != billing.CodeNotFound {
		return nil, false, err
	}
	if pi != nil {
		switch pi.Status {
		case billing.PaymentIntentSucceeded:
			if _, err := s.completeUpgrade(ctx, p, ref, acct, pi); err != nil && !errors.Is(err, errUpgradeMismatch) {
				return nil, false, err
			}
			return s.reload(ctx, ref)
		case billing.PaymentIntentProcessing:
			return acct, true, nil
		case billing.PaymentIntentCanceled:
		default:
			stale := acct.PendingUpgradeCreatedAt == nil || !s.now().Before(acct.PendingUpgradeCreatedAt.Add(pendingUpgradeTTL))
			if !abandon && !stale {
				return acct, true, nil
			}
			if err := p.CancelPaymentIntent(ctx, pi.ID); err != nil {
				return nil, false, err
			}
		}
	}

	if err := s.accounts.Update(ctx, ref, clearPendingUpgrade(nil)); err != nil {
		return nil, false, billing.Internal("failed to clear pending upgrade", err)
	}
	log.Info("abandoned upgrade cleared", zap.Bool("requested", abandon))
	return s.reload(ctx, ref)
}

func (s *Service) reload(ctx context.Context, ref accounts.Ref) (*accounts.Account, bool, error) {
	acct, err := s.accounts.Get(ctx, ref)
	if err != nil {
		return nil, false, billing.Internal("account store unavailable", err)
	}
	return acct, false, nil
}

// upgradeSwitchAt prefers the stored switch time and falls back to the one
// stamped on the intent.
func upgradeSwitchAt(acct *accounts.Account, pi *billing.PaymentIntent) time.Time {
	if acct.PendingUpgradeSwitchAt != nil {
		return acct.PendingUpgradeSwitchAt.UTC()
	}
	if v, err := strconv.ParseInt(pi.Metadata[billing.MetaSwitchAt], 10, 64); err == nil && v > 0 {
		return time.Unix(v, 0).UTC()
	}
	return time.Time{}
}
