package billing

import (
	"context"
	"time"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"

	"go.uber.org/zap"
)

// snapshotFields derives every cached subscription column from a live Stripe
// subscription. The result is a full overwrite: applying it twice is a no-op.
func (s *Service) snapshotFields(acct *accounts.Account, sub *billing.Subscription) map[string]interface{} {
	premium := billing.IsPremiumStatus(sub.Status)

	interval := sub.Interval
	if interval == "" {
		interval, _ = s.catalog.PlanForPrice(sub.PriceID)
	}

	fields := map[string]interface{}{
		accounts.FieldProviderSubscriptionID:         sub.ID,
		accounts.FieldSubscriptionStatus:             sub.Status,
		accounts.FieldSubscriptionPriceID:            nullString(sub.PriceID),
		accounts.FieldSubscriptionInterval:           nullString(interval),
		accounts.FieldSubscriptionCancelAtPeriodEnd:  cancelsAtPeriodEnd(sub),
		accounts.FieldSubscriptionCurrentPeriodStart: nullTime(sub.CurrentPeriodStart),
		accounts.FieldSubscriptionCurrentPeriodEnd:   nullTime(sub.CurrentPeriodEnd),
		accounts.FieldSubscriptionScheduleID:         nullString(sub.ScheduleID),
		accounts.FieldPremium:                        premium,
	}
	if sub.CustomerID != "" {
		fields[accounts.FieldProviderCustomerID] = sub.CustomerID
	}
	if premium && (acct == nil || !acct.Premium) {
		fields[accounts.FieldPremiumSince] = s.now().UTC()
	}
	return fields
}

// persistSnapshot writes the derived snapshot merged with extra fields in one
// write.
func (s *Service) persistSnapshot(ctx context.Context, ref accounts.Ref, acct *accounts.Account, sub *billing.Subscription, extra map[string]interface{}) error {
	fields := s.snapshotFields(acct, sub)
	for k, v := range extra {
		fields[k] = v
	}
	if err := s.accounts.Update(ctx, ref, fields); err != nil {
		return billing.Internal("failed to store subscription", err)
	}
	s.log.Debug("subscription snapshot stored",
		zap.String("account", ref.String()),
		zap.String("subscription_id", sub.ID),
		zap.String("status", sub.Status),
	)
	return nil
}

// cancelsAtPeriodEnd also reports schedules that end the subscription at the
// period boundary, which Stripe exposes as cancel_at rather than the flag.
func cancelsAtPeriodEnd(sub *billing.Subscription) bool {
	if sub.CancelAtPeriodEnd {
		return true
	}
	return !sub.CancelAt.IsZero() && !sub.CurrentPeriodEnd.IsZero() && !sub.CancelAt.After(sub.CurrentPeriodEnd)
}

// scheduledChangeTookEffect reports whether the subscription now runs on the
// scheduled interval and has entered the period that starts at the switch.
func scheduledChangeTookEffect(acct *accounts.Account, sub *billing.Subscription) bool {
	if !acct.HasScheduledChange() {
		return false
	}
	interval := sub.Interval
	if interval != *acct.SubscriptionScheduledInterval {
		return false
	}
	if acct.SubscriptionScheduledAt == nil {
		return true
	}
	return !sub.CurrentPeriodStart.Before(*acct.SubscriptionScheduledAt)
}

// scheduledTo reports whether a switch to plan is still staged on sub. A
// marker without a schedule behind it does not count.
func scheduledTo(acct *accounts.Account, sub *billing.Subscription, plan string) bool {
	return acct.HasScheduledChange() && *acct.SubscriptionScheduledInterval == plan && sub.ScheduleID != ""
}

func clearScheduledChange(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields[accounts.FieldSubscriptionScheduledInterval] = nil
	fields[accounts.FieldSubscriptionScheduledAt] = nil
	return fields
}

func clearPendingUpgrade(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields[accounts.FieldPendingUpgradePaymentIntentID] = nil
	fields[accounts.FieldPendingUpgradePlan] = nil
	fields[accounts.FieldPendingUpgradeSwitchAt] = nil
	fields[accounts.FieldPendingUpgradeCreatedAt] = nil
	return fields
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
