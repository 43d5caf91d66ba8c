package billing

import (
	"context"
	"testing"
	"time"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"
	"billing-app/internal/domain/plans"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeSubscriptionPlan_MonthToYearAtPeriodEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	res, err := h.svc.ChangeSubscriptionPlan(ctx, caller, "year", nil)
	require.NoError(t, err)
	assert.True(t, res.SwitchAt.Equal(periodEnd))
	assert.Equal(t, plans.Year, res.Plan)

	upd := h.stripe.lastScheduleUpdate(t)
	assert.Equal(t, billing.EndBehaviorRelease, upd.EndBehavior)
	require.Len(t, upd.Phases, 2)
	assert.Equal(t, priceMonth, upd.Phases[0].PriceID)
	assert.True(t, upd.Phases[0].End.Equal(periodEnd))
	assert.Equal(t, billing.AnchorAutomatic, upd.Phases[0].BillingCycleAnchor)
	assert.Equal(t, priceYear, upd.Phases[1].PriceID)
	assert.True(t, upd.Phases[1].Start.Equal(periodEnd))
	assert.True(t, upd.Phases[1].End.IsZero())
	assert.Equal(t, billing.AnchorPhaseStart, upd.Phases[1].BillingCycleAnchor)
	for _, ph := range upd.Phases {
		assert.Equal(t, billing.ProrationNone, ph.ProrationBehavior)
	}

	acct := h.account(t, caller)
	require.NotNil(t, acct.SubscriptionScheduledInterval)
	assert.Equal(t, plans.Year, *acct.SubscriptionScheduledInterval)
	require.NotNil(t, acct.SubscriptionScheduledAt)
	assert.True(t, acct.SubscriptionScheduledAt.Equal(periodEnd))
	assert.NotNil(t, acct.SubscriptionScheduleID)

	// the renewal at the switch takes the year price
	h.clock = periodEnd.Add(time.Minute)
	h.stripe.rollover(subID)
	require.NoError(t, h.svc.HandleEvent(ctx, billing.Event{
		ID:           "evt_rollover",
		Type:         billing.EventSubscriptionUpdated,
		Subscription: h.stripe.subscription(subID),
	}))

	acct = h.account(t, caller)
	assert.Nil(t, acct.SubscriptionScheduledInterval)
	assert.Nil(t, acct.SubscriptionScheduledAt)
	assert.Equal(t, plans.Year, *acct.SubscriptionInterval)
	assert.Equal(t, priceYear, *acct.SubscriptionPriceID)
	assert.True(t, acct.Premium)
}

func TestChangeSubscriptionPlan_WebhookBeforeSwitchKeepsMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)

	_, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.HandleEvent(ctx, billing.Event{
		ID:           "evt_sched",
		Type:         billing.EventSubscriptionUpdated,
		Subscription: h.stripe.subscription(subID),
	}))

	acct := h.account(t, caller)
	require.NotNil(t, acct.SubscriptionScheduledInterval)
	assert.Equal(t, plans.Year, *acct.SubscriptionScheduledInterval)
}

func TestChangeSubscriptionPlan_SamePriceIsNoop(t *testing.T) {
	h := newHarness(t)
	caller, subID := h.subscribed(t, plans.Month)

	res, err := h.svc.ChangeSubscriptionPlan(context.Background(), caller, plans.Month, nil)
	require.NoError(t, err)
	assert.True(t, res.SwitchAt.Equal(h.stripe.subscription(subID).CurrentPeriodEnd))
	assert.Equal(t, 0, h.stripe.callCount("CreateScheduleFromSubscription"))
	assert.Equal(t, 0, h.stripe.callCount("UpdateSchedule"))
	assert.Nil(t, h.account(t, caller).SubscriptionScheduledInterval)
}

func TestChangeSubscriptionPlan_SupersedesCancelAtPeriodEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)

	res, err := h.svc.SetCancelAtPeriodEnd(ctx, caller, true)
	require.NoError(t, err)
	assert.True(t, res.CancelAtPeriodEnd)

	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)

	sub := h.stripe.subscription(subID)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.CancelAt.IsZero())
	upd := h.stripe.lastScheduleUpdate(t)
	assert.True(t, upd.Phases[1].End.IsZero())
	assert.False(t, h.account(t, caller).SubscriptionCancelAtPeriodEnd)
}

func TestChangeSubscriptionPlan_ExplicitStartAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	earlySameDay := periodEnd.Add(-time.Hour)
	res, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, &earlySameDay)
	require.NoError(t, err)
	assert.True(t, res.SwitchAt.Equal(periodEnd))
}

func TestChangeSubscriptionPlan_StartAtAfterPeriodEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	later := h.stripe.subscription(subID).CurrentPeriodEnd.Add(72 * time.Hour)

	res, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, &later)
	require.NoError(t, err)
	assert.True(t, res.SwitchAt.Equal(later))
	upd := h.stripe.lastScheduleUpdate(t)
	assert.True(t, upd.Phases[0].End.Equal(later))
	assert.True(t, upd.Phases[1].Start.Equal(later))
}

func TestChangeSubscriptionPlan_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	past := h.clock.Add(-time.Hour)
	_, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, &past)
	assert.Equal(t, billing.CodeInvalidArgument, billing.CodeOf(err))

	earlyOtherDay := periodEnd.AddDate(0, 0, -3)
	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, &earlyOtherDay)
	assert.Equal(t, billing.CodeInvalidArgument, billing.CodeOf(err))

	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, "daily", nil)
	assert.Equal(t, billing.CodeInvalidArgument, billing.CodeOf(err))

	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)
	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))

	_, err = h.svc.ChangeSubscriptionPlan(ctx, Caller{ID: "no-customer"}, plans.Year, nil)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))
}

func TestChangeSubscriptionPlan_BlockedByPendingUpgrade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, _ := h.subscribed(t, plans.Month)

	_, err := h.svc.CreateUpgradePaymentIntent(ctx, caller, plans.Year, nil)
	require.NoError(t, err)

	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))
}

func TestSetCancelAtPeriodEnd_WithoutSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)

	res, err := h.svc.SetCancelAtPeriodEnd(ctx, caller, true)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, res.Status)
	assert.True(t, res.CancelAtPeriodEnd)
	assert.True(t, h.stripe.subscription(subID).CancelAtPeriodEnd)
	assert.True(t, h.account(t, caller).SubscriptionCancelAtPeriodEnd)

	res, err = h.svc.SetCancelAtPeriodEnd(ctx, caller, false)
	require.NoError(t, err)
	assert.False(t, res.CancelAtPeriodEnd)
	assert.False(t, h.account(t, caller).SubscriptionCancelAtPeriodEnd)
	assert.Equal(t, 0, h.stripe.callCount("UpdateSchedule"))
}

func TestSetCancelAtPeriodEnd_WithSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	_, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)

	res, err := h.svc.SetCancelAtPeriodEnd(ctx, caller, true)
	require.NoError(t, err)
	assert.True(t, res.CancelAtPeriodEnd)

	upd := h.stripe.lastScheduleUpdate(t)
	assert.Equal(t, billing.EndBehaviorCancel, upd.EndBehavior)
	require.Len(t, upd.Phases, 1)
	assert.Equal(t, priceMonth, upd.Phases[0].PriceID)
	assert.True(t, upd.Phases[0].End.Equal(periodEnd))
	assert.False(t, h.stripe.subscription(subID).CancelAtPeriodEnd, "flag untouched, the schedule owns cancellation")

	acct := h.account(t, caller)
	assert.True(t, acct.SubscriptionCancelAtPeriodEnd)
	assert.Nil(t, acct.SubscriptionScheduledInterval, "switch at the cutoff no longer happens")

	res, err = h.svc.SetCancelAtPeriodEnd(ctx, caller, false)
	require.NoError(t, err)
	assert.False(t, res.CancelAtPeriodEnd)

	upd = h.stripe.lastScheduleUpdate(t)
	assert.Equal(t, billing.EndBehaviorRelease, upd.EndBehavior)
	require.Len(t, upd.Phases, 1)
	assert.Equal(t, priceMonth, upd.Phases[0].PriceID)
	assert.True(t, upd.Phases[0].End.IsZero())
	assert.False(t, h.account(t, caller).SubscriptionCancelAtPeriodEnd)
}

func TestSetCancelAtPeriodEnd_KeepsLaterSwitch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	_, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)
	_, err = h.svc.SetCancelAtPeriodEnd(ctx, caller, false)
	require.NoError(t, err)

	upd := h.stripe.lastScheduleUpdate(t)
	require.Len(t, upd.Phases, 2)
	assert.True(t, upd.Phases[0].End.Equal(periodEnd))
	assert.Equal(t, priceYear, upd.Phases[1].PriceID)
	assert.NotNil(t, h.account(t, caller).SubscriptionScheduledInterval)
}

func TestCancelScheduledPlanChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)

	_, err := h.svc.CancelScheduledPlanChange(ctx, caller)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))

	_, err = h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)

	res, err := h.svc.CancelScheduledPlanChange(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, res.Status)
	assert.Equal(t, []bool{true}, h.stripe.releases)
	assert.Empty(t, h.stripe.subscription(subID).ScheduleID)

	acct := h.account(t, caller)
	assert.Nil(t, acct.SubscriptionScheduledInterval)
	assert.Nil(t, acct.SubscriptionScheduledAt)
	assert.Nil(t, acct.SubscriptionScheduleID)
	assert.Equal(t, priceMonth, *acct.SubscriptionPriceID)
}

func TestCancelScheduledPlanChange_LaterSwitchDroppedByCancellation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	later := h.stripe.subscription(subID).CurrentPeriodEnd.AddDate(0, 0, 5)

	_, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, &later)
	require.NoError(t, err)
	_, err = h.svc.SetCancelAtPeriodEnd(ctx, caller, true)
	require.NoError(t, err)
	// the cutoff sits before the switch, so the marker is gone already
	_, err = h.svc.CancelScheduledPlanChange(ctx, caller)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))
}

func TestCancelScheduledPlanChange_AfterSwitchTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	_, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)

	h.clock = periodEnd
	_, err = h.svc.CancelScheduledPlanChange(ctx, caller)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))

	h.clock = periodEnd.Add(time.Hour)
	_, err = h.svc.CancelScheduledPlanChange(ctx, caller)
	assert.Equal(t, billing.CodeFailedPrecondition, billing.CodeOf(err))
	assert.Empty(t, h.stripe.releases)
}

func TestCancelScheduledPlanChange_StaleMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, _ := h.subscribed(t, plans.Month)
	acct := h.account(t, caller)

	// marker left behind without a schedule on the subscription
	require.NoError(t, h.repo.Update(ctx, acct.Ref(), map[string]interface{}{
		accounts.FieldSubscriptionScheduledInterval: plans.Year,
		accounts.FieldSubscriptionScheduledAt:       h.clock.Add(48 * time.Hour),
	}))

	_, err := h.svc.CancelScheduledPlanChange(ctx, caller)
	require.NoError(t, err)
	assert.Nil(t, h.account(t, caller).SubscriptionScheduledInterval)
	assert.Equal(t, 0, h.stripe.callCount("ReleaseSchedule"))
}

func TestChangeSubscriptionPlan_MarkerWithoutScheduleDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, subID := h.subscribed(t, plans.Month)
	periodEnd := h.stripe.subscription(subID).CurrentPeriodEnd

	require.NoError(t, h.repo.Update(ctx, h.account(t, caller).Ref(), map[string]interface{}{
		accounts.FieldSubscriptionScheduledInterval: plans.Year,
		accounts.FieldSubscriptionScheduledAt:       periodEnd,
	}))

	res, err := h.svc.ChangeSubscriptionPlan(ctx, caller, plans.Year, nil)
	require.NoError(t, err)
	assert.True(t, res.SwitchAt.Equal(periodEnd))
	assert.NotEmpty(t, h.stripe.subscription(subID).ScheduleID)
}
