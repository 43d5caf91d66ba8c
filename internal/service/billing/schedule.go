package billing

import (
	"context"
	"time"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"

	"go.uber.org/zap"
)

// PlanChangeResult is returned by operations that stage a plan switch.
type PlanChangeResult struct {
	Status   string    `json:"status"`
	Plan     string    `json:"plan"`
	SwitchAt time.Time `json:"switch_at"`
}

// StatusResult is returned by operations that only report the resulting status.
type StatusResult struct {
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func statusOf(sub *billing.Subscription) *StatusResult {
	return &StatusResult{Status: sub.Status, CancelAtPeriodEnd: cancelsAtPeriodEnd(sub)}
}

// ChangeSubscriptionPlan stages a switch to plan at startAt, or at the end of
// the current period when startAt is nil.
func (s *Service) ChangeSubscriptionPlan(ctx context.Context, caller Caller, plan string, startAt *time.Time) (*PlanChangeResult, error) {
	plan, targetPrice, err := s.priceFor(plan)
	if err != nil {
		return nil, err
	}
	ref, acct, p, err := s.loadSubscribed(ctx, caller)
	if err != nil {
		return nil, err
	}
	acct, inFlight, err := s.settlePendingUpgrade(ctx, p, ref, acct, false)
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, billing.FailedPrecondition("an upgrade payment is still being confirmed")
	}

	sub, err := p.GetSubscription(ctx, acct.SubscriptionID())
	if err != nil {
		return nil, err
	}
	if scheduledTo(acct, sub, plan) {
		return nil, billing.FailedPrecondition("a switch to the %s plan is already scheduled", plan)
	}
	if !billing.IsPremiumStatus(sub.Status) {
		return nil, billing.FailedPrecondition("subscription is %s, plan changes need an active subscription", sub.Status)
	}

	switchAt, err := billing.ResolveSwitchAt(sub.CurrentPeriodEnd, startAt, s.now())
	if err != nil {
		return nil, err
	}

	fresh, err := s.applyPlanChange(ctx, p, ref, acct, sub, plan, targetPrice, switchAt)
	if err != nil {
		return nil, err
	}
	return &PlanChangeResult{Status: fresh.Status, Plan: plan, SwitchAt: switchAt}, nil
}

// applyPlanChange makes the subscription's schedule switch to targetPrice at
// switchAt and persists the snapshot with the scheduled-change marker.
func (s *Service) applyPlanChange(ctx context.Context, p billing.Provider, ref accounts.Ref, acct *accounts.Account, sub *billing.Subscription, plan, targetPrice string, switchAt time.Time) (*billing.Subscription, error) {
	if sub.PriceID == targetPrice {
		return sub, nil
	}

	// An active schedule owns the cancellation; only the plain flag needs
	// clearing here. The schedule update below sets end_behavior=release.
	var err error
	if sub.CancelAtPeriodEnd {
		off := false
		sub, err = p.UpdateSubscription(ctx, sub.ID, billing.SubscriptionUpdate{CancelAtPeriodEnd: &off})
		if err != nil {
			return nil, err
		}
	}

	state, err := s.scheduleState(ctx, p, sub)
	if err != nil {
		return nil, err
	}
	sched := state.Schedule
	if state.Kind != billing.ScheduleActive {
		sched, err = p.CreateScheduleFromSubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
	}

	start := sub.CurrentPeriodStart
	if !sched.CurrentPhaseStart.IsZero() {
		start = sched.CurrentPhaseStart
	}
	phases := billing.PlanChangePhases(start, sub.PriceID, targetPrice, sub.Quantity, switchAt)
	if _, err := p.UpdateSchedule(ctx, sched.ID, billing.ScheduleUpdate{
		EndBehavior: billing.EndBehaviorRelease,
		Phases:      phases,
	}); err != nil {
		return nil, err
	}

	fresh, err := p.GetSubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	extra := map[string]interface{}{
		accounts.FieldSubscriptionScheduledInterval: plan,
		accounts.FieldSubscriptionScheduledAt:       switchAt.UTC(),
		accounts.FieldSubscriptionScheduleID:        sched.ID,
	}
	if err := s.persistSnapshot(ctx, ref, acct, fresh, extra); err != nil {
		return nil, err
	}

	planChangesScheduled.WithLabelValues(plan).Inc()
	s.log.Info("plan change scheduled",
		zap.String("account", ref.String()),
		zap.String("subscription_id", sub.ID),
		zap.String("schedule_id", sched.ID),
		zap.String("plan", plan),
		zap.Time("switch_at", switchAt),
	)
	return fresh, nil
}

func (s *Service) scheduleState(ctx context.Context, p billing.Provider, sub *billing.Subscription) (billing.ScheduleState, error) {
	if sub.ScheduleID == "" {
		return billing.ScheduleState{Kind: billing.ScheduleNone}, nil
	}
	sched, err := p.GetSchedule(ctx, sub.ScheduleID)
	if err != nil {
		return billing.ScheduleState{}, err
	}
	return billing.ClassifySchedule(sched), nil
}

// SetCancelAtPeriodEnd toggles renewal. With an active schedule the flag on the
// subscription is ignored by Stripe, so the schedule's last phase is edited
// instead. Canceling drops a switch phase that starts at or after the cutoff
// and clears its marker; turning renewal back on later keeps the remaining
// phases as they are and does not restore that switch.
func (s *Service) SetCancelAtPeriodEnd(ctx context.Context, caller Caller, cancel bool) (*StatusResult, error) {
	ref, acct, p, err := s.loadSubscribed(ctx, caller)
	if err != nil {
		return nil, err
	}
	sub, err := p.GetSubscription(ctx, acct.SubscriptionID())
	if err != nil {
		return nil, err
	}
	if billing.IsTerminalStatus(sub.Status) {
		return nil, billing.FailedPrecondition("subscription is already %s", sub.Status)
	}

	state, err := s.scheduleState(ctx, p, sub)
	if err != nil {
		return nil, err
	}

	var extra map[string]interface{}
	switch state.Kind {
	case billing.ScheduleActive:
		now := s.now()
		upd := billing.ScheduleUpdate{EndBehavior: billing.EndBehaviorRelease}
		if cancel {
			cutoff := sub.CurrentPeriodEnd
			if cutoff.IsZero() {
				return nil, billing.FailedPrecondition("subscription has no current billing period")
			}
			upd.EndBehavior = billing.EndBehaviorCancel
			upd.Phases = billing.CancelPhases(state.Schedule.Phases, cutoff, now)
			// a switch at or after the cutoff no longer happens
			if acct.SubscriptionScheduledAt != nil && !acct.SubscriptionScheduledAt.Before(cutoff) {
				extra = clearScheduledChange(extra)
			}
		} else {
			upd.Phases = billing.ReleasePhases(state.Schedule.Phases, now)
		}
		if len(upd.Phases) == 0 {
			return nil, billing.FailedPrecondition("subscription schedule has no remaining phases")
		}
		if _, err := p.UpdateSchedule(ctx, state.Schedule.ID, upd); err != nil {
			return nil, err
		}
	default:
		if _, err := p.UpdateSubscription(ctx, sub.ID, billing.SubscriptionUpdate{CancelAtPeriodEnd: &cancel}); err != nil {
			return nil, err
		}
	}

	fresh, err := p.GetSubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if err := s.persistSnapshot(ctx, ref, acct, fresh, extra); err != nil {
		return nil, err
	}
	s.log.Info("cancel at period end updated",
		zap.String("account", ref.String()),
		zap.String("subscription_id", sub.ID),
		zap.Bool("cancel_at_period_end", cancel),
		zap.Bool("via_schedule", state.Kind == billing.ScheduleActive),
	)
	return statusOf(fresh), nil
}

// CancelScheduledPlanChange releases the schedule behind a pending switch and
// clears the marker. A cancellation already set on the schedule is kept.
func (s *Service) CancelScheduledPlanChange(ctx context.Context, caller Caller) (*StatusResult, error) {
	ref, acct, p, err := s.loadSubscribed(ctx, caller)
	if err != nil {
		return nil, err
	}
	if acct.HasPendingUpgrade() && !acct.HasScheduledChange() {
		var inFlight bool
		if acct, inFlight, err = s.settlePendingUpgrade(ctx, p, ref, acct, true); err != nil {
			return nil, err
		}
		if inFlight {
			return nil, billing.FailedPrecondition("the upgrade payment is processing")
		}
		if !acct.HasScheduledChange() {
			return &StatusResult{Status: deref(acct.SubscriptionStatus), CancelAtPeriodEnd: acct.SubscriptionCancelAtPeriodEnd}, nil
		}
	}
	if !acct.HasScheduledChange() {
		return nil, billing.FailedPrecondition("no plan change is scheduled")
	}
	if acct.SubscriptionScheduledAt != nil && !acct.SubscriptionScheduledAt.After(s.now()) {
		return nil, billing.FailedPrecondition("the scheduled plan change has already taken effect")
	}

	sub, err := p.GetSubscription(ctx, acct.SubscriptionID())
	if err != nil {
		return nil, err
	}
	state, err := s.scheduleState(ctx, p, sub)
	if err != nil {
		return nil, err
	}
	switch state.Kind {
	case billing.ScheduleActive:
		if _, err := p.ReleaseSchedule(ctx, state.Schedule.ID, true); err != nil {
			return nil, err
		}
		sub, err = p.GetSubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
	case billing.ScheduleInactive:
		return nil, billing.FailedPrecondition("subscription schedule is %s", state.Schedule.Status)
	default:
		s.log.Warn("scheduled plan change without schedule, clearing marker",
			zap.String("account", ref.String()),
			zap.String("subscription_id", sub.ID),
		)
	}

	if err := s.persistSnapshot(ctx, ref, acct, sub, clearScheduledChange(nil)); err != nil {
		return nil, err
	}
	s.log.Info("scheduled plan change canceled",
		zap.String("account", ref.String()),
		zap.String("subscription_id", sub.ID),
	)
	return statusOf(sub), nil
}
