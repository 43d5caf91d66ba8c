package billing

import "time"

type ScheduleKind int

const (
	ScheduleNone ScheduleKind = iota
	// ScheduleInactive is a released, completed or canceled schedule. It no
	// longer governs the subscription and is treated as absent.
	ScheduleInactive
	ScheduleActive
)

// ScheduleState is the tagged variant over a subscription's schedule.
// Schedule is set for ScheduleInactive and ScheduleActive.
type ScheduleState struct {
	Kind     ScheduleKind
	Schedule *Schedule
}

func ClassifySchedule(s *Schedule) ScheduleState {
	if s == nil || s.ID == "" {
		return ScheduleState{Kind: ScheduleNone}
	}
	switch s.Status {
	case ScheduleStatusNotStarted, ScheduleStatusActive:
		return ScheduleState{Kind: ScheduleActive, Schedule: s}
	}
	return ScheduleState{Kind: ScheduleInactive, Schedule: s}
}

// PlanChangePhases builds the two phases of a scheduled plan switch: the
// current price until switchAt, then the target price open-ended with the
// billing cycle re-anchored at the switch. Neither phase prorates.
func PlanChangePhases(start time.Time, currentPriceID, targetPriceID string, quantity int64, switchAt time.Time) []Phase {
	if quantity <= 0 {
		quantity = 1
	}
	return []Phase{
		{
			PriceID:            currentPriceID,
			Quantity:           quantity,
			Start:              start,
			End:                switchAt,
			BillingCycleAnchor: AnchorAutomatic,
			ProrationBehavior:  ProrationNone,
		},
		{
			PriceID:            targetPriceID,
			Quantity:           quantity,
			Start:              switchAt,
			BillingCycleAnchor: AnchorPhaseStart,
			ProrationBehavior:  ProrationNone,
		},
	}
}

// LivePhases drops phases that already ended. Stripe refuses edits to them.
func LivePhases(phases []Phase, now time.Time) []Phase {
	out := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if !p.End.IsZero() && !p.End.After(now) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// CancelPhases ends the schedule at cutoff: phases starting at or after the
// cutoff are dropped and the last remaining phase ends at the cutoff.
func CancelPhases(phases []Phase, cutoff, now time.Time) []Phase {
	live := LivePhases(phases, now)
	out := make([]Phase, 0, len(live))
	for _, p := range live {
		if !p.Start.IsZero() && !p.Start.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return out
	}
	out[len(out)-1].End = cutoff
	return out
}

// ReleasePhases removes the end date of the final phase so the subscription
// keeps renewing once the schedule releases it.
func ReleasePhases(phases []Phase, now time.Time) []Phase {
	out := LivePhases(phases, now)
	if len(out) > 0 {
		out[len(out)-1].End = time.Time{}
	}
	return out
}
