package billing

import "time"

// ResolveSwitchAt picks the instant a plan change takes effect.
//
// No desired time means the end of the current billing period. A desired time
// in the past is rejected. A desired time before the period end is coerced to
// the period end when both fall on the same UTC calendar day and rejected
// otherwise. Results are truncated to whole seconds, the resolution Stripe
// stores timestamps at.
func ResolveSwitchAt(periodEnd time.Time, desired *time.Time, now time.Time) (time.Time, error) {
	if periodEnd.IsZero() {
		return time.Time{}, FailedPrecondition("subscription has no current billing period")
	}
	end := periodEnd.UTC().Truncate(time.Second)
	if desired == nil || desired.IsZero() {
		return end, nil
	}

	at := desired.UTC().Truncate(time.Second)
	if at.Before(now.UTC().Truncate(time.Second)) {
		return time.Time{}, InvalidArgument("startAt must not be in the past")
	}
	if at.Before(end) {
		if sameUTCDay(at, end) {
			return end, nil
		}
		return time.Time{}, InvalidArgument("startAt must be after current period end")
	}
	return at, nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
