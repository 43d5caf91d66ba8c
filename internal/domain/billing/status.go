package billing

// Stripe subscription statuses mirrored on the account record.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusUnpaid            = "unpaid"
	StatusPaused            = "paused"
)

// IsPremiumStatus is the only source of the account's premium flag.
func IsPremiumStatus(status string) bool {
	switch status {
	case StatusActive, StatusTrialing:
		return true
	}
	return false
}

// IsTerminalStatus reports statuses a subscription never leaves.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCanceled, StatusIncompleteExpired:
		return true
	}
	return false
}

// IsLiveStatus reports statuses that block creating a second subscription.
func IsLiveStatus(status string) bool {
	switch status {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusPaused:
		return true
	}
	return false
}
