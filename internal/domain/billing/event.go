package billing

// Stripe event types the webhook processor acts on.
const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// Event is a verified Stripe event with its object decoded. For recognized
// types exactly one of the object fields is set.
type Event struct {
	ID            string
	Type          string
	Subscription  *Subscription
	PaymentIntent *PaymentIntent
	Invoice       *Invoice
}

// HandledEvent reports whether events of this type are processed rather than
// acknowledged and dropped.
func HandledEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventPaymentIntentSucceeded,
		EventInvoicePaid, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		return true
	}
	return false
}
