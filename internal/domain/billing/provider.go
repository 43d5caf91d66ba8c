package billing

import (
	"context"
	"time"
)

// Metadata keys stamped on Stripe objects created by this service.
const (
	MetaAccountID    = "account_id"
	MetaAccountKind  = "account_kind"
	MetaPlan         = "plan"
	MetaKind         = "kind"
	MetaSwitchAt     = "switch_at"
	MetaSubscription = "subscription_id"

	// MetaKind value of upgrade pre-authorization charges.
	KindScheduledUpgrade = "scheduled_upgrade"
	KindOneTime          = "one_time"
)

// Schedule statuses and behaviors as Stripe names them.
const (
	ScheduleStatusNotStarted = "not_started"
	ScheduleStatusActive     = "active"

	EndBehaviorRelease = "release"
	EndBehaviorCancel  = "cancel"

	ProrationNone = "none"

	AnchorAutomatic  = "automatic"
	AnchorPhaseStart = "phase_start"
)

// Invoice statuses.
const (
	InvoiceDraft = "draft"
	InvoiceOpen  = "open"
	InvoicePaid  = "paid"
)

const (
	PaymentIntentSucceeded  = "succeeded"
	PaymentIntentProcessing = "processing"
	PaymentIntentCanceled   = "canceled"
)

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	ItemID             string
	PriceID            string
	Interval           string
	Quantity           int64
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CancelAt           time.Time
	ScheduleID         string
	LatestInvoice      *Invoice
	PendingSetupSecret string
	Metadata           map[string]string
}

// LatestInvoiceID returns "" when the subscription has no invoice yet.
func (s *Subscription) LatestInvoiceID() string {
	if s == nil || s.LatestInvoice == nil {
		return ""
	}
	return s.LatestInvoice.ID
}

// Phase is one leg of a subscription schedule. A zero End means open-ended.
type Phase struct {
	PriceID            string
	Quantity           int64
	Start              time.Time
	End                time.Time
	BillingCycleAnchor string
	ProrationBehavior  string
}

type Schedule struct {
	ID                string
	Status            string
	EndBehavior       string
	SubscriptionID    string
	CurrentPhaseStart time.Time
	CurrentPhaseEnd   time.Time
	Phases            []Phase
}

type Invoice struct {
	ID             string
	Number         string
	Status         string
	Paid           bool
	AmountPaid     int64
	AmountDue      int64
	Currency       string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	HostedURL      string
	PDFURL         string
	Created        time.Time
	PaymentIntent  *PaymentIntent
}

// IsPaid treats a positive amount paid as paid, covering invoices whose
// status lags behind the charge.
func (i *Invoice) IsPaid() bool {
	return i != nil && (i.Status == InvoicePaid || i.Paid || i.AmountPaid > 0)
}

type PaymentIntent struct {
	ID                        string
	Status                    string
	ClientSecret              string
	Amount                    int64
	Currency                  string
	CustomerID                string
	InvoiceID                 string
	ReceiptEmail              string
	ChargeBillingEmail        string
	PaymentMethodID           string
	PaymentMethodBillingEmail string
	Metadata                  map[string]string
}

type PaymentMethod struct {
	ID         string
	CustomerID string
}

type Price struct {
	ID         string
	UnitAmount int64
	Currency   string
	Interval   string
}

type CustomerParams struct {
	Email    string
	Metadata map[string]string
}

type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// SubscriptionUpdate leaves nil fields untouched.
type SubscriptionUpdate struct {
	CancelAtPeriodEnd    *bool
	DefaultPaymentMethod *string
}

type ScheduleUpdate struct {
	EndBehavior string
	Phases      []Phase
}

type PaymentIntentParams struct {
	Amount           int64
	Currency         string
	CustomerID       string
	ReceiptEmail     string
	SetupFutureUsage string
	Metadata         map[string]string
}

// Provider is the subset of the Stripe API the orchestrator talks to. Every
// method is a single round trip; none of them retry.
type Provider interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	SetCustomerDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
	// AttachPaymentMethod succeeds when the method is already attached to customerID.
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error

	CreateSubscription(ctx context.Context, p SubscriptionParams) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, p SubscriptionUpdate) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*Subscription, error)

	CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error)
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, p ScheduleUpdate) (*Schedule, error)
	ReleaseSchedule(ctx context.Context, id string, preserveCancelDate bool) (*Schedule, error)

	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]*Invoice, error)
	FinalizeInvoice(ctx context.Context, id string) (*Invoice, error)
	PayInvoice(ctx context.Context, id, paymentMethodID string) (*Invoice, error)

	CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	SetPaymentIntentReceiptEmail(ctx context.Context, id, email string) error
	CancelPaymentIntent(ctx context.Context, id string) error

	GetPrice(ctx context.Context, id string) (*Price, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
