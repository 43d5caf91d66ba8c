package accounts

import "time"

// Kind is the partition an account record lives in.
type Kind string

const (
	KindIndividual   Kind = "individual"
	KindOrganization Kind = "organization"
)

// Ref addresses exactly one account record.
type Ref struct {
	Kind Kind
	ID   string
}

func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// Account is the billing state of one individual or organization identity.
// Everything under "subscription" is a cache of the Stripe subscription and is
// rebuilt as a whole from the provider, never patched field by field.
type Account struct {
	Kind  Kind   `gorm:"column:kind;type:varchar(20);primaryKey"`
	ID    string `gorm:"column:id;type:varchar(128);primaryKey"`
	Email string `gorm:"column:email"`

	ProviderCustomerID     *string `gorm:"column:provider_customer_id"`
	ProviderSubscriptionID *string `gorm:"column:provider_subscription_id"`

	SubscriptionStatus             *string    `gorm:"column:subscription_status"`
	SubscriptionPriceID            *string    `gorm:"column:subscription_price_id"`
	SubscriptionInterval           *string    `gorm:"column:subscription_interval"`
	SubscriptionCancelAtPeriodEnd  bool       `gorm:"column:subscription_cancel_at_period_end;not null;default:false"`
	SubscriptionCurrentPeriodStart *time.Time `gorm:"column:subscription_current_period_start"`
	SubscriptionCurrentPeriodEnd   *time.Time `gorm:"column:subscription_current_period_end"`
	SubscriptionScheduleID         *string    `gorm:"column:subscription_schedule_id"`

	// derived from SubscriptionStatus, see billing.IsPremiumStatus
	Premium      bool       `gorm:"column:premium;not null;default:false"`
	PremiumSince *time.Time `gorm:"column:premium_since"`

	// pending future plan switch
	SubscriptionScheduledInterval *string    `gorm:"column:subscription_scheduled_interval"`
	SubscriptionScheduledAt       *time.Time `gorm:"column:subscription_scheduled_at"`

	// in-flight pre-authorized upgrade; written and cleared as a group
	PendingUpgradePaymentIntentID *string    `gorm:"column:pending_upgrade_payment_intent_id"`
	PendingUpgradePlan            *string    `gorm:"column:pending_upgrade_plan"`
	PendingUpgradeSwitchAt        *time.Time `gorm:"column:pending_upgrade_switch_at"`
	PendingUpgradeCreatedAt       *time.Time `gorm:"column:pending_upgrade_created_at"`

	LastInvoiceEmailedID       *string    `gorm:"column:last_invoice_emailed_id"`
	LastInvoiceEmailedAt       *time.Time `gorm:"column:last_invoice_emailed_at"`
	LastUpgradePaymentIntentID *string    `gorm:"column:last_upgrade_payment_intent_id"`
	LastUpgradePaymentIntentAt *time.Time `gorm:"column:last_upgrade_payment_intent_at"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) Ref() Ref {
	return Ref{Kind: a.Kind, ID: a.ID}
}

// CustomerID returns the Stripe customer id or "".
func (a *Account) CustomerID() string {
	if a == nil || a.ProviderCustomerID == nil {
		return ""
	}
	return *a.ProviderCustomerID
}

// SubscriptionID returns the Stripe subscription id or "".
func (a *Account) SubscriptionID() string {
	if a == nil || a.ProviderSubscriptionID == nil {
		return ""
	}
	return *a.ProviderSubscriptionID
}

func (a *Account) HasPendingUpgrade() bool {
	return a != nil && a.PendingUpgradePaymentIntentID != nil && *a.PendingUpgradePaymentIntentID != ""
}

func (a *Account) HasScheduledChange() bool {
	return a != nil && a.SubscriptionScheduledInterval != nil && *a.SubscriptionScheduledInterval != ""
}

// Field names used by partial writes. Keep in sync with the gorm columns above.
const (
	FieldEmail                          = "email"
	FieldProviderCustomerID             = "provider_customer_id"
	FieldProviderSubscriptionID         = "provider_subscription_id"
	FieldSubscriptionStatus             = "subscription_status"
	FieldSubscriptionPriceID            = "subscription_price_id"
	FieldSubscriptionInterval           = "subscription_interval"
	FieldSubscriptionCancelAtPeriodEnd  = "subscription_cancel_at_period_end"
	FieldSubscriptionCurrentPeriodStart = "subscription_current_period_start"
	FieldSubscriptionCurrentPeriodEnd   = "subscription_current_period_end"
	FieldSubscriptionScheduleID         = "subscription_schedule_id"
	FieldPremium                        = "premium"
	FieldPremiumSince                   = "premium_since"
	FieldSubscriptionScheduledInterval  = "subscription_scheduled_interval"
	FieldSubscriptionScheduledAt        = "subscription_scheduled_at"
	FieldPendingUpgradePaymentIntentID  = "pending_upgrade_payment_intent_id"
	FieldPendingUpgradePlan             = "pending_upgrade_plan"
	FieldPendingUpgradeSwitchAt         = "pending_upgrade_switch_at"
	FieldPendingUpgradeCreatedAt        = "pending_upgrade_created_at"
	FieldLastInvoiceEmailedID           = "last_invoice_emailed_id"
	FieldLastInvoiceEmailedAt           = "last_invoice_emailed_at"
	FieldLastUpgradePaymentIntentID     = "last_upgrade_payment_intent_id"
	FieldLastUpgradePaymentIntentAt     = "last_upgrade_payment_intent_at"
)
