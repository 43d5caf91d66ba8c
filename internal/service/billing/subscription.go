package billing

import (
	"context"
	"net/url"
	"strings"
	"time"

	"billing-app/internal/domain/billing"
	"billing-app/internal/domain/plans"

	"go.uber.org/zap"
)

type CreateSubscriptionResult struct {
	SubscriptionID    string `json:"subscription_id"`
	CustomerID        string `json:"customer_id"`
	Status            string `json:"status"`
	ClientSecret      string `json:"client_secret,omitempty"`
	SetupClientSecret string `json:"setup_client_secret,omitempty"`
}

type PaymentIntentResult struct {
	PaymentIntentID string     `json:"payment_intent_id"`
	ClientSecret    string     `json:"client_secret"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	SwitchAt        *time.Time `json:"switch_at,omitempty"`
}

type InvoiceLink struct {
	InvoiceID string `json:"invoice_id"`
	URL       string `json:"url"`
	PDFURL    string `json:"pdf_url,omitempty"`
	HostedURL string `json:"hosted_url,omitempty"`
}

type PendingUpgrade struct {
	PaymentIntentID string     `json:"payment_intent_id"`
	Plan            string     `json:"plan"`
	SwitchAt        *time.Time `json:"switch_at,omitempty"`
}

// SubscriptionInfo is the locally cached snapshot returned to clients.
type SubscriptionInfo struct {
	SubscriptionID     string          `json:"subscription_id"`
	CustomerID         string          `json:"customer_id"`
	Status             string          `json:"status"`
	Premium            bool            `json:"premium"`
	PremiumSince       *time.Time      `json:"premium_since,omitempty"`
	PriceID            string          `json:"price_id,omitempty"`
	Interval           string          `json:"interval,omitempty"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	ScheduledInterval  string          `json:"scheduled_interval,omitempty"`
	ScheduledAt        *time.Time      `json:"scheduled_at,omitempty"`
	PendingUpgrade     *PendingUpgrade `json:"pending_upgrade,omitempty"`
}

// CreateSubscription starts a subscription for plan in the incomplete state.
// The first invoice is paid client side with the returned secret.
func (s *Service) CreateSubscription(ctx context.Context, caller Caller, plan string) (*CreateSubscriptionResult, error) {
	plan, priceID, err := s.priceFor(plan)
	if err != nil {
		return nil, err
	}
	p, err := s.stripe()
	if err != nil {
		return nil, err
	}
	ref, acct, err := s.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}

	if id := acct.SubscriptionID(); id != "" {
		current, err := p.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case billing.IsLiveStatus(current.Status):
			return nil, billing.FailedPrecondition("account already has a %s subscription", current.Status)
		case current.Status == billing.StatusIncomplete:
			// abandoned checkout, replace it
			if _, err := p.CancelSubscription(ctx, current.ID); err != nil {
				return nil, err
			}
		}
	}

	customerID, err := s.ensureCustomer(ctx, p, ref, acct, caller)
	if err != nil {
		return nil, err
	}

	md := accountMetadata(ref)
	md[billing.MetaPlan] = plan
	sub, err := p.CreateSubscription(ctx, billing.SubscriptionParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Metadata:   md,
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistSnapshot(ctx, ref, acct, sub, nil); err != nil {
		return nil, err
	}

	res := &CreateSubscriptionResult{
		SubscriptionID:    sub.ID,
		CustomerID:        customerID,
		Status:            sub.Status,
		SetupClientSecret: sub.PendingSetupSecret,
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		res.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	if res.ClientSecret == "" && res.SetupClientSecret == "" {
		return nil, billing.Internal("Stripe returned no client secret for the subscription", nil)
	}

	s.log.Info("subscription created",
		zap.String("account", ref.String()),
		zap.String("subscription_id", sub.ID),
		zap.String("plan", plan),
		zap.String("status", sub.Status),
	)
	return res, nil
}

// CreatePaymentIntent creates a one-shot charge for the monthly price.
func (s *Service) CreatePaymentIntent(ctx context.Context, caller Caller) (*PaymentIntentResult, error) {
	_, priceID, err := s.priceFor(plans.Month)
	if err != nil {
		return nil, err
	}
	p, err := s.stripe()
	if err != nil {
		return nil, err
	}
	ref, acct, err := s.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}

	price, err := p.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if price.UnitAmount <= 0 {
		return nil, billing.FailedPrecondition("price %s has no unit amount", priceID)
	}
	customerID, err := s.ensureCustomer(ctx, p, ref, acct, caller)
	if err != nil {
		return nil, err
	}

	md := accountMetadata(ref)
	md[billing.MetaKind] = billing.KindOneTime
	pi, err := p.CreatePaymentIntent(ctx, billing.PaymentIntentParams{
		Amount:     price.UnitAmount,
		Currency:   price.Currency,
		CustomerID: customerID,
		Metadata:   md,
	})
	if err != nil {
		return nil, err
	}
	return &PaymentIntentResult{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	}, nil
}

// GetSubscriptionInfo reads the cached snapshot without calling Stripe.
func (s *Service) GetSubscriptionInfo(ctx context.Context, caller Caller) (*SubscriptionInfo, error) {
	_, acct, err := s.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if acct.SubscriptionID() == "" {
		return nil, billing.NotFound("no subscription for this account")
	}

	info := &SubscriptionInfo{
		SubscriptionID:     acct.SubscriptionID(),
		CustomerID:         acct.CustomerID(),
		Status:             deref(acct.SubscriptionStatus),
		Premium:            acct.Premium,
		PremiumSince:       acct.PremiumSince,
		PriceID:            deref(acct.SubscriptionPriceID),
		Interval:           deref(acct.SubscriptionInterval),
		CancelAtPeriodEnd:  acct.SubscriptionCancelAtPeriodEnd,
		CurrentPeriodStart: acct.SubscriptionCurrentPeriodStart,
		CurrentPeriodEnd:   acct.SubscriptionCurrentPeriodEnd,
		ScheduledInterval:  deref(acct.SubscriptionScheduledInterval),
		ScheduledAt:        acct.SubscriptionScheduledAt,
	}
	if acct.HasPendingUpgrade() {
		info.PendingUpgrade = &PendingUpgrade{
			PaymentIntentID: *acct.PendingUpgradePaymentIntentID,
			Plan:            deref(acct.PendingUpgradePlan),
			SwitchAt:        acct.PendingUpgradeSwitchAt,
		}
	}
	return info, nil
}

// CreateBillingPortalSession returns a Stripe customer portal URL.
func (s *Service) CreateBillingPortalSession(ctx context.Context, caller Caller, returnURL string) (string, error) {
	_, acct, p, err := s.loadCustomer(ctx, caller)
	if err != nil {
		return "", err
	}

	returnURL = strings.TrimSpace(returnURL)
	if returnURL == "" {
		returnURL = s.appURL + "/account"
	}
	u, err := url.Parse(returnURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", billing.InvalidArgument("returnUrl must be an absolute http(s) URL")
	}

	return p.CreatePortalSession(ctx, acct.CustomerID(), returnURL)
}

// latestInvoiceScan is how many recent invoices are looked at for one with a
// document; drafts have none.
const latestInvoiceScan = 5

// GetLatestInvoicePdf returns the newest finalized invoice's PDF, or its hosted
// page when Stripe has not rendered a PDF.
func (s *Service) GetLatestInvoicePdf(ctx context.Context, caller Caller) (*InvoiceLink, error) {
	_, acct, p, err := s.loadCustomer(ctx, caller)
	if err != nil {
		return nil, err
	}
	invoices, err := p.ListInvoices(ctx, acct.CustomerID(), latestInvoiceScan)
	if err != nil {
		return nil, err
	}

	for _, inv := range invoices {
		if inv.Status == billing.InvoiceDraft {
			continue
		}
		link := &InvoiceLink{InvoiceID: inv.ID, PDFURL: inv.PDFURL, HostedURL: inv.HostedURL}
		link.URL = inv.PDFURL
		if link.URL == "" {
			link.URL = inv.HostedURL
		}
		if link.URL != "" {
			return link, nil
		}
	}
	return nil, billing.NotFound("no invoice with a downloadable document")
}

// CancelSubscriptionNow cancels immediately. Canceling a subscription that is
// already terminal reports its status without another Stripe write.
func (s *Service) CancelSubscriptionNow(ctx context.Context, caller Caller) (*StatusResult, error) {
	ref, acct, p, err := s.loadSubscribed(ctx, caller)
	if err != nil {
		return nil, err
	}
	sub, err := p.GetSubscription(ctx, acct.SubscriptionID())
	if err != nil {
		return nil, err
	}
	if !billing.IsTerminalStatus(sub.Status) {
		sub, err = p.CancelSubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.persistSnapshot(ctx, ref, acct, sub, clearScheduledChange(nil)); err != nil {
		return nil, err
	}
	s.log.Info("subscription canceled",
		zap.String("account", ref.String()),
		zap.String("subscription_id", sub.ID),
		zap.String("status", sub.Status),
	)
	return statusOf(sub), nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
