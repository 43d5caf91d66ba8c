// Package stripe adapts stripe-go to the billing.Provider interface.
package stripe

import (
	"context"

	"billing-app/internal/domain/billing"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"go.uber.org/zap"
)

type Config struct {
	SecretKey string
	// APIURL overrides https://api.stripe.com, for stripe-mock and tests.
	APIURL string
	Logger *zap.Logger
}

// Client is a billing.Provider backed by the Stripe API.
type Client struct {
	api *client.API
}

var _ billing.Provider = (*Client)(nil)

func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bc := &stripego.BackendConfig{
		// the orchestrator decides what to retry
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	if cfg.APIURL != "" {
		bc.URL = stripego.String(cfg.APIURL)
	}
	backends := &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, bc),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, bc),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, bc),
	}
	return &Client{api: client.New(cfg.SecretKey, backends)}
}

func (c *Client) CreateCustomer(ctx context.Context, p billing.CustomerParams) (string, error) {
	params := &stripego.CustomerParams{
		Email:    stripego.String(p.Email),
		Metadata: p.Metadata,
	}
	params.Context = ctx
	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", normalize("create customer", err)
	}
	return cus.ID, nil
}

func (c *Client) SetCustomerDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripego.CustomerParams{
		InvoiceSettings: &stripego.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripego.String(paymentMethodID),
		},
	}
	params.Context = ctx
	_, err := c.api.Customers.Update(customerID, params)
	return normalize("set default payment method", err)
}

func (c *Client) GetPaymentMethod(ctx context.Context, id string) (*billing.PaymentMethod, error) {
	params := &stripego.PaymentMethodParams{}
	params.Context = ctx
	pm, err := c.api.PaymentMethods.Get(id, params)
	if err != nil {
		return nil, normalize("get payment method", err)
	}
	return toPaymentMethod(pm), nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripego.PaymentMethodAttachParams{Customer: stripego.String(customerID)}
	params.Context = ctx
	_, err := c.api.PaymentMethods.Attach(paymentMethodID, params)
	if alreadyAttached(err) {
		return nil
	}
	return normalize("attach payment method", err)
}

func subscriptionParams(p billing.SubscriptionParams) *stripego.SubscriptionParams {
	params := &stripego.SubscriptionParams{
		Customer: stripego.String(p.CustomerID),
		Items: []*stripego.SubscriptionItemsParams{
			{Price: stripego.String(p.PriceID), Quantity: stripego.Int64(1)},
		},
		PaymentBehavior: stripego.String("default_incomplete"),
		PaymentSettings: &stripego.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripego.String("on_subscription"),
		},
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.AddExpand("pending_setup_intent")
	return params
}

func (c *Client) CreateSubscription(ctx context.Context, p billing.SubscriptionParams) (*billing.Subscription, error) {
	params := subscriptionParams(p)
	params.Context = ctx
	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, normalize("create subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, normalize("get subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) UpdateSubscription(ctx context.Context, id string, p billing.SubscriptionUpdate) (*billing.Subscription, error) {
	params := &stripego.SubscriptionParams{
		CancelAtPeriodEnd:    p.CancelAtPeriodEnd,
		DefaultPaymentMethod: p.DefaultPaymentMethod,
	}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, normalize("update subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return nil, normalize("cancel subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*billing.Schedule, error) {
	params := &stripego.SubscriptionScheduleParams{FromSubscription: stripego.String(subscriptionID)}
	params.Context = ctx
	s, err := c.api.SubscriptionSchedules.New(params)
	if err != nil {
		return nil, normalize("create subscription schedule", err)
	}
	return toSchedule(s), nil
}

func (c *Client) GetSchedule(ctx context.Context, id string) (*billing.Schedule, error) {
	params := &stripego.SubscriptionScheduleParams{}
	params.Context = ctx
	s, err := c.api.SubscriptionSchedules.Get(id, params)
	if err != nil {
		return nil, normalize("get subscription schedule", err)
	}
	return toSchedule(s), nil
}

func scheduleParams(p billing.ScheduleUpdate) *stripego.SubscriptionScheduleParams {
	params := &stripego.SubscriptionScheduleParams{
		Phases:            phaseParams(p.Phases),
		ProrationBehavior: stripego.String(billing.ProrationNone),
	}
	if p.EndBehavior != "" {
		params.EndBehavior = stripego.String(p.EndBehavior)
	}
	return params
}

func (c *Client) UpdateSchedule(ctx context.Context, id string, p billing.ScheduleUpdate) (*billing.Schedule, error) {
	params := scheduleParams(p)
	params.Context = ctx
	s, err := c.api.SubscriptionSchedules.Update(id, params)
	if err != nil {
		return nil, normalize("update subscription schedule", err)
	}
	return toSchedule(s), nil
}

func (c *Client) ReleaseSchedule(ctx context.Context, id string, preserveCancelDate bool) (*billing.Schedule, error) {
	params := &stripego.SubscriptionScheduleReleaseParams{
		PreserveCancelDate: stripego.Bool(preserveCancelDate),
	}
	params.Context = ctx
	s, err := c.api.SubscriptionSchedules.Release(id, params)
	if err != nil {
		return nil, normalize("release subscription schedule", err)
	}
	return toSchedule(s), nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	params := &stripego.InvoiceParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")
	params.AddExpand("payment_intent.payment_method")
	inv, err := c.api.Invoices.Get(id, params)
	if err != nil {
		return nil, normalize("get invoice", err)
	}
	return toInvoice(inv), nil
}

// ListInvoices returns at most limit invoices, newest first.
func (c *Client) ListInvoices(ctx context.Context, customerID string, limit int) ([]*billing.Invoice, error) {
	if limit <= 0 {
		return nil, nil
	}
	params := &stripego.InvoiceListParams{Customer: stripego.String(customerID)}
	params.Context = ctx
	params.Limit = stripego.Int64(int64(limit))

	out := make([]*billing.Invoice, 0, limit)
	it := c.api.Invoices.List(params)
	for len(out) < limit && it.Next() {
		out = append(out, toInvoice(it.Invoice()))
	}
	if err := it.Err(); err != nil {
		return nil, normalize("list invoices", err)
	}
	return out, nil
}

func (c *Client) FinalizeInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	params := &stripego.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx
	inv, err := c.api.Invoices.FinalizeInvoice(id, params)
	if err != nil {
		return nil, normalize("finalize invoice", err)
	}
	return toInvoice(inv), nil
}

func (c *Client) PayInvoice(ctx context.Context, id, paymentMethodID string) (*billing.Invoice, error) {
	params := &stripego.InvoicePayParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripego.String(paymentMethodID)
	}
	params.Context = ctx
	inv, err := c.api.Invoices.Pay(id, params)
	if err != nil {
		return nil, normalize("pay invoice", err)
	}
	return toInvoice(inv), nil
}

func paymentIntentParams(p billing.PaymentIntentParams) *stripego.PaymentIntentParams {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(p.Amount),
		Currency: stripego.String(p.Currency),
		Customer: stripego.String(p.CustomerID),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	if p.ReceiptEmail != "" {
		params.ReceiptEmail = stripego.String(p.ReceiptEmail)
	}
	if p.SetupFutureUsage != "" {
		params.SetupFutureUsage = stripego.String(p.SetupFutureUsage)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p billing.PaymentIntentParams) (*billing.PaymentIntent, error) {
	params := paymentIntentParams(p)
	params.Context = ctx
	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, normalize("create payment intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*billing.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	params.AddExpand("payment_method")
	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, normalize("get payment intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (c *Client) SetPaymentIntentReceiptEmail(ctx context.Context, id, email string) error {
	params := &stripego.PaymentIntentParams{ReceiptEmail: stripego.String(email)}
	params.Context = ctx
	_, err := c.api.PaymentIntents.Update(id, params)
	return normalize("set receipt email", err)
}

func (c *Client) CancelPaymentIntent(ctx context.Context, id string) error {
	params := &stripego.PaymentIntentCancelParams{
		CancellationReason: stripego.String(string(stripego.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	_, err := c.api.PaymentIntents.Cancel(id, params)
	return normalize("cancel payment intent", err)
}

func (c *Client) GetPrice(ctx context.Context, id string) (*billing.Price, error) {
	params := &stripego.PriceParams{}
	params.Context = ctx
	p, err := c.api.Prices.Get(id, params)
	if err != nil {
		return nil, normalize("get price", err)
	}
	return toPrice(p), nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx
	s, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", normalize("create billing portal session", err)
	}
	return s.URL, nil
}
