package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"
	"billing-app/internal/domain/plans"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	priceMonth = "price_month"
	priceYear  = "price_year"
)

// fakeStripe is an in-memory Stripe that follows the state transitions the
// service relies on.
type fakeStripe struct {
	mu  sync.Mutex
	now func() time.Time
	seq int

	prices    map[string]*billing.Price
	customers map[string]string
	subs      map[string]*billing.Subscription
	schedules map[string]*billing.Schedule
	invoices  map[string]*billing.Invoice
	intents   map[string]*billing.PaymentIntent
	methods   map[string]*billing.PaymentMethod

	scheduleUpdates []billing.ScheduleUpdate
	releases        []bool
	created         []billing.SubscriptionParams
	intentParams    []billing.PaymentIntentParams
	defaultMethods  map[string]string
	calls           []string

	failOn map[string]error
}

func newFakeStripe(now func() time.Time) *fakeStripe {
	return &fakeStripe{
		now: now,
		prices: map[string]*billing.Price{
			priceMonth: {ID: priceMonth, UnitAmount: 999, Currency: "usd", Interval: plans.Month},
			priceYear:  {ID: priceYear, UnitAmount: 9900, Currency: "usd", Interval: plans.Year},
		},
		customers:      map[string]string{},
		subs:           map[string]*billing.Subscription{},
		schedules:      map[string]*billing.Schedule{},
		invoices:       map[string]*billing.Invoice{},
		intents:        map[string]*billing.PaymentIntent{},
		methods:        map[string]*billing.PaymentMethod{},
		defaultMethods: map[string]string{},
		failOn:         map[string]error{},
	}
}

func (f *fakeStripe) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeStripe) call(name string) error {
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeStripe) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func periodEnd(start time.Time, interval string) time.Time {
	if interval == plans.Year {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func copySub(s *billing.Subscription) *billing.Subscription {
	c := *s
	if s.LatestInvoice != nil {
		inv := *s.LatestInvoice
		c.LatestInvoice = &inv
	}
	return &c
}

func copySchedule(s *billing.Schedule) *billing.Schedule {
	c := *s
	c.Phases = append([]billing.Phase(nil), s.Phases...)
	return &c
}

func copyInvoice(i *billing.Invoice) *billing.Invoice {
	c := *i
	if i.PaymentIntent != nil {
		pi := *i.PaymentIntent
		c.PaymentIntent = &pi
	}
	return &c
}

func (f *fakeStripe) CreateCustomer(_ context.Context, p billing.CustomerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateCustomer"); err != nil {
		return "", err
	}
	id := f.id("cus")
	f.customers[id] = p.Email
	return id, nil
}

func (f *fakeStripe) SetCustomerDefaultPaymentMethod(_ context.Context, customerID, pmID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetCustomerDefaultPaymentMethod"); err != nil {
		return err
	}
	f.defaultMethods[customerID] = pmID
	return nil
}

func (f *fakeStripe) GetPaymentMethod(_ context.Context, id string) (*billing.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetPaymentMethod"); err != nil {
		return nil, err
	}
	pm, ok := f.methods[id]
	if !ok {
		return nil, billing.NotFound("no such payment method %s", id)
	}
	c := *pm
	return &c, nil
}

func (f *fakeStripe) AttachPaymentMethod(_ context.Context, pmID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("AttachPaymentMethod"); err != nil {
		return err
	}
	pm, ok := f.methods[pmID]
	if !ok {
		return billing.NotFound("no such payment method %s", pmID)
	}
	pm.CustomerID = customerID
	return nil
}

func (f *fakeStripe) CreateSubscription(_ context.Context, p billing.SubscriptionParams) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateSubscription"); err != nil {
		return nil, err
	}
	f.created = append(f.created, p)
	price := f.prices[p.PriceID]
	now := f.now().UTC().Truncate(time.Second)

	sub := &billing.Subscription{
		ID:                 f.id("sub"),
		CustomerID:         p.CustomerID,
		Status:             billing.StatusIncomplete,
		ItemID:             f.id("si"),
		PriceID:            price.ID,
		Interval:           price.Interval,
		Quantity:           1,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd(now, price.Interval),
		Metadata:           p.Metadata,
	}
	pi := &billing.PaymentIntent{
		ID:           f.id("pi"),
		Status:       "requires_payment_method",
		Amount:       price.UnitAmount,
		Currency:     price.Currency,
		CustomerID:   p.CustomerID,
		ReceiptEmail: "",
	}
	pi.ClientSecret = pi.ID + "_secret"
	inv := &billing.Invoice{
		ID:             f.id("in"),
		Number:         fmt.Sprintf("INV-%04d", f.seq),
		Status:         billing.InvoiceOpen,
		AmountDue:      price.UnitAmount,
		Currency:       price.Currency,
		CustomerID:     p.CustomerID,
		CustomerEmail:  f.customers[p.CustomerID],
		SubscriptionID: sub.ID,
		HostedURL:      "https://invoice.stripe.test/" + sub.ID,
		PDFURL:         "https://invoice.stripe.test/" + sub.ID + ".pdf",
		Created:        now,
		PaymentIntent:  pi,
	}
	pi.InvoiceID = inv.ID
	f.intents[pi.ID] = pi
	f.invoices[inv.ID] = inv
	sub.LatestInvoice = inv
	f.subs[sub.ID] = sub
	return copySub(sub), nil
}

func (f *fakeStripe) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, billing.NotFound("no such subscription %s", id)
	}
	if sub.LatestInvoice != nil {
		sub.LatestInvoice = f.invoices[sub.LatestInvoice.ID]
	}
	return copySub(sub), nil
}

func (f *fakeStripe) UpdateSubscription(_ context.Context, id string, p billing.SubscriptionUpdate) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, billing.NotFound("no such subscription %s", id)
	}
	if p.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.DefaultPaymentMethod != nil {
		f.defaultMethods[id] = *p.DefaultPaymentMethod
	}
	return copySub(sub), nil
}

func (f *fakeStripe) CancelSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CancelSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, billing.NotFound("no such subscription %s", id)
	}
	sub.Status = billing.StatusCanceled
	if sched, ok := f.schedules[sub.ScheduleID]; ok {
		sched.Status = "canceled"
	}
	sub.ScheduleID = ""
	return copySub(sub), nil
}

func (f *fakeStripe) CreateScheduleFromSubscription(_ context.Context, subID string) (*billing.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateScheduleFromSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.subs[subID]
	if !ok {
		return nil, billing.NotFound("no such subscription %s", subID)
	}
	if sub.ScheduleID != "" {
		return nil, billing.Internal("subscription already has a schedule", nil)
	}
	sched := &billing.Schedule{
		ID:                f.id("sub_sched"),
		Status:            billing.ScheduleStatusActive,
		EndBehavior:       billing.EndBehaviorRelease,
		SubscriptionID:    subID,
		CurrentPhaseStart: sub.CurrentPeriodStart,
		CurrentPhaseEnd:   sub.CurrentPeriodEnd,
		Phases: []billing.Phase{{
			PriceID:  sub.PriceID,
			Quantity: sub.Quantity,
			Start:    sub.CurrentPeriodStart,
			End:      sub.CurrentPeriodEnd,
		}},
	}
	f.schedules[sched.ID] = sched
	sub.ScheduleID = sched.ID
	return copySchedule(sched), nil
}

func (f *fakeStripe) GetSchedule(_ context.Context, id string) (*billing.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetSchedule"); err != nil {
		return nil, err
	}
	sched, ok := f.schedules[id]
	if !ok {
		return nil, billing.NotFound("no such schedule %s", id)
	}
	return copySchedule(sched), nil
}

func (f *fakeStripe) UpdateSchedule(_ context.Context, id string, p billing.ScheduleUpdate) (*billing.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateSchedule"); err != nil {
		return nil, err
	}
	sched, ok := f.schedules[id]
	if !ok {
		return nil, billing.NotFound("no such schedule %s", id)
	}
	f.scheduleUpdates = append(f.scheduleUpdates, billing.ScheduleUpdate{
		EndBehavior: p.EndBehavior,
		Phases:      append([]billing.Phase(nil), p.Phases...),
	})
	sched.EndBehavior = p.EndBehavior
	sched.Phases = append([]billing.Phase(nil), p.Phases...)

	sub := f.subs[sched.SubscriptionID]
	sub.CancelAtPeriodEnd = false
	sub.CancelAt = time.Time{}
	if p.EndBehavior == billing.EndBehaviorCancel && len(p.Phases) > 0 {
		sub.CancelAt = p.Phases[len(p.Phases)-1].End
	}
	return copySchedule(sched), nil
}

func (f *fakeStripe) ReleaseSchedule(_ context.Context, id string, preserveCancelDate bool) (*billing.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ReleaseSchedule"); err != nil {
		return nil, err
	}
	sched, ok := f.schedules[id]
	if !ok {
		return nil, billing.NotFound("no such schedule %s", id)
	}
	f.releases = append(f.releases, preserveCancelDate)
	sched.Status = "released"
	sub := f.subs[sched.SubscriptionID]
	sub.ScheduleID = ""
	if !preserveCancelDate {
		sub.CancelAt = time.Time{}
	}
	return copySchedule(sched), nil
}

func (f *fakeStripe) GetInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetInvoice"); err != nil {
		return nil, err
	}
	inv, ok := f.invoices[id]
	if !ok {
		return nil, billing.NotFound("no such invoice %s", id)
	}
	return copyInvoice(inv), nil
}

func (f *fakeStripe) ListInvoices(_ context.Context, customerID string, limit int) ([]*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListInvoices"); err != nil {
		return nil, err
	}
	var out []*billing.Invoice
	for _, inv := range f.invoices {
		if inv.CustomerID == customerID {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStripe) FinalizeInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("FinalizeInvoice"); err != nil {
		return nil, err
	}
	inv := f.invoices[id]
	if inv.Status == billing.InvoiceDraft {
		inv.Status = billing.InvoiceOpen
	}
	return copyInvoice(inv), nil
}

func (f *fakeStripe) PayInvoice(_ context.Context, id, _ string) (*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("PayInvoice"); err != nil {
		return nil, err
	}
	inv := f.invoices[id]
	f.markPaid(inv)
	return copyInvoice(inv), nil
}

func (f *fakeStripe) markPaid(inv *billing.Invoice) {
	inv.Status = billing.InvoicePaid
	inv.Paid = true
	inv.AmountPaid = inv.AmountDue
	if inv.PaymentIntent != nil {
		inv.PaymentIntent.Status = billing.PaymentIntentSucceeded
	}
	if sub, ok := f.subs[inv.SubscriptionID]; ok && sub.Status == billing.StatusIncomplete {
		sub.Status = billing.StatusActive
	}
}

func (f *fakeStripe) CreatePaymentIntent(_ context.Context, p billing.PaymentIntentParams) (*billing.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreatePaymentIntent"); err != nil {
		return nil, err
	}
	f.intentParams = append(f.intentParams, p)
	pi := &billing.PaymentIntent{
		ID:           f.id("pi"),
		Status:       "requires_payment_method",
		Amount:       p.Amount,
		Currency:     p.Currency,
		CustomerID:   p.CustomerID,
		ReceiptEmail: p.ReceiptEmail,
		Metadata:     p.Metadata,
	}
	pi.ClientSecret = pi.ID + "_secret"
	f.intents[pi.ID] = pi
	c := *pi
	return &c, nil
}

func (f *fakeStripe) GetPaymentIntent(_ context.Context, id string) (*billing.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetPaymentIntent"); err != nil {
		return nil, err
	}
	pi, ok := f.intents[id]
	if !ok {
		return nil, billing.NotFound("no such payment intent %s", id)
	}
	c := *pi
	return &c, nil
}

func (f *fakeStripe) SetPaymentIntentReceiptEmail(_ context.Context, id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetPaymentIntentReceiptEmail"); err != nil {
		return err
	}
	pi, ok := f.intents[id]
	if !ok {
		return billing.NotFound("no such payment intent %s", id)
	}
	pi.ReceiptEmail = email
	return nil
}

func (f *fakeStripe) CancelPaymentIntent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CancelPaymentIntent"); err != nil {
		return err
	}
	pi, ok := f.intents[id]
	if !ok {
		return billing.NotFound("no such payment intent %s", id)
	}
	if pi.Status == billing.PaymentIntentSucceeded {
		return billing.Internal("payment intent already succeeded", nil)
	}
	pi.Status = billing.PaymentIntentCanceled
	return nil
}

func (f *fakeStripe) GetPrice(_ context.Context, id string) (*billing.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetPrice"); err != nil {
		return nil, err
	}
	p, ok := f.prices[id]
	if !ok {
		return nil, billing.NotFound("no such price %s", id)
	}
	c := *p
	return &c, nil
}

func (f *fakeStripe) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreatePortalSession"); err != nil {
		return "", err
	}
	return "https://billing.stripe.test/p/" + customerID + "?return=" + returnURL, nil
}

// payLatestInvoice settles the subscription's open invoice as the client
// would with the returned client secret.
func (f *fakeStripe) payLatestInvoice(subID string) *billing.Invoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.subs[subID]
	inv := f.invoices[sub.LatestInvoice.ID]
	f.markPaid(inv)
	return copyInvoice(inv)
}

// rollover advances the subscription into its next period, applying the
// schedule's phase that starts at the period boundary.
func (f *fakeStripe) rollover(subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.subs[subID]
	start := sub.CurrentPeriodEnd
	priceID := sub.PriceID
	if sched, ok := f.schedules[sub.ScheduleID]; ok {
		for _, ph := range sched.Phases {
			if !ph.Start.After(start) && (ph.End.IsZero() || ph.End.After(start)) {
				priceID = ph.PriceID
			}
		}
		last := sched.Phases[len(sched.Phases)-1]
		if !last.Start.After(start) && sched.EndBehavior == billing.EndBehaviorRelease {
			sched.Status = "released"
			sub.ScheduleID = ""
		}
	}
	price := f.prices[priceID]
	sub.PriceID = price.ID
	sub.Interval = price.Interval
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = periodEnd(start, price.Interval)

	inv := &billing.Invoice{
		ID:             f.id("in"),
		Number:         fmt.Sprintf("INV-%04d", f.seq),
		Status:         billing.InvoicePaid,
		Paid:           true,
		AmountDue:      price.UnitAmount,
		AmountPaid:     price.UnitAmount,
		Currency:       price.Currency,
		CustomerID:     sub.CustomerID,
		CustomerEmail:  f.customers[sub.CustomerID],
		SubscriptionID: sub.ID,
		HostedURL:      "https://invoice.stripe.test/renewal",
		Created:        start,
	}
	f.invoices[inv.ID] = inv
	sub.LatestInvoice = inv
}

func (f *fakeStripe) succeedIntent(id string) *billing.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi := f.intents[id]
	pi.Status = billing.PaymentIntentSucceeded
	c := *pi
	return &c
}

func (f *fakeStripe) subscription(id string) *billing.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySub(f.subs[id])
}

func (f *fakeStripe) lastScheduleUpdate(t *testing.T) billing.ScheduleUpdate {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.scheduleUpdates)
	return f.scheduleUpdates[len(f.scheduleUpdates)-1]
}

type fakeMailer struct {
	mu       sync.Mutex
	disabled bool
	err      error
	sent     []Message
}

func (m *fakeMailer) Enabled() bool { return !m.disabled }

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type harness struct {
	svc    *Service
	repo   accounts.Repository
	stripe *fakeStripe
	mail   *fakeMailer
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, accounts.Migrate(db))

	h := &harness{
		repo:  accounts.NewRepository(db),
		mail:  &fakeMailer{},
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }
	h.stripe = newFakeStripe(now)
	h.svc = New(Options{
		Accounts: h.repo,
		Provider: h.stripe,
		Catalog:  plans.NewCatalog(priceMonth, priceYear),
		Mailer:   h.mail,
		AppURL:   "https://app.example.test",
		Now:      now,
	})
	return h
}

func (h *harness) account(t *testing.T, caller Caller) *accounts.Account {
	t.Helper()
	_, acct, err := h.repo.Resolve(context.Background(), caller.ID)
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct
}

// subscribed returns a caller with an active subscription on plan.
func (h *harness) subscribed(t *testing.T, plan string) (Caller, string) {
	t.Helper()
	ctx := context.Background()
	caller := Caller{ID: uuid.NewString(), Email: "owner@example.test"}

	res, err := h.svc.CreateSubscription(ctx, caller, plan)
	require.NoError(t, err)
	h.stripe.payLatestInvoice(res.SubscriptionID)
	require.NoError(t, h.svc.HandleEvent(ctx, billing.Event{
		ID:           "evt_activate_" + res.SubscriptionID,
		Type:         billing.EventSubscriptionUpdated,
		Subscription: h.stripe.subscription(res.SubscriptionID),
	}))
	require.True(t, h.account(t, caller).Premium)
	return caller, res.SubscriptionID
}
