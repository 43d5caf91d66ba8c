package stripe

import (
	"time"

	"billing-app/internal/domain/billing"

	stripego "github.com/stripe/stripe-go/v75"
)

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func customerID(c *stripego.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func toSubscription(s *stripego.Subscription) *billing.Subscription {
	if s == nil {
		return nil
	}
	out := &billing.Subscription{
		ID:                 s.ID,
		CustomerID:         customerID(s.Customer),
		Status:             string(s.Status),
		CurrentPeriodStart: unix(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unix(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelAt:           unix(s.CancelAt),
		Metadata:           s.Metadata,
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		out.Quantity = item.Quantity
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	if s.Schedule != nil {
		out.ScheduleID = s.Schedule.ID
	}
	if s.LatestInvoice != nil {
		out.LatestInvoice = toInvoice(s.LatestInvoice)
	}
	if s.PendingSetupIntent != nil {
		out.PendingSetupSecret = s.PendingSetupIntent.ClientSecret
	}
	return out
}

func toSchedule(s *stripego.SubscriptionSchedule) *billing.Schedule {
	if s == nil {
		return nil
	}
	out := &billing.Schedule{
		ID:          s.ID,
		Status:      string(s.Status),
		EndBehavior: string(s.EndBehavior),
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.CurrentPhase != nil {
		out.CurrentPhaseStart = unix(s.CurrentPhase.StartDate)
		out.CurrentPhaseEnd = unix(s.CurrentPhase.EndDate)
	}
	for _, p := range s.Phases {
		if p == nil {
			continue
		}
		phase := billing.Phase{
			Start:              unix(p.StartDate),
			End:                unix(p.EndDate),
			BillingCycleAnchor: string(p.BillingCycleAnchor),
			ProrationBehavior:  string(p.ProrationBehavior),
		}
		if len(p.Items) > 0 && p.Items[0] != nil {
			phase.Quantity = p.Items[0].Quantity
			if p.Items[0].Price != nil {
				phase.PriceID = p.Items[0].Price.ID
			}
		}
		out.Phases = append(out.Phases, phase)
	}
	return out
}

func phaseParams(phases []billing.Phase) []*stripego.SubscriptionSchedulePhaseParams {
	out := make([]*stripego.SubscriptionSchedulePhaseParams, 0, len(phases))
	for _, p := range phases {
		qty := p.Quantity
		if qty <= 0 {
			qty = 1
		}
		pp := &stripego.SubscriptionSchedulePhaseParams{
			Items: []*stripego.SubscriptionSchedulePhaseItemParams{
				{Price: stripego.String(p.PriceID), Quantity: stripego.Int64(qty)},
			},
		}
		if !p.Start.IsZero() {
			pp.StartDate = stripego.Int64(p.Start.Unix())
		}
		if !p.End.IsZero() {
			pp.EndDate = stripego.Int64(p.End.Unix())
		}
		if p.BillingCycleAnchor != "" {
			pp.BillingCycleAnchor = stripego.String(p.BillingCycleAnchor)
		}
		if p.ProrationBehavior != "" {
			pp.ProrationBehavior = stripego.String(p.ProrationBehavior)
		}
		out = append(out, pp)
	}
	return out
}

func toInvoice(inv *stripego.Invoice) *billing.Invoice {
	if inv == nil {
		return nil
	}
	out := &billing.Invoice{
		ID:            inv.ID,
		Number:        inv.Number,
		Status:        string(inv.Status),
		Paid:          inv.Paid,
		AmountPaid:    inv.AmountPaid,
		AmountDue:     inv.AmountDue,
		Currency:      string(inv.Currency),
		CustomerID:    customerID(inv.Customer),
		CustomerEmail: inv.CustomerEmail,
		HostedURL:     inv.HostedInvoiceURL,
		PDFURL:        inv.InvoicePDF,
		Created:       unix(inv.Created),
		PaymentIntent: toPaymentIntent(inv.PaymentIntent),
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	return out
}

func toPaymentIntent(pi *stripego.PaymentIntent) *billing.PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &billing.PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		CustomerID:   customerID(pi.Customer),
		ReceiptEmail: pi.ReceiptEmail,
		Metadata:     pi.Metadata,
	}
	if pi.Invoice != nil {
		out.InvoiceID = pi.Invoice.ID
	}
	if pi.LatestCharge != nil && pi.LatestCharge.BillingDetails != nil {
		out.ChargeBillingEmail = pi.LatestCharge.BillingDetails.Email
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
		if pi.PaymentMethod.BillingDetails != nil {
			out.PaymentMethodBillingEmail = pi.PaymentMethod.BillingDetails.Email
		}
	}
	return out
}

func toPaymentMethod(pm *stripego.PaymentMethod) *billing.PaymentMethod {
	if pm == nil {
		return nil
	}
	return &billing.PaymentMethod{ID: pm.ID, CustomerID: customerID(pm.Customer)}
}

func toPrice(p *stripego.Price) *billing.Price {
	if p == nil {
		return nil
	}
	out := &billing.Price{ID: p.ID, UnitAmount: p.UnitAmount, Currency: string(p.Currency)}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
	}
	return out
}
