package billing

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"math"
	"strings"
	texttemplate "text/template"

	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"

	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message is one outbound email with plain-text and HTML parts.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

// Mailer sends outbound email. A disabled mailer is a soft no-op.
type Mailer interface {
	Enabled() bool
	Send(ctx context.Context, msg Message) error
}

// SendSubscriptionEmailIfNeeded mails a receipt for a paid invoice at most
// once per invoice. The check against the last emailed invoice is a plain
// read; two concurrent deliveries can both send.
func (s *Service) SendSubscriptionEmailIfNeeded(ctx context.Context, ref accounts.Ref, inv *billing.Invoice) (bool, error) {
	if !inv.IsPaid() {
		return false, nil
	}
	acct, err := s.accounts.Get(ctx, ref)
	if err != nil {
		return false, billing.Internal("account store unavailable", err)
	}
	if acct == nil {
		return false, nil
	}
	if deref(acct.LastInvoiceEmailedID) == inv.ID {
		invoiceEmails.WithLabelValues("duplicate").Inc()
		s.log.Debug("invoice already emailed",
			zap.String("account", ref.String()),
			zap.String("invoice_id", inv.ID),
		)
		return false, nil
	}

	to := recipientFor(inv, acct)
	if to == "" {
		invoiceEmails.WithLabelValues("no_recipient").Inc()
		s.log.Info("no recipient for invoice email",
			zap.String("account", ref.String()),
			zap.String("invoice_id", inv.ID),
		)
		return false, nil
	}
	if s.mailer == nil || !s.mailer.Enabled() {
		invoiceEmails.WithLabelValues("disabled").Inc()
		s.log.Info("mail not configured, invoice email skipped",
			zap.String("account", ref.String()),
			zap.String("invoice_id", inv.ID),
		)
		return false, nil
	}

	msg, err := composeInvoiceEmail(to, deref(acct.SubscriptionInterval), inv)
	if err != nil {
		return false, billing.Internal("failed to render invoice email", err)
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		invoiceEmails.WithLabelValues("failed").Inc()
		return false, fmt.Errorf("send invoice email %s: %w", inv.ID, err)
	}

	if err := s.accounts.Update(ctx, ref, map[string]interface{}{
		accounts.FieldLastInvoiceEmailedID: inv.ID,
		accounts.FieldLastInvoiceEmailedAt: s.now().UTC(),
	}); err != nil {
		return true, billing.Internal("failed to store emailed invoice", err)
	}
	invoiceEmails.WithLabelValues("sent").Inc()
	s.log.Info("invoice email sent",
		zap.String("account", ref.String()),
		zap.String("invoice_id", inv.ID),
	)
	return true, nil
}

// recipientFor picks the most specific billing address available.
func recipientFor(inv *billing.Invoice, acct *accounts.Account) string {
	candidates := []string{}
	if pi := inv.PaymentIntent; pi != nil {
		candidates = append(candidates, pi.ReceiptEmail, pi.ChargeBillingEmail, pi.PaymentMethodBillingEmail)
	}
	candidates = append(candidates, inv.CustomerEmail)
	if acct != nil {
		candidates = append(candidates, acct.Email)
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

type invoiceEmailData struct {
	Plan      string
	Amount    string
	Number    string
	HostedURL string
	PDFURL    string
}

var invoiceText = texttemplate.Must(texttemplate.New("text").Parse(`Thank you for your payment.

Plan: {{.Plan}}
Amount: {{.Amount}}
{{if .Number}}Invoice: {{.Number}}
{{end}}{{if .HostedURL}}
View your invoice: {{.HostedURL}}
{{end}}{{if .PDFURL}}Download PDF: {{.PDFURL}}
{{end}}`))

var invoiceHTML = htmltemplate.Must(htmltemplate.New("html").Parse(`<p>Thank you for your payment.</p>
<table>
<tr><td>Plan</td><td>{{.Plan}}</td></tr>
<tr><td>Amount</td><td>{{.Amount}}</td></tr>
{{if .Number}}<tr><td>Invoice</td><td>{{.Number}}</td></tr>{{end}}
</table>
{{if .HostedURL}}<p><a href="{{.HostedURL}}">View your invoice</a></p>{{end}}
{{if .PDFURL}}<p><a href="{{.PDFURL}}">Download PDF</a></p>{{end}}`))

func composeInvoiceEmail(to, interval string, inv *billing.Invoice) (Message, error) {
	data := invoiceEmailData{
		Plan:      planLabel(interval),
		Amount:    formatAmount(inv.AmountPaid, inv.Currency),
		Number:    inv.Number,
		HostedURL: inv.HostedURL,
		PDFURL:    inv.PDFURL,
	}
	var text, html bytes.Buffer
	if err := invoiceText.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := invoiceHTML.Execute(&html, data); err != nil {
		return Message{}, err
	}

	subject := "Your Premium receipt"
	if inv.Number != "" {
		subject += " " + inv.Number
	}
	return Message{
		To:      to,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
		Tag:     "invoice-paid",
	}, nil
}

func planLabel(interval string) string {
	switch interval {
	case "month":
		return "Premium (monthly)"
	case "year":
		return "Premium (yearly)"
	}
	return "Premium"
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount renders minor units in the currency's own precision, e.g.
// 999 usd as "$ 9.99" and 500 jpy as "¥ 500".
func formatAmount(minor int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return fmt.Sprintf("%.2f %s", float64(minor)/100, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(minor) / math.Pow10(scale)
	return amountPrinter.Sprint(currency.Symbol(unit.Amount(value)))
}
