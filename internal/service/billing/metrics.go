package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	planChangesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_plan_changes_scheduled_total",
			Help: "Plan switches written to a Stripe subscription schedule.",
		},
		[]string{"plan"},
	)

	// result: sent, duplicate, no_recipient, disabled, failed
	invoiceEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_invoice_emails_total",
			Help: "Invoice receipt email outcomes.",
		},
		[]string{"result"},
	)
)
