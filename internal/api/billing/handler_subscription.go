package billing

import (
	"github.com/gin-gonic/gin"

	billingsvc "billing-app/internal/service/billing"
)

func (h *Handler) ListPlans(c *gin.Context) {
	res, err := h.svc.ListPlans(c.Request.Context())
	h.respond(c, gin.H{"plans": res}, err)
}

func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	res, err := h.svc.CreatePaymentIntent(c.Request.Context(), callerFrom(c))
	h.respond(c, res, err)
}

func (h *Handler) CreateSubscription(c *gin.Context) {
	var body struct {
		Plan string `json:"plan"`
	}
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	res, err := h.svc.CreateSubscription(c.Request.Context(), callerFrom(c), body.Plan)
	h.respond(c, res, err)
}

func (h *Handler) ConfirmSubscriptionPayment(c *gin.Context) {
	var body struct {
		PaymentMethodID string `json:"payment_method_id"`
		SubscriptionID  string `json:"subscription_id"`
		BillingEmail    string `json:"billing_email" binding:"omitempty,email"`
	}
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	res, err := h.svc.ConfirmSubscriptionPayment(c.Request.Context(), callerFrom(c), billingsvc.ConfirmPaymentInput{
		PaymentMethodID: body.PaymentMethodID,
		SubscriptionID:  body.SubscriptionID,
		BillingEmail:    body.BillingEmail,
	})
	h.respond(c, res, err)
}

func (h *Handler) CreateBillingPortal(c *gin.Context) {
	var body struct {
		ReturnURL string `json:"return_url"`
	}
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	url, err := h.svc.CreateBillingPortalSession(c.Request.Context(), callerFrom(c), body.ReturnURL)
	h.respond(c, gin.H{"url": url}, err)
}

func (h *Handler) GetLatestInvoicePdf(c *gin.Context) {
	res, err := h.svc.GetLatestInvoicePdf(c.Request.Context(), callerFrom(c))
	h.respond(c, res, err)
}

func (h *Handler) GetSubscriptionInfo(c *gin.Context) {
	res, err := h.svc.GetSubscriptionInfo(c.Request.Context(), callerFrom(c))
	h.respond(c, res, err)
}

func (h *Handler) CancelSubscriptionNow(c *gin.Context) {
	res, err := h.svc.CancelSubscriptionNow(c.Request.Context(), callerFrom(c))
	h.respond(c, res, err)
}
