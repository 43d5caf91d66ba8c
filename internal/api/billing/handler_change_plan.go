package billing

import (
	"time"

	"billing-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
)

type planRequest struct {
	Plan    string     `json:"plan"`
	StartAt *time.Time `json:"start_at"`
}

func (h *Handler) ChangeSubscriptionPlan(c *gin.Context) {
	var body planRequest
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	res, err := h.svc.ChangeSubscriptionPlan(c.Request.Context(), callerFrom(c), body.Plan, body.StartAt)
	h.respond(c, res, err)
}

// CancelDowngrade drops the staged plan switch, if it has not happened yet.
func (h *Handler) CancelDowngrade(c *gin.Context) {
	res, err := h.svc.CancelScheduledPlanChange(c.Request.Context(), callerFrom(c))
	h.respond(c, res, err)
}

func (h *Handler) SetCancelAtPeriodEnd(c *gin.Context) {
	var body struct {
		CancelAtPeriodEnd *bool `json:"cancel_at_period_end"`
	}
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	if body.CancelAtPeriodEnd == nil {
		RespondError(c, billing.InvalidArgument("cancel_at_period_end is required"))
		return
	}
	res, err := h.svc.SetCancelAtPeriodEnd(c.Request.Context(), callerFrom(c), *body.CancelAtPeriodEnd)
	h.respond(c, res, err)
}

func (h *Handler) CreateUpgradePaymentIntent(c *gin.Context) {
	var body planRequest
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	res, err := h.svc.CreateUpgradePaymentIntent(c.Request.Context(), callerFrom(c), body.Plan, body.StartAt)
	h.respond(c, res, err)
}

func (h *Handler) ConfirmUpgradePayment(c *gin.Context) {
	var body struct {
		PaymentIntentID string `json:"payment_intent_id"`
		BillingEmail    string `json:"billing_email" binding:"omitempty,email"`
	}
	if err := bindOptional(c, &body); err != nil {
		RespondError(c, err)
		return
	}
	res, err := h.svc.ConfirmUpgradePayment(c.Request.Context(), callerFrom(c), body.PaymentIntentID, body.BillingEmail)
	h.respond(c, res, err)
}
