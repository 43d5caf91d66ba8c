package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"billing-app/internal/domain/billing"
	billingsvc "billing-app/internal/service/billing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Service is the billing orchestrator as seen by the HTTP layer.
type Service interface {
	ListPlans(ctx context.Context) ([]billingsvc.PlanInfo, error)
	CreatePaymentIntent(ctx context.Context, caller billingsvc.Caller) (*billingsvc.PaymentIntentResult, error)
	CreateSubscription(ctx context.Context, caller billingsvc.Caller, plan string) (*billingsvc.CreateSubscriptionResult, error)
	ConfirmSubscriptionPayment(ctx context.Context, caller billingsvc.Caller, in billingsvc.ConfirmPaymentInput) (*billingsvc.StatusResult, error)
	CreateBillingPortalSession(ctx context.Context, caller billingsvc.Caller, returnURL string) (string, error)
	GetLatestInvoicePdf(ctx context.Context, caller billingsvc.Caller) (*billingsvc.InvoiceLink, error)
	GetSubscriptionInfo(ctx context.Context, caller billingsvc.Caller) (*billingsvc.SubscriptionInfo, error)
	SetCancelAtPeriodEnd(ctx context.Context, caller billingsvc.Caller, cancel bool) (*billingsvc.StatusResult, error)
	CancelSubscriptionNow(ctx context.Context, caller billingsvc.Caller) (*billingsvc.StatusResult, error)
	ChangeSubscriptionPlan(ctx context.Context, caller billingsvc.Caller, plan string, startAt *time.Time) (*billingsvc.PlanChangeResult, error)
	CreateUpgradePaymentIntent(ctx context.Context, caller billingsvc.Caller, plan string, startAt *time.Time) (*billingsvc.PaymentIntentResult, error)
	ConfirmUpgradePayment(ctx context.Context, caller billingsvc.Caller, paymentIntentID, billingEmail string) (*billingsvc.PlanChangeResult, error)
	CancelScheduledPlanChange(ctx context.Context, caller billingsvc.Caller) (*billingsvc.StatusResult, error)
}

type Handler struct {
	svc Service
	log *zap.Logger
}

func NewHandler(svc Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// callerFrom reads the identity the auth middleware stored on the context.
func callerFrom(c *gin.Context) billingsvc.Caller {
	return billingsvc.Caller{ID: c.GetString("user_id"), Email: c.GetString("email")}
}

var statusByCode = map[billing.Code]int{
	billing.CodeUnauthenticated:    http.StatusUnauthorized,
	billing.CodeInvalidArgument:    http.StatusBadRequest,
	billing.CodeFailedPrecondition: http.StatusPreconditionFailed,
	billing.CodeNotFound:           http.StatusNotFound,
	billing.CodePermissionDenied:   http.StatusForbidden,
	billing.CodeInternal:           http.StatusInternalServerError,
}

// HTTPStatus maps a billing error to its response status.
func HTTPStatus(err error) int {
	if status, ok := statusByCode[billing.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError writes the {"error","code"} body for err.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(HTTPStatus(err), gin.H{
		"error": billing.MessageOf(err),
		"code":  string(billing.CodeOf(err)),
	})
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, dst interface{}) error {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return billing.InvalidArgument("%s failed %s validation", verrs[0].Field(), verrs[0].Tag())
	}
	return billing.InvalidArgument("malformed JSON body")
}

func (h *Handler) respond(c *gin.Context, res interface{}, err error) {
	if err != nil {
		if billing.CodeOf(err) == billing.CodeInternal {
			h.log.Error("billing request failed",
				zap.String("route", c.FullPath()),
				zap.String("user_id", c.GetString("user_id")),
				zap.Error(err),
			)
		}
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
