package routes

import (
	"net/http"

	"billing-app/internal/api/billing"
	stripewebhooks "billing-app/internal/api/stripewebhook"
	"billing-app/internal/app/http/middleware"
	"billing-app/internal/domain/accounts"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Billing       billing.Service
	Events        stripewebhooks.EventHandler
	Accounts      accounts.Repository
	JWTSecret     string
	WebhookSecret string
	Logger        *zap.Logger
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// raw body is needed for signature verification, so no sanitizing here
	r.POST("/webhook", stripewebhooks.NewHandler(d.Events, d.WebhookSecret, d.Logger).StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := billing.NewHandler(d.Billing, d.Logger)

	auth := r.Group("/billing")
	auth.Use(middleware.AuthMiddleware(d.JWTSecret), middleware.SanitizeAndCleanInputMiddleware())
	auth.GET("/plans", h.ListPlans)
	auth.POST("/payment-intent", h.CreatePaymentIntent)
	auth.POST("/subscription", h.CreateSubscription)
	auth.GET("/subscription", h.GetSubscriptionInfo)
	auth.POST("/subscription/confirm", h.ConfirmSubscriptionPayment)
	auth.POST("/subscription/cancel-at-period-end", h.SetCancelAtPeriodEnd)
	auth.POST("/subscription/cancel", h.CancelSubscriptionNow)
	auth.POST("/subscription/plan/cancel", h.CancelDowngrade)
	auth.POST("/portal", h.CreateBillingPortal)
	auth.GET("/invoice/latest", h.GetLatestInvoicePdf)
	auth.POST("/upgrade/confirm", h.ConfirmUpgradePayment)

	// Subscribed users
	subscribed := auth.Group("/")
	subscribed.Use(middleware.RequirePremium(d.Accounts, d.Logger))
	subscribed.POST("/subscription/plan", h.ChangeSubscriptionPlan)
	subscribed.POST("/upgrade/payment-intent", h.CreateUpgradePaymentIntent)
}
