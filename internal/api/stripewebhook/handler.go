package stripewebhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"billing-app/internal/domain/billing"
	stripeinfra "billing-app/internal/infra/stripe"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const maxBodyBytes = 65536

// result: received, ignored, rejected, failed
var webhookEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Stripe webhook deliveries by event type and outcome.",
	},
	[]string{"type", "result"},
)

// EventHandler processes a verified Stripe event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev billing.Event) error
}

type Handler struct {
	events EventHandler
	secret string
	log    *zap.Logger
}

func NewHandler(events EventHandler, secret string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{events: events, secret: secret, log: log}
}

// StripeWebhook verifies the signature over the raw body and hands the event
// to the processor. Processing errors answer 500 so Stripe redelivers.
func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.secret == "" {
		h.log.Error("webhook received but STRIPE_WEBHOOK_SECRET is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := stripeinfra.ParseEvent(payload, c.GetHeader("Stripe-Signature"), h.secret)
	if err != nil {
		var sigErr *stripeinfra.ErrSignature
		if errors.As(err, &sigErr) {
			h.log.Warn("stripe signature verification failed", zap.Error(err))
			webhookEvents.WithLabelValues("unknown", "rejected").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
			return
		}
		h.log.Warn("stripe event could not be decoded", zap.String("event_id", event.ID), zap.Error(err))
		webhookEvents.WithLabelValues(event.Type, "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse event"})
		return
	}

	if !billing.HandledEvent(event.Type) {
		webhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.events.HandleEvent(c.Request.Context(), event); err != nil {
		h.log.Error("stripe event processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		webhookEvents.WithLabelValues(event.Type, "failed").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event processing failed"})
		return
	}
	webhookEvents.WithLabelValues(event.Type, "received").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
