// Package webhook receives Kill Bill push notifications.
package webhook

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/telemetry"
)

// tokenHeader carries the shared webhook secret. Kill Bill push
// notifications are not signed, so the callback URL is registered with this
// token configured as a header.
const tokenHeader = "X-Webhook-Token"

// Publisher enqueues an event for asynchronous processing.
type Publisher interface {
	PublishEvent(ctx context.Context, event *domain.BillingEvent) error
}

// KillbillHandler accepts push notifications, validates the payload and
// enqueues it. All reconciliation happens in the worker; the endpoint only
// guards the queue.
type KillbillHandler struct {
	publisher Publisher
	token     string
	metrics   *telemetry.Metrics
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewKillbillHandler(publisher Publisher, token string, metrics *telemetry.Metrics, logger zerolog.Logger) *KillbillHandler {
	return &KillbillHandler{
		publisher: publisher,
		token:     token,
		metrics:   metrics,
		validate:  validator.New(),
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

// Register mounts the webhook route.
func (h *KillbillHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/killbill", h.Handle)
}

// Handle processes one push notification. A non-2xx response makes Kill Bill
// retry the delivery, so only queue failures return errors; bad payloads are
// rejected for good.
func (h *KillbillHandler) Handle(c echo.Context) error {
	if h.token != "" {
		provided := c.Request().Header.Get(tokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) != 1 {
			h.logger.Warn().Str("remote", c.RealIP()).Msg("webhook rejected, bad token")
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
	}

	var event domain.BillingEvent
	if err := c.Bind(&event); err != nil {
		h.logger.Warn().Err(err).Msg("webhook rejected, malformed payload")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	}
	if err := h.validate.Struct(&event); err != nil {
		h.logger.Warn().Err(err).Msg("webhook rejected, missing event type")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "eventType is required"})
	}

	h.metrics.WebhookReceived.WithLabelValues(event.EventType).Inc()

	if err := h.publisher.PublishEvent(c.Request().Context(), &event); err != nil {
		h.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("object_id", event.ObjectID).
			Msg("failed to enqueue event")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
	}

	h.logger.Debug().
		Str("event_type", event.EventType).
		Str("object_id", event.ObjectID).
		Msg("event accepted")
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
