// Package dispatch routes inbound Kill Bill events to the service layer.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/telemetry"
)

// SubscriptionHandler receives subscription lifecycle events.
type SubscriptionHandler interface {
	HandleCancelEvent(ctx context.Context, event *domain.BillingEvent) error
	HandleUncancelEvent(ctx context.Context, event *domain.BillingEvent) error
	HandleChangeEvent(ctx context.Context, event *domain.BillingEvent) error
	HandlePhaseEvent(ctx context.Context, event *domain.BillingEvent) error
}

// InvoiceHandler receives invoice events.
type InvoiceHandler interface {
	ProcessInvoiceNotification(ctx context.Context, event *domain.BillingEvent) error
	HandleInvoicePaymentFailed(ctx context.Context, event *domain.BillingEvent) error
}

// PaymentHandler receives raw payment events. Payment outcomes are already
// reconciled through invoice events; this hook exists for refund and
// chargeback follow-up.
type PaymentHandler interface {
	HandlePaymentEvent(ctx context.Context, event *domain.BillingEvent) error
}

// Dispatcher classifies events and hands them to the matching handler,
// deduplicating on the (event type, object id) ledger first. Events with an
// unrecognized type are logged and dropped, never surfaced as errors.
type Dispatcher struct {
	subscriptions SubscriptionHandler
	invoices      InvoiceHandler
	payments      PaymentHandler
	events        domain.EventStore
	metrics       *telemetry.Metrics
	logger        zerolog.Logger
}

func NewDispatcher(
	subscriptions SubscriptionHandler,
	invoices InvoiceHandler,
	payments PaymentHandler,
	events domain.EventStore,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		subscriptions: subscriptions,
		invoices:      invoices,
		payments:      payments,
		events:        events,
		metrics:       metrics,
		logger:        logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch routes one event. A returned error means the delivery should be
// retried by the job layer; terminal conditions (unknown type, duplicate,
// event for a subscription we do not track) return nil.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.BillingEvent) error {
	category := event.Category()
	logger := d.logger.With().
		Str("event_type", event.EventType).
		Str("object_id", event.ObjectID).
		Str("category", category.String()).
		Logger()

	if category == domain.EventCategoryUnclassified {
		d.metrics.EventsUnclassified.Inc()
		logger.Warn().Msg("dropping event with unrecognized type")
		return nil
	}

	seen, err := d.events.Seen(ctx, event.EventType, event.ObjectID)
	if err != nil {
		return domain.WrapError(err, domain.ETRANSIENT, "dispatch", "checking event dedupe ledger")
	}
	if seen {
		d.metrics.EventsDuplicate.WithLabelValues(event.EventType).Inc()
		logger.Debug().Msg("duplicate event delivery, skipping")
		return nil
	}

	d.metrics.EventsDispatched.WithLabelValues(event.EventType).Inc()
	start := time.Now()
	err = d.route(ctx, category, event)
	d.metrics.WebhookLatency.WithLabelValues(category.String()).Observe(time.Since(start).Seconds())

	switch {
	case domain.IsCode(err, domain.ENOTFOUND):
		// An event for a subscription outside our books is expected
		// control flow, not a failed delivery.
		logger.Warn().Err(err).Msg("event references an untracked subscription, dropping")
	case err != nil:
		d.metrics.WebhookFailed.WithLabelValues(category.String()).Inc()
		logger.Error().Err(err).Msg("event handler failed")
		return err
	default:
		d.metrics.WebhookProcessed.WithLabelValues(category.String()).Inc()
	}

	// The ledger entry is written only now that the handlers are done. A
	// failed delivery stays unmarked so that redelivery is not mistaken
	// for a duplicate. Concurrent deliveries that both pass the Seen check
	// are absorbed by the handlers' per-row state guards.
	if _, err := d.events.MarkProcessed(ctx, event.EventType, event.ObjectID); err != nil {
		return domain.WrapError(err, domain.ETRANSIENT, "dispatch", "recording event in dedupe ledger")
	}
	return nil
}

func (d *Dispatcher) route(ctx context.Context, category domain.EventCategory, event *domain.BillingEvent) error {
	switch category {
	case domain.EventCategorySubscription:
		return d.routeSubscription(ctx, event)
	case domain.EventCategoryInvoice:
		return d.routeInvoice(ctx, event)
	case domain.EventCategoryPayment:
		return d.routePayment(ctx, event)
	default:
		return nil
	}
}

func (d *Dispatcher) routeSubscription(ctx context.Context, event *domain.BillingEvent) error {
	switch event.EventType {
	case domain.EventSubscriptionCancel:
		return d.subscriptions.HandleCancelEvent(ctx, event)
	case domain.EventSubscriptionUncancel:
		return d.subscriptions.HandleUncancelEvent(ctx, event)
	case domain.EventSubscriptionChange:
		return d.subscriptions.HandleChangeEvent(ctx, event)
	case domain.EventSubscriptionPhase:
		return d.subscriptions.HandlePhaseEvent(ctx, event)
	case domain.EventSubscriptionCreation, domain.EventSubscriptionBCDChange:
		// Creation originates on our side and BCD shifts carry no state
		// we track; both are informational.
		d.logger.Info().
			Str("event_type", event.EventType).
			Str("external_key", event.ExternalKey).
			Msg("subscription event acknowledged")
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) routeInvoice(ctx context.Context, event *domain.BillingEvent) error {
	switch event.EventType {
	case domain.EventInvoicePaymentFailed:
		return d.invoices.HandleInvoicePaymentFailed(ctx, event)
	default:
		// Creation, adjustment, notification and payment-success all
		// resolve the invoice and settle the purchase the same way.
		return d.invoices.ProcessInvoiceNotification(ctx, event)
	}
}

func (d *Dispatcher) routePayment(ctx context.Context, event *domain.BillingEvent) error {
	if d.payments == nil {
		d.logger.Debug().
			Str("event_type", event.EventType).
			Msg("no payment handler configured, dropping payment event")
		return nil
	}
	return d.payments.HandlePaymentEvent(ctx, event)
}
