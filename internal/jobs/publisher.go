package jobs

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
)

// EventPublisher pushes inbound Kill Bill events onto the billing stream so
// the webhook endpoint can acknowledge immediately.
type EventPublisher struct {
	js     nats.JetStreamContext
	logger zerolog.Logger
}

func NewEventPublisher(js nats.JetStreamContext, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		js:     js,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// PublishEvent enqueues one event. The message id pairs event type with
// object id so JetStream drops publish-side duplicates inside the dedupe
// window; the persistent ledger catches the rest.
func (p *EventPublisher) PublishEvent(ctx context.Context, event *domain.BillingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return domain.Internal(err, "jobs.publish_event", "failed to encode event")
	}

	msgID := event.EventType + ":" + event.ObjectID
	if _, err := p.js.Publish(SubjectEvents, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return domain.Transient(err, "jobs.publish_event", "failed to publish event")
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("object_id", event.ObjectID).
		Msg("event enqueued")
	return nil
}
