package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/telemetry"
)

// EventDispatcher routes one decoded event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *domain.BillingEvent) error
}

// ackAction is the disposition for a handled message.
type ackAction int

const (
	ackOK ackAction = iota
	ackRetry
	ackDead
)

// EventConsumer pulls events off the billing stream and hands them to the
// dispatcher. Transient handler failures are redelivered up to
// eventMaxDeliver times; everything else is terminated so the queue cannot
// wedge on a poison message.
type EventConsumer struct {
	sub     *nats.Subscription
	handler EventDispatcher
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func NewEventConsumer(
	js nats.JetStreamContext,
	stream string,
	handler EventDispatcher,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) (*EventConsumer, error) {
	sub, err := js.PullSubscribe(SubjectEvents, "billing-events",
		nats.BindStream(stream),
		nats.AckWait(eventAckWait),
		nats.MaxDeliver(eventMaxDeliver),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, domain.WrapError(err, domain.ECONFIG, "jobs.consumer", "failed to create event consumer")
	}

	return &EventConsumer{
		sub:     sub,
		handler: handler,
		metrics: metrics,
		logger:  logger.With().Str("component", "event_consumer").Logger(),
	}, nil
}

// Run pulls and processes events until the context is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := c.sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Error().Err(err).Msg("fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

func (c *EventConsumer) process(ctx context.Context, msg *nats.Msg) {
	start := time.Now()

	var event domain.BillingEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Warn().Err(err).Msg("terminating undecodable event message")
		c.terminate(msg, "event")
		return
	}

	err := c.handler.Dispatch(ctx, &event)
	c.metrics.JobDuration.WithLabelValues("event").Observe(time.Since(start).Seconds())

	delivered := 1
	if meta, metaErr := msg.Metadata(); metaErr == nil {
		delivered = int(meta.NumDelivered)
	}

	switch disposition(err, delivered, eventMaxDeliver) {
	case ackOK:
		c.metrics.JobsProcessed.WithLabelValues("event").Inc()
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn().Err(ackErr).Msg("ack failed")
		}
	case ackRetry:
		c.metrics.JobsFailed.WithLabelValues("event").Inc()
		c.logger.Warn().Err(err).
			Str("event_type", event.EventType).
			Int("delivered", delivered).
			Msg("transient failure, requesting redelivery")
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn().Err(nakErr).Msg("nak failed")
		}
	case ackDead:
		c.metrics.JobsFailed.WithLabelValues("event").Inc()
		c.metrics.JobsDead.WithLabelValues("event").Inc()
		c.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("object_id", event.ObjectID).
			Int("delivered", delivered).
			Msg("dead-lettering event, operator attention required")
		c.terminate(msg, "event")
	}
}

func (c *EventConsumer) terminate(msg *nats.Msg, job string) {
	if err := msg.Term(); err != nil {
		c.logger.Warn().Err(err).Str("job", job).Msg("term failed")
	}
}

// disposition decides what to do with a handled message. Only transient
// errors earn a redelivery, and only while attempts remain.
func disposition(err error, delivered, maxDeliver int) ackAction {
	if err == nil {
		return ackOK
	}
	if domain.Retryable(err) && delivered < maxDeliver {
		return ackRetry
	}
	return ackDead
}
