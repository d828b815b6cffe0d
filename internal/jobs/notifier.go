package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
)

// Notification kinds published for the surrounding application's mailer.
const (
	NotificationCardDeclined    = "subscription_card_declined"
	NotificationDeclineReminder = "charge_declined_reminder"
	NotificationRestarted       = "subscription_restarted"
)

// Notification is the outbound message consumed by the mailer.
type Notification struct {
	Kind           string    `json:"kind"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Notifier publishes customer notifications onto the billing stream. It only
// enqueues; rendering and delivery are the mailer's concern.
type Notifier struct {
	js     nats.JetStreamContext
	logger zerolog.Logger
	now    func() time.Time
}

var _ domain.Notifier = (*Notifier)(nil)

func NewNotifier(js nats.JetStreamContext, logger zerolog.Logger) *Notifier {
	return &Notifier{
		js:     js,
		logger: logger.With().Str("component", "notifier").Logger(),
		now:    time.Now,
	}
}

func (n *Notifier) SubscriptionCardDeclined(ctx context.Context, subscriptionID uuid.UUID) error {
	return n.publish(ctx, Notification{
		Kind:           NotificationCardDeclined,
		SubscriptionID: subscriptionID,
	})
}

// ChargeDeclinedReminder is the mid-window nudge sent before the dunning
// deadline.
func (n *Notifier) ChargeDeclinedReminder(ctx context.Context, subscriptionID uuid.UUID) error {
	return n.publish(ctx, Notification{
		Kind:           NotificationDeclineReminder,
		SubscriptionID: subscriptionID,
	})
}

func (n *Notifier) SubscriptionRestarted(ctx context.Context, subscriptionID uuid.UUID, reason domain.ResubscriptionReason) error {
	return n.publish(ctx, Notification{
		Kind:           NotificationRestarted,
		SubscriptionID: subscriptionID,
		Reason:         string(reason),
	})
}

func (n *Notifier) publish(ctx context.Context, notification Notification) error {
	notification.OccurredAt = n.now().UTC()

	data, err := json.Marshal(notification)
	if err != nil {
		return domain.Internal(err, "jobs.notify", "failed to encode notification")
	}
	if _, err := n.js.Publish(SubjectNotifications, data, nats.Context(ctx)); err != nil {
		return domain.Transient(err, "jobs.notify", "failed to publish notification")
	}

	n.logger.Debug().
		Str("kind", notification.Kind).
		Str("subscription_id", notification.SubscriptionID.String()).
		Msg("notification enqueued")
	return nil
}
