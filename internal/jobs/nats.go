// Package jobs moves work off the webhook request path. Inbound events are
// published to a JetStream work queue and consumed by the worker; dunning
// timers live in PostgreSQL and are polled by the same worker.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects under the billing stream.
const (
	SubjectEvents        = "billing.events"
	SubjectNotifications = "billing.notifications"
)

const (
	// eventMaxDeliver bounds redelivery of a failing event before it is
	// dead-lettered.
	eventMaxDeliver = 3

	eventAckWait = 30 * time.Second

	// dedupeWindow is the JetStream duplicate-detection window for
	// publish-side message ids.
	dedupeWindow = 10 * time.Minute
)

// Connect opens a NATS connection and its JetStream context.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url,
		nats.Name("crowdchurn-billing"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("opening jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the billing stream that holds webhook
// events and outbound notifications.
func EnsureStream(js nats.JetStreamContext, name string, logger zerolog.Logger) error {
	cfg := &nats.StreamConfig{
		Name:       name,
		Subjects:   []string{"billing.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     48 * time.Hour,
		Duplicates: dedupeWindow,
	}

	_, err := js.AddStream(cfg)
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		_, err = js.UpdateStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", name, err)
	}

	logger.Info().Str("stream", name).Msg("jetstream stream ready")
	return nil
}
