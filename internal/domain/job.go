package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Dunning job types executed by the background worker.
const (
	JobChargeDeclinedReminder = "charge_declined_reminder"
	JobUnsubscribeAndFail     = "unsubscribe_and_fail"
)

// ScheduledJob is a one-shot timer persisted until its run time. One job per
// (type, subscription) pair: a repeat decline moves the existing timer
// instead of arming a second one.
type ScheduledJob struct {
	ID             uuid.UUID
	Type           string
	SubscriptionID uuid.UUID
	RunAt          time.Time
	CreatedAt      time.Time
}

// JobStore persists scheduled jobs.
type JobStore interface {
	// Schedule arms (or re-arms) the timer for the pair.
	Schedule(ctx context.Context, jobType string, subscriptionID uuid.UUID, runAt time.Time) error

	// Claim atomically removes and returns up to limit jobs due at or
	// before now. A claimed job that fails must be re-scheduled by the
	// caller or it is gone.
	Claim(ctx context.Context, now time.Time, limit int) ([]ScheduledJob, error)

	// Cancel disarms the timer for the pair if present.
	Cancel(ctx context.Context, jobType string, subscriptionID uuid.UUID) error
}
