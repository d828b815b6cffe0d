package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/telemetry"
)

// retryDelay is the backoff for a claimed job whose handler failed
// transiently. The job is re-armed rather than lost.
const retryDelay = time.Minute

// InvoiceFailer runs the end-of-window dunning action.
type InvoiceFailer interface {
	FailAfterDunning(ctx context.Context, subscriptionID uuid.UUID) error
}

// ReminderSender sends the mid-window decline reminder.
type ReminderSender interface {
	ChargeDeclinedReminder(ctx context.Context, subscriptionID uuid.UUID) error
}

// DunningScheduler arms dunning timers in the job store.
type DunningScheduler struct {
	store domain.JobStore
	now   func() time.Time
}

var _ domain.DunningScheduler = (*DunningScheduler)(nil)

func NewDunningScheduler(store domain.JobStore) *DunningScheduler {
	return &DunningScheduler{store: store, now: time.Now}
}

// WithClock overrides the time source. Used in tests.
func (s *DunningScheduler) WithClock(now func() time.Time) *DunningScheduler {
	s.now = now
	return s
}

func (s *DunningScheduler) ScheduleChargeDeclinedReminder(ctx context.Context, subscriptionID uuid.UUID, in time.Duration) error {
	return s.store.Schedule(ctx, domain.JobChargeDeclinedReminder, subscriptionID, s.now().Add(in))
}

func (s *DunningScheduler) ScheduleUnsubscribeAndFail(ctx context.Context, subscriptionID uuid.UUID, in time.Duration) error {
	return s.store.Schedule(ctx, domain.JobUnsubscribeAndFail, subscriptionID, s.now().Add(in))
}

// DunningRunner polls the job store and executes due timers. Claiming
// deletes the row, so a transiently failing job is explicitly re-armed with
// a short delay.
type DunningRunner struct {
	store     domain.JobStore
	invoices  InvoiceFailer
	reminders ReminderSender
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewDunningRunner(
	store domain.JobStore,
	invoices InvoiceFailer,
	reminders ReminderSender,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *DunningRunner {
	return &DunningRunner{
		store:     store,
		invoices:  invoices,
		reminders: reminders,
		metrics:   metrics,
		logger:    logger.With().Str("component", "dunning_runner").Logger(),
		interval:  30 * time.Second,
		batchSize: 50,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (r *DunningRunner) WithClock(now func() time.Time) *DunningRunner {
	r.now = now
	return r
}

// Run polls until the context is cancelled.
func (r *DunningRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error().Err(err).Msg("dunning tick failed")
			}
		}
	}
}

// Tick claims and executes one batch of due jobs.
func (r *DunningRunner) Tick(ctx context.Context) error {
	jobs, err := r.store.Claim(ctx, r.now(), r.batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		r.execute(ctx, job)
	}
	return nil
}

func (r *DunningRunner) execute(ctx context.Context, job domain.ScheduledJob) {
	logger := r.logger.With().
		Str("job_type", job.Type).
		Str("subscription_id", job.SubscriptionID.String()).
		Logger()
	start := time.Now()

	var err error
	switch job.Type {
	case domain.JobChargeDeclinedReminder:
		err = r.reminders.ChargeDeclinedReminder(ctx, job.SubscriptionID)
	case domain.JobUnsubscribeAndFail:
		err = r.invoices.FailAfterDunning(ctx, job.SubscriptionID)
	default:
		logger.Warn().Msg("dropping job with unknown type")
		return
	}

	r.metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		r.metrics.JobsProcessed.WithLabelValues(job.Type).Inc()
		logger.Info().Msg("dunning job completed")
		return
	}

	r.metrics.JobsFailed.WithLabelValues(job.Type).Inc()
	if domain.Retryable(err) {
		logger.Warn().Err(err).Dur("retry_in", retryDelay).Msg("dunning job failed, re-arming")
		if schedErr := r.store.Schedule(ctx, job.Type, job.SubscriptionID, r.now().Add(retryDelay)); schedErr != nil {
			r.metrics.JobsDead.WithLabelValues(job.Type).Inc()
			logger.Error().Err(schedErr).Msg("failed to re-arm dunning job, timer lost")
		}
		return
	}

	r.metrics.JobsDead.WithLabelValues(job.Type).Inc()
	logger.Error().Err(err).Msg("dunning job failed permanently")
}
