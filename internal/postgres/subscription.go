package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdchurn/billing/internal/domain"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that SubscriptionStore implements domain.SubscriptionStore.
var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a new PostgreSQL-backed subscription store.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `
	id, external_id, product_id, user_external_id, email, full_name,
	billing_currency, recurrence, free_trial_ends_at, cancelled_at,
	deactivated_at, failed_at, pending_cancellation_at, created_at, updated_at`

func (s *SubscriptionStore) scanSubscription(row interface{ Scan(...any) error }, identifier string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.ExternalID, &sub.ProductID, &sub.UserExternalID,
		&sub.Email, &sub.FullName, &sub.BillingCurrency, &sub.Recurrence,
		&sub.FreeTrialEndsAt, &sub.CancelledAt, &sub.DeactivatedAt,
		&sub.FailedAt, &sub.PendingCancellationAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("subscription.get", "subscription", identifier)
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.get", "failed to load subscription")
	}
	return &sub, nil
}

// GetByID loads a subscription by internal id.
func (s *SubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return s.scanSubscription(row, id.String())
}

// GetByExternalID loads a subscription by its billing correlation key.
func (s *SubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`, externalID)
	return s.scanSubscription(row, externalID)
}

// FindByProcessorTransactionID resolves the subscription owning a purchase
// keyed by processor transaction id.
func (s *SubscriptionStore) FindByProcessorTransactionID(ctx context.Context, transactionID string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = (
			SELECT subscription_id FROM purchases
			WHERE processor_transaction_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		)`, transactionID)
	return s.scanSubscription(row, transactionID)
}

// FindAliveByUserExternalID returns the user's newest alive subscription.
func (s *SubscriptionStore) FindAliveByUserExternalID(ctx context.Context, userExternalID string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_external_id = $1
		  AND cancelled_at IS NULL
		  AND deactivated_at IS NULL
		  AND failed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, userExternalID)
	return s.scanSubscription(row, userExternalID)
}

// CancelNow marks the subscription cancelled effective immediately. Applies
// only when not already cancelled.
func (s *SubscriptionStore) CancelNow(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET cancelled_at = $2, pending_cancellation_at = NULL, updated_at = now()
		WHERE id = $1 AND cancelled_at IS NULL`, id, at)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.cancel", "failed to cancel subscription")
	}
	return tag.RowsAffected() > 0, nil
}

// ScheduleCancel records an end-of-term cancellation date. The subscription
// stays alive until that date; re-scheduling to the same date is a no-op.
func (s *SubscriptionStore) ScheduleCancel(ctx context.Context, id uuid.UUID, effectiveAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET pending_cancellation_at = $2, updated_at = now()
		WHERE id = $1
		  AND cancelled_at IS NULL
		  AND (pending_cancellation_at IS DISTINCT FROM $2)`, id, effectiveAt)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.schedule_cancel", "failed to schedule cancellation")
	}
	return tag.RowsAffected() > 0, nil
}

// Deactivate marks the subscription's entitlement expired.
func (s *SubscriptionStore) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET deactivated_at = $2, updated_at = now()
		WHERE id = $1 AND deactivated_at IS NULL`, id, at)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.deactivate", "failed to deactivate subscription")
	}
	return tag.RowsAffected() > 0, nil
}

// Fail marks the subscription failed after exhausted dunning.
func (s *SubscriptionStore) Fail(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET failed_at = $2, updated_at = now()
		WHERE id = $1 AND failed_at IS NULL`, id, at)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.fail", "failed to mark subscription failed")
	}
	return tag.RowsAffected() > 0, nil
}

// Resubscribe clears the terminal timestamps and any pending cancellation,
// restoring the subscription to alive. Applies only when there is something
// to clear.
func (s *SubscriptionStore) Resubscribe(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET cancelled_at = NULL,
		    deactivated_at = NULL,
		    failed_at = NULL,
		    pending_cancellation_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND (cancelled_at IS NOT NULL OR deactivated_at IS NOT NULL
		       OR failed_at IS NOT NULL OR pending_cancellation_at IS NOT NULL)`, id)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.resubscribe", "failed to resubscribe")
	}
	return tag.RowsAffected() > 0, nil
}

// SetFreeTrialEnd records the trial end date once. A second create attempt
// for the same subscription leaves the original date in place.
func (s *SubscriptionStore) SetFreeTrialEnd(ctx context.Context, id uuid.UUID, endsAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET free_trial_ends_at = $2, updated_at = now()
		WHERE id = $1 AND free_trial_ends_at IS NULL`, id, endsAt)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.set_trial_end", "failed to set trial end")
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateBillingCurrency fixes the account currency on first account
// creation. Kill Bill accounts never change currency, so neither does the
// row.
func (s *SubscriptionStore) UpdateBillingCurrency(ctx context.Context, id uuid.UUID, currency string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET billing_currency = $2, updated_at = now()
		WHERE id = $1 AND (billing_currency IS NULL OR billing_currency = '')`, id, currency)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "subscription.update_currency", "failed to set billing currency")
	}
	return tag.RowsAffected() > 0, nil
}
