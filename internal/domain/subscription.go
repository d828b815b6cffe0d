package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dunning windows. When a recurring charge is declined the subscriber gets
// the full window to fix their payment method before the subscription is
// failed and unsubscribed; a reminder goes out partway through.
const (
	AllowedTimeBeforeFailAndUnsubscribe = 7 * 24 * time.Hour
	ChargeDeclinedReminderLeadTime      = 2 * 24 * time.Hour
)

// ResubscriptionReason annotates restart notifications.
type ResubscriptionReason string

const (
	ResubscriptionReasonPaymentIssueResolved ResubscriptionReason = "payment_issue_resolved"
)

// Subscription is the internal projection of a recurring membership.
//
// Lifecycle timestamps are the source of truth for state: external events are
// applied as compare-and-set mutations against them, never as blind replay,
// so duplicate and out-of-order webhook deliveries converge instead of
// corrupting state.
type Subscription struct {
	ID             uuid.UUID
	ExternalID     string // correlation key shared with Kill Bill
	ProductID      uuid.UUID
	UserExternalID string // owning user's external id; empty for guest subs
	Email          string
	FullName       string

	// BillingCurrency is fixed when the Kill Bill account is created and
	// never changes afterwards. Empty means the product currency applies.
	BillingCurrency string

	Recurrence Recurrence

	FreeTrialEndsAt *time.Time
	CancelledAt     *time.Time
	DeactivatedAt   *time.Time
	FailedAt        *time.Time

	// PendingCancellationAt is set when an end-of-term cancel was requested;
	// the subscription stays alive until that date.
	PendingCancellationAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Alive reports whether the subscription is still entitled to the product.
func (s *Subscription) Alive() bool {
	return s.CancelledAt == nil && s.DeactivatedAt == nil && s.FailedAt == nil
}

// Cancelled reports whether cancellation has taken effect.
func (s *Subscription) Cancelled() bool {
	return s.CancelledAt != nil
}

// InFreeTrial reports whether the subscription is still inside its trial.
func (s *Subscription) InFreeTrial(now time.Time) bool {
	return s.FreeTrialEndsAt != nil && now.Before(*s.FreeTrialEndsAt)
}

// accountKeyPrefix keeps platform accounts out of other tenants' key space.
const accountKeyPrefix = "crowdchurn_"

// AccountExternalKey derives the Kill Bill account key for this subscription:
// the owning user's external id when present, the subscription id otherwise.
func (s *Subscription) AccountExternalKey() string {
	identity := s.UserExternalID
	if identity == "" {
		identity = s.ID.String()
	}
	return accountKeyPrefix + identity
}

// UserExternalIDFromAccountKey extracts the owning user's external id from a
// platform account key. Returns false for keys minted outside the platform.
func UserExternalIDFromAccountKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, accountKeyPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SubscriptionStore persists subscriptions. Every mutation is a conditional
// update guarded on the target timestamp so that re-applying the same
// external event is a no-op.
type SubscriptionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)

	// FindByProcessorTransactionID locates a subscription through one of its
	// purchases' billing-platform transaction ids.
	FindByProcessorTransactionID(ctx context.Context, transactionID string) (*Subscription, error)

	// FindAliveByUserExternalID returns the first alive subscription owned by
	// the user, used when an inbound event only carries an account id.
	FindAliveByUserExternalID(ctx context.Context, userExternalID string) (*Subscription, error)

	// CancelNow sets cancelled_at if not already set. Returns true when this
	// call performed the transition.
	CancelNow(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// ScheduleCancel records an end-of-term cancellation date without ending
	// entitlement. No-op when the subscription is already cancelled.
	ScheduleCancel(ctx context.Context, id uuid.UUID, effectiveAt time.Time) (bool, error)

	// Deactivate sets deactivated_at if not already set.
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// Fail sets failed_at if not already set (dunning exhausted).
	Fail(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// Resubscribe clears cancellation/failure state, including a pending
	// end-of-term cancellation. Returns false when there was nothing to clear.
	Resubscribe(ctx context.Context, id uuid.UUID) (bool, error)

	// SetFreeTrialEnd records the trial end if none was recorded yet.
	SetFreeTrialEnd(ctx context.Context, id uuid.UUID, endsAt time.Time) (bool, error)

	// UpdateBillingCurrency fixes the account currency on the row the first
	// time the Kill Bill account is created. Never overwrites.
	UpdateBillingCurrency(ctx context.Context, id uuid.UUID, currency string) (bool, error)
}

// Purchase records one charge against a subscription. Keyed to the billing
// platform by ProcessorTransactionID (the invoice id for Kill Bill charges).
type Purchase struct {
	ID                     uuid.UUID
	SubscriptionID         uuid.UUID
	ProductID              uuid.UUID
	ProcessorTransactionID string
	ChargeProcessorID      string
	PriceCents             int64
	Currency               string
	State                  PurchaseState
	SucceededAt            *time.Time
	CreatedAt              time.Time
}

// PurchaseState is the charge settlement state.
type PurchaseState string

const (
	PurchaseStateInProgress PurchaseState = "in_progress"
	PurchaseStateSuccessful PurchaseState = "successful"
	PurchaseStateFailed     PurchaseState = "failed"
)

// InProgress reports whether the purchase still awaits settlement.
func (p *Purchase) InProgress() bool {
	return p.State == PurchaseStateInProgress
}

// PurchaseStore persists purchases.
type PurchaseStore interface {
	FindByTransactionID(ctx context.Context, subscriptionID uuid.UUID, transactionID string) (*Purchase, error)
	Create(ctx context.Context, purchase *Purchase) error

	// MarkSuccessful transitions in_progress -> successful. Returns true when
	// this call performed the transition; false when the purchase was already
	// settled (idempotent re-delivery).
	MarkSuccessful(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// ProductStore is the read path into the surrounding application's catalog.
type ProductStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
}

// Notifier schedules customer-facing notifications. Delivery itself belongs
// to the surrounding application's mailer; this service only enqueues.
type Notifier interface {
	// SubscriptionCardDeclined enqueues a low-priority decline notice.
	SubscriptionCardDeclined(ctx context.Context, subscriptionID uuid.UUID) error

	// SubscriptionRestarted notifies the subscriber their membership resumed.
	SubscriptionRestarted(ctx context.Context, subscriptionID uuid.UUID, reason ResubscriptionReason) error
}

// DunningScheduler arms the failed-payment timers: a reminder partway through
// the grace window and the final unsubscribe-and-fail at its end.
type DunningScheduler interface {
	ScheduleChargeDeclinedReminder(ctx context.Context, subscriptionID uuid.UUID, in time.Duration) error
	ScheduleUnsubscribeAndFail(ctx context.Context, subscriptionID uuid.UUID, in time.Duration) error
}
