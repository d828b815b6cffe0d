package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crowdchurn/billing/internal/domain"
)

// memSubscriptionStore is an in-memory domain.SubscriptionStore with the
// same compare-and-set semantics as the postgres implementation.
type memSubscriptionStore struct {
	subs map[uuid.UUID]*domain.Subscription
	// byTransaction maps processor transaction ids to subscription ids.
	byTransaction map[string]uuid.UUID
}

func newMemSubscriptionStore(subs ...*domain.Subscription) *memSubscriptionStore {
	s := &memSubscriptionStore{
		subs:          make(map[uuid.UUID]*domain.Subscription),
		byTransaction: make(map[string]uuid.UUID),
	}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *memSubscriptionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, domain.NotFound("subscription.get", "subscription", id.String())
	}
	copied := *sub
	return &copied, nil
}

func (s *memSubscriptionStore) GetByExternalID(_ context.Context, externalID string) (*domain.Subscription, error) {
	for _, sub := range s.subs {
		if sub.ExternalID == externalID {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, domain.NotFound("subscription.get", "subscription", externalID)
}

func (s *memSubscriptionStore) FindByProcessorTransactionID(_ context.Context, transactionID string) (*domain.Subscription, error) {
	id, ok := s.byTransaction[transactionID]
	if !ok {
		return nil, domain.NotFound("subscription.get", "subscription", transactionID)
	}
	copied := *s.subs[id]
	return &copied, nil
}

func (s *memSubscriptionStore) FindAliveByUserExternalID(_ context.Context, userExternalID string) (*domain.Subscription, error) {
	for _, sub := range s.subs {
		if sub.UserExternalID == userExternalID && sub.Alive() {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, domain.NotFound("subscription.get", "subscription", userExternalID)
}

func (s *memSubscriptionStore) CancelNow(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	sub := s.subs[id]
	if sub == nil || sub.CancelledAt != nil {
		return false, nil
	}
	sub.CancelledAt = &at
	sub.PendingCancellationAt = nil
	return true, nil
}

func (s *memSubscriptionStore) ScheduleCancel(_ context.Context, id uuid.UUID, effectiveAt time.Time) (bool, error) {
	sub := s.subs[id]
	if sub == nil || sub.CancelledAt != nil {
		return false, nil
	}
	if sub.PendingCancellationAt != nil && sub.PendingCancellationAt.Equal(effectiveAt) {
		return false, nil
	}
	sub.PendingCancellationAt = &effectiveAt
	return true, nil
}

func (s *memSubscriptionStore) Deactivate(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	sub := s.subs[id]
	if sub == nil || sub.DeactivatedAt != nil {
		return false, nil
	}
	sub.DeactivatedAt = &at
	return true, nil
}

func (s *memSubscriptionStore) Fail(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	sub := s.subs[id]
	if sub == nil || sub.FailedAt != nil {
		return false, nil
	}
	sub.FailedAt = &at
	return true, nil
}

func (s *memSubscriptionStore) Resubscribe(_ context.Context, id uuid.UUID) (bool, error) {
	sub := s.subs[id]
	if sub == nil {
		return false, nil
	}
	if sub.CancelledAt == nil && sub.DeactivatedAt == nil && sub.FailedAt == nil && sub.PendingCancellationAt == nil {
		return false, nil
	}
	sub.CancelledAt = nil
	sub.DeactivatedAt = nil
	sub.FailedAt = nil
	sub.PendingCancellationAt = nil
	return true, nil
}

func (s *memSubscriptionStore) SetFreeTrialEnd(_ context.Context, id uuid.UUID, endsAt time.Time) (bool, error) {
	sub := s.subs[id]
	if sub == nil || sub.FreeTrialEndsAt != nil {
		return false, nil
	}
	sub.FreeTrialEndsAt = &endsAt
	return true, nil
}

func (s *memSubscriptionStore) UpdateBillingCurrency(_ context.Context, id uuid.UUID, currency string) (bool, error) {
	sub := s.subs[id]
	if sub == nil || sub.BillingCurrency != "" {
		return false, nil
	}
	sub.BillingCurrency = currency
	return true, nil
}

// memPurchaseStore is an in-memory domain.PurchaseStore.
type memPurchaseStore struct {
	purchases map[uuid.UUID]*domain.Purchase
}

func newMemPurchaseStore() *memPurchaseStore {
	return &memPurchaseStore{purchases: make(map[uuid.UUID]*domain.Purchase)}
}

func (s *memPurchaseStore) FindByTransactionID(_ context.Context, subscriptionID uuid.UUID, transactionID string) (*domain.Purchase, error) {
	for _, p := range s.purchases {
		if p.SubscriptionID == subscriptionID && p.ProcessorTransactionID == transactionID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, domain.NotFound("purchase.get", "purchase", transactionID)
}

func (s *memPurchaseStore) Create(_ context.Context, purchase *domain.Purchase) error {
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	copied := *purchase
	s.purchases[purchase.ID] = &copied
	return nil
}

func (s *memPurchaseStore) MarkSuccessful(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	p := s.purchases[id]
	if p == nil || p.State != domain.PurchaseStateInProgress {
		return false, nil
	}
	p.State = domain.PurchaseStateSuccessful
	p.SucceededAt = &at
	return true, nil
}

// memProductStore is an in-memory domain.ProductStore.
type memProductStore struct {
	products map[uuid.UUID]*domain.Product
}

func newMemProductStore(products ...*domain.Product) *memProductStore {
	s := &memProductStore{products: make(map[uuid.UUID]*domain.Product)}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memProductStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, domain.NotFound("product.get", "product", id.String())
	}
	return p, nil
}

// recordingNotifier records notification calls.
type recordingNotifier struct {
	declined  []uuid.UUID
	restarted []uuid.UUID
	reasons   []domain.ResubscriptionReason
}

func (n *recordingNotifier) SubscriptionCardDeclined(_ context.Context, subscriptionID uuid.UUID) error {
	n.declined = append(n.declined, subscriptionID)
	return nil
}

func (n *recordingNotifier) SubscriptionRestarted(_ context.Context, subscriptionID uuid.UUID, reason domain.ResubscriptionReason) error {
	n.restarted = append(n.restarted, subscriptionID)
	n.reasons = append(n.reasons, reason)
	return nil
}

// recordingDunning records scheduled dunning timers.
type recordingDunning struct {
	reminders   map[uuid.UUID]time.Duration
	unsubscribe map[uuid.UUID]time.Duration
}

func newRecordingDunning() *recordingDunning {
	return &recordingDunning{
		reminders:   make(map[uuid.UUID]time.Duration),
		unsubscribe: make(map[uuid.UUID]time.Duration),
	}
}

func (d *recordingDunning) ScheduleChargeDeclinedReminder(_ context.Context, subscriptionID uuid.UUID, in time.Duration) error {
	d.reminders[subscriptionID] = in
	return nil
}

func (d *recordingDunning) ScheduleUnsubscribeAndFail(_ context.Context, subscriptionID uuid.UUID, in time.Duration) error {
	d.unsubscribe[subscriptionID] = in
	return nil
}
