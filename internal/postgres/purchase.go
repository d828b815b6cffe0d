package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdchurn/billing/internal/domain"
)

// PurchaseStore implements domain.PurchaseStore using PostgreSQL.
type PurchaseStore struct {
	pool *pgxpool.Pool
}

var _ domain.PurchaseStore = (*PurchaseStore)(nil)

// NewPurchaseStore creates a new PostgreSQL-backed purchase store.
func NewPurchaseStore(pool *pgxpool.Pool) *PurchaseStore {
	return &PurchaseStore{pool: pool}
}

// FindByTransactionID loads the purchase keyed by (subscription, processor
// transaction id).
func (s *PurchaseStore) FindByTransactionID(ctx context.Context, subscriptionID uuid.UUID, transactionID string) (*domain.Purchase, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, product_id, processor_transaction_id,
		       charge_processor_id, price_cents, currency, state,
		       succeeded_at, created_at
		FROM purchases
		WHERE subscription_id = $1 AND processor_transaction_id = $2`,
		subscriptionID, transactionID)

	var p domain.Purchase
	err := row.Scan(
		&p.ID, &p.SubscriptionID, &p.ProductID, &p.ProcessorTransactionID,
		&p.ChargeProcessorID, &p.PriceCents, &p.Currency, &p.State,
		&p.SucceededAt, &p.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("purchase.get", "purchase", transactionID)
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "purchase.get", "failed to load purchase")
	}
	return &p, nil
}

// Create inserts a purchase. A duplicate (subscription, transaction) pair is
// a conflict: webhook re-delivery must find the existing row instead.
func (s *PurchaseStore) Create(ctx context.Context, purchase *domain.Purchase) error {
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	if purchase.State == "" {
		purchase.State = domain.PurchaseStateInProgress
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO purchases (
			id, subscription_id, product_id, processor_transaction_id,
			charge_processor_id, price_cents, currency, state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		purchase.ID, purchase.SubscriptionID, purchase.ProductID,
		purchase.ProcessorTransactionID, purchase.ChargeProcessorID,
		purchase.PriceCents, purchase.Currency, purchase.State,
	)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "purchase.create", "failed to create purchase")
	}
	return nil
}

// MarkSuccessful transitions in_progress -> successful. The state guard makes
// duplicate payment-success events a no-op.
func (s *PurchaseStore) MarkSuccessful(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE purchases
		SET state = $3, succeeded_at = $2
		WHERE id = $1 AND state = $4`,
		id, at, domain.PurchaseStateSuccessful, domain.PurchaseStateInProgress)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "purchase.mark_successful", "failed to settle purchase")
	}
	return tag.RowsAffected() > 0, nil
}
