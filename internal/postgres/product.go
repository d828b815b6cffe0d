package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdchurn/billing/internal/domain"
)

// ProductStore implements domain.ProductStore using PostgreSQL. Products and
// prices are owned by the surrounding application; this store only reads.
type ProductStore struct {
	pool *pgxpool.Pool
}

var _ domain.ProductStore = (*ProductStore)(nil)

// NewProductStore creates a new PostgreSQL-backed product store.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// GetByID loads a product with all of its price rows.
func (s *ProductStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, currency, pricing_mode, free_trial_duration_in_days
		FROM products
		WHERE id = $1`, id)

	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Currency, &p.PricingMode, &p.FreeTrialDurationInDays)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("product.get", "product", id.String())
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "product.get", "failed to load product")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, currency, recurrence, price_cents, is_buy, alive
		FROM prices
		WHERE product_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "product.get", "failed to load prices")
	}
	defer rows.Close()

	for rows.Next() {
		var price domain.Price
		if err := rows.Scan(&price.ID, &price.ProductID, &price.Currency,
			&price.Recurrence, &price.PriceCents, &price.IsBuy, &price.Alive); err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, "product.get", "failed to scan price")
		}
		p.Prices = append(p.Prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "product.get", "failed to read prices")
	}

	return &p, nil
}
