package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdchurn/billing/internal/domain"
)

// MerchantStore implements domain.MerchantStore using PostgreSQL.
type MerchantStore struct {
	pool *pgxpool.Pool
}

var _ domain.MerchantStore = (*MerchantStore)(nil)

// NewMerchantStore creates a new PostgreSQL-backed merchant store.
func NewMerchantStore(pool *pgxpool.Pool) *MerchantStore {
	return &MerchantStore{pool: pool}
}

const merchantColumns = `
	id, killbill_instance_url, killbill_username, killbill_password,
	killbill_api_key, killbill_api_secret`

// GetByID loads a merchant account.
func (s *MerchantStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+merchantColumns+` FROM merchant_accounts WHERE id = $1`, id)

	var m domain.MerchantAccount
	err := row.Scan(&m.ID, &m.KillbillInstanceURL, &m.KillbillUsername,
		&m.KillbillPassword, &m.KillbillAPIKey, &m.KillbillAPISecret)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("merchant.get", "merchant account", id.String())
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "merchant.get", "failed to load merchant account")
	}
	return &m, nil
}

// FindForProduct resolves the merchant selling the product. A platform-sold
// product has no merchant row; that is reported as (nil, nil), not an error.
func (s *MerchantStore) FindForProduct(ctx context.Context, productID uuid.UUID) (*domain.MerchantAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+merchantColumns+`
		FROM merchant_accounts
		WHERE id = (SELECT merchant_account_id FROM products WHERE id = $1)`,
		productID)

	var m domain.MerchantAccount
	err := row.Scan(&m.ID, &m.KillbillInstanceURL, &m.KillbillUsername,
		&m.KillbillPassword, &m.KillbillAPIKey, &m.KillbillAPISecret)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "merchant.find_for_product", "failed to resolve merchant account")
	}
	return &m, nil
}
