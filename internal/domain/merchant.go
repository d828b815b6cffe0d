package domain

import (
	"context"

	"github.com/google/uuid"
)

// MerchantAccount holds a creator's Kill Bill connection details. Any field
// left empty falls back to the operator-level environment configuration when
// the gateway client config is resolved.
type MerchantAccount struct {
	ID                  uuid.UUID
	KillbillInstanceURL string
	KillbillUsername    string
	KillbillPassword    string
	KillbillAPIKey      string
	KillbillAPISecret   string
}

// MerchantStore resolves merchant accounts for per-merchant gateway
// configuration.
type MerchantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*MerchantAccount, error)

	// FindForProduct resolves the merchant account selling a product, or nil
	// when the product is sold by the platform itself.
	FindForProduct(ctx context.Context, productID uuid.UUID) (*MerchantAccount, error)
}
