package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/killbill"
)

// GatewayProvider resolves the Kill Bill gateway to use for a product.
// Platform-sold products get the operator-level gateway; merchant-sold
// products get a gateway built from the merchant account's credentials.
type GatewayProvider interface {
	GatewayForProduct(ctx context.Context, productID uuid.UUID) (killbill.Gateway, error)
}

// MerchantGatewayProvider builds per-merchant gateways, falling back to the
// operator configuration for credentials a merchant leaves unset. No global
// client state: concurrent resolutions for different merchants are safe.
type MerchantGatewayProvider struct {
	merchants domain.MerchantStore
	fallback  killbill.ClientConfig
	logger    zerolog.Logger
}

var _ GatewayProvider = (*MerchantGatewayProvider)(nil)

// NewMerchantGatewayProvider creates a gateway provider backed by the
// merchant store.
func NewMerchantGatewayProvider(merchants domain.MerchantStore, fallback killbill.ClientConfig, logger zerolog.Logger) *MerchantGatewayProvider {
	return &MerchantGatewayProvider{
		merchants: merchants,
		fallback:  fallback,
		logger:    logger,
	}
}

// GatewayForProduct resolves the gateway for the product's seller.
func (p *MerchantGatewayProvider) GatewayForProduct(ctx context.Context, productID uuid.UUID) (killbill.Gateway, error) {
	merchant, err := p.merchants.FindForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	cfg := killbill.ResolveClientConfig(merchant, p.fallback)
	return killbill.NewClient(cfg, p.logger)
}

// StaticGatewayProvider always returns the same gateway. Used for
// single-tenant deployments and tests.
type StaticGatewayProvider struct {
	Gateway killbill.Gateway
}

var _ GatewayProvider = (*StaticGatewayProvider)(nil)

func (p *StaticGatewayProvider) GatewayForProduct(_ context.Context, _ uuid.UUID) (killbill.Gateway, error) {
	return p.Gateway, nil
}
