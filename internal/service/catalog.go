package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/catalog"
	"github.com/crowdchurn/billing/internal/domain"
)

// CatalogService generates per-product catalog XML and pushes it to the
// product's Kill Bill tenant. Plan names are deterministic, so re-syncing a
// product is an idempotent upsert on the Kill Bill side.
type CatalogService struct {
	gateways GatewayProvider
	products domain.ProductStore
	builder  *catalog.Builder
	logger   zerolog.Logger
}

// NewCatalogService creates a catalog sync service.
func NewCatalogService(gateways GatewayProvider, products domain.ProductStore, builder *catalog.Builder, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		gateways: gateways,
		products: products,
		builder:  builder,
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// BuildCatalogXML renders the catalog document for a product without
// uploading it. Exposed for previews and tests.
func (s *CatalogService) BuildCatalogXML(ctx context.Context, productID uuid.UUID) ([]byte, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	doc, err := s.builder.BuildForProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	return doc.ToXML()
}

// SyncProductToCatalog regenerates the product's catalog and uploads it.
func (s *CatalogService) SyncProductToCatalog(ctx context.Context, productID uuid.UUID) error {
	xml, err := s.BuildCatalogXML(ctx, productID)
	if err != nil {
		return err
	}

	gateway, err := s.gateways.GatewayForProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := gateway.UploadCatalog(ctx, xml); err != nil {
		return err
	}

	s.logger.Info().Str("product_id", productID.String()).Msg("catalog synced")
	return nil
}

// GetAvailablePlans lists the plans currently live in the product's tenant
// catalog.
func (s *CatalogService) GetAvailablePlans(ctx context.Context, productID uuid.UUID) ([]domain.AvailablePlan, error) {
	gateway, err := s.gateways.GatewayForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	plans, err := gateway.GetCatalogPlans(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AvailablePlan, 0, len(plans))
	for _, plan := range plans {
		out = append(out, domain.AvailablePlan{
			Name:          plan.Name,
			Product:       plan.Product,
			BillingPeriod: domain.BillingPeriod(plan.BillingPeriod),
		})
	}
	return out, nil
}
