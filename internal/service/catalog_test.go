package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdchurn/billing/internal/catalog"
	"github.com/crowdchurn/billing/internal/currency"
	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/killbill"
)

func newCatalogFixture(product *domain.Product) (*CatalogService, *killbill.MockGateway) {
	gw := killbill.NewMockGateway()
	builder := catalog.NewBuilder(currency.NewResolver(currency.NewStaticRateSource(nil))).WithClock(fixedClock)
	svc := NewCatalogService(
		&StaticGatewayProvider{Gateway: gw},
		newMemProductStore(product),
		builder,
		zerolog.Nop(),
	)
	return svc, gw
}

func TestCatalogService_SyncProductToCatalog(t *testing.T) {
	product := testProduct()
	svc, gw := newCatalogFixture(product)

	require.NoError(t, svc.SyncProductToCatalog(context.Background(), product.ID))

	require.Len(t, gw.UploadedCatalogs, 1)
	xml := string(gw.UploadedCatalogs[0])
	assert.Contains(t, xml, "premium_newsletter")
	assert.Contains(t, xml, "premium_newsletter-monthly")
	assert.Contains(t, xml, "<currency>USD</currency>")
}

func TestCatalogService_SyncIsDeterministic(t *testing.T) {
	product := testProduct()
	svc, gw := newCatalogFixture(product)

	require.NoError(t, svc.SyncProductToCatalog(context.Background(), product.ID))
	require.NoError(t, svc.SyncProductToCatalog(context.Background(), product.ID))

	require.Len(t, gw.UploadedCatalogs, 2)
	assert.Equal(t, gw.UploadedCatalogs[0], gw.UploadedCatalogs[1],
		"same product must render byte-identical catalogs")
}

func TestCatalogService_GetAvailablePlans(t *testing.T) {
	product := testProduct()
	svc, gw := newCatalogFixture(product)
	gw.GetCatalogPlansFunc = func(ctx context.Context) ([]killbill.CatalogPlan, error) {
		return []killbill.CatalogPlan{
			{Name: "premium_newsletter-monthly", Product: "premium_newsletter", BillingPeriod: "MONTHLY"},
		}, nil
	}

	plans, err := svc.GetAvailablePlans(context.Background(), product.ID)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, domain.BillingPeriodMonthly, plans[0].BillingPeriod)
}

func TestCatalogService_EmptyTenant(t *testing.T) {
	product := testProduct()
	svc, _ := newCatalogFixture(product)

	plans, err := svc.GetAvailablePlans(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Empty(t, plans)
}
