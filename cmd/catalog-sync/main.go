// Command catalog-sync uploads product catalogs to Kill Bill. Run it after
// changing a product's prices or trial settings:
//
//	catalog-sync <product-id> [<product-id>...]
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/crowdchurn/billing/internal"
	"github.com/crowdchurn/billing/internal/catalog"
	"github.com/crowdchurn/billing/internal/currency"
	"github.com/crowdchurn/billing/internal/killbill"
	"github.com/crowdchurn/billing/internal/postgres"
	"github.com/crowdchurn/billing/internal/service"
)

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: %s <product-id> [<product-id>...]", os.Args[0])
	}

	ctx := context.Background()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	operatorConfig := killbill.ClientConfig{
		BaseURL:   cfg.Killbill.URL,
		Username:  cfg.Killbill.Username,
		Password:  cfg.Killbill.Password,
		APIKey:    cfg.Killbill.APIKey,
		APISecret: cfg.Killbill.APISecret,
		CreatedBy: cfg.Killbill.CreatedBy,
		Timeout:   cfg.Killbill.Timeout,
	}
	gateways := service.NewMerchantGatewayProvider(postgres.NewMerchantStore(pool), operatorConfig, logger)

	resolver := currency.NewResolver(currency.NewStaticRateSource(cfg.FX.ParseFXRates()))
	builder := catalog.NewBuilder(resolver)
	catalogs := service.NewCatalogService(gateways, postgres.NewProductStore(pool), builder, logger)

	for _, arg := range os.Args[1:] {
		productID, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid product id %q: %w", arg, err)
		}
		if err := catalogs.SyncProductToCatalog(ctx, productID); err != nil {
			return fmt.Errorf("syncing product %s: %w", productID, err)
		}

		plans, err := catalogs.GetAvailablePlans(ctx, productID)
		if err != nil {
			return fmt.Errorf("listing plans for %s: %w", productID, err)
		}
		for _, plan := range plans {
			fmt.Printf("%s\t%s\t%s\n", productID, plan.Name, plan.BillingPeriod)
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
