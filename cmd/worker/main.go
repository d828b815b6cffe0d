package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crowdchurn/billing/internal"
	"github.com/crowdchurn/billing/internal/dispatch"
	"github.com/crowdchurn/billing/internal/jobs"
	"github.com/crowdchurn/billing/internal/killbill"
	"github.com/crowdchurn/billing/internal/postgres"
	"github.com/crowdchurn/billing/internal/service"
	"github.com/crowdchurn/billing/internal/telemetry"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	nc, js, err := jobs.Connect(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := jobs.EnsureStream(js, cfg.NATS.Stream, logger); err != nil {
		return err
	}

	metrics := telemetry.NewMetrics("crowdchurn", prometheus.DefaultRegisterer)

	subscriptions := postgres.NewSubscriptionStore(pool)
	purchases := postgres.NewPurchaseStore(pool)
	products := postgres.NewProductStore(pool)
	merchants := postgres.NewMerchantStore(pool)
	events := postgres.NewEventStore(pool)
	jobStore := postgres.NewJobStore(pool)

	operatorConfig := killbill.ClientConfig{
		BaseURL:   cfg.Killbill.URL,
		Username:  cfg.Killbill.Username,
		Password:  cfg.Killbill.Password,
		APIKey:    cfg.Killbill.APIKey,
		APISecret: cfg.Killbill.APISecret,
		CreatedBy: cfg.Killbill.CreatedBy,
		Timeout:   cfg.Killbill.Timeout,
	}
	gateways := service.NewMerchantGatewayProvider(merchants, operatorConfig, logger)

	notifier := jobs.NewNotifier(js, logger)
	dunning := jobs.NewDunningScheduler(jobStore)

	reconciler := service.NewReconciler(gateways, subscriptions, products, notifier, logger)
	invoices := service.NewInvoiceProcessor(gateways, subscriptions, purchases, products, notifier, dunning, logger)

	dispatcher := dispatch.NewDispatcher(reconciler, invoices, nil, events, metrics, logger)

	consumer, err := jobs.NewEventConsumer(js, cfg.NATS.Stream, dispatcher, metrics, logger)
	if err != nil {
		return err
	}
	dunningRunner := jobs.NewDunningRunner(jobStore, invoices, notifier, metrics, logger)

	logger.Info().Str("stream", cfg.NATS.Stream).Msg("worker started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("event consumer stopped")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := dunningRunner.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("dunning runner stopped")
			stop()
		}
	}()

	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("worker stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
