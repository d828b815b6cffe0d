package currency

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdchurn/billing/internal/domain"
)

func grossProduct(priceCents int64, currency string) (*domain.Product, domain.Price) {
	price := domain.Price{
		ID:         uuid.New(),
		Currency:   currency,
		Recurrence: domain.RecurrenceMonthly,
		PriceCents: priceCents,
		IsBuy:      true,
		Alive:      true,
	}
	product := &domain.Product{
		ID:          uuid.New(),
		Name:        "Gross Product",
		Currency:    currency,
		PricingMode: domain.PricingModeGross,
		Prices:      []domain.Price{price},
	}
	return product, price
}

func TestToDecimal(t *testing.T) {
	assert.Equal(t, 10.0, ToDecimal(1000, "usd"))
	assert.Equal(t, 9.99, ToDecimal(999, "eur"))
	// Single-unit currencies carry whole units in the cents column.
	assert.Equal(t, 1000.0, ToDecimal(1000, "jpy"))
	assert.Equal(t, 1000.0, ToDecimal(1000, "KRW"))
	assert.Equal(t, 1000.0, ToDecimal(1000, "vnd"))
}

func TestResolvePrice_Legacy(t *testing.T) {
	price := domain.Price{Currency: "usd", Recurrence: domain.RecurrenceMonthly, PriceCents: 1500, IsBuy: true, Alive: true}
	product := &domain.Product{Currency: "usd", PricingMode: domain.PricingModeLegacy, Prices: []domain.Price{price}}
	r := NewResolver(NewStaticRateSource(nil))

	// Legacy quotes the base price no matter what currency is requested.
	for _, target := range []string{"usd", "eur", "jpy"} {
		got, err := r.ResolvePrice(context.Background(), product, price, target)
		require.NoError(t, err)
		assert.Equal(t, 15.0, got, "target %s", target)
	}
}

func TestResolvePrice_GrossIdentity(t *testing.T) {
	product, price := grossProduct(1000, "usd")
	// No rates configured: identity must still work without a rate lookup.
	r := NewResolver(NewStaticRateSource(nil))

	got, err := r.ResolvePrice(context.Background(), product, price, "usd")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestResolvePrice_GrossConverts(t *testing.T) {
	product, price := grossProduct(1000, "usd")
	r := NewResolver(NewStaticRateSource(map[string]float64{
		"usd/eur": 0.9,
		"usd/jpy": 150,
	}))

	got, err := r.ResolvePrice(context.Background(), product, price, "eur")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, got, 1e-9)

	got, err = r.ResolvePrice(context.Background(), product, price, "jpy")
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, got, 1e-9)
}

func TestResolvePrice_GrossInverseRate(t *testing.T) {
	product, price := grossProduct(1000, "eur")
	r := NewResolver(NewStaticRateSource(map[string]float64{"usd/eur": 0.8}))

	got, err := r.ResolvePrice(context.Background(), product, price, "usd")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, got, 1e-9)
}

func TestResolvePrice_GrossMissingRateFails(t *testing.T) {
	product, price := grossProduct(1000, "usd")
	r := NewResolver(NewStaticRateSource(nil))

	_, err := r.ResolvePrice(context.Background(), product, price, "chf")
	require.Error(t, err)
	assert.Equal(t, domain.EFXRATE, domain.ErrorCode(err))
}

func TestResolvePrice_MultiCurrencyExplicitRow(t *testing.T) {
	base := domain.Price{Currency: "usd", Recurrence: domain.RecurrenceMonthly, PriceCents: 1000, IsBuy: true, Alive: true}
	eur := domain.Price{Currency: "eur", Recurrence: domain.RecurrenceMonthly, PriceCents: 950, IsBuy: true, Alive: true}
	product := &domain.Product{
		Currency:    "usd",
		PricingMode: domain.PricingModeMultiCurrency,
		Prices:      []domain.Price{base, eur},
	}
	r := NewResolver(NewStaticRateSource(nil))

	got, err := r.ResolvePrice(context.Background(), product, base, "eur")
	require.NoError(t, err)
	assert.Equal(t, 9.5, got)
}

func TestResolvePrice_MultiCurrencyFallbackQuotesBaseValue(t *testing.T) {
	base := domain.Price{Currency: "usd", Recurrence: domain.RecurrenceMonthly, PriceCents: 1000, IsBuy: true, Alive: true}
	product := &domain.Product{
		Currency:    "usd",
		PricingMode: domain.PricingModeMultiCurrency,
		Prices:      []domain.Price{base},
	}
	r := NewResolver(NewStaticRateSource(map[string]float64{"usd/gbp": 0.75}))

	// No explicit GBP row: the base decimal value is quoted under the GBP
	// label, never FX-converted.
	got, err := r.ResolvePrice(context.Background(), product, base, "gbp")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestResolvePrice_MultiCurrencyIgnoresDeadRows(t *testing.T) {
	base := domain.Price{Currency: "usd", Recurrence: domain.RecurrenceMonthly, PriceCents: 1000, IsBuy: true, Alive: true}
	deadEur := domain.Price{Currency: "eur", Recurrence: domain.RecurrenceMonthly, PriceCents: 500, IsBuy: true, Alive: false}
	product := &domain.Product{
		Currency:    "usd",
		PricingMode: domain.PricingModeMultiCurrency,
		Prices:      []domain.Price{base, deadEur},
	}
	r := NewResolver(NewStaticRateSource(nil))

	got, err := r.ResolvePrice(context.Background(), product, base, "eur")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got, "dead price rows must not be quoted")
}

func TestCurrenciesForProduct_Legacy(t *testing.T) {
	product := &domain.Product{Currency: "usd", PricingMode: domain.PricingModeLegacy}
	r := NewResolver(NewStaticRateSource(nil))
	assert.Equal(t, []string{"USD"}, r.CurrenciesForProduct(product))
}

func TestCurrenciesForProduct_GrossFullSet(t *testing.T) {
	product := &domain.Product{Currency: "usd", PricingMode: domain.PricingModeGross}
	r := NewResolver(NewStaticRateSource(nil))

	got := r.CurrenciesForProduct(product)
	assert.Equal(t, SupportedCatalogCurrencies, got)
	assert.Len(t, got, 7)

	// The returned slice is a copy; mutating it must not corrupt the set.
	got[0] = "XXX"
	assert.Equal(t, "USD", SupportedCatalogCurrencies[0])
}

func TestCurrenciesForProduct_MultiCurrency(t *testing.T) {
	product := &domain.Product{
		Currency:    "usd",
		PricingMode: domain.PricingModeMultiCurrency,
		Prices: []domain.Price{
			{Currency: "eur", Recurrence: domain.RecurrenceMonthly, PriceCents: 900, IsBuy: true, Alive: true},
			{Currency: "usd", Recurrence: domain.RecurrenceMonthly, PriceCents: 1000, IsBuy: true, Alive: true},
			// Unsupported currency: excluded from the catalog set.
			{Currency: "sek", Recurrence: domain.RecurrenceMonthly, PriceCents: 8000, IsBuy: true, Alive: true},
			// Dead row: excluded.
			{Currency: "gbp", Recurrence: domain.RecurrenceMonthly, PriceCents: 700, IsBuy: true, Alive: false},
		},
	}
	r := NewResolver(NewStaticRateSource(nil))

	got := r.CurrenciesForProduct(product)
	assert.Equal(t, []string{"USD", "EUR"}, got, "base currency first, then explicit rows, deduped")
}

func TestStaticRateSource_Identity(t *testing.T) {
	s := NewStaticRateSource(nil)
	rate, err := s.Rate(context.Background(), "usd", "USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}
