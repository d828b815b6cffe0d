// Package currency resolves product prices across billing currencies under
// the three pricing modes (legacy, gross, multi_currency) and handles the
// cents/decimal conversion quirks of single-unit currencies.
package currency

import (
	"context"
	"strings"

	"github.com/crowdchurn/billing/internal/domain"
)

// SupportedCatalogCurrencies is the full currency set offered to gross-mode
// products. Order is significant: catalog generation preserves it so repeated
// builds are byte-identical.
var SupportedCatalogCurrencies = []string{"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF"}

// singleUnitCurrencies have no minor unit; their "cents" are whole units.
var singleUnitCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
}

// IsSingleUnit reports whether the currency has no minor unit.
func IsSingleUnit(currency string) bool {
	return singleUnitCurrencies[strings.ToLower(currency)]
}

// ToDecimal converts a cents amount to the currency's decimal representation:
// divided by 100, except single-unit currencies where cents are already whole
// units.
func ToDecimal(cents int64, currency string) float64 {
	if IsSingleUnit(currency) {
		return float64(cents)
	}
	return float64(cents) / 100.0
}

// RateSource quotes FX conversion rates for gross-mode pricing. A rate of r
// means 1 unit of from buys r units of to. Implementations must return an
// error when they cannot quote the pair; resolution propagates it instead of
// substituting a default.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// Resolver resolves prices for target currencies according to the owning
// product's pricing mode.
type Resolver struct {
	rates RateSource
}

// NewResolver builds a resolver backed by the given rate source.
func NewResolver(rates RateSource) *Resolver {
	return &Resolver{rates: rates}
}

// ResolvePrice resolves the decimal price of base for target currency.
//
// legacy: always the base price in the product's own currency, whatever the
// target asked for.
//
// gross: the base price FX-converted into the target currency (identity when
// target equals the base currency, so there is no round-trip error).
//
// multi_currency: the explicit price row for (target, recurrence) when one is
// alive; otherwise the base price's decimal value under the target's label.
// That fallback is deliberate policy carried from the original system, not a
// bug - do not FX-convert here.
//
// A nil or unrecognized pricing mode behaves as legacy.
func (r *Resolver) ResolvePrice(ctx context.Context, product *domain.Product, base domain.Price, targetCurrency string) (float64, error) {
	baseCurrency := strings.ToLower(base.Currency)
	if baseCurrency == "" {
		baseCurrency = strings.ToLower(product.Currency)
	}
	target := strings.ToLower(targetCurrency)

	switch product.PricingMode {
	case domain.PricingModeGross:
		if target == baseCurrency {
			return ToDecimal(base.PriceCents, baseCurrency), nil
		}
		baseUnits := ToDecimal(base.PriceCents, baseCurrency)
		rate, err := r.rates.Rate(ctx, baseCurrency, target)
		if err != nil {
			return 0, domain.WrapError(err, domain.EFXRATE, "currency.resolve",
				"fx rate unavailable for "+baseCurrency+" -> "+target)
		}
		return baseUnits * rate, nil

	case domain.PricingModeMultiCurrency:
		if explicit, ok := product.ExplicitPrice(target, base.Recurrence); ok {
			return ToDecimal(explicit.PriceCents, target), nil
		}
		return ToDecimal(base.PriceCents, baseCurrency), nil

	default:
		// legacy, empty, or unrecognized: conservative base-price behavior.
		return ToDecimal(base.PriceCents, baseCurrency), nil
	}
}

// CurrenciesForProduct returns the uppercase currency set the product is
// quoted in.
//
// legacy: only the product's default currency. gross: the full supported
// catalog set. multi_currency: the default currency plus every currency with
// an alive buy recurring price, intersected with the supported set.
func (r *Resolver) CurrenciesForProduct(product *domain.Product) []string {
	base := strings.ToUpper(product.Currency)

	switch product.PricingMode {
	case domain.PricingModeGross:
		out := make([]string, len(SupportedCatalogCurrencies))
		copy(out, SupportedCatalogCurrencies)
		return out

	case domain.PricingModeMultiCurrency:
		supported := make(map[string]bool, len(SupportedCatalogCurrencies))
		for _, c := range SupportedCatalogCurrencies {
			supported[c] = true
		}

		seen := map[string]bool{}
		var out []string
		add := func(c string) {
			if c == "" || seen[c] || !supported[c] {
				return
			}
			seen[c] = true
			out = append(out, c)
		}

		add(base)
		for _, price := range product.AliveBuyRecurringPrices() {
			add(strings.ToUpper(price.Currency))
		}
		return out

	default:
		return []string{base}
	}
}
