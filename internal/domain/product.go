package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// PricingMode governs how a product's price is resolved across currencies.
type PricingMode string

const (
	// PricingModeLegacy quotes the base price in the product's own currency
	// regardless of the requested currency.
	PricingModeLegacy PricingMode = "legacy"

	// PricingModeGross FX-converts the base price into the requested currency.
	PricingModeGross PricingMode = "gross"

	// PricingModeMultiCurrency uses explicit per-currency price rows, falling
	// back to the base price when no explicit row exists.
	PricingModeMultiCurrency PricingMode = "multi_currency"
)

// Recurrence is a price's billing cadence.
type Recurrence string

const (
	RecurrenceMonthly   Recurrence = "monthly"
	RecurrenceQuarterly Recurrence = "quarterly"
	RecurrenceYearly    Recurrence = "yearly"
	RecurrenceWeekly    Recurrence = "weekly"
)

// BillingPeriod is Kill Bill's name for a recurrence.
type BillingPeriod string

const (
	BillingPeriodMonthly   BillingPeriod = "MONTHLY"
	BillingPeriodAnnual    BillingPeriod = "ANNUAL"
	BillingPeriodQuarterly BillingPeriod = "QUARTERLY"
	BillingPeriodWeekly    BillingPeriod = "WEEKLY"
)

// BillingPeriodFor maps a recurrence to its Kill Bill billing period.
// Unknown recurrences fall back to MONTHLY, matching account-creation behavior.
func BillingPeriodFor(r Recurrence) BillingPeriod {
	switch r {
	case RecurrenceMonthly:
		return BillingPeriodMonthly
	case RecurrenceYearly:
		return BillingPeriodAnnual
	case RecurrenceQuarterly:
		return BillingPeriodQuarterly
	case RecurrenceWeekly:
		return BillingPeriodWeekly
	default:
		return BillingPeriodMonthly
	}
}

// Price is a single price row on a product.
type Price struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	Currency   string // ISO 4217, lowercase
	Recurrence Recurrence
	PriceCents int64
	IsBuy      bool
	Alive      bool
}

// Recurring reports whether the price bills on a cadence.
func (p Price) Recurring() bool {
	return p.Recurrence != ""
}

// Product is the sellable entity whose pricing drives catalog generation.
// It is owned by the surrounding application; this service reads it.
type Product struct {
	ID                      uuid.UUID
	Name                    string
	Currency                string // default currency, ISO 4217 lowercase
	PricingMode             PricingMode
	FreeTrialDurationInDays int
	Prices                  []Price
}

// AliveBuyRecurringPrices returns the prices eligible for catalog plans:
// alive, buy-type, and recurring. Trial and one-off prices are excluded.
func (p *Product) AliveBuyRecurringPrices() []Price {
	var out []Price
	for _, price := range p.Prices {
		if price.Alive && price.IsBuy && price.Recurring() {
			out = append(out, price)
		}
	}
	return out
}

// ExplicitPrice finds an alive buy price row for (currency, recurrence).
// Used by multi-currency resolution; at most one alive row exists per pair.
func (p *Product) ExplicitPrice(currency string, recurrence Recurrence) (Price, bool) {
	currency = strings.ToLower(currency)
	for _, price := range p.Prices {
		if price.Alive && price.IsBuy && price.Recurrence == recurrence && strings.ToLower(price.Currency) == currency {
			return price, true
		}
	}
	return Price{}, false
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9_]+`)

// CatalogName derives the deterministic Kill Bill product identifier from the
// display name: lowercase, non-alphanumeric runs collapsed to underscores.
// Stable naming makes repeated catalog uploads idempotent upserts.
func (p *Product) CatalogName() string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	name = nonSlugChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// PlanName derives the deterministic plan name for a recurrence, e.g.
// "premium_newsletter-monthly".
func (p *Product) PlanName(r Recurrence) string {
	return p.CatalogName() + "-" + strings.ToLower(string(BillingPeriodFor(r)))
}

// AvailablePlan is a plan currently live in a tenant catalog.
type AvailablePlan struct {
	Name          string
	Product       string
	BillingPeriod BillingPeriod
}
