// Package catalog builds Kill Bill tenant catalog documents from product
// definitions. Building is pure - no network I/O - so a build can be diffed,
// tested, and retried; uploading is the gateway's job.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/crowdchurn/billing/internal/currency"
	"github.com/crowdchurn/billing/internal/domain"
)

// Catalog constants mirroring Kill Bill's vocabulary.
const (
	ProductCategoryBase       = "BASE"
	ProductCategoryAddOn      = "ADD_ON"
	ProductCategoryStandalone = "STANDALONE"

	PhaseTypeTrial     = "TRIAL"
	PhaseTypeDiscount  = "DISCOUNT"
	PhaseTypeFixedTerm = "FIXEDTERM"
	PhaseTypeEvergreen = "EVERGREEN"

	DefaultPriceListName = "DEFAULT"
	CatalogName          = "crowdchurn-catalog"
)

// PhasePrice is one (currency, decimal value) entry within a phase.
type PhasePrice struct {
	Currency string
	Value    float64
}

// Phase is a pricing segment within a plan.
type Phase struct {
	Type     string
	Duration PhaseDuration
	Prices   []PhasePrice
}

// PhaseDuration is the phase length. Evergreen phases are UNLIMITED/-1.
type PhaseDuration struct {
	Unit   string
	Number int
}

// Plan groups the phases for one (product, recurrence) pair. Plan names are
// a pure function of product name and billing period so re-uploads upsert
// instead of duplicating.
type Plan struct {
	Name          string
	Product       string
	BillingPeriod domain.BillingPeriod
	Phases        []Phase
}

// TrialPhase returns the plan's trial phase, if any.
func (p Plan) TrialPhase() (Phase, bool) {
	for _, phase := range p.Phases {
		if phase.Type == PhaseTypeTrial {
			return phase, true
		}
	}
	return Phase{}, false
}

// EvergreenPhase returns the plan's evergreen phase.
func (p Plan) EvergreenPhase() (Phase, bool) {
	for _, phase := range p.Phases {
		if phase.Type == PhaseTypeEvergreen {
			return phase, true
		}
	}
	return Phase{}, false
}

// ProductEntry is a catalog product definition.
type ProductEntry struct {
	Name     string
	Category string
}

// PriceList references plans by name.
type PriceList struct {
	Name  string
	Plans []string
}

// Document is a complete catalog ready for serialization.
type Document struct {
	Name          string
	EffectiveDate time.Time
	Currencies    []string
	Products      []ProductEntry
	Plans         []Plan
	PriceLists    []PriceList
}

// Builder assembles catalog documents. The clock is injectable so a build is
// a pure function of (product, clock) and repeated builds are byte-identical.
type Builder struct {
	resolver *currency.Resolver
	now      func() time.Time
}

// NewBuilder creates a catalog builder using the given price resolver.
func NewBuilder(resolver *currency.Resolver) *Builder {
	return &Builder{resolver: resolver, now: time.Now}
}

// WithClock overrides the effective-date clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// BuildForProduct generates the catalog document for a single product: one
// plan per alive recurring buy price, a trial phase when the product has a
// free trial, and per-currency evergreen prices from the resolver.
//
// A product with no eligible prices yields a document with an empty plan
// list; that is a valid catalog, not an error.
func (b *Builder) BuildForProduct(ctx context.Context, product *domain.Product) (*Document, error) {
	currencies := b.resolver.CurrenciesForProduct(product)

	doc := &Document{
		Name:          CatalogName,
		EffectiveDate: b.now().UTC(),
		Currencies:    currencies,
		Products: []ProductEntry{{
			Name:     product.CatalogName(),
			Category: ProductCategoryBase,
		}},
	}

	for _, price := range product.AliveBuyRecurringPrices() {
		plan, err := b.buildPlan(ctx, product, price, currencies)
		if err != nil {
			return nil, err
		}
		doc.Plans = append(doc.Plans, plan)
	}

	planNames := make([]string, len(doc.Plans))
	for i, plan := range doc.Plans {
		planNames[i] = plan.Name
	}
	doc.PriceLists = []PriceList{{Name: DefaultPriceListName, Plans: planNames}}

	return doc, nil
}

func (b *Builder) buildPlan(ctx context.Context, product *domain.Product, price domain.Price, currencies []string) (Plan, error) {
	plan := Plan{
		Name:          product.PlanName(price.Recurrence),
		Product:       product.CatalogName(),
		BillingPeriod: domain.BillingPeriodFor(price.Recurrence),
	}

	if product.FreeTrialDurationInDays > 0 {
		trial := Phase{
			Type:     PhaseTypeTrial,
			Duration: PhaseDuration{Unit: "DAYS", Number: product.FreeTrialDurationInDays},
		}
		for _, c := range currencies {
			trial.Prices = append(trial.Prices, PhasePrice{Currency: c, Value: 0})
		}
		plan.Phases = append(plan.Phases, trial)
	}

	evergreen := Phase{
		Type:     PhaseTypeEvergreen,
		Duration: PhaseDuration{Unit: "UNLIMITED", Number: -1},
	}
	for _, c := range currencies {
		value, err := b.resolver.ResolvePrice(ctx, product, price, strings.ToLower(c))
		if err != nil {
			return Plan{}, err
		}
		evergreen.Prices = append(evergreen.Prices, PhasePrice{Currency: c, Value: value})
	}
	plan.Phases = append(plan.Phases, evergreen)

	return plan, nil
}
