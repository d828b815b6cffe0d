package catalog

import (
	"encoding/xml"
	"strconv"
	"time"
)

// Kill Bill catalog v1 XML namespace.
const catalogXMLNS = "http://docs.killbill.io/catalog/v1"

// decimalValue renders prices without exponent notation and without a forced
// trailing zero, so serialization is stable across builds.
type decimalValue float64

func (v decimalValue) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(v), 'f', -1, 64)), nil
}

type xmlCatalog struct {
	XMLName       xml.Name      `xml:"catalog"`
	XMLNS         string        `xml:"xmlns,attr"`
	EffectiveDate string        `xml:"effectiveDate"`
	CatalogName   string        `xml:"catalogName"`
	Currencies    xmlCurrencies `xml:"currencies"`
	Products      xmlProducts   `xml:"products"`
	Rules         xmlRules      `xml:"rules"`
	Plans         xmlPlans      `xml:"plans"`
	PriceLists    xmlPriceLists `xml:"priceLists"`
}

type xmlCurrencies struct {
	Currency []string `xml:"currency"`
}

type xmlProducts struct {
	Product []xmlProduct `xml:"product"`
}

type xmlProduct struct {
	Name     string `xml:"name,attr"`
	Category string `xml:"category"`
}

// Change and cancel policy are fixed to IMMEDIATE for every plan.
type xmlRules struct {
	ChangePolicy xmlChangePolicy `xml:"changePolicy"`
	CancelPolicy xmlCancelPolicy `xml:"cancelPolicy"`
}

type xmlChangePolicy struct {
	Case xmlPolicyCase `xml:"changePolicyCase"`
}

type xmlCancelPolicy struct {
	Case xmlPolicyCase `xml:"cancelPolicyCase"`
}

type xmlPolicyCase struct {
	Policy string `xml:"policy"`
}

type xmlPlans struct {
	Plan []xmlPlan `xml:"plan"`
}

type xmlPlan struct {
	Name          string            `xml:"name,attr"`
	Product       string            `xml:"product"`
	InitialPhases *xmlInitialPhases `xml:"initialPhases,omitempty"`
	FinalPhase    xmlFinalPhase     `xml:"finalPhase"`
}

type xmlInitialPhases struct {
	Phase []xmlPhase `xml:"phase"`
}

type xmlPhase struct {
	Type     string       `xml:"type,attr"`
	Duration xmlDuration  `xml:"duration"`
	Fixed    *xmlFixed    `xml:"fixed,omitempty"`
}

type xmlFinalPhase struct {
	Type          string        `xml:"type,attr"`
	Duration      xmlDuration   `xml:"duration"`
	BillingPeriod string        `xml:"billingPeriod"`
	Recurring     xmlRecurring  `xml:"recurring"`
}

type xmlDuration struct {
	Unit   string `xml:"unit"`
	Number int    `xml:"number"`
}

type xmlFixed struct {
	FixedPrice xmlPriceList `xml:"fixedPrice"`
}

type xmlRecurring struct {
	RecurringPrice xmlPriceList `xml:"recurringPrice"`
}

type xmlPriceList struct {
	Price []xmlPrice `xml:"price"`
}

type xmlPrice struct {
	Currency string       `xml:"currency"`
	Value    decimalValue `xml:"value"`
}

type xmlPriceLists struct {
	DefaultPriceList []xmlDefaultPriceList `xml:"defaultPriceList"`
}

type xmlDefaultPriceList struct {
	Name string   `xml:"name,attr"`
	Plan []string `xml:"plan"`
}

// ToXML serializes the document to the Kill Bill catalog v1 wire format.
// Output is deterministic for a given document.
func (d *Document) ToXML() ([]byte, error) {
	out := xmlCatalog{
		XMLNS:         catalogXMLNS,
		EffectiveDate: d.EffectiveDate.Format(time.RFC3339),
		CatalogName:   d.Name,
		Currencies:    xmlCurrencies{Currency: d.Currencies},
		Rules: xmlRules{
			ChangePolicy: xmlChangePolicy{Case: xmlPolicyCase{Policy: "IMMEDIATE"}},
			CancelPolicy: xmlCancelPolicy{Case: xmlPolicyCase{Policy: "IMMEDIATE"}},
		},
	}

	for _, p := range d.Products {
		out.Products.Product = append(out.Products.Product, xmlProduct{
			Name:     p.Name,
			Category: p.Category,
		})
	}

	for _, plan := range d.Plans {
		xp := xmlPlan{
			Name:    plan.Name,
			Product: plan.Product,
		}

		if trial, ok := plan.TrialPhase(); ok {
			phase := xmlPhase{
				Type:     trial.Type,
				Duration: xmlDuration{Unit: trial.Duration.Unit, Number: trial.Duration.Number},
				Fixed:    &xmlFixed{},
			}
			for _, price := range trial.Prices {
				phase.Fixed.FixedPrice.Price = append(phase.Fixed.FixedPrice.Price, xmlPrice{
					Currency: price.Currency,
					Value:    decimalValue(price.Value),
				})
			}
			xp.InitialPhases = &xmlInitialPhases{Phase: []xmlPhase{phase}}
		}

		if evergreen, ok := plan.EvergreenPhase(); ok {
			final := xmlFinalPhase{
				Type:          evergreen.Type,
				Duration:      xmlDuration{Unit: evergreen.Duration.Unit, Number: evergreen.Duration.Number},
				BillingPeriod: string(plan.BillingPeriod),
			}
			for _, price := range evergreen.Prices {
				final.Recurring.RecurringPrice.Price = append(final.Recurring.RecurringPrice.Price, xmlPrice{
					Currency: price.Currency,
					Value:    decimalValue(price.Value),
				})
			}
			xp.FinalPhase = final
		}

		out.Plans.Plan = append(out.Plans.Plan, xp)
	}

	for _, pl := range d.PriceLists {
		out.PriceLists.DefaultPriceList = append(out.PriceLists.DefaultPriceList, xmlDefaultPriceList{
			Name: pl.Name,
			Plan: pl.Plans,
		})
	}

	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), body...), nil
}
