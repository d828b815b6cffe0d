package currency

import (
	"context"
	"strings"

	"github.com/crowdchurn/billing/internal/domain"
)

// StaticRateSource quotes rates from a fixed table keyed by lowercase
// currency pair ("usd/eur"). Rates are loaded from configuration at startup;
// a missing pair is an error, never a silent 1.0.
type StaticRateSource struct {
	rates map[string]float64
}

// NewStaticRateSource copies the given pair table. Keys are normalized to
// lowercase "from/to" form.
func NewStaticRateSource(rates map[string]float64) *StaticRateSource {
	normalized := make(map[string]float64, len(rates))
	for pair, rate := range rates {
		normalized[strings.ToLower(pair)] = rate
	}
	return &StaticRateSource{rates: normalized}
}

// Rate implements RateSource. Identity pairs always quote 1.
func (s *StaticRateSource) Rate(_ context.Context, from, to string) (float64, error) {
	from = strings.ToLower(from)
	to = strings.ToLower(to)
	if from == to {
		return 1, nil
	}
	if rate, ok := s.rates[from+"/"+to]; ok {
		return rate, nil
	}
	// Derive the inverse when only the opposite direction is configured.
	if rate, ok := s.rates[to+"/"+from]; ok && rate != 0 {
		return 1 / rate, nil
	}
	return 0, domain.ErrFxRateUnavailable
}
