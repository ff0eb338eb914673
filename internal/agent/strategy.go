package agent

import (
	"fmt"
	"math/rand"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/i128"
)

// Strategy tuning. The low aggressive threshold is deliberate: it keeps
// the fleet trading near-continuously during squeeze and trend scenarios
// so the demo surface always has activity.
const (
	strategyLookbackMs = 60_000

	trendDefaultThreshold    = 0.005  // 0.5%
	trendAggressiveThreshold = 0.0005 // 0.05%
	reverterBand             = 0.003  // 0.3%
)

// Decision is a strategy's order: a signed position size plus the draw
// that produced it.
type Decision struct {
	SignedSize  i128.I128 // base units at 1e6 scale
	Leverage    int64
	NotionalUsd int64 // whole USD
}

// Strategy turns the agent's recent price window into a trade decision.
// A nil decision means no trade this round.
type Strategy interface {
	Name() string
	Decide(window []domain.PriceSample, price float64, sc *domain.Scenario, rng *rand.Rand) (*Decision, error)
}

// positionSize converts a notional and leverage draw into signed base
// units: usd × leverage / price, scaled to 1e6 base units.
func positionSize(notionalUsd, leverage int64, price float64, short bool) (i128.I128, error) {
	priceFixed := domain.ToFixedPoint(price)
	if priceFixed == 0 {
		return i128.Zero, fmt.Errorf("non-positive price %v", price)
	}

	v := i128.FromInt64(notionalUsd * domain.PriceScale)
	v, err := v.Mul64(leverage)
	if err != nil {
		return i128.Zero, err
	}
	v, err = v.Mul64(domain.PriceScale)
	if err != nil {
		return i128.Zero, err
	}
	v, err = v.Div64(int64(priceFixed))
	if err != nil {
		return i128.Zero, err
	}
	if short {
		return v.Neg()
	}
	return v, nil
}

func sizedDecision(notionalUsd, leverage int64, price float64, short bool) (*Decision, error) {
	size, err := positionSize(notionalUsd, leverage, price, short)
	if err != nil {
		return nil, err
	}
	return &Decision{SignedSize: size, Leverage: leverage, NotionalUsd: notionalUsd}, nil
}

// aggressiveScenario reports whether the scenario pushes trend-style
// strategies into their low-threshold, high-leverage mode.
func aggressiveScenario(sc *domain.Scenario) bool {
	return sc != nil && (sc.Type == domain.ScenarioShortSqueeze || sc.Type == domain.ScenarioGentleTrend)
}

// TrendFollower trades in the direction of the lookback price change.
// With at least two samples it is never neutral: inside the threshold
// band it still follows the raw sub-threshold change.
type TrendFollower struct{}

func (TrendFollower) Name() string { return "trend" }

func (TrendFollower) Decide(window []domain.PriceSample, price float64, sc *domain.Scenario, rng *rand.Rand) (*Decision, error) {
	if len(window) < 2 {
		return nil, nil
	}
	oldest := window[0].Price
	if oldest <= 0 {
		return nil, nil
	}
	pct := (price - oldest) / oldest

	threshold := trendDefaultThreshold
	leverage := 2 + rng.Int63n(5) // 2-6x
	if aggressiveScenario(sc) {
		threshold = trendAggressiveThreshold
		leverage = 8 + rng.Int63n(8) // 8-15x
	}
	notional := 500 + rng.Int63n(2001) // 500-2500 USD

	var short bool
	switch {
	case pct >= threshold:
		short = false
	case pct <= -threshold:
		short = true
	case pct != 0:
		short = pct < 0
	default:
		short = rng.Intn(2) == 0
	}
	return sizedDecision(notional, leverage, price, short)
}

// MeanReverter fades deviation from the lookback mean, falling back to
// a contrarian micro-bias inside the band.
type MeanReverter struct{}

func (MeanReverter) Name() string { return "meanrevert" }

func (MeanReverter) Decide(window []domain.PriceSample, price float64, sc *domain.Scenario, rng *rand.Rand) (*Decision, error) {
	if len(window) < 2 {
		return nil, nil
	}
	var sum float64
	for _, s := range window {
		sum += s.Price
	}
	mean := sum / float64(len(window))
	if mean <= 0 {
		return nil, nil
	}
	dev := (price - mean) / mean

	leverage := 2 + rng.Int63n(4)      // 2-5x
	notional := 500 + rng.Int63n(1501) // 500-2000 USD

	var short bool
	switch {
	case dev > reverterBand:
		short = true
	case dev < -reverterBand:
		short = false
	case dev != 0:
		short = dev > 0
	default:
		short = rng.Intn(2) == 0
	}
	return sizedDecision(notional, leverage, price, short)
}

// MarketMaker alternates sides pseudo-randomly with small size and low
// leverage, keeping two-sided flow in the book.
type MarketMaker struct{}

func (MarketMaker) Name() string { return "maker" }

func (MarketMaker) Decide(window []domain.PriceSample, price float64, sc *domain.Scenario, rng *rand.Rand) (*Decision, error) {
	if len(window) < 1 {
		return nil, nil
	}
	leverage := 1 + rng.Int63n(2)     // 1-2x
	notional := 100 + rng.Int63n(401) // 100-500 USD
	return sizedDecision(notional, leverage, price, rng.Intn(2) == 0)
}
