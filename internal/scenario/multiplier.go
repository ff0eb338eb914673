// Package scenario applies time-boxed market perturbations to reference
// prices. The active scenario is read from storage through a short-lived
// cache so every price tick does not hit the database.
package scenario

import (
	"math/rand"
	"time"

	"percolator-sim/internal/domain"
)

// Multiplier returns the price multiplier for a scenario at elapsed
// fraction t. t is clamped to [0, 1] by the caller; unknown types map
// to the identity multiplier.
//
// The rand source drives the high-vol scenario, which redraws its
// perturbation on every evaluation.
func Multiplier(typ domain.ScenarioType, t float64, rng *rand.Rand) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	switch typ {
	case domain.ScenarioFlashCrash:
		// Linear drop to -30% at the midpoint, then a partial recovery
		// that ends at -9%.
		if t < 0.5 {
			return 1 - 0.30*(t/0.5)
		}
		return 0.70 + 0.21*((t-0.5)/0.5)
	case domain.ScenarioShortSqueeze:
		return 1 + 0.50*t
	case domain.ScenarioBlackSwan:
		// No recovery leg. The market stays down until the scenario
		// window lapses.
		return 1 - 0.60*t
	case domain.ScenarioHighVol:
		return 1 + (rng.Float64()*0.40 - 0.20)
	case domain.ScenarioGentleTrend:
		return 1 + 0.15*t
	default:
		return 1
	}
}

// Apply perturbs price by the scenario's multiplier at now. A nil
// scenario is the identity.
func Apply(price float64, s *domain.Scenario, now time.Time, rng *rand.Rand) float64 {
	if s == nil {
		return price
	}
	return price * Multiplier(s.Type, s.ElapsedFraction(now), rng)
}
