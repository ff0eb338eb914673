package domain

import "time"

// ScenarioType identifies a market perturbation model.
type ScenarioType string

// Scenario types voted in by the presentation layer.
const (
	ScenarioFlashCrash   ScenarioType = "flash-crash"
	ScenarioShortSqueeze ScenarioType = "short-squeeze"
	ScenarioBlackSwan    ScenarioType = "black-swan"
	ScenarioHighVol      ScenarioType = "high-vol"
	ScenarioGentleTrend  ScenarioType = "gentle-trend"
)

// Scenario statuses as stored.
const (
	ScenarioStatusActive  = "active"
	ScenarioStatusExpired = "expired"
)

// Scenario is a time-boxed multiplicative perturbation applied to reference
// prices. Created externally; never mutated in place, only expired.
type Scenario struct {
	ID          string
	Type        ScenarioType
	ActivatedAt time.Time
	ExpiresAt   time.Time
	Status      string
}

// Expired reports whether the scenario's window has lapsed at now.
func (s *Scenario) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ElapsedFraction returns the scenario's progress clamped to [0, 1].
func (s *Scenario) ElapsedFraction(now time.Time) float64 {
	total := s.ExpiresAt.Sub(s.ActivatedAt)
	if total <= 0 {
		return 1
	}
	t := float64(now.Sub(s.ActivatedAt)) / float64(total)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
