package domain

// PriceScale is the fixed-point scale for on-ledger prices: real price × 1e6.
const PriceScale = 1_000_000

// ToFixedPoint converts a float price to the 1e6 fixed-point representation,
// rounding to the nearest integer.
func ToFixedPoint(price float64) uint64 {
	if price <= 0 {
		return 0
	}
	return uint64(price*PriceScale + 0.5)
}

// FromFixedPoint converts a 1e6 fixed-point price back to a float.
func FromFixedPoint(fixed uint64) float64 {
	return float64(fixed) / PriceScale
}

// ReferencePrice is one symbol's current price for one feed tick.
type ReferencePrice struct {
	Symbol        string
	RawPrice      float64
	AdjustedPrice float64
	Fixed         uint64 // adjusted price at 1e6 scale
}

// PriceRecord is a buffered price observation pending persistence.
type PriceRecord struct {
	ID            string // uuid, used only for requeue bookkeeping
	Market        string
	Symbol        string
	AdjustedFixed uint64
	RawFixed      uint64
	ScenarioType  ScenarioType // empty when no scenario was active
	TimestampMs   int64
}

// PriceSample is one (price, timestamp) pair in an agent's rolling window.
type PriceSample struct {
	Price float64
	TsMs  int64
}
