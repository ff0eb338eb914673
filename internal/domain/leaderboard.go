package domain

import "time"

// LeaderboardDelta is one closed trade's contribution to the standings.
// Produced by the trade executor, consumed by the aggregator's flush.
type LeaderboardDelta struct {
	Identity       string // base58 pubkey
	DisplayName    string
	PnlDelta       int64 // 1e6 fixed-point USD
	DepositedDelta int64 // 1e6 fixed-point USD notional traded
	IsWin          bool
}

// LeaderboardRow is the cumulative per-identity, per-week aggregate.
type LeaderboardRow struct {
	Identity      string
	DisplayName   string
	WeekStart     time.Time
	TradeCount    int64
	TotalPnl      int64
	TotalNotional int64
	BestTradePnl  int64
	WorstTradePnl int64
	WinCount      int64
}

// WeekStartUTC returns the UTC Monday 00:00 that begins ts's week.
func WeekStartUTC(ts time.Time) time.Time {
	ts = ts.UTC()
	day := ts.Truncate(24 * time.Hour)
	// time.Weekday: Sunday=0 ... Monday=1
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
