package storage

import (
	"context"
	"time"

	"percolator-sim/internal/domain"
)

// ScenarioStore provides access to market scenario storage. Scenarios are
// created by the external voting surface; this process only reads them and
// marks lapsed ones expired.
type ScenarioStore interface {
	// GetActive returns the most recently activated scenario whose status
	// is "active". Returns ErrNotFound when none exists.
	GetActive(ctx context.Context) (*domain.Scenario, error)

	// Insert adds a scenario. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, s *domain.Scenario) error

	// MarkExpired flips a scenario's status to "expired".
	MarkExpired(ctx context.Context, id string) error
}

// PriceHistoryStore provides access to the price history timeseries.
type PriceHistoryStore interface {
	// InsertBulk appends price records. Duplicate ids within a batch fail it.
	InsertBulk(ctx context.Context, records []*domain.PriceRecord) error

	// GetByMarket retrieves records for a market within [start, end] ms,
	// ordered by timestamp ASC.
	GetByMarket(ctx context.Context, market string, startMs, endMs int64) ([]*domain.PriceRecord, error)

	// DeleteOlderThan removes records with timestamps before cutoffMs.
	// Returns the number of records removed where the backend reports it.
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

// TradeLogStore provides access to the executed-trade log.
type TradeLogStore interface {
	// Insert appends one trade log entry.
	Insert(ctx context.Context, e *domain.TradeLogEntry) error

	// GetByIdentity retrieves entries for one identity, newest first.
	GetByIdentity(ctx context.Context, identity string, limit int) ([]*domain.TradeLogEntry, error)
}

// LeaderboardStore provides access to per-identity weekly aggregates.
// This process is the sole writer; Get followed by Upsert is the merge path.
type LeaderboardStore interface {
	// Get retrieves one identity's row for the week. Returns ErrNotFound
	// when the identity has no row yet.
	Get(ctx context.Context, identity string, weekStart time.Time) (*domain.LeaderboardRow, error)

	// Upsert writes the row, replacing any existing one for its key.
	Upsert(ctx context.Context, row *domain.LeaderboardRow) error

	// Top retrieves the week's best rows by total pnl descending.
	Top(ctx context.Context, weekStart time.Time, limit int) ([]*domain.LeaderboardRow, error)
}
