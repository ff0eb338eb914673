package clickhouse

import (
	"context"
	"fmt"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBulk appends price records in one batch.
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, records []*domain.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[r.ID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[r.ID] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (
			id, market, symbol, adjusted_price, raw_price, scenario_type, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.ID, r.Market, r.Symbol,
			r.AdjustedFixed, r.RawFixed, string(r.ScenarioType), uint64(r.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByMarket retrieves records for a market within [startMs, endMs].
func (s *PriceHistoryStore) GetByMarket(ctx context.Context, market string, startMs, endMs int64) ([]*domain.PriceRecord, error) {
	query := `
		SELECT id, market, symbol, adjusted_price, raw_price, scenario_type, timestamp_ms
		FROM price_history
		WHERE market = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, market, uint64(startMs), uint64(endMs))
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var records []*domain.PriceRecord
	for rows.Next() {
		var (
			r            domain.PriceRecord
			scenarioType string
			tsMs         uint64
		)
		err := rows.Scan(&r.ID, &r.Market, &r.Symbol, &r.AdjustedFixed, &r.RawFixed, &scenarioType, &tsMs)
		if err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}
		r.ScenarioType = domain.ScenarioType(scenarioType)
		r.TimestampMs = int64(tsMs)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes records older than cutoffMs. ClickHouse mutations
// are asynchronous and do not report affected rows, so the count is -1.
func (s *PriceHistoryStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	query := `ALTER TABLE price_history DELETE WHERE timestamp_ms < ?`
	if err := s.conn.Exec(ctx, query, uint64(cutoffMs)); err != nil {
		return 0, fmt.Errorf("delete old price history: %w", err)
	}
	return -1, nil
}
