package postgres

import (
	"context"
	"fmt"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// TradeLogStore implements storage.TradeLogStore using PostgreSQL.
type TradeLogStore struct {
	pool *Pool
}

// NewTradeLogStore creates a new TradeLogStore.
func NewTradeLogStore(pool *Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLogStore = (*TradeLogStore)(nil)

// Insert appends one trade log entry.
func (s *TradeLogStore) Insert(ctx context.Context, e *domain.TradeLogEntry) error {
	query := `
		INSERT INTO trade_log (
			tx_signature, identity, display_name, market,
			action, side, size_base, price_fixed, pnl_fixed, timestamp_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		e.TxSignature, e.Identity, e.DisplayName, e.Market,
		e.Action, e.Side, e.SizeBase, e.PriceFixed, e.PnlFixed, e.TimestampMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade log entry: %w", err)
	}
	return nil
}

// GetByIdentity retrieves entries for one identity, newest first.
func (s *TradeLogStore) GetByIdentity(ctx context.Context, identity string, limit int) ([]*domain.TradeLogEntry, error) {
	query := `
		SELECT tx_signature, identity, display_name, market,
			action, side, size_base, price_fixed, pnl_fixed, timestamp_ms
		FROM trade_log
		WHERE identity = $1
		ORDER BY timestamp_ms DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("get trade log by identity: %w", err)
	}
	defer rows.Close()

	var entries []*domain.TradeLogEntry
	for rows.Next() {
		var e domain.TradeLogEntry
		err := rows.Scan(
			&e.TxSignature, &e.Identity, &e.DisplayName, &e.Market,
			&e.Action, &e.Side, &e.SizeBase, &e.PriceFixed, &e.PnlFixed, &e.TimestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade log row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade log rows: %w", err)
	}
	return entries, nil
}
