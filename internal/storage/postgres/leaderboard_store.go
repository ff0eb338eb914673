package postgres

import (
	"context"
	"fmt"
	"time"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// LeaderboardStore implements storage.LeaderboardStore using PostgreSQL.
type LeaderboardStore struct {
	pool *Pool
}

// NewLeaderboardStore creates a new LeaderboardStore.
func NewLeaderboardStore(pool *Pool) *LeaderboardStore {
	return &LeaderboardStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LeaderboardStore = (*LeaderboardStore)(nil)

// Get retrieves one identity's row for the week.
func (s *LeaderboardStore) Get(ctx context.Context, identity string, weekStart time.Time) (*domain.LeaderboardRow, error) {
	query := `
		SELECT identity, display_name, week_start, trade_count,
			total_pnl, total_notional, best_trade_pnl, worst_trade_pnl, win_count
		FROM leaderboard
		WHERE identity = $1 AND week_start = $2
	`

	var r domain.LeaderboardRow
	err := s.pool.QueryRow(ctx, query, identity, weekStart).Scan(
		&r.Identity, &r.DisplayName, &r.WeekStart, &r.TradeCount,
		&r.TotalPnl, &r.TotalNotional, &r.BestTradePnl, &r.WorstTradePnl, &r.WinCount,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get leaderboard row: %w", err)
	}
	return &r, nil
}

// Upsert writes the row, replacing any existing one for (identity, week).
func (s *LeaderboardStore) Upsert(ctx context.Context, r *domain.LeaderboardRow) error {
	query := `
		INSERT INTO leaderboard (
			identity, display_name, week_start, trade_count,
			total_pnl, total_notional, best_trade_pnl, worst_trade_pnl, win_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity, week_start) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			trade_count = EXCLUDED.trade_count,
			total_pnl = EXCLUDED.total_pnl,
			total_notional = EXCLUDED.total_notional,
			best_trade_pnl = EXCLUDED.best_trade_pnl,
			worst_trade_pnl = EXCLUDED.worst_trade_pnl,
			win_count = EXCLUDED.win_count
	`

	_, err := s.pool.Exec(ctx, query,
		r.Identity, r.DisplayName, r.WeekStart, r.TradeCount,
		r.TotalPnl, r.TotalNotional, r.BestTradePnl, r.WorstTradePnl, r.WinCount,
	)
	if err != nil {
		return fmt.Errorf("upsert leaderboard row: %w", err)
	}
	return nil
}

// Top retrieves the week's best rows by total pnl descending.
func (s *LeaderboardStore) Top(ctx context.Context, weekStart time.Time, limit int) ([]*domain.LeaderboardRow, error) {
	query := `
		SELECT identity, display_name, week_start, trade_count,
			total_pnl, total_notional, best_trade_pnl, worst_trade_pnl, win_count
		FROM leaderboard
		WHERE week_start = $1
		ORDER BY total_pnl DESC, identity ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, weekStart, limit)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard top: %w", err)
	}
	defer rows.Close()

	var result []*domain.LeaderboardRow
	for rows.Next() {
		var r domain.LeaderboardRow
		err := rows.Scan(
			&r.Identity, &r.DisplayName, &r.WeekStart, &r.TradeCount,
			&r.TotalPnl, &r.TotalNotional, &r.BestTradePnl, &r.WorstTradePnl, &r.WinCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return result, nil
}
