package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// LeaderboardStore is an in-memory implementation of storage.LeaderboardStore.
type LeaderboardStore struct {
	mu   sync.RWMutex
	data map[leaderboardKey]*domain.LeaderboardRow
}

type leaderboardKey struct {
	identity  string
	weekStart int64 // unix seconds
}

// NewLeaderboardStore creates a new in-memory leaderboard store.
func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{data: make(map[leaderboardKey]*domain.LeaderboardRow)}
}

var _ storage.LeaderboardStore = (*LeaderboardStore)(nil)

// Get retrieves one identity's row for the week.
func (s *LeaderboardStore) Get(_ context.Context, identity string, weekStart time.Time) (*domain.LeaderboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.data[leaderboardKey{identity, weekStart.UTC().Unix()}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// Upsert writes the row, replacing any existing one for (identity, week).
func (s *LeaderboardStore) Upsert(_ context.Context, row *domain.LeaderboardRow) error {
	if row == nil || row.Identity == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *row
	s.data[leaderboardKey{row.Identity, row.WeekStart.UTC().Unix()}] = &cp
	return nil
}

// Top retrieves the week's best rows by total pnl descending.
func (s *LeaderboardStore) Top(_ context.Context, weekStart time.Time, limit int) ([]*domain.LeaderboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws := weekStart.UTC().Unix()
	var result []*domain.LeaderboardRow
	for k, row := range s.data {
		if k.weekStart == ws {
			cp := *row
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalPnl != result[j].TotalPnl {
			return result[i].TotalPnl > result[j].TotalPnl
		}
		return result[i].Identity < result[j].Identity
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
