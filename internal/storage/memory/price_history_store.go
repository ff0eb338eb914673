package memory

import (
	"context"
	"sort"
	"sync"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceRecord // keyed by record id
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{data: make(map[string]*domain.PriceRecord)}
}

var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBulk appends price records.
func (s *PriceHistoryStore) InsertBulk(_ context.Context, records []*domain.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[r.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[r.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.ID] = struct{}{}
	}

	for _, r := range records {
		cp := *r
		s.data[r.ID] = &cp
	}
	return nil
}

// GetByMarket retrieves records for a market within [startMs, endMs].
func (s *PriceHistoryStore) GetByMarket(_ context.Context, market string, startMs, endMs int64) ([]*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceRecord
	for _, r := range s.data {
		if r.Market == market && r.TimestampMs >= startMs && r.TimestampMs <= endMs {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

// DeleteOlderThan removes records with timestamps before cutoffMs.
func (s *PriceHistoryStore) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, r := range s.data {
		if r.TimestampMs < cutoffMs {
			delete(s.data, id)
			removed++
		}
	}
	return removed, nil
}
