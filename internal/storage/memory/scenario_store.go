package memory

import (
	"context"
	"sync"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// ScenarioStore is an in-memory implementation of storage.ScenarioStore.
type ScenarioStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Scenario
}

// NewScenarioStore creates a new in-memory scenario store.
func NewScenarioStore() *ScenarioStore {
	return &ScenarioStore{data: make(map[string]*domain.Scenario)}
}

var _ storage.ScenarioStore = (*ScenarioStore)(nil)

// GetActive returns the most recently activated scenario marked "active".
func (s *ScenarioStore) GetActive(_ context.Context) (*domain.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Scenario
	for _, sc := range s.data {
		if sc.Status != domain.ScenarioStatusActive {
			continue
		}
		if best == nil || sc.ActivatedAt.After(best.ActivatedAt) {
			best = sc
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// Insert adds a scenario. Returns ErrDuplicateKey if the id exists.
func (s *ScenarioStore) Insert(_ context.Context, sc *domain.Scenario) error {
	if sc == nil || sc.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sc.ID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *sc
	s.data[sc.ID] = &cp
	return nil
}

// MarkExpired flips a scenario's status to "expired".
func (s *ScenarioStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	sc.Status = domain.ScenarioStatusExpired
	return nil
}
