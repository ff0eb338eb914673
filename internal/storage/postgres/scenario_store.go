package postgres

import (
	"context"
	"fmt"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// ScenarioStore implements storage.ScenarioStore using PostgreSQL.
type ScenarioStore struct {
	pool *Pool
}

// NewScenarioStore creates a new ScenarioStore.
func NewScenarioStore(pool *Pool) *ScenarioStore {
	return &ScenarioStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScenarioStore = (*ScenarioStore)(nil)

// GetActive returns the most recently activated scenario marked "active".
func (s *ScenarioStore) GetActive(ctx context.Context) (*domain.Scenario, error) {
	query := `
		SELECT id, type, activated_at, expires_at, status
		FROM scenarios
		WHERE status = 'active'
		ORDER BY activated_at DESC
		LIMIT 1
	`

	var sc domain.Scenario
	err := s.pool.QueryRow(ctx, query).Scan(&sc.ID, &sc.Type, &sc.ActivatedAt, &sc.ExpiresAt, &sc.Status)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active scenario: %w", err)
	}
	return &sc, nil
}

// Insert adds a scenario. Returns ErrDuplicateKey if the id exists.
func (s *ScenarioStore) Insert(ctx context.Context, sc *domain.Scenario) error {
	query := `
		INSERT INTO scenarios (id, type, activated_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, sc.ID, sc.Type, sc.ActivatedAt, sc.ExpiresAt, sc.Status)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert scenario: %w", err)
	}
	return nil
}

// MarkExpired flips a scenario's status to "expired".
func (s *ScenarioStore) MarkExpired(ctx context.Context, id string) error {
	query := `UPDATE scenarios SET status = 'expired' WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark scenario expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
