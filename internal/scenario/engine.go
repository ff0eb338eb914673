package scenario

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
)

// DefaultCacheTTL bounds how stale the cached active scenario may be.
const DefaultCacheTTL = 10 * time.Second

// Engine resolves the currently active scenario. Reads go through a
// TTL cache; on store failure the previous answer is served so a
// transient database hiccup does not yank an active perturbation.
type Engine struct {
	store  storage.ScenarioStore
	clk    clock.Clock
	ttl    time.Duration
	logger *log.Logger

	mu        sync.Mutex
	cached    *domain.Scenario
	fetchedAt time.Time
	primed    bool
}

// NewEngine creates an engine over the given store.
func NewEngine(store storage.ScenarioStore, clk clock.Clock, ttl time.Duration, logger *log.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[scenario] ", log.LstdFlags)
	}
	return &Engine{
		store:  store,
		clk:    clk,
		ttl:    ttl,
		logger: logger,
	}
}

// Active returns the scenario to apply right now, or nil when none is
// active. A scenario whose window has lapsed is never returned, even
// if the store has not yet been updated; in that case the engine also
// writes the expiry back on a best-effort basis.
func (e *Engine) Active(ctx context.Context) *domain.Scenario {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	if !e.primed || now.Sub(e.fetchedAt) >= e.ttl {
		e.refreshLocked(ctx, now)
	}

	s := e.cached
	if s == nil {
		return nil
	}
	if s.Expired(now) {
		e.expireLocked(ctx, s)
		return nil
	}
	return s
}

// refreshLocked re-reads the active scenario. On error the cached value
// is kept and the fetch timestamp is not advanced, so the next call
// tries again.
func (e *Engine) refreshLocked(ctx context.Context, now time.Time) {
	s, err := e.store.GetActive(ctx)
	switch {
	case err == nil:
		e.cached = s
	case errors.Is(err, storage.ErrNotFound):
		e.cached = nil
	default:
		e.logger.Printf("scenario fetch failed, keeping cached value: %v", err)
		return
	}
	e.primed = true
	e.fetchedAt = now
}

// expireLocked drops a lapsed scenario from the cache and pushes the
// status change to the store. Failure to write is logged only; the
// cache drop alone guarantees the scenario is no longer applied.
func (e *Engine) expireLocked(ctx context.Context, s *domain.Scenario) {
	e.cached = nil
	if err := e.store.MarkExpired(ctx, s.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Printf("failed to mark scenario %s expired: %v", s.ID, err)
	} else {
		e.logger.Printf("scenario %s (%s) expired", s.ID, s.Type)
	}
}
