// Package leaderboard buffers per-trade PnL deltas and periodically
// merges them into cumulative weekly standings.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/observability"
	"percolator-sim/internal/storage"
)

// Flush policy defaults.
const (
	DefaultFlushInterval = 15 * time.Second
	DefaultFlushSize     = 10
)

// Aggregator buffers LeaderboardDelta values and merges them into
// per-identity weekly rows via read-modify-write. The process is the
// sole writer of the leaderboard table, so the merge needs no store-side
// locking; the in-memory buffer is mutex-guarded because the executor
// and the scheduler run on separate goroutines.
type Aggregator struct {
	store         storage.LeaderboardStore
	clk           clock.Clock
	flushInterval time.Duration
	flushSize     int
	metrics       *observability.Metrics
	logger        *log.Logger

	mu        sync.Mutex
	buf       []domain.LeaderboardDelta
	lastFlush time.Time
}

// New creates an aggregator with the default flush policy.
func New(store storage.LeaderboardStore, clk clock.Clock, metrics *observability.Metrics, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(log.Writer(), "[leaderboard] ", log.LstdFlags)
	}
	return &Aggregator{
		store:         store,
		clk:           clk,
		flushInterval: DefaultFlushInterval,
		flushSize:     DefaultFlushSize,
		metrics:       metrics,
		logger:        logger,
		lastFlush:     clk.Now(),
	}
}

// Add buffers one delta. Flushing happens separately so trade execution
// never blocks on the store.
func (a *Aggregator) Add(d domain.LeaderboardDelta) {
	a.mu.Lock()
	a.buf = append(a.buf, d)
	n := len(a.buf)
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.LeaderboardBufferSize.Set(float64(n))
	}
}

// Pending returns the number of buffered deltas.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// MaybeFlush flushes when the time or size trigger has fired.
func (a *Aggregator) MaybeFlush(ctx context.Context) {
	a.mu.Lock()
	n := len(a.buf)
	due := n >= a.flushSize || (n > 0 && a.clk.Now().Sub(a.lastFlush) >= a.flushInterval)
	a.mu.Unlock()
	if !due {
		return
	}
	if err := a.Flush(ctx); err != nil {
		a.logger.Printf("flush failed: %v", err)
	}
}

// Flush merges all buffered deltas into the store. Deltas that were not
// merged are put back so a transient store failure loses nothing.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.lastFlush = a.clk.Now()
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	weekStart := domain.WeekStartUTC(a.clk.Now())
	for i, d := range batch {
		if err := a.merge(ctx, weekStart, d); err != nil {
			a.requeue(batch[i:])
			if a.metrics != nil {
				a.metrics.LeaderboardFlushes.WithLabelValues("error").Inc()
			}
			return fmt.Errorf("merge delta for %s: %w", d.Identity, err)
		}
	}

	if a.metrics != nil {
		a.metrics.LeaderboardFlushes.WithLabelValues("ok").Inc()
		a.metrics.LeaderboardBufferSize.Set(float64(a.Pending()))
	}
	return nil
}

func (a *Aggregator) requeue(rest []domain.LeaderboardDelta) {
	a.mu.Lock()
	a.buf = append(append([]domain.LeaderboardDelta{}, rest...), a.buf...)
	a.mu.Unlock()
}

// merge applies one delta to the identity's weekly row.
func (a *Aggregator) merge(ctx context.Context, weekStart time.Time, d domain.LeaderboardDelta) error {
	row, err := a.store.Get(ctx, d.Identity, weekStart)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		row = &domain.LeaderboardRow{
			Identity:      d.Identity,
			DisplayName:   d.DisplayName,
			WeekStart:     weekStart,
			TradeCount:    1,
			TotalPnl:      d.PnlDelta,
			TotalNotional: d.DepositedDelta,
			BestTradePnl:  d.PnlDelta,
			WorstTradePnl: d.PnlDelta,
		}
		if d.IsWin {
			row.WinCount = 1
		}
		return a.store.Upsert(ctx, row)
	case err != nil:
		return err
	}

	row.TradeCount++
	row.TotalPnl += d.PnlDelta
	row.TotalNotional += d.DepositedDelta
	if d.PnlDelta > row.BestTradePnl {
		row.BestTradePnl = d.PnlDelta
	}
	if d.PnlDelta < row.WorstTradePnl {
		row.WorstTradePnl = d.PnlDelta
	}
	if d.IsWin {
		row.WinCount++
	}
	if d.DisplayName != "" {
		row.DisplayName = d.DisplayName
	}
	return a.store.Upsert(ctx, row)
}
