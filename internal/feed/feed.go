// Package feed runs the reference-price loop: fetch external prices,
// apply the active scenario, push adjusted prices to the ledger, and
// persist the resulting history.
package feed

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/observability"
	"percolator-sim/internal/pricesource"
	"percolator-sim/internal/scenario"
	"percolator-sim/internal/storage"
)

// Default loop parameters.
const (
	DefaultTickInterval    = 2 * time.Second
	DefaultFlushAge        = 10 * time.Second
	DefaultFlushSize       = 50
	DefaultRequeueCap      = 500
	DefaultRetentionWindow = 24 * time.Hour
	DefaultSweepInterval   = 10 * time.Minute
)

// Ledger is the subset of trade-executor behavior the feed needs: price
// publication and state advancement for one market.
type Ledger interface {
	PushPrice(ctx context.Context, market string, priceFixed uint64) error
	Crank(ctx context.Context, market string) error
}

// Market is one feed-driven market.
type Market struct {
	Name    string // ledger market name, e.g. "SOL-PERP"
	Symbol  string // display symbol, e.g. "SOL"
	QuoteID string // price source id, e.g. "solana"
}

// Config holds feed loop parameters. Zero values take defaults.
type Config struct {
	TickInterval    time.Duration
	FlushAge        time.Duration
	FlushSize       int
	RequeueCap      int
	RetentionWindow time.Duration
	SweepInterval   time.Duration
	Markets         []Market
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.FlushAge <= 0 {
		c.FlushAge = DefaultFlushAge
	}
	if c.FlushSize <= 0 {
		c.FlushSize = DefaultFlushSize
	}
	if c.RequeueCap <= 0 {
		c.RequeueCap = DefaultRequeueCap
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = DefaultRetentionWindow
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Feed is the price feed loop.
type Feed struct {
	cfg       Config
	fetcher   pricesource.Fetcher
	scenarios *scenario.Engine
	ledger    Ledger
	history   storage.PriceHistoryStore
	clk       clock.Clock
	rng       *rand.Rand
	metrics   *observability.Metrics
	logger    *log.Logger

	mu          sync.Mutex
	running     bool
	lastPrices  map[string]float64
	buffer      []*domain.PriceRecord
	bufferSince time.Time
	lastSweep   time.Time
}

// New creates a price feed.
func New(cfg Config, fetcher pricesource.Fetcher, scenarios *scenario.Engine, ledger Ledger, history storage.PriceHistoryStore, clk clock.Clock, rng *rand.Rand, metrics *observability.Metrics, logger *log.Logger) *Feed {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[feed] ", log.LstdFlags)
	}
	return &Feed{
		cfg:        cfg,
		fetcher:    fetcher,
		scenarios:  scenarios,
		ledger:     ledger,
		history:    history,
		clk:        clk,
		rng:        rng,
		metrics:    metrics,
		logger:     logger,
		lastPrices: make(map[string]float64),
	}
}

// Run drives the tick loop until ctx is cancelled. The in-flight tick
// completes before Run returns; any buffered records get a final flush.
func (f *Feed) Run(ctx context.Context) {
	f.mu.Lock()
	f.running = true
	f.lastSweep = f.clk.Now()
	f.mu.Unlock()

	f.logger.Printf("starting: %d markets, tick %s", len(f.cfg.Markets), f.cfg.TickInterval)

	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

func (f *Feed) shutdown() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	// Best effort; the process is exiting either way.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.flush(flushCtx, true)
	f.logger.Printf("stopped")
}

// Running reports whether the loop is active.
func (f *Feed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// LastPrices returns the most recent adjusted price per symbol.
func (f *Feed) LastPrices() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.lastPrices))
	for k, v := range f.lastPrices {
		out[k] = v
	}
	return out
}

// Tick runs one feed iteration. A failed fetch aborts the whole tick;
// per-market ledger failures skip only that market.
func (f *Feed) Tick(ctx context.Context) {
	ids := make([]string, 0, len(f.cfg.Markets))
	for _, m := range f.cfg.Markets {
		ids = append(ids, m.QuoteID)
	}

	raw, err := f.fetcher.Fetch(ctx, ids)
	if err != nil {
		f.logger.Printf("price fetch failed, skipping tick: %v", err)
		f.metrics.FeedTicks.WithLabelValues("fetch_failed").Inc()
		return
	}

	sc := f.scenarios.Active(ctx)
	now := f.clk.Now()
	nowMs := now.UnixMilli()

	var scType domain.ScenarioType
	if sc != nil {
		scType = sc.Type
	}

	for _, m := range f.cfg.Markets {
		rawPrice, ok := raw[m.QuoteID]
		if !ok {
			f.logger.Printf("%s: no quote for %s, skipping", m.Name, m.QuoteID)
			continue
		}

		adjusted := scenario.Apply(rawPrice, sc, now, f.rng)
		fixed := domain.ToFixedPoint(adjusted)

		if err := f.ledger.PushPrice(ctx, m.Name, fixed); err != nil {
			f.logger.Printf("%s: push price failed: %v", m.Name, err)
			f.metrics.PushCrankErrors.WithLabelValues(m.Name, "push").Inc()
			continue
		}
		if err := f.ledger.Crank(ctx, m.Name); err != nil {
			f.logger.Printf("%s: crank failed: %v", m.Name, err)
			f.metrics.PushCrankErrors.WithLabelValues(m.Name, "crank").Inc()
			continue
		}

		f.mu.Lock()
		f.lastPrices[m.Symbol] = adjusted
		if len(f.buffer) == 0 {
			f.bufferSince = now
		}
		f.buffer = append(f.buffer, &domain.PriceRecord{
			ID:            uuid.NewString(),
			Market:        m.Name,
			Symbol:        m.Symbol,
			AdjustedFixed: fixed,
			RawFixed:      domain.ToFixedPoint(rawPrice),
			ScenarioType:  scType,
			TimestampMs:   nowMs,
		})
		f.metrics.PriceBufferSize.Set(float64(len(f.buffer)))
		f.mu.Unlock()
	}

	f.metrics.FeedTicks.WithLabelValues("ok").Inc()

	f.flush(ctx, false)
	f.sweep(ctx, now)
}

// flush persists the buffered records when the flush policy fires, or
// unconditionally when force is set. On failure records stay buffered
// up to the requeue cap; oldest excess is dropped.
func (f *Feed) flush(ctx context.Context, force bool) {
	f.mu.Lock()
	n := len(f.buffer)
	if n == 0 {
		f.mu.Unlock()
		return
	}
	age := f.clk.Now().Sub(f.bufferSince)
	if !force && n < f.cfg.FlushSize && age < f.cfg.FlushAge {
		f.mu.Unlock()
		return
	}
	batch := f.buffer
	f.buffer = nil
	f.mu.Unlock()

	if err := f.history.InsertBulk(ctx, batch); err != nil {
		f.logger.Printf("flush of %d records failed, requeueing: %v", len(batch), err)
		f.metrics.FlushFailures.Inc()
		f.requeue(batch)
		return
	}

	f.metrics.PriceRecordsFlushed.Add(float64(len(batch)))
	f.mu.Lock()
	f.metrics.PriceBufferSize.Set(float64(len(f.buffer)))
	f.mu.Unlock()
}

// requeue puts failed records back in front of anything buffered since,
// then enforces the cap by dropping the oldest excess.
func (f *Feed) requeue(batch []*domain.PriceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buffer = append(batch, f.buffer...)
	if excess := len(f.buffer) - f.cfg.RequeueCap; excess > 0 {
		f.logger.Printf("requeue over cap, dropping %d oldest records", excess)
		f.metrics.PriceRecordsDropped.Add(float64(excess))
		f.buffer = f.buffer[excess:]
	}
	if len(f.buffer) > 0 {
		f.bufferSince = f.clk.Now()
	}
	f.metrics.PriceBufferSize.Set(float64(len(f.buffer)))
}

// sweep deletes persisted history older than the retention window. Runs
// at most once per sweep interval.
func (f *Feed) sweep(ctx context.Context, now time.Time) {
	f.mu.Lock()
	if now.Sub(f.lastSweep) < f.cfg.SweepInterval {
		f.mu.Unlock()
		return
	}
	f.lastSweep = now
	f.mu.Unlock()

	cutoff := now.Add(-f.cfg.RetentionWindow).UnixMilli()
	deleted, err := f.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		f.logger.Printf("retention sweep failed: %v", err)
		return
	}
	f.metrics.RetentionSweeps.Inc()
	if deleted >= 0 {
		f.logger.Printf("retention sweep removed %d records", deleted)
	}
}
