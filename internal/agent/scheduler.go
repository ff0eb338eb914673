package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/executor"
	"percolator-sim/internal/observability"
	"percolator-sim/internal/percolator"
	"percolator-sim/internal/solana"
)

// Scheduler defaults.
const (
	DefaultTickInterval = 1 * time.Second
	DefaultWindowSpan   = 10 * time.Minute
	DefaultLookback     = 60 * time.Second
	DefaultJitterMin    = 5 * time.Second
	DefaultJitterMax    = 15 * time.Second
	DefaultHoldMin      = 20 * time.Second
	DefaultHoldMax      = 45 * time.Second

	// RecoveryHold is the hold target assigned to a position adopted
	// from the ledger at startup, so stale positions close promptly.
	RecoveryHold = 5 * time.Second
)

// Trader executes ledger operations for agents.
type Trader interface {
	Open(ctx context.Context, req executor.OpenRequest) (string, error)
	Close(ctx context.Context, req executor.CloseRequest) (string, int64, error)
	LookupSlot(ctx context.Context, market string, user solana.PublicKey) (*percolator.UserSlot, error)
	Register(ctx context.Context, user *solana.Keypair, market string) (*percolator.UserSlot, error)
}

// ScenarioSource resolves the active scenario for strategy decisions.
type ScenarioSource interface {
	Active(ctx context.Context) *domain.Scenario
}

// PriceSource exposes the feed's latest adjusted prices by symbol.
type PriceSource interface {
	LastPrices() map[string]float64
}

// Flusher is flushed opportunistically at the end of each tick.
type Flusher interface {
	MaybeFlush(ctx context.Context)
}

// Config holds scheduler parameters. Zero values take defaults.
type Config struct {
	TickInterval time.Duration
	WindowSpan   time.Duration
	Lookback     time.Duration
	JitterMin    time.Duration
	JitterMax    time.Duration
	HoldMin      time.Duration
	HoldMax      time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.WindowSpan <= 0 {
		c.WindowSpan = DefaultWindowSpan
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.JitterMin <= 0 {
		c.JitterMin = DefaultJitterMin
	}
	if c.JitterMax <= c.JitterMin {
		c.JitterMax = c.JitterMin + (DefaultJitterMax - DefaultJitterMin)
	}
	if c.HoldMin <= 0 {
		c.HoldMin = DefaultHoldMin
	}
	if c.HoldMax <= c.HoldMin {
		c.HoldMax = c.HoldMin + (DefaultHoldMax - DefaultHoldMin)
	}
}

// Scheduler drives the fleet with one cooperative loop. Due agents are
// processed strictly one after another in roster order; each agent's
// decision, submission and confirmation complete before the next agent
// is considered. The counterparty keypair signs every trade, so steps
// must not overlap.
type Scheduler struct {
	cfg       Config
	roster    []*Agent
	trader    Trader
	scenarios ScenarioSource
	prices    PriceSource
	flusher   Flusher
	clk       clock.Clock
	metrics   *observability.Metrics
	logger    *log.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler over the fleet.
func NewScheduler(cfg Config, roster []*Agent, trader Trader, scenarios ScenarioSource, prices PriceSource, flusher Flusher, clk clock.Clock, metrics *observability.Metrics, logger *log.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[agents] ", log.LstdFlags)
	}
	return &Scheduler{
		cfg:       cfg,
		roster:    roster,
		trader:    trader,
		scenarios: scenarios,
		prices:    prices,
		flusher:   flusher,
		clk:       clk,
		metrics:   metrics,
		logger:    logger,
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Count returns the fleet size.
func (s *Scheduler) Count() int { return len(s.roster) }

// Run drives the tick loop until ctx is cancelled. The in-flight tick
// completes before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Printf("starting: %d agents, tick %s", len(s.roster), s.cfg.TickInterval)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			s.logger.Printf("stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler iteration: observe prices, process due agents
// in roster order, flush the leaderboard buffer.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clk.Now()
	prices := s.prices.LastPrices()

	for _, a := range s.roster {
		if p, ok := prices[a.Symbol]; ok && p > 0 {
			a.observe(p, now, s.cfg.WindowSpan)
		}
	}

	for _, a := range s.roster {
		price, ok := prices[a.Symbol]
		if !ok || price <= 0 {
			continue
		}
		if now.Before(a.nextActionAt) {
			continue
		}
		s.step(ctx, a, price, now)
		a.nextActionAt = now.Add(s.jitter(a, s.cfg.JitterMin, s.cfg.JitterMax))
	}

	if s.flusher != nil {
		s.flusher.MaybeFlush(ctx)
	}
}

// step processes one due agent to completion.
func (s *Scheduler) step(ctx context.Context, a *Agent, price float64, now time.Time) {
	if a.state != StateActive {
		if err := s.initialize(ctx, a); err != nil {
			s.logger.Printf("%s: initialization failed: %v", a.DisplayName, err)
			return
		}
	}

	if a.position != nil {
		if now.Sub(a.position.OpenedAt) >= a.position.HoldTarget {
			s.closePosition(ctx, a, price)
		}
		return
	}
	s.openPosition(ctx, a, price, now)
}

// initialize performs idempotent recovery: adopt an existing ledger slot
// when one exists, otherwise fund and register a fresh one.
func (s *Scheduler) initialize(ctx context.Context, a *Agent) error {
	a.state = StateInitializing

	slot, err := s.trader.LookupSlot(ctx, a.Market, a.Keypair.PublicKey())
	if err != nil {
		a.state = StateUninitialized
		return err
	}

	if slot == nil {
		if slot, err = s.trader.Register(ctx, a.Keypair, a.Market); err != nil {
			a.state = StateUninitialized
			return err
		}
		s.logger.Printf("%s: registered slot %d", a.DisplayName, slot.Index)
	} else if !slot.Flat() {
		// Adopted mid-position, likely from a crash. A short hold target
		// gets it closed on the next due tick.
		a.position = &Position{
			SignedSize: slot.SignedSize,
			EntryPrice: slot.EntryPrice,
			OpenedAt:   time.UnixMilli(slot.OpenedAtMs),
			HoldTarget: RecoveryHold,
		}
		s.logger.Printf("%s: recovered slot %d with open position", a.DisplayName, slot.Index)
	} else {
		s.logger.Printf("%s: recovered slot %d", a.DisplayName, slot.Index)
	}

	a.slotIndex = slot.Index
	a.state = StateActive
	if s.metrics != nil {
		s.metrics.AgentsActive.Inc()
	}
	return nil
}

func (s *Scheduler) closePosition(ctx context.Context, a *Agent, price float64) {
	_, pnl, err := s.trader.Close(ctx, executor.CloseRequest{
		User:        a.Keypair,
		DisplayName: a.DisplayName,
		Market:      a.Market,
		SlotIndex:   a.slotIndex,
		SignedSize:  a.position.SignedSize,
		EntryPrice:  a.position.EntryPrice,
		ExitPrice:   domain.ToFixedPoint(price),
	})
	if err != nil {
		// Keep the position; the close retries on the next due tick.
		s.logger.Printf("%s: close failed: %v", a.DisplayName, err)
		return
	}
	a.position = nil
	a.tradeCount++
	s.logger.Printf("%s: closed position, pnl %d", a.DisplayName, pnl)
}

func (s *Scheduler) openPosition(ctx context.Context, a *Agent, price float64, now time.Time) {
	sc := s.scenarios.Active(ctx)
	decision, err := a.Strategy.Decide(a.samplesSince(now, s.cfg.Lookback), price, sc, a.rng)
	if err != nil {
		s.logger.Printf("%s: decision failed: %v", a.DisplayName, err)
		return
	}
	if decision == nil || decision.SignedSize.IsZero() {
		return
	}

	direction := "long"
	if decision.SignedSize.Sign() < 0 {
		direction = "short"
	}
	if s.metrics != nil {
		s.metrics.AgentDecisions.WithLabelValues(a.Strategy.Name(), direction).Inc()
	}

	entry := domain.ToFixedPoint(price)
	_, err = s.trader.Open(ctx, executor.OpenRequest{
		User:        a.Keypair,
		DisplayName: a.DisplayName,
		Market:      a.Market,
		SlotIndex:   a.slotIndex,
		SignedSize:  decision.SignedSize,
		PriceFixed:  entry,
	})
	if err != nil {
		s.logger.Printf("%s: open failed: %v", a.DisplayName, err)
		return
	}

	a.position = &Position{
		SignedSize: decision.SignedSize,
		EntryPrice: entry,
		OpenedAt:   now,
		HoldTarget: s.jitter(a, s.cfg.HoldMin, s.cfg.HoldMax),
	}
	a.tradeCount++
}

// jitter draws a duration in [min, max) from the agent's own rng.
func (s *Scheduler) jitter(a *Agent, min, max time.Duration) time.Duration {
	return min + time.Duration(a.rng.Int63n(int64(max-min)))
}
