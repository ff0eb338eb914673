package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"testing"
	"time"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/executor"
	"percolator-sim/internal/i128"
	"percolator-sim/internal/percolator"
	"percolator-sim/internal/solana"
)

type tradeEvent struct {
	identity string
	action   string
	size     i128.I128
}

// mockTrader records every ledger operation and simulates slot state.
type mockTrader struct {
	mu        sync.Mutex
	nextSlot  uint16
	slots     map[string]*percolator.UserSlot
	registers map[string]int
	events    []tradeEvent
	failOpen  error
	failClose error
}

func newMockTrader() *mockTrader {
	return &mockTrader{
		slots:     make(map[string]*percolator.UserSlot),
		registers: make(map[string]int),
	}
}

func (m *mockTrader) LookupSlot(_ context.Context, _ string, user solana.PublicKey) (*percolator.UserSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[user.Base58()], nil
}

func (m *mockTrader) Register(_ context.Context, user *solana.Keypair, _ string) (*percolator.UserSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := user.PublicKey().Base58()
	m.registers[id]++
	slot := &percolator.UserSlot{Index: m.nextSlot}
	m.nextSlot++
	m.slots[id] = slot
	return slot, nil
}

func (m *mockTrader) Open(_ context.Context, req executor.OpenRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpen != nil {
		return "", m.failOpen
	}
	id := req.User.PublicKey().Base58()
	m.events = append(m.events, tradeEvent{identity: id, action: "open", size: req.SignedSize})
	if slot := m.slots[id]; slot != nil {
		slot.SignedSize = req.SignedSize
		slot.EntryPrice = req.PriceFixed
	}
	return fmt.Sprintf("sig-%d", len(m.events)), nil
}

func (m *mockTrader) Close(_ context.Context, req executor.CloseRequest) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClose != nil {
		return "", 0, m.failClose
	}
	id := req.User.PublicKey().Base58()
	m.events = append(m.events, tradeEvent{identity: id, action: "close", size: req.SignedSize})
	if slot := m.slots[id]; slot != nil {
		slot.SignedSize = i128.Zero
	}
	return fmt.Sprintf("sig-%d", len(m.events)), 0, nil
}

type stubScenarios struct{ sc *domain.Scenario }

func (s *stubScenarios) Active(_ context.Context) *domain.Scenario { return s.sc }

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (s *stubPrices) LastPrices() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

func (s *stubPrices) set(symbol string, p float64) {
	s.mu.Lock()
	s.prices[symbol] = p
	s.mu.Unlock()
}

type noopFlusher struct{}

func (noopFlusher) MaybeFlush(_ context.Context) {}

func newTestScheduler(t *testing.T, agents []*Agent, trader Trader, sc *domain.Scenario) (*Scheduler, *stubPrices, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	prices := &stubPrices{prices: map[string]float64{"SOL": 100.0}}
	s := NewScheduler(Config{}, agents, trader, &stubScenarios{sc: sc}, prices, noopFlusher{}, clk, nil, log.New(io.Discard, "", 0))
	return s, prices, clk
}

// The core lifecycle invariant: a position's signed size transitions
// 0 → nonzero → 0 only. Over a long simulated run no agent may flip
// directly between a long and a short without a close in between.
func TestNoSignFlipWithoutClose(t *testing.T) {
	agents, err := BuildRoster("flip-test", 6, "SOL-PERP", "SOL")
	if err != nil {
		t.Fatal(err)
	}
	trader := newMockTrader()
	s, prices, clk := newTestScheduler(t, agents, trader, nil)

	walk := rand.New(rand.NewSource(21))
	price := 100.0
	for i := 0; i < 1200; i++ {
		price *= 1 + (walk.Float64()-0.5)*0.004
		prices.set("SOL", price)
		s.Tick(context.Background())
		clk.Advance(time.Second)
	}

	perAgent := make(map[string][]tradeEvent)
	for _, ev := range trader.events {
		perAgent[ev.identity] = append(perAgent[ev.identity], ev)
	}
	if len(perAgent) == 0 {
		t.Fatal("no trades executed over the run")
	}

	for id, evs := range perAgent {
		for i, ev := range evs {
			wantAction := "open"
			if i%2 == 1 {
				wantAction = "close"
			}
			if ev.action != wantAction {
				t.Fatalf("%s: event %d is %q, want %q: open/close must strictly alternate", id, i, ev.action, wantAction)
			}
			if ev.size.IsZero() {
				t.Fatalf("%s: event %d has zero size", id, i)
			}
			if ev.action == "close" && ev.size.Cmp(evs[i-1].size) != 0 {
				t.Fatalf("%s: close size %v does not match the opened size %v", id, ev.size, evs[i-1].size)
			}
		}
	}
}

func TestRegistrationHappensOnce(t *testing.T) {
	agents, err := BuildRoster("register-test", 3, "SOL-PERP", "SOL")
	if err != nil {
		t.Fatal(err)
	}
	trader := newMockTrader()
	s, _, clk := newTestScheduler(t, agents, trader, nil)

	for i := 0; i < 60; i++ {
		s.Tick(context.Background())
		clk.Advance(time.Second)
	}

	for _, a := range agents {
		if got := trader.registers[a.Identity()]; got != 1 {
			t.Errorf("%s: registered %d times, want 1", a.DisplayName, got)
		}
		if a.State() != StateActive {
			t.Errorf("%s: state = %v, want active", a.DisplayName, a.State())
		}
	}
}

func TestRecoveryAdoptsSlotAndClosesPromptly(t *testing.T) {
	agents, err := BuildRoster("recovery-test", 1, "SOL-PERP", "SOL")
	if err != nil {
		t.Fatal(err)
	}
	a := agents[0]
	trader := newMockTrader()

	// Pre-existing slot with an open long, as left by a crashed run.
	trader.slots[a.Identity()] = &percolator.UserSlot{
		Index:      7,
		SignedSize: i128.FromInt64(5_000_000),
		EntryPrice: 98_000_000,
		OpenedAtMs: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC).UnixMilli(),
	}

	s, _, clk := newTestScheduler(t, agents, trader, nil)
	s.Tick(context.Background())

	if trader.registers[a.Identity()] != 0 {
		t.Error("recovery must not re-register an existing slot")
	}
	if a.slotIndex != 7 {
		t.Errorf("slotIndex = %d, want 7", a.slotIndex)
	}
	if a.Position() == nil {
		t.Fatal("recovered position missing")
	}
	if a.Position().HoldTarget != RecoveryHold {
		t.Errorf("HoldTarget = %s, want %s", a.Position().HoldTarget, RecoveryHold)
	}

	// The adopted position was opened long ago, so it closes as soon as
	// the agent is due again.
	for i := 0; i < 20 && a.Position() != nil; i++ {
		clk.Advance(time.Second)
		s.Tick(context.Background())
	}
	if a.Position() != nil {
		t.Fatal("recovered position was not closed")
	}
	if len(trader.events) == 0 || trader.events[0].action != "close" {
		t.Fatalf("first ledger action should close the recovered position, events = %v", trader.events)
	}
}

func TestOpenFailureLeavesAgentFlat(t *testing.T) {
	agents, err := BuildRoster("fail-test", 1, "SOL-PERP", "SOL")
	if err != nil {
		t.Fatal(err)
	}
	trader := newMockTrader()
	trader.failOpen = fmt.Errorf("rpc unavailable")
	s, _, clk := newTestScheduler(t, agents, trader, nil)

	for i := 0; i < 30; i++ {
		s.Tick(context.Background())
		clk.Advance(time.Second)
	}
	if agents[0].Position() != nil {
		t.Error("failed open must not leave a phantom position")
	}
}

func TestSqueezeScenarioOpensLong(t *testing.T) {
	agents, err := BuildRoster("squeeze-test", 1, "SOL-PERP", "SOL")
	if err != nil {
		t.Fatal(err)
	}
	a := agents[0]
	a.Strategy = TrendFollower{}
	trader := newMockTrader()

	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sc := &domain.Scenario{
		ID:          "sq",
		Type:        domain.ScenarioShortSqueeze,
		ActivatedAt: start,
		ExpiresAt:   start.Add(time.Hour),
		Status:      domain.ScenarioStatusActive,
	}
	s, prices, clk := newTestScheduler(t, agents, trader, sc)

	// A slow +0.3% rise over a minute: sub-threshold in default mode,
	// decisive under the squeeze.
	price := 100.0
	for i := 0; i < 90; i++ {
		price += 100.0 * 0.00005
		prices.set("SOL", price)
		s.Tick(context.Background())
		clk.Advance(time.Second)
	}

	var firstOpen *tradeEvent
	for i := range trader.events {
		if trader.events[i].action == "open" {
			firstOpen = &trader.events[i]
			break
		}
	}
	if firstOpen == nil {
		t.Fatal("expected an open during the squeeze")
	}
	if firstOpen.size.Sign() <= 0 {
		t.Error("expected a long on a rising price under a short squeeze")
	}
}
