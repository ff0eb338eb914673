// Package agent implements the simulated trader fleet: per-agent state
// machines, trading strategies, and the scheduler that drives them.
package agent

import (
	"math/rand"
	"time"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/i128"
	"percolator-sim/internal/solana"
)

// State is an agent's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
)

// Position is one held position. HoldTarget is fixed at open time and
// never recomputed while the position is held.
type Position struct {
	SignedSize i128.I128 // base units at 1e6 scale; positive = long
	EntryPrice uint64    // 1e6 fixed point
	OpenedAt   time.Time
	HoldTarget time.Duration
}

// Agent is one simulated trader. All fields are owned by the scheduler
// goroutine; nothing here is safe for concurrent use.
type Agent struct {
	Keypair     *solana.Keypair
	DisplayName string
	Market      string
	Symbol      string
	Strategy    Strategy

	state        State
	slotIndex    uint16
	position     *Position
	window       []domain.PriceSample
	nextActionAt time.Time
	tradeCount   int
	rng          *rand.Rand
}

// Identity returns the agent's base58 public key.
func (a *Agent) Identity() string {
	return a.Keypair.PublicKey().Base58()
}

// Position returns the held position, or nil when flat.
func (a *Agent) Position() *Position { return a.position }

// State returns the lifecycle state.
func (a *Agent) State() State { return a.state }

// TradeCount returns the number of completed open/close actions.
func (a *Agent) TradeCount() int { return a.tradeCount }

// observe appends a price sample and prunes everything older than span.
// Pruning happens before every strategy evaluation.
func (a *Agent) observe(price float64, now time.Time, span time.Duration) {
	a.window = append(a.window, domain.PriceSample{Price: price, TsMs: now.UnixMilli()})
	cutoff := now.Add(-span).UnixMilli()
	i := 0
	for i < len(a.window) && a.window[i].TsMs < cutoff {
		i++
	}
	if i > 0 {
		a.window = append(a.window[:0], a.window[i:]...)
	}
}

// samplesSince returns the window's samples not older than the lookback.
func (a *Agent) samplesSince(now time.Time, lookback time.Duration) []domain.PriceSample {
	cutoff := now.Add(-lookback).UnixMilli()
	for i, s := range a.window {
		if s.TsMs >= cutoff {
			return a.window[i:]
		}
	}
	return nil
}
