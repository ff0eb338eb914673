package executor

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/i128"
	"percolator-sim/internal/percolator"
	"percolator-sim/internal/solana"
	"percolator-sim/internal/storage/memory"
)

func testKeypair(t *testing.T, tag string) *solana.Keypair {
	t.Helper()
	seed := sha256.Sum256([]byte(tag))
	kp, err := solana.KeypairFromSeed(seed[:])
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func testPubkey(t *testing.T, tag string) solana.PublicKey {
	t.Helper()
	return testKeypair(t, tag).PublicKey()
}

// scriptedRPC drives the executor through a fixed sequence of statuses.
type scriptedRPC struct {
	mu sync.Mutex

	sends       int
	sigs        []string // returned per send, in order
	blockHeight uint64
	lastValid   uint64

	// statusScript is consumed one entry per GetSignatureStatuses call;
	// when exhausted, the last entry repeats.
	statusScript []*solana.SignatureStatus
	statusCalls  int
}

func (m *scriptedRPC) GetLatestBlockhash(_ context.Context) (solana.Blockhash, error) {
	return solana.Blockhash{Hash: "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", LastValidBlockHeight: m.lastValid}, nil
}

func (m *scriptedRPC) GetBlockHeight(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockHeight, nil
}

func (m *scriptedRPC) SendTransaction(_ context.Context, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := m.sigs[m.sends]
	m.sends++
	return sig, nil
}

func (m *scriptedRPC) GetSignatureStatuses(_ context.Context, _ []string) ([]*solana.SignatureStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.statusCalls
	if i >= len(m.statusScript) {
		i = len(m.statusScript) - 1
	}
	m.statusCalls++
	return []*solana.SignatureStatus{m.statusScript[i]}, nil
}

func (m *scriptedRPC) GetAccountInfo(_ context.Context, _ string) (*solana.AccountInfo, error) {
	return nil, nil
}

func (m *scriptedRPC) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

type capturedDeltas struct {
	mu     sync.Mutex
	deltas []domain.LeaderboardDelta
}

func (c *capturedDeltas) Add(d domain.LeaderboardDelta) {
	c.mu.Lock()
	c.deltas = append(c.deltas, d)
	c.mu.Unlock()
}

func testMarket(t *testing.T) percolator.Market {
	t.Helper()
	return percolator.Market{
		Name:         "SOL-PERP",
		Symbol:       "SOL",
		StateAccount: testPubkey(t, "state"),
		VaultAccount: testPubkey(t, "vault"),
	}
}

func newTestExecutor(t *testing.T, rpc RPC) (*Executor, *capturedDeltas, *memory.TradeLogStore) {
	t.Helper()
	deltas := &capturedDeltas{}
	tradeLog := memory.NewTradeLogStore()
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	program := &percolator.Program{ID: testPubkey(t, "program")}
	e := New(Config{ConfirmTimeout: time.Minute}, rpc, nil, program,
		[]percolator.Market{testMarket(t)}, testKeypair(t, "counterparty"),
		tradeLog, deltas, clk, nil, log.New(io.Discard, "", 0))
	return e, deltas, tradeLog
}

func confirmedStatus() *solana.SignatureStatus {
	return &solana.SignatureStatus{ConfirmationStatus: "confirmed"}
}

func TestOpenConfirmsByPolling(t *testing.T) {
	rpc := &scriptedRPC{
		sigs:         []string{"sig-1"},
		lastValid:    100,
		blockHeight:  50,
		statusScript: []*solana.SignatureStatus{nil, confirmedStatus()},
	}
	e, _, tradeLog := newTestExecutor(t, rpc)

	sig, err := e.Open(context.Background(), OpenRequest{
		User:        testKeypair(t, "agent"),
		DisplayName: "Agent",
		Market:      "SOL-PERP",
		SlotIndex:   3,
		SignedSize:  i128.FromInt64(2_000_000),
		PriceFixed:  100_000_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig-1" {
		t.Errorf("sig = %q", sig)
	}
	if rpc.sendCount() != 1 {
		t.Errorf("sends = %d, want 1", rpc.sendCount())
	}

	entries, err := tradeLog.GetByIdentity(context.Background(), testPubkey(t, "agent").Base58(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != domain.TradeActionOpen || entries[0].Side != domain.TradeSideLong {
		t.Errorf("trade log entries = %+v", entries)
	}
}

// The idempotency property: a transaction reported expired locally but
// actually landed must not be submitted a second time.
func TestExpiredButLandedDoesNotResubmit(t *testing.T) {
	rpc := &scriptedRPC{
		sigs:        []string{"sig-1", "sig-UNEXPECTED"},
		lastValid:   100,
		blockHeight: 101, // already past the validity window
		statusScript: []*solana.SignatureStatus{
			nil,               // poll: unknown → expiry verdict
			confirmedStatus(), // idempotency re-check: it landed
		},
	}
	e, deltas, _ := newTestExecutor(t, rpc)

	sig, pnl, err := e.Close(context.Background(), CloseRequest{
		User:        testKeypair(t, "agent"),
		DisplayName: "Agent",
		Market:      "SOL-PERP",
		SlotIndex:   3,
		SignedSize:  i128.FromInt64(2_000_000),
		EntryPrice:  100_000_000,
		ExitPrice:   110_000_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig-1" {
		t.Errorf("sig = %q, want the original submission", sig)
	}
	if rpc.sendCount() != 1 {
		t.Fatalf("sends = %d: expired-but-landed must not produce a second trade", rpc.sendCount())
	}
	if pnl != 20_000_000 {
		t.Errorf("pnl = %d, want 20000000", pnl)
	}

	deltas.mu.Lock()
	defer deltas.mu.Unlock()
	if len(deltas.deltas) != 1 || !deltas.deltas[0].IsWin {
		t.Errorf("deltas = %+v", deltas.deltas)
	}
}

func TestExpiredAndNotLandedResubmitsOnce(t *testing.T) {
	rpc := &scriptedRPC{
		sigs:        []string{"sig-1", "sig-2"},
		lastValid:   100,
		blockHeight: 101,
		statusScript: []*solana.SignatureStatus{
			nil,               // poll for sig-1: unknown → expired
			nil,               // idempotency re-check: definitively not landed
			confirmedStatus(), // poll for sig-2: confirmed
		},
	}
	e, _, _ := newTestExecutor(t, rpc)

	sig, err := e.Open(context.Background(), OpenRequest{
		User:       testKeypair(t, "agent"),
		Market:     "SOL-PERP",
		SignedSize: i128.FromInt64(-1_000_000),
		PriceFixed: 100_000_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig-2" {
		t.Errorf("sig = %q, want the resubmission", sig)
	}
	if rpc.sendCount() != 2 {
		t.Errorf("sends = %d, want exactly 2", rpc.sendCount())
	}
}

func TestSecondExpiryFailsWithoutThirdSubmit(t *testing.T) {
	rpc := &scriptedRPC{
		sigs:         []string{"sig-1", "sig-2", "sig-UNEXPECTED"},
		lastValid:    100,
		blockHeight:  101,
		statusScript: []*solana.SignatureStatus{nil}, // never lands
	}
	e, _, _ := newTestExecutor(t, rpc)

	_, err := e.Open(context.Background(), OpenRequest{
		User:       testKeypair(t, "agent"),
		Market:     "SOL-PERP",
		SignedSize: i128.FromInt64(1_000_000),
		PriceFixed: 100_000_000,
	})
	if err == nil {
		t.Fatal("expected failure after second expiry")
	}
	if rpc.sendCount() != 2 {
		t.Errorf("sends = %d, want exactly 2", rpc.sendCount())
	}
}

// stalledConfirmer simulates a subscription that never produces a
// verdict: it blocks until its context lapses.
type stalledConfirmer struct{}

func (stalledConfirmer) WaitForSignature(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func newStalledConfirmerExecutor(t *testing.T, rpc RPC) *Executor {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	program := &percolator.Program{ID: testPubkey(t, "program")}
	return New(Config{ConfirmTimeout: 50 * time.Millisecond, PollInterval: time.Millisecond},
		rpc, stalledConfirmer{}, program,
		[]percolator.Market{testMarket(t)}, testKeypair(t, "counterparty"),
		memory.NewTradeLogStore(), &capturedDeltas{}, clk, nil, log.New(io.Discard, "", 0))
}

// A subscription that goes silent for the whole confirmation window must
// not exhaust the poll fallback's budget with it.
func TestStalledSubscriptionStillConfirmsByPolling(t *testing.T) {
	rpc := &scriptedRPC{
		sigs:         []string{"sig-1"},
		lastValid:    100,
		blockHeight:  50,
		statusScript: []*solana.SignatureStatus{nil, confirmedStatus()},
	}
	e := newStalledConfirmerExecutor(t, rpc)

	sig, err := e.Open(context.Background(), OpenRequest{
		User:       testKeypair(t, "agent"),
		Market:     "SOL-PERP",
		SignedSize: i128.FromInt64(1_000_000),
		PriceFixed: 100_000_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig-1" {
		t.Errorf("sig = %q", sig)
	}
	if rpc.sendCount() != 1 {
		t.Errorf("sends = %d, want 1", rpc.sendCount())
	}
}

// When both the subscription and the poll window lapse without any
// verdict, the signature must be re-checked before a resubmit; a plain
// timeout error would skip that and risk a duplicate position.
func TestConfirmWindowLapseChecksSignatureBeforeResubmit(t *testing.T) {
	rpc := &scriptedRPC{
		sigs:         []string{"sig-1", "sig-2"},
		lastValid:    100,
		blockHeight:  50, // blockhash stays valid the whole time
		statusScript: []*solana.SignatureStatus{nil},
	}
	e := newStalledConfirmerExecutor(t, rpc)

	_, err := e.Open(context.Background(), OpenRequest{
		User:       testKeypair(t, "agent"),
		Market:     "SOL-PERP",
		SignedSize: i128.FromInt64(1_000_000),
		PriceFixed: 100_000_000,
	})
	if err == nil {
		t.Fatal("expected failure when nothing ever confirms")
	}
	if !errors.Is(err, solana.ErrTxExpired) {
		t.Errorf("err = %v, want a window-lapse expiry", err)
	}
	if rpc.sendCount() != 2 {
		t.Errorf("sends = %d, want exactly one resubmit after the re-check", rpc.sendCount())
	}
}

func TestRealizedPnl(t *testing.T) {
	tests := []struct {
		name         string
		size         int64
		entry, exit  uint64
		wantPnl      int64
		wantNotional int64
	}{
		{"long win", 2_000_000, 100_000_000, 110_000_000, 20_000_000, 200_000_000},
		{"long loss", 2_000_000, 100_000_000, 95_000_000, -10_000_000, 200_000_000},
		{"short win", -2_000_000, 100_000_000, 95_000_000, 10_000_000, 200_000_000},
		{"short loss", -2_000_000, 100_000_000, 110_000_000, -20_000_000, 200_000_000},
		{"flat price", 2_000_000, 100_000_000, 100_000_000, 0, 200_000_000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pnl, notional, err := realizedPnl(i128.FromInt64(tc.size), tc.entry, tc.exit)
			if err != nil {
				t.Fatal(err)
			}
			if pnl != tc.wantPnl {
				t.Errorf("pnl = %d, want %d", pnl, tc.wantPnl)
			}
			if notional != tc.wantNotional {
				t.Errorf("notional = %d, want %d", notional, tc.wantNotional)
			}
		})
	}
}
