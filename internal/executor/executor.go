// Package executor builds, signs, submits and confirms ledger
// transactions for the simulator: agent trades, registration, price
// pushes and cranks. It owns the retry and idempotency logic around
// blockhash expiry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"percolator-sim/internal/clock"
	"percolator-sim/internal/domain"
	"percolator-sim/internal/i128"
	"percolator-sim/internal/observability"
	"percolator-sim/internal/percolator"
	"percolator-sim/internal/solana"
	"percolator-sim/internal/storage"
)

// Default configuration values.
const (
	DefaultConfirmTimeout = 30 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultDepositAmount  = 10_000_000_000 // 10,000 USD at 1e6 scale
)

// RPC is the ledger RPC surface the executor needs.
type RPC interface {
	GetLatestBlockhash(ctx context.Context) (solana.Blockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, signedTx []byte) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*solana.SignatureStatus, error)
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

// Confirmer waits for one signature to reach confirmed commitment. A
// failure means the caller should fall back to status polling.
type Confirmer interface {
	WaitForSignature(ctx context.Context, signature string) error
}

// DeltaSink receives leaderboard deltas from closed positions.
type DeltaSink interface {
	Add(d domain.LeaderboardDelta)
}

// Config holds executor parameters. Zero values take defaults.
type Config struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	DepositAmount  uint64 // collateral funded at registration, 1e6 USD
}

func (c *Config) applyDefaults() {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DepositAmount == 0 {
		c.DepositAmount = DefaultDepositAmount
	}
}

// Executor is the ledger transaction pipeline. The counterparty keypair
// is the shared liquidity-provider signer for every trade, the fee payer
// for every transaction, and the push/crank authority.
type Executor struct {
	cfg          Config
	rpc          RPC
	confirmer    Confirmer // nil means poll-only confirmation
	program      *percolator.Program
	markets      map[string]percolator.Market
	counterparty *solana.Keypair
	tradeLog     storage.TradeLogStore
	deltas       DeltaSink
	clk          clock.Clock
	metrics      *observability.Metrics
	logger       *log.Logger
}

// New creates an executor over the given markets.
func New(cfg Config, rpc RPC, confirmer Confirmer, program *percolator.Program, markets []percolator.Market, counterparty *solana.Keypair, tradeLog storage.TradeLogStore, deltas DeltaSink, clk clock.Clock, metrics *observability.Metrics, logger *log.Logger) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[executor] ", log.LstdFlags)
	}
	byName := make(map[string]percolator.Market, len(markets))
	for _, m := range markets {
		byName[m.Name] = m
	}
	return &Executor{
		cfg:          cfg,
		rpc:          rpc,
		confirmer:    confirmer,
		program:      program,
		markets:      byName,
		counterparty: counterparty,
		tradeLog:     tradeLog,
		deltas:       deltas,
		clk:          clk,
		metrics:      metrics,
		logger:       logger,
	}
}

func (e *Executor) market(name string) (percolator.Market, error) {
	m, ok := e.markets[name]
	if !ok {
		return percolator.Market{}, fmt.Errorf("unknown market %q", name)
	}
	return m, nil
}

// OpenRequest opens a position of SignedSize base units.
type OpenRequest struct {
	User        *solana.Keypair
	DisplayName string
	Market      string
	SlotIndex   uint16
	SignedSize  i128.I128
	PriceFixed  uint64 // current adjusted price, recorded in the trade log
}

// CloseRequest closes the position described by SignedSize/EntryPrice.
type CloseRequest struct {
	User        *solana.Keypair
	DisplayName string
	Market      string
	SlotIndex   uint16
	SignedSize  i128.I128 // held position, as opened
	EntryPrice  uint64
	ExitPrice   uint64 // current adjusted price
}

// Open executes the opening trade and returns the transaction signature.
func (e *Executor) Open(ctx context.Context, req OpenRequest) (string, error) {
	m, err := e.market(req.Market)
	if err != nil {
		return "", err
	}
	if req.SignedSize.IsZero() {
		return "", fmt.Errorf("open with zero size")
	}

	user := req.User.PublicKey()
	sig, err := e.execute(ctx, func(blockhash string) (*solana.Transaction, error) {
		return solana.NewTransaction(e.counterparty.PublicKey(), blockhash,
			e.program.ExecuteTrade(m, user, e.counterparty.PublicKey(), req.SlotIndex, req.SignedSize))
	}, req.User, e.counterparty)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TradeFailures.Inc()
		}
		return "", fmt.Errorf("open %s for %s: %w", req.Market, user, err)
	}

	if e.metrics != nil {
		e.metrics.TradesExecuted.WithLabelValues("open").Inc()
	}
	e.appendTradeLog(ctx, sig, req.User, req.DisplayName, req.Market, domain.TradeActionOpen, req.SignedSize, req.PriceFixed, 0)
	return sig, nil
}

// Close executes the closing trade and returns the signature and the
// realized PnL at 1e6 fixed-point USD.
func (e *Executor) Close(ctx context.Context, req CloseRequest) (string, int64, error) {
	m, err := e.market(req.Market)
	if err != nil {
		return "", 0, err
	}

	closeSize, err := req.SignedSize.Neg()
	if err != nil {
		return "", 0, fmt.Errorf("close size: %w", err)
	}

	user := req.User.PublicKey()
	sig, err := e.execute(ctx, func(blockhash string) (*solana.Transaction, error) {
		return solana.NewTransaction(e.counterparty.PublicKey(), blockhash,
			e.program.ExecuteTrade(m, user, e.counterparty.PublicKey(), req.SlotIndex, closeSize))
	}, req.User, e.counterparty)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TradeFailures.Inc()
		}
		return "", 0, fmt.Errorf("close %s for %s: %w", req.Market, user, err)
	}

	pnl, notional, err := realizedPnl(req.SignedSize, req.EntryPrice, req.ExitPrice)
	if err != nil {
		// The trade landed; a PnL overflow only degrades bookkeeping.
		e.logger.Printf("pnl computation for %s failed: %v", user, err)
	} else if e.deltas != nil {
		e.deltas.Add(domain.LeaderboardDelta{
			Identity:       user.Base58(),
			DisplayName:    req.DisplayName,
			PnlDelta:       pnl,
			DepositedDelta: notional,
			IsWin:          pnl > 0,
		})
	}

	if e.metrics != nil {
		e.metrics.TradesExecuted.WithLabelValues("close").Inc()
	}
	e.appendTradeLog(ctx, sig, req.User, req.DisplayName, req.Market, domain.TradeActionClose, req.SignedSize, req.ExitPrice, pnl)
	return sig, pnl, nil
}

// realizedPnl computes PnL and traded notional at 1e6 fixed point.
// pnl = size × (exit − entry) / 1e6, notional = |size| × entry / 1e6.
func realizedPnl(signedSize i128.I128, entry, exit uint64) (pnl, notional int64, err error) {
	delta := int64(exit) - int64(entry)
	p, err := signedSize.Mul64(delta)
	if err != nil {
		return 0, 0, err
	}
	p, err = p.Div64(domain.PriceScale)
	if err != nil {
		return 0, 0, err
	}
	pnl, err = p.Int64()
	if err != nil {
		return 0, 0, err
	}

	size := signedSize
	if size.Sign() < 0 {
		if size, err = size.Neg(); err != nil {
			return 0, 0, err
		}
	}
	n, err := size.Mul64(int64(entry))
	if err != nil {
		return 0, 0, err
	}
	n, err = n.Div64(domain.PriceScale)
	if err != nil {
		return 0, 0, err
	}
	notional, err = n.Int64()
	if err != nil {
		return 0, 0, err
	}
	return pnl, notional, nil
}

func (e *Executor) appendTradeLog(ctx context.Context, sig string, user *solana.Keypair, displayName, market, action string, signedSize i128.I128, price uint64, pnl int64) {
	if e.tradeLog == nil {
		return
	}
	side := domain.TradeSideLong
	if signedSize.Sign() < 0 {
		side = domain.TradeSideShort
	}
	sizeBase, err := signedSize.Int64()
	if err != nil {
		e.logger.Printf("trade log size narrowing failed: %v", err)
		return
	}
	entry := &domain.TradeLogEntry{
		TxSignature: sig,
		Identity:    user.PublicKey().Base58(),
		DisplayName: displayName,
		Market:      market,
		Action:      action,
		Side:        side,
		SizeBase:    sizeBase,
		PriceFixed:  price,
		PnlFixed:    pnl,
		TimestampMs: e.clk.Now().UnixMilli(),
	}
	if err := e.tradeLog.Insert(ctx, entry); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		e.logger.Printf("trade log insert failed: %v", err)
	}
}
