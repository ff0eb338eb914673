package executor

import (
	"context"
	"fmt"

	"percolator-sim/internal/percolator"
	"percolator-sim/internal/solana"
)

// PushPrice publishes a 1e6 fixed-point reference price for the market.
// Submission is fire-and-forget: the next tick supersedes this price, so
// a lost push costs nothing worth waiting on.
func (e *Executor) PushPrice(ctx context.Context, market string, priceFixed uint64) error {
	m, err := e.market(market)
	if err != nil {
		return err
	}
	return e.sendUnconfirmed(ctx, e.program.PushReferencePrice(m, e.counterparty.PublicKey(), priceFixed))
}

// Crank advances the market's time-dependent state.
func (e *Executor) Crank(ctx context.Context, market string) error {
	m, err := e.market(market)
	if err != nil {
		return err
	}
	return e.sendUnconfirmed(ctx, e.program.Crank(m, e.counterparty.PublicKey()))
}

// sendUnconfirmed signs with the counterparty key and submits without
// waiting for a confirmation.
func (e *Executor) sendUnconfirmed(ctx context.Context, ix solana.Instruction) error {
	bh, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("get blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(e.counterparty.PublicKey(), bh.Hash, ix)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}
	if err := tx.Sign(e.counterparty); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	wire, err := tx.Serialize()
	if err != nil {
		return fmt.Errorf("serialize transaction: %w", err)
	}
	if _, err := e.rpc.SendTransaction(ctx, wire); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	return nil
}

// LookupSlot fetches and decodes the user's slot account on the market.
// Returns (nil, nil) when the account does not exist, meaning the
// identity was never registered.
func (e *Executor) LookupSlot(ctx context.Context, market string, user solana.PublicKey) (*percolator.UserSlot, error) {
	m, err := e.market(market)
	if err != nil {
		return nil, err
	}
	addr := e.program.DeriveUserSlotAddress(m, user)
	info, err := e.rpc.GetAccountInfo(ctx, addr.Base58())
	if err != nil {
		return nil, fmt.Errorf("get slot account: %w", err)
	}
	if info == nil {
		return nil, nil
	}
	slot, err := percolator.ParseUserSlot(info.Data)
	if err != nil {
		return nil, fmt.Errorf("parse slot account: %w", err)
	}
	return slot, nil
}

// Register creates and funds the user's slot on the market, then reads
// it back to learn the assigned index.
func (e *Executor) Register(ctx context.Context, user *solana.Keypair, market string) (*percolator.UserSlot, error) {
	m, err := e.market(market)
	if err != nil {
		return nil, err
	}

	pub := user.PublicKey()
	_, err = e.execute(ctx, func(blockhash string) (*solana.Transaction, error) {
		return solana.NewTransaction(e.counterparty.PublicKey(), blockhash,
			e.program.RegisterIdentity(m, pub),
			e.program.DepositCollateral(m, pub, e.cfg.DepositAmount))
	}, user, e.counterparty)
	if err != nil {
		return nil, fmt.Errorf("register %s on %s: %w", pub, market, err)
	}

	slot, err := e.LookupSlot(ctx, market, pub)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("slot account for %s missing after registration", pub)
	}
	return slot, nil
}
