package executor

import (
	"context"
	"errors"
	"fmt"

	"percolator-sim/internal/solana"
)

// execute runs the build → sign → submit → confirm pipeline with the
// expiry policy: when the blockhash window lapses, re-check whether the
// original submission landed before rebuilding, and resubmit at most
// once.
func (e *Executor) execute(ctx context.Context, build func(blockhash string) (*solana.Transaction, error), signers ...*solana.Keypair) (string, error) {
	sig, _, err := e.submitOnce(ctx, build, signers)
	if err == nil {
		return sig, nil
	}
	if !errors.Is(err, solana.ErrTxExpired) {
		return "", err
	}

	if e.metrics != nil {
		e.metrics.TxExpiries.Inc()
	}

	// Idempotency check: an expiry verdict only means we never saw the
	// confirmation. The transaction may well have landed.
	landed, landErr := e.signatureLanded(ctx, sig)
	if landErr != nil {
		return "", fmt.Errorf("post-expiry status check for %s: %w", sig, landErr)
	}
	if landed {
		e.logger.Printf("tx %s reported expired but landed, not resubmitting", sig)
		return sig, nil
	}

	e.logger.Printf("tx %s expired without landing, resubmitting once", sig)
	if e.metrics != nil {
		e.metrics.TxResubmits.Inc()
	}
	sig, _, err = e.submitOnce(ctx, build, signers)
	if err != nil {
		return "", fmt.Errorf("resubmit: %w", err)
	}
	return sig, nil
}

// submitOnce builds against a fresh blockhash, submits, and waits for
// confirmation.
func (e *Executor) submitOnce(ctx context.Context, build func(blockhash string) (*solana.Transaction, error), signers []*solana.Keypair) (string, uint64, error) {
	bh, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := build(bh.Hash)
	if err != nil {
		return "", 0, fmt.Errorf("build transaction: %w", err)
	}
	if err := tx.Sign(signers...); err != nil {
		return "", 0, fmt.Errorf("sign transaction: %w", err)
	}
	wire, err := tx.Serialize()
	if err != nil {
		return "", 0, fmt.Errorf("serialize transaction: %w", err)
	}

	sig, err := e.rpc.SendTransaction(ctx, wire)
	if err != nil {
		return "", 0, fmt.Errorf("send transaction: %w", err)
	}

	if err := e.confirm(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, bh.LastValidBlockHeight, err
	}
	return sig, bh.LastValidBlockHeight, nil
}

// confirm waits for the signature via WebSocket, falling back to status
// polling when the subscription path is unavailable. The fallback gets
// its own full confirmation window; a silent subscription must not eat
// the poll budget.
func (e *Executor) confirm(ctx context.Context, sig string, lastValidHeight uint64) error {
	if e.confirmer != nil {
		wsCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		err := e.confirmer.WaitForSignature(wsCtx, sig)
		cancel()
		switch {
		case err == nil:
			if e.metrics != nil {
				e.metrics.TxConfirmations.WithLabelValues("ws").Inc()
			}
			return nil
		case errors.Is(err, solana.ErrTxFailed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		// Connection drop or subscription timeout: fall through to polling.
	}

	pollCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	err := e.pollStatus(pollCtx, sig, lastValidHeight)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The window lapsed without a verdict. The transaction may still
		// have landed: report expiry so the caller re-checks the signature
		// before considering a resubmit.
		return solana.ErrTxExpired
	}
	return err
}

// pollStatus polls getSignatureStatuses until the signature confirms,
// fails, or its blockhash validity window lapses.
func (e *Executor) pollStatus(ctx context.Context, sig string, lastValidHeight uint64) error {
	for {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{sig})
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", solana.ErrTxFailed, st.Err)
			}
			if st.Confirmed() {
				if e.metrics != nil {
					e.metrics.TxConfirmations.WithLabelValues("poll").Inc()
				}
				return nil
			}
		} else if err != nil {
			e.logger.Printf("status poll for %s failed: %v", sig, err)
		}

		height, err := e.rpc.GetBlockHeight(ctx)
		if err == nil && height > lastValidHeight {
			return solana.ErrTxExpired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.clk.Sleep(e.cfg.PollInterval)
	}
}

// signatureLanded reports whether sig confirmed successfully on-chain.
func (e *Executor) signatureLanded(ctx context.Context, sig string) (bool, error) {
	statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{sig})
	if err != nil {
		return false, err
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return false, nil
	}
	return statuses[0].Err == nil && statuses[0].Confirmed(), nil
}
