package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// Reconciler confirms that the identifier returned by the signing agent is
// really a transaction sent by the expected sender with the expected nonce.
// Some wallet agents have been observed returning a hash while a materially
// different transaction is what appears on-chain; trusting the returned hash
// directly makes the receipt poller wait forever for a transaction that
// never existed. The (sender, nonce) pair observed in a ledger block is the
// ground truth the hash is checked against.
type Reconciler struct {
	router   *Router
	interval time.Duration
	log      zerolog.Logger
}

// reconcileScanInterval is the default delay between block scans.
const reconcileScanInterval = 2 * time.Second

// NewReconciler creates a reconciler scanning via the router's read channel.
func NewReconciler(router *Router, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		router:   router,
		interval: reconcileScanInterval,
		log:      log,
	}
}

// Reconcile scans recent blocks for a transaction matching pending's
// (sender, nonce) and returns the on-chain hash. If the deadline elapses
// without a match the candidate hash is kept as the best available guess and
// the result is marked degraded rather than failing outright.
func (r *Reconciler) Reconcile(ctx context.Context, pending conduit.PendingTransaction, deadline time.Duration) (conduit.VerifiedTransaction, error) {
	deadlineAt := time.Now().Add(deadline)
	var lastScanned *big.Int

	for {
		block, err := r.router.LatestBlock(ctx)
		if err != nil {
			r.log.Debug().Err(err).Msg("block fetch failed during reconciliation, retrying")
		} else if block != nil {
			number := (*big.Int)(&block.Number)
			if lastScanned == nil || number.Cmp(lastScanned) > 0 {
				if found, ok := matchTransaction(block, pending); ok {
					if found != pending.CandidateHash {
						r.log.Warn().
							Str("candidateHash", pending.CandidateHash.Hex()).
							Str("confirmedHash", found.Hex()).
							Str("sender", pending.Sender.Hex()).
							Uint64("nonce", pending.Nonce).
							Msg("signing agent returned a different hash than the ledger; using on-chain hash")
					}
					return conduit.VerifiedTransaction{
						Sender:        pending.Sender,
						Nonce:         pending.Nonce,
						ConfirmedHash: found,
					}, nil
				}
				lastScanned = number
			}
		}

		if time.Now().After(deadlineAt) {
			break
		}
		if err := wait(ctx, r.interval); err != nil {
			return conduit.VerifiedTransaction{}, err
		}
	}

	// Degraded mode: the candidate hash was never observed on the ledger
	// before the deadline, but it is still the best available guess.
	r.log.Warn().
		Str("candidateHash", pending.CandidateHash.Hex()).
		Str("sender", pending.Sender.Hex()).
		Uint64("nonce", pending.Nonce).
		Msg("reconciliation deadline elapsed, continuing with unverified candidate hash")

	return conduit.VerifiedTransaction{
		Sender:        pending.Sender,
		Nonce:         pending.Nonce,
		ConfirmedHash: pending.CandidateHash,
		Degraded:      true,
	}, nil
}

// matchTransaction finds the block transaction matching pending's
// (sender, nonce).
func matchTransaction(block *Block, pending conduit.PendingTransaction) (common.Hash, bool) {
	for _, tx := range block.Transactions {
		if tx.From == pending.Sender && uint64(tx.Nonce) == pending.Nonce {
			return tx.Hash, true
		}
	}
	return common.Hash{}, false
}
