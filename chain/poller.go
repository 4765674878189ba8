package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// Poller waits for a transaction's receipt through the read channel. It never
// touches the wallet channel, so confirmation succeeds even when the signing
// agent is currently unusable (for example after the user switched away from
// the host application).
type Poller struct {
	router   *Router
	interval time.Duration
	log      zerolog.Logger
}

// NewPoller creates a poller with the given polling interval. Non-positive
// intervals use the package default.
func NewPoller(router *Router, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = conduit.DefaultReceiptPollInterval
	}
	return &Poller{
		router:   router,
		interval: interval,
		log:      log,
	}
}

// WaitForReceipt polls until the transaction is mined or failed, or the
// timeout elapses. A mined-but-reverted transaction returns a Receipt with
// ReceiptStatusFailed and no error; the status is authoritative for the
// caller's business logic. Timeout returns a distinguishable timeout error so
// callers can keep polling externally or surface a pending state.
func (p *Poller) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (conduit.Receipt, error) {
	deadlineAt := time.Now().Add(timeout)
	attempt := 0

	for {
		attempt++
		receipt, err := p.router.TransactionReceipt(ctx, hash)
		if err != nil {
			// Transient: absorbed within the deadline.
			p.log.Debug().Err(err).Int("attempt", attempt).Msg("receipt query failed, retrying")
		} else if receipt != nil {
			status := conduit.ReceiptStatusFailed
			if uint64(receipt.Status) == 1 {
				status = conduit.ReceiptStatusSuccess
			}
			p.log.Debug().
				Str("hash", hash.Hex()).
				Uint64("status", uint64(receipt.Status)).
				Int("attempts", attempt).
				Msg("receipt found")
			return conduit.Receipt{
				BlockNumber: new(big.Int).Set((*big.Int)(&receipt.BlockNumber)),
				Status:      status,
				Hash:        receipt.TransactionHash,
			}, nil
		}

		if time.Now().After(deadlineAt) {
			return conduit.Receipt{}, conduit.NewTimeout(conduit.ErrCodeReceiptTimeout,
				"no receipt for "+hash.Hex()+" within "+timeout.String())
		}
		if err := wait(ctx, p.interval); err != nil {
			return conduit.Receipt{}, err
		}
	}
}
