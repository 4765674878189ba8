package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// OpClass buckets a transaction by the kind of contract operation it
// performs, derived from the leading 4 bytes of calldata.
type OpClass int

const (
	// OpUnknown is calldata with no known selector. Falls back to the
	// approval gas tier.
	OpUnknown OpClass = iota
	// OpApproval covers token-approval-class operations.
	OpApproval
	// OpDeposit covers fund-moving deposit-class operations.
	OpDeposit
)

// Known 4-byte function selectors.
var opSelectors = map[[4]byte]OpClass{
	{0x09, 0x5e, 0xa7, 0xb3}: OpApproval, // approve(address,uint256)
	{0x39, 0x50, 0x93, 0x51}: OpApproval, // increaseAllowance(address,uint256)
	{0xd0, 0xe3, 0x0d, 0xb0}: OpDeposit,  // deposit()
	{0xa9, 0x05, 0x9c, 0xbb}: OpDeposit,  // transfer(address,uint256)
	{0x23, 0xb8, 0x72, 0xdd}: OpDeposit,  // transferFrom(address,address,uint256)
}

// ClassifyOperation maps calldata to its operation class.
func ClassifyOperation(data []byte) OpClass {
	if len(data) < 4 {
		return OpUnknown
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	return opSelectors[selector]
}

// Conservative fixed gas limits used when both estimate sources fail.
const (
	FallbackGasApproval uint64 = 80_000
	FallbackGasDeposit  uint64 = 200_000
)

// fallbackGas returns the fixed gas tier for an operation class. Unknown
// calldata gets the approval tier.
func fallbackGas(class OpClass) uint64 {
	if class == OpDeposit {
		return FallbackGasDeposit
	}
	return FallbackGasApproval
}

// readEstimateAttempts is how many times the read-channel gas estimate is
// tried before falling back to the wallet channel.
const readEstimateAttempts = 3

// readEstimateBackoff is the delay between read-channel estimate attempts.
const readEstimateBackoff = 250 * time.Millisecond

// Submitter builds, gas-prices and submits a transaction through the signing
// agent. It returns as soon as the agent hands back an identifier; waiting
// for mining is the Poller's job.
type Submitter struct {
	router      *Router
	minGasPrice *big.Int
	log         zerolog.Logger
}

// NewSubmitter creates a submitter. minGasPrice is the floor used when the
// live gas price cannot be fetched; nil uses the package default.
func NewSubmitter(router *Router, minGasPrice *big.Int, log zerolog.Logger) *Submitter {
	if minGasPrice == nil {
		minGasPrice = conduit.DefaultMinGasPrice
	}
	return &Submitter{
		router:      router,
		minGasPrice: minGasPrice,
		log:         log,
	}
}

// Submit resolves the missing intent fields and submits through the signing
// agent. A user decline or an uninitialized agent is terminal and not
// retried.
func (s *Submitter) Submit(ctx context.Context, intent conduit.TransactionIntent) (conduit.PendingTransaction, error) {
	sender, err := s.router.Sender(ctx)
	if err != nil {
		return conduit.PendingTransaction{}, err
	}

	// Nonce from the wallet channel so the source matches the agent's own
	// double-spend validation.
	var nonce uint64
	if intent.Nonce != nil {
		nonce = *intent.Nonce
	} else {
		nonce, err = s.router.PendingNonce(ctx, sender)
		if err != nil {
			return conduit.PendingTransaction{}, err
		}
	}

	gasPrice := intent.GasPrice
	if gasPrice == nil {
		gasPrice = s.resolveGasPrice(ctx)
	}

	gasLimit := intent.GasLimit
	if gasLimit == 0 {
		gasLimit = s.resolveGasLimit(ctx, sender, intent)
	}

	to := intent.To
	args := TransactionArgs{
		From:     sender,
		To:       &to,
		Gas:      (*hexutil.Uint64)(&gasLimit),
		GasPrice: (*hexutil.Big)(gasPrice),
		Nonce:    (*hexutil.Uint64)(&nonce),
		Data:     intent.Data,
	}
	if intent.Value != nil {
		args.Value = (*hexutil.Big)(intent.Value)
	}

	var hash common.Hash
	if err := s.router.CallContext(ctx, &hash, MethodSendTransaction, args); err != nil {
		return conduit.PendingTransaction{}, err
	}

	s.log.Debug().
		Str("sender", sender.Hex()).
		Uint64("nonce", nonce).
		Str("candidateHash", hash.Hex()).
		Msg("transaction submitted")

	return conduit.PendingTransaction{
		Sender:        sender,
		Nonce:         nonce,
		CandidateHash: hash,
		SubmittedAt:   time.Now(),
	}, nil
}

// resolveGasPrice queries the live price from the read channel, falling back
// to the configured minimum. The agent's own cached fee suggestion is never
// the sole source; it can be stale after backgrounding.
func (s *Submitter) resolveGasPrice(ctx context.Context) *big.Int {
	price, err := s.router.GasPrice(ctx)
	if err != nil || price == nil || price.Sign() <= 0 {
		s.log.Warn().Err(err).
			Str("fallbackWei", s.minGasPrice.String()).
			Msg("live gas price unavailable, using configured minimum")
		return new(big.Int).Set(s.minGasPrice)
	}
	if price.Cmp(s.minGasPrice) < 0 {
		return new(big.Int).Set(s.minGasPrice)
	}
	return price
}

// resolveGasLimit tries the read channel first (retried with a short
// backoff), then the wallet channel, then the fixed tier for the operation
// class.
func (s *Submitter) resolveGasLimit(ctx context.Context, sender common.Address, intent conduit.TransactionIntent) uint64 {
	to := intent.To
	msg := CallMsg{
		From: sender,
		To:   &to,
		Data: intent.Data,
	}
	if intent.Value != nil {
		msg.Value = (*hexutil.Big)(intent.Value)
	}

	var lastErr error
	for attempt := 0; attempt < readEstimateAttempts; attempt++ {
		gas, err := s.router.EstimateGas(ctx, msg)
		if err == nil {
			return gas
		}
		lastErr = err
		if attempt == readEstimateAttempts-1 {
			break
		}
		if err := wait(ctx, readEstimateBackoff); err != nil {
			break
		}
	}
	s.log.Warn().Err(lastErr).Msg("read-channel gas estimate failed, trying wallet channel")

	gas, err := s.router.WalletEstimateGas(ctx, msg)
	if err == nil {
		return gas
	}
	lastErr = err

	class := ClassifyOperation(intent.Data)
	fallback := fallbackGas(class)
	s.log.Warn().Err(lastErr).
		Stringer("opClass", class).
		Uint64("fallbackGas", fallback).
		Msg("gas estimation failed on both channels, using fixed tier")
	return fallback
}

// String names the operation class for logs.
func (c OpClass) String() string {
	switch c {
	case OpApproval:
		return "approval"
	case OpDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}

// wait sleeps for d or until ctx is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
