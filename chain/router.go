package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// Router classifies every ledger RPC call as either a signing-agent call or
// a read call and dispatches accordingly. The signing agent becomes unusable
// after certain client lifecycle events (backgrounding, app switching) while
// the read endpoint stays reliable, so confirmation and reconciliation never
// touch the wallet channel.
type Router struct {
	wallet Channel
	read   Channel
	log    zerolog.Logger
}

// NewRouter creates a router over the two channels. wallet may be nil for
// read-only flows; wallet-classified calls then fail fast.
func NewRouter(wallet, read Channel, log zerolog.Logger) *Router {
	return &Router{
		wallet: wallet,
		read:   read,
		log:    log,
	}
}

// CallContext dispatches method to the wallet or read channel. Wallet-channel
// errors surface verbatim: falling back to the read channel for a
// wallet-classified method would produce validation mismatches, so there is
// no silent fallback.
func (r *Router) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if IsWalletMethod(method) {
		if r.wallet == nil {
			return conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "wallet channel not configured for "+method)
		}
		return r.wallet.CallContext(ctx, result, method, args...)
	}
	return r.read.CallContext(ctx, result, method, args...)
}

// Sender resolves the signing agent's address.
func (r *Router) Sender(ctx context.Context) (common.Address, error) {
	var accounts []common.Address
	if err := r.CallContext(ctx, &accounts, MethodAccounts); err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "signing agent returned no accounts")
	}
	return accounts[0], nil
}

// PendingNonce fetches the sender's pending nonce. Classified to the wallet
// channel so the nonce source matches the agent's validation source.
func (r *Router) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := r.CallContext(ctx, &nonce, MethodPendingNonce, addr, "pending"); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

// GasPrice queries the live gas price from the read channel.
func (r *Router) GasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := r.CallContext(ctx, &price, MethodGasPrice); err != nil {
		return nil, err
	}
	return (*big.Int)(&price), nil
}

// EstimateGas estimates gas for msg through the read channel.
func (r *Router) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var gas hexutil.Uint64
	if err := r.CallContext(ctx, &gas, MethodEstimateGas, msg); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// WalletEstimateGas asks the signing agent for a gas estimate. Secondary
// source only; the read channel's estimate is preferred.
func (r *Router) WalletEstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	if r.wallet == nil {
		return 0, conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "wallet channel not configured")
	}
	var gas hexutil.Uint64
	if err := r.wallet.CallContext(ctx, &gas, MethodEstimateGas, msg); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// ChainID returns the chain id from the read channel.
func (r *Router) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := r.CallContext(ctx, &id, MethodChainID); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

// BlockTransaction is the slice of a block transaction the reconciler needs.
type BlockTransaction struct {
	Hash  common.Hash    `json:"hash"`
	From  common.Address `json:"from"`
	Nonce hexutil.Uint64 `json:"nonce"`
}

// Block is a block with full transaction objects.
type Block struct {
	Number       hexutil.Big        `json:"number"`
	Hash         common.Hash        `json:"hash"`
	Transactions []BlockTransaction `json:"transactions"`
}

// LatestBlock fetches the newest block with full transactions from the read
// channel. Returns nil when the endpoint reports no block.
func (r *Router) LatestBlock(ctx context.Context) (*Block, error) {
	var block *Block
	if err := r.CallContext(ctx, &block, MethodGetBlockByNumber, "latest", true); err != nil {
		return nil, err
	}
	return block, nil
}

// RPCReceipt is the receipt shape returned by the read endpoint.
type RPCReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     hexutil.Big    `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}

// TransactionReceipt fetches the receipt for hash from the read channel.
// Returns nil without error while the transaction is unmined.
func (r *Router) TransactionReceipt(ctx context.Context, hash common.Hash) (*RPCReceipt, error) {
	var receipt *RPCReceipt
	if err := r.CallContext(ctx, &receipt, MethodTransactionReceipt, hash); err != nil {
		return nil, err
	}
	return receipt, nil
}
