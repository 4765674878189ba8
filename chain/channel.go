// Package chain moves transactions to the ledger and watches them land: a
// dual-channel RPC router, a transaction submitter, an identity reconciler
// for the hash returned by the signing agent, and a receipt poller.
package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// Channel is one side of the dual-channel split. go-ethereum's *rpc.Client
// satisfies it directly, so the read channel is a plain RPC client.
type Channel interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// JSON-RPC methods used by this subsystem.
const (
	MethodSendTransaction    = "eth_sendTransaction"
	MethodSignTransaction    = "eth_signTransaction"
	MethodSendRawTransaction = "eth_sendRawTransaction"
	MethodPendingNonce       = "eth_getTransactionCount"
	MethodAccounts           = "eth_accounts"
	MethodRequestAccounts    = "eth_requestAccounts"
	MethodPersonalSign       = "personal_sign"
	MethodSignTypedData      = "eth_signTypedData_v4"
	MethodChainID            = "eth_chainId"
	MethodGasPrice           = "eth_gasPrice"
	MethodEstimateGas        = "eth_estimateGas"
	MethodGetBlockByNumber   = "eth_getBlockByNumber"
	MethodTransactionByHash  = "eth_getTransactionByHash"
	MethodTransactionReceipt = "eth_getTransactionReceipt"
	MethodBalance            = "eth_getBalance"
)

// walletMethods are the operations that must go through the user's signing
// agent. The pending-nonce query is here even though it looks like a read:
// the nonce has to originate from the same source that later validates the
// transaction against double-spend, or the ledger rejects it with an invalid
// nonce error.
var walletMethods = map[string]bool{
	MethodSendTransaction:    true,
	MethodSignTransaction:    true,
	MethodSendRawTransaction: true,
	MethodPendingNonce:       true,
	MethodAccounts:           true,
	MethodRequestAccounts:    true,
	MethodPersonalSign:       true,
	MethodSignTypedData:      true,
}

// IsWalletMethod reports whether method is classified to the wallet channel.
func IsWalletMethod(method string) bool {
	return walletMethods[method]
}

// TransactionArgs is the eth_sendTransaction parameter object.
type TransactionArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

// CallMsg is the eth_estimateGas / eth_call parameter object.
type CallMsg struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// SigningAgent is the narrow interface to the component holding the user's
// key material. One adapter per concrete wallet integration satisfies it,
// selected once at session start.
type SigningAgent interface {
	// Address resolves the sender address.
	Address(ctx context.Context) (common.Address, error)

	// PendingNonce returns the agent's view of the sender's next nonce.
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)

	// EstimateGas is the agent-side gas estimate, used as the secondary
	// source when the read channel's estimate fails.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SubmitTransaction signs and submits, returning the transaction
	// identifier synchronously without waiting for mining.
	SubmitTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error)

	// PersonalSign signs an EIP-191 personal message.
	PersonalSign(ctx context.Context, data []byte) ([]byte, error)
}

// AgentChannel adapts a SigningAgent to the Channel interface so the router
// can dispatch wallet-classified JSON-RPC methods to it. Signing operations
// are serialized: most agents reject overlapping signature requests.
type AgentChannel struct {
	agent SigningAgent
	mu    sync.Mutex
}

// NewAgentChannel wraps agent for use as the router's wallet channel.
func NewAgentChannel(agent SigningAgent) *AgentChannel {
	return &AgentChannel{agent: agent}
}

// CallContext dispatches a wallet-classified method to the agent.
func (c *AgentChannel) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.agent == nil {
		return conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "signing agent not initialized")
	}

	switch method {
	case MethodAccounts, MethodRequestAccounts:
		addr, err := c.agent.Address(ctx)
		if err != nil {
			return err
		}
		return assign(result, []common.Address{addr})

	case MethodPendingNonce:
		addr, ok := args[0].(common.Address)
		if !ok {
			return conduit.NewConfig(conduit.ErrCodeUnroutableMethod, "pending nonce requires an address argument")
		}
		nonce, err := c.agent.PendingNonce(ctx, addr)
		if err != nil {
			return err
		}
		return assign(result, hexutil.Uint64(nonce))

	case MethodSendTransaction:
		txArgs, ok := args[0].(TransactionArgs)
		if !ok {
			return conduit.NewConfig(conduit.ErrCodeUnroutableMethod, "send transaction requires transaction args")
		}
		c.mu.Lock()
		hash, err := c.agent.SubmitTransaction(ctx, txArgs)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return assign(result, hash)

	case MethodEstimateGas:
		msg, ok := args[0].(CallMsg)
		if !ok {
			return conduit.NewConfig(conduit.ErrCodeUnroutableMethod, "estimate gas requires a call message")
		}
		gas, err := c.agent.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		return assign(result, hexutil.Uint64(gas))

	case MethodPersonalSign:
		data, ok := args[0].(hexutil.Bytes)
		if !ok {
			return conduit.NewConfig(conduit.ErrCodeUnroutableMethod, "personal sign requires message bytes")
		}
		c.mu.Lock()
		sig, err := c.agent.PersonalSign(ctx, data)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return assign(result, hexutil.Bytes(sig))

	default:
		return conduit.NewConfig(conduit.ErrCodeUnroutableMethod, "method "+method+" is not implemented by the signing agent")
	}
}

// assign stores v into the typed result pointer of a CallContext call.
func assign(result, v interface{}) error {
	switch dst := result.(type) {
	case nil:
		return nil
	case *hexutil.Uint64:
		*dst = v.(hexutil.Uint64)
	case *common.Hash:
		*dst = v.(common.Hash)
	case *hexutil.Bytes:
		*dst = v.(hexutil.Bytes)
	case *[]common.Address:
		*dst = v.([]common.Address)
	default:
		return conduit.NewConfig(conduit.ErrCodeUnroutableMethod, "unsupported result type for agent channel")
	}
	return nil
}
