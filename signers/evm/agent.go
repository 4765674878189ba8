// Package evm provides a SigningAgent backed by an ECDSA private key and an
// ethclient. It stands in for a user wallet in server-side flows and tests;
// browser-wallet integrations supply their own chain.SigningAgent adapter.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	conduit "github.com/conduit-ucpi/webapp-sub004"
	"github.com/conduit-ucpi/webapp-sub004/chain"
)

// KeyedAgent implements chain.SigningAgent using an ECDSA private key.
type KeyedAgent struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
	chainID    *big.Int

	// Signing is serialized; overlapping signature requests are rejected by
	// most real agents and this adapter keeps the same contract.
	mu sync.Mutex
}

// NewKeyedAgent creates an agent from a hex-encoded private key (with or
// without "0x" prefix) and a dialed ethclient. chainID may be nil; it is
// fetched lazily on first submission.
func NewKeyedAgent(privateKeyHex string, client *ethclient.Client, chainID *big.Int) (*KeyedAgent, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeyedAgent{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ethClient:  client,
		chainID:    chainID,
	}, nil
}

// Address returns the sender address derived from the key.
func (a *KeyedAgent) Address(ctx context.Context) (common.Address, error) {
	return a.address, nil
}

// PendingNonce returns this agent's view of the next nonce for addr. It asks
// the agent's own client, which is the same source that validates the
// transaction later.
func (a *KeyedAgent) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if a.ethClient == nil {
		return 0, conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "agent has no RPC client")
	}
	return a.ethClient.PendingNonceAt(ctx, addr)
}

// EstimateGas estimates gas through the agent's client.
func (a *KeyedAgent) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	if a.ethClient == nil {
		return 0, conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "agent has no RPC client")
	}
	call := ethereum.CallMsg{
		From: msg.From,
		To:   msg.To,
		Data: msg.Data,
	}
	if msg.Value != nil {
		call.Value = (*big.Int)(msg.Value)
	}
	return a.ethClient.EstimateGas(ctx, call)
}

// SubmitTransaction signs args with the key and broadcasts it, returning the
// transaction hash without waiting for mining.
func (a *KeyedAgent) SubmitTransaction(ctx context.Context, args chain.TransactionArgs) (common.Hash, error) {
	if a.ethClient == nil {
		return common.Hash{}, conduit.NewConfig(conduit.ErrCodeAgentNotInitialized, "agent has no RPC client")
	}
	if args.Nonce == nil || args.Gas == nil || args.GasPrice == nil {
		return common.Hash{}, conduit.NewConfig(conduit.ErrCodeSigningRejected, "transaction args missing nonce, gas or gas price")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	chainID := a.chainID
	if chainID == nil {
		id, err := a.ethClient.ChainID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to resolve chain id: %w", err)
		}
		a.chainID = id
		chainID = id
	}

	var value *big.Int
	if args.Value != nil {
		value = (*big.Int)(args.Value)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*args.Nonce),
		To:       args.To,
		Value:    value,
		Gas:      uint64(*args.Gas),
		GasPrice: (*big.Int)(args.GasPrice),
		Data:     args.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), a.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := a.ethClient.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signed.Hash(), nil
}

// PersonalSign signs an EIP-191 personal message.
func (a *KeyedAgent) PersonalSign(ctx context.Context, data []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	digest := accounts.TextHash(data)
	signature, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Recovery ID 0/1 becomes 27/28 for Ethereum tooling.
	signature[64] += 27
	return signature, nil
}
