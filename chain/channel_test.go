package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// fakeAgent is a scripted SigningAgent.
type fakeAgent struct {
	address common.Address
	nonce   uint64
	hash    common.Hash
	submits int
}

func (a *fakeAgent) Address(ctx context.Context) (common.Address, error) {
	return a.address, nil
}

func (a *fakeAgent) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return a.nonce, nil
}

func (a *fakeAgent) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return 52_000, nil
}

func (a *fakeAgent) SubmitTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error) {
	a.submits++
	return a.hash, nil
}

func (a *fakeAgent) PersonalSign(ctx context.Context, data []byte) ([]byte, error) {
	return []byte{0x01}, nil
}

func TestAgentChannelDispatch(t *testing.T) {
	agent := &fakeAgent{
		address: testSender,
		nonce:   5,
		hash:    testHash,
	}
	channel := NewAgentChannel(agent)
	ctx := context.Background()

	var accounts []common.Address
	if err := channel.CallContext(ctx, &accounts, MethodAccounts); err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != testSender {
		t.Errorf("unexpected accounts %v", accounts)
	}

	var nonce hexutil.Uint64
	if err := channel.CallContext(ctx, &nonce, MethodPendingNonce, testSender, "pending"); err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	if uint64(nonce) != 5 {
		t.Errorf("expected nonce 5, got %d", nonce)
	}

	var hash common.Hash
	if err := channel.CallContext(ctx, &hash, MethodSendTransaction, TransactionArgs{From: testSender}); err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	if hash != testHash {
		t.Errorf("expected hash %s, got %s", testHash.Hex(), hash.Hex())
	}
	if agent.submits != 1 {
		t.Errorf("expected 1 submission, got %d", agent.submits)
	}
}

func TestAgentChannelRejectsUnknownMethod(t *testing.T) {
	channel := NewAgentChannel(&fakeAgent{})

	err := channel.CallContext(context.Background(), nil, MethodSignTypedData)
	if !conduit.IsKind(err, conduit.KindConfig) {
		t.Fatalf("expected config error for unimplemented method, got %v", err)
	}
}

func TestAgentChannelNilAgent(t *testing.T) {
	channel := NewAgentChannel(nil)

	err := channel.CallContext(context.Background(), nil, MethodAccounts)
	if !conduit.IsKind(err, conduit.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestIsWalletMethod(t *testing.T) {
	if !IsWalletMethod(MethodPendingNonce) {
		t.Error("pending nonce must be wallet-classified")
	}
	if IsWalletMethod(MethodTransactionReceipt) {
		t.Error("receipt lookup must not be wallet-classified")
	}
	if IsWalletMethod(MethodGasPrice) {
		t.Error("gas price must not be wallet-classified")
	}
}
