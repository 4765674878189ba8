package chain

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

func testReceipt(status uint64) *RPCReceipt {
	return &RPCReceipt{
		TransactionHash: testHash,
		BlockNumber:     hexutil.Big(*big.NewInt(1234)),
		Status:          hexutil.Uint64(status),
	}
}

func newTestPoller(read *fakeChannel) *Poller {
	return NewPoller(newTestRouter(nil, read), 5*time.Millisecond, zerolog.Nop())
}

func TestWaitForReceiptMined(t *testing.T) {
	var polls atomic.Int32
	read := &fakeChannel{
		handler: func(method string, args []interface{}) (interface{}, error) {
			if method != MethodTransactionReceipt {
				t.Fatalf("unexpected method %s", method)
			}
			if polls.Add(1) < 3 {
				return nil, nil // not mined yet
			}
			return testReceipt(1), nil
		},
	}
	poller := newTestPoller(read)

	receipt, err := poller.WaitForReceipt(context.Background(), testHash, time.Second)
	if err != nil {
		t.Fatalf("WaitForReceipt: %v", err)
	}
	if receipt.Status != conduit.ReceiptStatusSuccess {
		t.Errorf("expected success status, got %v", receipt.Status)
	}
	if receipt.Hash != testHash {
		t.Errorf("expected hash %s, got %s", testHash.Hex(), receipt.Hash.Hex())
	}
	if receipt.BlockNumber.Int64() != 1234 {
		t.Errorf("expected block 1234, got %s", receipt.BlockNumber)
	}
	if got := polls.Load(); got != 3 {
		t.Errorf("expected 3 polls, got %d", got)
	}
}

func TestWaitForReceiptFailedStatus(t *testing.T) {
	read := &fakeChannel{
		handler: func(method string, args []interface{}) (interface{}, error) {
			return testReceipt(0), nil
		},
	}
	poller := newTestPoller(read)

	receipt, err := poller.WaitForReceipt(context.Background(), testHash, time.Second)
	if err != nil {
		t.Fatalf("a reverted transaction still has a receipt: %v", err)
	}
	if receipt.Status != conduit.ReceiptStatusFailed {
		t.Errorf("expected failed status, got %v", receipt.Status)
	}
}

func TestWaitForReceiptTimeout(t *testing.T) {
	read := &fakeChannel{
		handler: func(method string, args []interface{}) (interface{}, error) {
			return nil, nil
		},
	}
	poller := newTestPoller(read)

	timeout := 40 * time.Millisecond
	start := time.Now()
	_, err := poller.WaitForReceipt(context.Background(), testHash, timeout)
	elapsed := time.Since(start)

	if !conduit.IsKind(err, conduit.KindTimeout) {
		t.Fatalf("expected a timeout error, got %v", err)
	}
	// Never hangs past the deadline by more than one poll interval (plus
	// scheduling slack).
	if elapsed > timeout+poller.interval+50*time.Millisecond {
		t.Errorf("poller overran the deadline: %s", elapsed)
	}
}

func TestWaitForReceiptAbsorbsTransientErrors(t *testing.T) {
	var polls atomic.Int32
	read := &fakeChannel{
		handler: func(method string, args []interface{}) (interface{}, error) {
			if polls.Add(1) == 1 {
				return nil, errors.New("connection reset")
			}
			return testReceipt(1), nil
		},
	}
	poller := newTestPoller(read)

	receipt, err := poller.WaitForReceipt(context.Background(), testHash, time.Second)
	if err != nil {
		t.Fatalf("WaitForReceipt: %v", err)
	}
	if receipt.Status != conduit.ReceiptStatusSuccess {
		t.Errorf("expected success after transient error, got %v", receipt.Status)
	}
}

func TestWaitForReceiptUsesReadChannelOnly(t *testing.T) {
	wallet := &fakeChannel{}
	read := &fakeChannel{
		handler: func(method string, args []interface{}) (interface{}, error) {
			return testReceipt(1), nil
		},
	}
	poller := NewPoller(newTestRouter(wallet, read), 5*time.Millisecond, zerolog.Nop())

	if _, err := poller.WaitForReceipt(context.Background(), testHash, time.Second); err != nil {
		t.Fatalf("WaitForReceipt: %v", err)
	}
	if got := len(wallet.calls); got != 0 {
		t.Errorf("receipt polling must never touch the wallet channel, saw %d calls", got)
	}
}
