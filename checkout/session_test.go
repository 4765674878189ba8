package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	conduit "github.com/conduit-ucpi/webapp-sub004"
	"github.com/conduit-ucpi/webapp-sub004/chain"
	"github.com/conduit-ucpi/webapp-sub004/verify"
)

var (
	testSender    = common.HexToAddress("0xabc0000000000000000000000000000000000001")
	testEscrow    = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	candidateHash = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	onChainHash   = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
)

// stubAgent is a minimal SigningAgent for wiring tests.
type stubAgent struct {
	address  common.Address
	nonce    uint64
	hash     common.Hash
	submits  int
	lastArgs chain.TransactionArgs
}

func (a *stubAgent) Address(ctx context.Context) (common.Address, error) {
	return a.address, nil
}

func (a *stubAgent) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return a.nonce, nil
}

func (a *stubAgent) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	return 0, errors.New("estimate not supported")
}

func (a *stubAgent) SubmitTransaction(ctx context.Context, args chain.TransactionArgs) (common.Hash, error) {
	a.submits++
	a.lastArgs = args
	return a.hash, nil
}

func (a *stubAgent) PersonalSign(ctx context.Context, data []byte) ([]byte, error) {
	return nil, errors.New("signing not supported")
}

// rpcBackend is a JSON-RPC read endpoint serving the chain-state queries the
// session issues. Wallet-classified methods are answered with an error so a
// misrouted call fails the flow instead of passing silently.
type rpcBackend struct {
	server *httptest.Server

	mu           sync.Mutex
	methods      []string
	receiptAsked []common.Hash
}

func newRPCBackend(t *testing.T, sender common.Address, nonce uint64, minedHash common.Hash) *rpcBackend {
	t.Helper()
	b := &rpcBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.methods = append(b.methods, req.Method)
		b.mu.Unlock()

		var result interface{}
		switch req.Method {
		case "eth_gasPrice":
			result = "0x3b9aca00" // 1 gwei
		case "eth_estimateGas":
			result = "0x5208" // 21000
		case "eth_getBlockByNumber":
			result = map[string]interface{}{
				"number": "0x10",
				"hash":   "0x3333333333333333333333333333333333333333333333333333333333333333",
				"transactions": []map[string]interface{}{{
					"hash":  minedHash.Hex(),
					"from":  sender.Hex(),
					"nonce": hexutil.Uint64(nonce).String(),
				}},
			}
		case "eth_getTransactionReceipt":
			var hash common.Hash
			if err := json.Unmarshal(req.Params[0], &hash); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b.mu.Lock()
			b.receiptAsked = append(b.receiptAsked, hash)
			b.mu.Unlock()
			result = map[string]interface{}{
				"transactionHash": hash.Hex(),
				"blockNumber":     "0x10",
				"status":          "0x1",
			}
		default:
			writeRPC(w, req.ID, nil, "method "+req.Method+" not available on the read endpoint")
			return
		}
		writeRPC(w, req.ID, result, "")
	}))
	t.Cleanup(b.server.Close)
	return b
}

func writeRPC(w http.ResponseWriter, id json.RawMessage, result interface{}, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if errMsg != "" {
		resp["error"] = map[string]interface{}{"code": -32601, "message": errMsg}
	} else {
		resp["result"] = result
	}
	json.NewEncoder(w).Encode(resp)
}

func (b *rpcBackend) sawMethod(method string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.methods {
		if m == method {
			return true
		}
	}
	return false
}

// settlementBackend serves one fixed settlement response.
func settlementBackend(t *testing.T, body map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(rpcURL, settlementURL string) conduit.Config {
	return conduit.Config{
		ReadRPCURL:          rpcURL,
		SettlementURL:       settlementURL,
		ReceiptPollInterval: 5 * time.Millisecond,
		ReceiptTimeout:      2 * time.Second,
		VerifyPollInterval:  5 * time.Millisecond,
		VerifyTimeout:       500 * time.Millisecond,
		ReconcileDeadline:   2 * time.Second,
	}
}

func TestNewSessionValidatesConfig(t *testing.T) {
	_, err := NewSession(context.Background(), conduit.Config{}, nil)
	if !conduit.IsKind(err, conduit.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestSessionPay(t *testing.T) {
	const nonce = 7
	backend := newRPCBackend(t, testSender, nonce, onChainHash)
	settlement := settlementBackend(t, map[string]interface{}{"count": 0, "results": []string{}})
	agent := &stubAgent{address: testSender, nonce: nonce, hash: candidateHash}

	session, err := NewSession(context.Background(), testConfig(backend.server.URL, settlement.URL), agent)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	receipt, err := session.Pay(context.Background(), conduit.TransactionIntent{
		To:   testEscrow,
		Data: []byte{0xd0, 0xe3, 0x0d, 0xb0}, // deposit()
	})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	// The receipt must be for the hash observed on the ledger, not the one
	// the agent handed back.
	if receipt.Hash != onChainHash {
		t.Errorf("receipt hash = %s, want on-chain hash %s", receipt.Hash.Hex(), onChainHash.Hex())
	}
	if receipt.Status != conduit.ReceiptStatusSuccess {
		t.Errorf("receipt status = %v, want success", receipt.Status)
	}
	if receipt.BlockNumber.Int64() != 0x10 {
		t.Errorf("block number = %v, want 16", receipt.BlockNumber)
	}

	if agent.submits != 1 {
		t.Errorf("agent saw %d submissions, want 1", agent.submits)
	}
	if agent.lastArgs.Nonce == nil || uint64(*agent.lastArgs.Nonce) != nonce {
		t.Errorf("submitted nonce = %v, want %d", agent.lastArgs.Nonce, nonce)
	}
	for _, got := range backend.receiptAsked {
		if got != onChainHash {
			t.Errorf("receipt polled for %s, want %s", got.Hex(), onChainHash.Hex())
		}
	}

	// Wallet-classified methods never touch the read endpoint.
	for _, method := range []string{"eth_accounts", "eth_getTransactionCount", "eth_sendTransaction"} {
		if backend.sawMethod(method) {
			t.Errorf("wallet method %s reached the read endpoint", method)
		}
	}
}

func TestSessionPayWithoutAgent(t *testing.T) {
	backend := newRPCBackend(t, testSender, 0, onChainHash)
	settlement := settlementBackend(t, map[string]interface{}{"count": 0, "results": []string{}})

	session, err := NewSession(context.Background(), testConfig(backend.server.URL, settlement.URL), nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	_, err = session.Pay(context.Background(), conduit.TransactionIntent{To: testEscrow})
	if !conduit.IsKind(err, conduit.KindConfig) {
		t.Fatalf("expected config error from agentless Pay, got %v", err)
	}
}

func TestSessionCloseClearsExpectation(t *testing.T) {
	backend := newRPCBackend(t, testSender, 0, onChainHash)
	// A record that would fail the amount check if the expectation survived.
	settlement := settlementBackend(t, map[string]interface{}{
		"count": 1,
		"results": []map[string]interface{}{{
			"contractid":     "contract-9",
			"chainAddress":   "0x00000000000000000000000000000000000000e5",
			"sellerWalletId": testSender.Hex(),
			"amount":         "1",
			"currencySymbol": "USDC",
			"state":          "ACTIVE",
		}},
	})

	session, err := NewSession(context.Background(), testConfig(backend.server.URL, settlement.URL), nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	session.Verifier.Open(verify.OpenParams{
		Amount:       decimal.RequireFromString("50"),
		Unit:         "USDC",
		Counterparty: testSender.Hex(),
	})
	session.Close()

	result, err := session.Verifier.Verify(context.Background(), "contract-9", "wallet-9")
	if err != nil {
		t.Fatalf("Verify after Close: %v", err)
	}
	if !result.Verified {
		t.Error("expected the record to verify once the stale expectation was cleared")
	}
}
