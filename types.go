// Package conduit implements the payment finality subsystem of the Conduit
// escrow checkout: transaction submission through a user's signing agent,
// identity reconciliation of the returned hash against what actually landed
// on the ledger, receipt polling, and independent verification of a reported
// payment against the buyer's expectation.
package conduit

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TransactionIntent describes a transaction a caller wants submitted.
// GasLimit, GasPrice and Nonce are optional; the submitter fills them in.
// Immutable once handed to the submitter.
type TransactionIntent struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64   // 0 means estimate
	GasPrice *big.Int // nil means fetch live price
	Nonce    *uint64  // nil means fetch pending nonce
}

// PendingTransaction records the signing agent's answer to a submission.
// CandidateHash is the identifier the agent returned; it is not trusted until
// the reconciler has matched it against the ledger.
type PendingTransaction struct {
	Sender        common.Address
	Nonce         uint64
	CandidateHash common.Hash
	SubmittedAt   time.Time
}

// VerifiedTransaction is a pending transaction whose hash has been confirmed
// against the ledger. Degraded is set when reconciliation could not complete
// before its deadline and the candidate hash was kept as the best guess.
type VerifiedTransaction struct {
	Sender        common.Address
	Nonce         uint64
	ConfirmedHash common.Hash
	Degraded      bool
}

// ReceiptStatus is the execution outcome recorded in a mined receipt.
type ReceiptStatus uint64

const (
	// ReceiptStatusFailed means the transaction was mined but reverted.
	ReceiptStatusFailed ReceiptStatus = 0
	// ReceiptStatusSuccess means the transaction was mined and succeeded.
	ReceiptStatusSuccess ReceiptStatus = 1
)

// Receipt is the terminal on-chain record for a transaction. Status is
// authoritative for downstream business logic.
type Receipt struct {
	BlockNumber *big.Int
	Status      ReceiptStatus
	Hash        common.Hash
}

// LifecycleState is the closed classification of a settlement record's
// externally reported state string.
type LifecycleState int

const (
	// StatePending means the record is not yet settled; keep polling.
	StatePending LifecycleState = iota
	// StateFailed means the record reached a failed state such as never
	// having been funded. Terminal.
	StateFailed
	// StateSettled means the record reflects an on-chain-confirmed payment.
	StateSettled
)

func (s LifecycleState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateFailed:
		return "FAILED"
	case StateSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

// SettlementRecord is the backend-tracked representation of a payment. Owned
// by the settlement backend; this subsystem only reads it. RawState keeps the
// backend's original state string for diagnostics; branch on State instead.
type SettlementRecord struct {
	RecordID      string
	Counterparty  string
	Amount        decimal.Decimal
	Unit          string
	State         LifecycleState
	RawState      string
	LedgerAddress string
	Description   string
	ExpiresAt     time.Time
}

// ExpectedPayment is the buyer-side expectation a reported payment must
// satisfy. Amount and Unit are in display denomination.
type ExpectedPayment struct {
	Amount       decimal.Decimal
	Unit         string
	Counterparty string
}

// VerificationResult is the terminal artifact of one verification run.
// Immutable once produced.
type VerificationResult struct {
	RecordID      string          `json:"recordId"`
	LedgerAddress string          `json:"ledgerAddress"`
	Counterparty  string          `json:"counterparty"`
	Amount        decimal.Decimal `json:"amount"`
	Unit          string          `json:"unit"`
	RawAmount     decimal.Decimal `json:"rawAmount"`
	RawUnit       string          `json:"rawUnit"`
	State         string          `json:"state"`
	Verified      bool            `json:"verified"`
	VerifiedAt    time.Time       `json:"verifiedAt"`
}
