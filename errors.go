package conduit

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch on kind instead of
// matching message strings.
type ErrorKind int

const (
	// KindTransient covers network/HTTP failures during polling or estimation.
	// Transient errors are absorbed inside polling loops and never surface as
	// a final failure on their own.
	KindTransient ErrorKind = iota

	// KindBusinessTerminal covers explicit failed lifecycle states such as a
	// contract that was never funded. Surfaced immediately, never retried.
	KindBusinessTerminal

	// KindSecurityTerminal covers counterparty/amount/unit mismatches found by
	// the payment security check. Surfaced immediately, never retried, and kept
	// distinct from business failures so the UI can show a fraud-specific
	// message.
	KindSecurityTerminal

	// KindTimeout means a deadline elapsed while the operation was still
	// pending. Callers may resume polling manually.
	KindTimeout

	// KindConfig covers missing required setup (endpoint URL, signing agent
	// not initialized). Fails fast, not retried.
	KindConfig
)

// String returns the kind's canonical name.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBusinessTerminal:
		return "business_terminal"
	case KindSecurityTerminal:
		return "security_terminal"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Common error codes
const (
	ErrCodeAgentNotInitialized  = "agent_not_initialized"
	ErrCodeSigningRejected      = "signing_rejected"
	ErrCodeGasEstimateFailed    = "gas_estimate_failed"
	ErrCodeReceiptTimeout       = "receipt_timeout"
	ErrCodeVerifyTimeout        = "verify_timeout"
	ErrCodeNeverFunded          = "never_funded"
	ErrCodeCounterpartyMismatch = "counterparty_mismatch"
	ErrCodeAmountMismatch       = "amount_mismatch"
	ErrCodeUnitMismatch         = "unit_mismatch"
	ErrCodeMissingEndpoint      = "missing_endpoint"
	ErrCodeUnroutableMethod     = "unroutable_method"
	ErrCodeSettlementQuery      = "settlement_query_failed"
)

// Error is a classified payment error.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// NewTransient wraps a transient failure.
func NewTransient(code, message string, cause error) *Error {
	return NewError(KindTransient, code, message, cause)
}

// NewConfig reports missing or invalid setup.
func NewConfig(code, message string) *Error {
	return NewError(KindConfig, code, message, nil)
}

// NewTimeout reports an elapsed deadline.
func NewTimeout(code, message string) *Error {
	return NewError(KindTimeout, code, message, nil)
}

// KindOf extracts the classification from err. Unclassified errors report
// KindTransient so polling loops keep retrying on plain network failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindBusinessTerminal, KindSecurityTerminal, KindConfig:
		return true
	default:
		return false
	}
}
