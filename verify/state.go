// Package verify independently re-checks that a reported payment satisfies
// the economic terms the buyer and seller agreed to: it polls the settlement
// backend for a record, classifies its lifecycle state, cross-checks
// counterparty, amount and unit against the locally held expectation, and
// produces a verified-or-rejected verdict.
package verify

import (
	"strings"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// Backend state strings with terminal meaning. Everything else the backend
// may say is treated as pending and polled again; branching happens on the
// classified state only, never on the raw string.
const (
	rawStateNeverFunded = "NEVER_FUNDED"
	rawStateExpired     = "EXPIRED_UNFUNDED"
	rawStateFailed      = "FAILED"
)

// settledStates are the backend strings reflecting an on-chain-confirmed
// payment.
var settledStates = map[string]bool{
	"OK":        true,
	"ACTIVE":    true,
	"SETTLED":   true,
	"DISBURSED": true,
	"COMPLETE":  true,
	"RELEASED":  true,
}

// ClassifyState maps a backend state string onto the closed lifecycle
// enumeration. Unrecognized strings classify as pending so a new backend
// state never turns into a spurious terminal failure.
func ClassifyState(raw string) conduit.LifecycleState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case rawStateNeverFunded, rawStateExpired, rawStateFailed:
		return conduit.StateFailed
	default:
		if settledStates[strings.ToUpper(strings.TrimSpace(raw))] {
			return conduit.StateSettled
		}
		return conduit.StatePending
	}
}

// microPrefix is the conventional micro-denomination prefix on raw units
// ("microUSDC" stores integer millionths of a display USDC).
const microPrefix = "micro"

// NormalizeUnit strips the micro-denomination prefix, returning the display
// unit and whether the prefix was present.
func NormalizeUnit(unit string) (string, bool) {
	trimmed := strings.TrimSpace(unit)
	if len(trimmed) > len(microPrefix) && strings.EqualFold(trimmed[:len(microPrefix)], microPrefix) {
		return trimmed[len(microPrefix):], true
	}
	return trimmed, false
}
