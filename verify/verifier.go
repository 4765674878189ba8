package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// AmountTolerance is the absolute tolerance, in display units, when comparing
// the reported amount against the expectation.
var AmountTolerance = decimal.RequireFromString("0.001")

// microFactor converts a micro-denominated raw amount to display units.
var microFactor = decimal.New(1, 6)

// Observer is notified once per query iteration regardless of outcome.
// Observer failures never propagate; observability must not break the
// verification flow.
type Observer interface {
	OnQuery(attempt int, record *conduit.SettlementRecord)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(attempt int, record *conduit.SettlementRecord)

// OnQuery calls f.
func (f ObserverFunc) OnQuery(attempt int, record *conduit.SettlementRecord) {
	f(attempt, record)
}

// OpenParams describe the checkout the buyer initiated. Amount and Unit are
// in display denomination.
type OpenParams struct {
	Amount       decimal.Decimal
	Unit         string
	Counterparty string
	Description  string
}

// Verifier polls the settlement backend for a payment record and produces a
// verified-or-rejected verdict. One Verifier serves one checkout session;
// the expectation held by Open is single-writer and cleared by Cleanup.
type Verifier struct {
	client   *SettlementClient
	interval time.Duration
	timeout  time.Duration
	observer Observer
	webhook  *WebhookDispatcher
	cache    *VerdictCache
	log      zerolog.Logger

	mu       sync.Mutex
	expected *conduit.ExpectedPayment
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithObserver registers the per-iteration observer.
func WithObserver(o Observer) VerifierOption {
	return func(v *Verifier) { v.observer = o }
}

// WithWebhook registers a dispatcher fired after a payment verifies.
func WithWebhook(d *WebhookDispatcher) VerifierOption {
	return func(v *Verifier) { v.webhook = d }
}

// WithPolling overrides the poll interval and hard deadline.
func WithPolling(interval, timeout time.Duration) VerifierOption {
	return func(v *Verifier) {
		if interval > 0 {
			v.interval = interval
		}
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// WithLogger sets the verifier's logger.
func WithLogger(log zerolog.Logger) VerifierOption {
	return func(v *Verifier) { v.log = log }
}

// verdictTTL bounds how long terminal outcomes are remembered.
const verdictTTL = 10 * time.Minute

// NewVerifier creates a verifier over the settlement client.
func NewVerifier(client *SettlementClient, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		client:   client,
		interval: conduit.DefaultVerifyPollInterval,
		timeout:  conduit.DefaultVerifyTimeout,
		cache:    NewVerdictCache(verdictTTL),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open stores the buyer's expectation for the coming verification. It
// replaces any previous expectation; overlapping checkout sessions on one
// widget instance are not supported.
func (v *Verifier) Open(params OpenParams) {
	unit, _ := NormalizeUnit(params.Unit)
	v.mu.Lock()
	v.expected = &conduit.ExpectedPayment{
		Amount:       params.Amount,
		Unit:         unit,
		Counterparty: params.Counterparty,
	}
	v.mu.Unlock()
}

// Cleanup clears the held expectation. Must run before a new checkout
// session starts on the same instance.
func (v *Verifier) Cleanup() {
	v.mu.Lock()
	v.expected = nil
	v.mu.Unlock()
}

// expectation returns the currently held expectation, if any.
func (v *Verifier) expectation() *conduit.ExpectedPayment {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.expected == nil {
		return nil
	}
	exp := *v.expected
	return &exp
}

// Verify polls the settlement backend for recordID until the record reflects
// an on-chain-confirmed payment, a terminal failure, or the deadline. One
// security rejection or never-funded classification is final: repeated calls
// return the cached verdict without another query.
func (v *Verifier) Verify(ctx context.Context, recordID, sellerWalletID string) (conduit.VerificationResult, error) {
	status, cached, done := v.cache.CheckAndMark(recordID)
	switch status {
	case VerdictCached:
		return cached.result, cached.err
	case VerdictInFlight:
		outcome, err := v.cache.WaitForVerdict(ctx, recordID, done)
		if err != nil {
			return conduit.VerificationResult{}, err
		}
		if outcome == nil {
			// The other run ended without a terminal verdict (timeout or
			// cancellation); poll for ourselves.
			return v.Verify(ctx, recordID, sellerWalletID)
		}
		return outcome.result, outcome.err
	}

	result, err := v.poll(ctx, recordID, sellerWalletID)
	if err == nil || conduit.IsTerminal(err) {
		v.cache.Complete(recordID, &verdict{result: result, err: err}, done)
	} else {
		v.cache.Complete(recordID, nil, done)
	}
	return result, err
}

// poll runs the QUERYING loop.
func (v *Verifier) poll(ctx context.Context, recordID, sellerWalletID string) (conduit.VerificationResult, error) {
	deadlineAt := time.Now().Add(v.timeout)
	attempt := 0

	for {
		attempt++
		record, err := v.client.Query(ctx, recordID, sellerWalletID)
		v.notifyObserver(attempt, record)

		switch {
		case err != nil:
			// Transient; retry within the deadline.
			v.log.Debug().Err(err).Int("attempt", attempt).Msg("settlement query failed, retrying")

		case record == nil:
			v.log.Debug().Int("attempt", attempt).Msg("settlement record not found yet")

		case record.State == conduit.StateFailed:
			v.log.Info().
				Str("recordId", recordID).
				Str("rawState", record.RawState).
				Msg("settlement record in failed state")
			return resultFromRecord(record, false), conduit.NewError(conduit.KindBusinessTerminal,
				conduit.ErrCodeNeverFunded,
				fmt.Sprintf("record %s reached failed state %s", recordID, record.RawState), nil)

		case record.LedgerAddress == "" || record.State == conduit.StatePending:
			v.log.Debug().
				Int("attempt", attempt).
				Str("rawState", record.RawState).
				Msg("settlement record not yet ledger-confirmed")

		default:
			return v.securityCheck(ctx, record)
		}

		if time.Now().After(deadlineAt) {
			return conduit.VerificationResult{}, conduit.NewTimeout(conduit.ErrCodeVerifyTimeout,
				"no settled record for "+recordID+" within "+v.timeout.String())
		}
		if err := wait(ctx, v.interval); err != nil {
			return conduit.VerificationResult{}, err
		}
	}
}

// securityCheck cross-checks the record against the held expectation. All
// three checks run whenever an expectation is present; without one the check
// is skipped entirely and any non-failed ledger-confirmed record is accepted.
func (v *Verifier) securityCheck(ctx context.Context, record *conduit.SettlementRecord) (conduit.VerificationResult, error) {
	expected := v.expectation()
	if expected == nil {
		v.log.Debug().Str("recordId", record.RecordID).Msg("no expectation held, accepting ledger-confirmed record")
		return v.accept(ctx, record)
	}

	if !strings.EqualFold(record.Counterparty, expected.Counterparty) {
		return resultFromRecord(record, false), conduit.NewError(conduit.KindSecurityTerminal,
			conduit.ErrCodeCounterpartyMismatch,
			fmt.Sprintf("counterparty mismatch: got %s, expected %s", record.Counterparty, expected.Counterparty), nil)
	}

	amount, unit := displayAmount(record)
	if amount.Sub(expected.Amount).Abs().GreaterThan(AmountTolerance) {
		return resultFromRecord(record, false), conduit.NewError(conduit.KindSecurityTerminal,
			conduit.ErrCodeAmountMismatch,
			fmt.Sprintf("amount mismatch: got %s, expected %s %s", amount, expected.Amount, expected.Unit), nil)
	}

	if !strings.EqualFold(unit, expected.Unit) {
		return resultFromRecord(record, false), conduit.NewError(conduit.KindSecurityTerminal,
			conduit.ErrCodeUnitMismatch,
			fmt.Sprintf("unit mismatch: got %s, expected %s", unit, expected.Unit), nil)
	}

	return v.accept(ctx, record)
}

// accept produces the verified result and fires the webhook. Webhook
// delivery failures never fail the verification itself, and delivery is
// bounded by the caller's deadline like every other call in the run.
func (v *Verifier) accept(ctx context.Context, record *conduit.SettlementRecord) (conduit.VerificationResult, error) {
	result := resultFromRecord(record, true)
	if v.webhook != nil {
		if err := v.webhook.Send(ctx, result, nil); err != nil {
			v.log.Debug().Err(err).Str("recordId", record.RecordID).Msg("webhook delivery failed, ignoring")
		}
	}
	return result, nil
}

// notifyObserver fires the per-iteration hook, swallowing anything it throws.
func (v *Verifier) notifyObserver(attempt int, record *conduit.SettlementRecord) {
	if v.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			v.log.Debug().Interface("panic", r).Msg("verification observer panicked, ignoring")
		}
	}()
	v.observer.OnQuery(attempt, record)
}

// displayAmount converts the record's raw amount and unit to display
// denomination.
func displayAmount(record *conduit.SettlementRecord) (decimal.Decimal, string) {
	unit, micro := NormalizeUnit(record.Unit)
	if micro {
		return record.Amount.Div(microFactor), unit
	}
	return record.Amount, unit
}

// resultFromRecord builds the terminal artifact for a record.
func resultFromRecord(record *conduit.SettlementRecord, verified bool) conduit.VerificationResult {
	amount, unit := displayAmount(record)
	return conduit.VerificationResult{
		RecordID:      record.RecordID,
		LedgerAddress: record.LedgerAddress,
		Counterparty:  record.Counterparty,
		Amount:        amount,
		Unit:          unit,
		RawAmount:     record.Amount,
		RawUnit:       record.Unit,
		State:         record.RawState,
		Verified:      verified,
		VerifiedAt:    time.Now().UTC(),
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
