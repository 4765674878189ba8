// Package checkout wires the payment finality components into a per-session
// handle. One session per checkout, closed before the next starts; the
// explicit handle keeps concurrent checkouts and tests tractable and gives
// cleanup a well-defined scope.
package checkout

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	conduit "github.com/conduit-ucpi/webapp-sub004"
	"github.com/conduit-ucpi/webapp-sub004/chain"
	"github.com/conduit-ucpi/webapp-sub004/verify"
)

// Session holds the components of one checkout session. Construct one per
// session and close it before starting the next; overlapping sessions on the
// same widget instance are not supported.
type Session struct {
	Router     *chain.Router
	Submitter  *chain.Submitter
	Reconciler *chain.Reconciler
	Poller     *chain.Poller
	Verifier   *verify.Verifier

	cfg     conduit.Config
	readRPC *rpc.Client
	log     zerolog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger shared by all components.
func WithLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// NewSession dials the read endpoint and wires all components around the
// given signing agent. agent may be nil for verification-only flows (the
// widget does not need the wallet at verification time); transaction
// submission then fails fast.
func NewSession(ctx context.Context, cfg conduit.Config, agent chain.SigningAgent, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	s := &Session{
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	readRPC, err := rpc.DialContext(ctx, cfg.ReadRPCURL)
	if err != nil {
		return nil, conduit.NewError(conduit.KindConfig, conduit.ErrCodeMissingEndpoint,
			"failed to dial read RPC endpoint", err)
	}

	var wallet chain.Channel
	if agent != nil {
		wallet = chain.NewAgentChannel(agent)
	}

	settlement, err := verify.NewSettlementClient(verify.SettlementClientConfig{
		BaseURL: cfg.SettlementURL,
	})
	if err != nil {
		readRPC.Close()
		return nil, err
	}

	verifierOpts := []verify.VerifierOption{
		verify.WithPolling(cfg.VerifyPollInterval, cfg.VerifyTimeout),
		verify.WithLogger(s.log),
	}
	if cfg.WebhookURL != "" {
		dispatcher, err := verify.NewWebhookDispatcher(verify.WebhookConfig{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
		})
		if err != nil {
			readRPC.Close()
			return nil, err
		}
		verifierOpts = append(verifierOpts, verify.WithWebhook(dispatcher))
	}

	router := chain.NewRouter(wallet, readRPC, s.log)

	s.cfg = cfg
	s.readRPC = readRPC
	s.Router = router
	s.Submitter = chain.NewSubmitter(router, cfg.MinGasPrice, s.log)
	s.Reconciler = chain.NewReconciler(router, s.log)
	s.Poller = chain.NewPoller(router, cfg.ReceiptPollInterval, s.log)
	s.Verifier = verify.NewVerifier(settlement, verifierOpts...)

	return s, nil
}

// Pay runs the transaction-side flow end to end: submit, reconcile the
// returned identifier, then wait for the receipt. Steps are strictly
// sequential within one flow.
func (s *Session) Pay(ctx context.Context, intent conduit.TransactionIntent) (conduit.Receipt, error) {
	pending, err := s.Submitter.Submit(ctx, intent)
	if err != nil {
		return conduit.Receipt{}, err
	}

	verified, err := s.Reconciler.Reconcile(ctx, pending, s.cfg.ReconcileDeadline)
	if err != nil {
		return conduit.Receipt{}, err
	}

	return s.Poller.WaitForReceipt(ctx, verified.ConfirmedHash, s.cfg.ReceiptTimeout)
}

// Close clears session state: the verifier's expectation and the read RPC
// connection. In-flight network calls are not forcibly aborted.
func (s *Session) Close() {
	if s.Verifier != nil {
		s.Verifier.Cleanup()
	}
	if s.readRPC != nil {
		s.readRPC.Close()
	}
}
