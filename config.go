package conduit

import (
	"math/big"
	"os"
	"strconv"
	"time"
)

// Config carries the subsystem's wiring. Zero values fall back to defaults
// where a default is safe; required endpoints fail fast in Validate.
type Config struct {
	// ReadRPCURL is the neutral, always-reachable RPC endpoint for
	// chain-state queries.
	ReadRPCURL string

	// SettlementURL is the base URL of the settlement backend.
	SettlementURL string

	// WebhookURL receives a POST after a payment verifies. Optional.
	WebhookURL string

	// WebhookSecret authenticates webhook payloads when set.
	WebhookSecret string

	// MinGasPrice is the floor used when the live gas price cannot be
	// fetched. Wei.
	MinGasPrice *big.Int

	// ReceiptPollInterval is the delay between receipt polls.
	ReceiptPollInterval time.Duration

	// ReceiptTimeout bounds how long a confirmation poll runs.
	ReceiptTimeout time.Duration

	// VerifyPollInterval is the delay between settlement queries.
	VerifyPollInterval time.Duration

	// VerifyTimeout bounds how long one verification run polls.
	VerifyTimeout time.Duration

	// ReconcileDeadline bounds the block-scan when reconciling a submitted
	// transaction's identity.
	ReconcileDeadline time.Duration
}

// Defaults
const (
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultReceiptTimeout      = 120 * time.Second
	DefaultVerifyPollInterval  = 2 * time.Second
	DefaultVerifyTimeout       = 30 * time.Second
	DefaultReconcileDeadline   = 30 * time.Second
)

// DefaultMinGasPrice is 1 gwei.
var DefaultMinGasPrice = big.NewInt(1_000_000_000)

// ConfigFromEnv reads configuration from CONDUIT_* environment variables.
// Unset duration/price variables keep their defaults; malformed values are
// ignored the same way.
func ConfigFromEnv() Config {
	cfg := Config{
		ReadRPCURL:          os.Getenv("CONDUIT_READ_RPC_URL"),
		SettlementURL:       os.Getenv("CONDUIT_SETTLEMENT_URL"),
		WebhookURL:          os.Getenv("CONDUIT_WEBHOOK_URL"),
		WebhookSecret:       os.Getenv("CONDUIT_WEBHOOK_SECRET"),
		MinGasPrice:         DefaultMinGasPrice,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		ReceiptTimeout:      DefaultReceiptTimeout,
		VerifyPollInterval:  DefaultVerifyPollInterval,
		VerifyTimeout:       DefaultVerifyTimeout,
		ReconcileDeadline:   DefaultReconcileDeadline,
	}

	if v := os.Getenv("CONDUIT_MIN_GAS_PRICE_WEI"); v != "" {
		if wei, ok := new(big.Int).SetString(v, 10); ok {
			cfg.MinGasPrice = wei
		}
	}
	if d := envDuration("CONDUIT_RECEIPT_POLL_INTERVAL"); d > 0 {
		cfg.ReceiptPollInterval = d
	}
	if d := envDuration("CONDUIT_RECEIPT_TIMEOUT"); d > 0 {
		cfg.ReceiptTimeout = d
	}
	if d := envDuration("CONDUIT_VERIFY_POLL_INTERVAL"); d > 0 {
		cfg.VerifyPollInterval = d
	}
	if d := envDuration("CONDUIT_VERIFY_TIMEOUT"); d > 0 {
		cfg.VerifyTimeout = d
	}
	if d := envDuration("CONDUIT_RECONCILE_DEADLINE"); d > 0 {
		cfg.ReconcileDeadline = d
	}

	return cfg
}

// envDuration parses an environment variable as a time.Duration, also
// accepting a bare number of seconds.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Validate checks the fields every session needs.
func (c Config) Validate() error {
	if c.ReadRPCURL == "" {
		return NewConfig(ErrCodeMissingEndpoint, "read RPC URL is required")
	}
	if c.SettlementURL == "" {
		return NewConfig(ErrCodeMissingEndpoint, "settlement backend URL is required")
	}
	return nil
}

// WithDefaults fills unset fields so components never see zero intervals.
func (c Config) WithDefaults() Config {
	if c.MinGasPrice == nil {
		c.MinGasPrice = DefaultMinGasPrice
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	if c.VerifyPollInterval <= 0 {
		c.VerifyPollInterval = DefaultVerifyPollInterval
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.ReconcileDeadline <= 0 {
		c.ReconcileDeadline = DefaultReconcileDeadline
	}
	return c
}
