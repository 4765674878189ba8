package verify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// SignatureHeader carries the hex MAC over the JSON payload when a shared
// secret is configured.
const SignatureHeader = "X-Conduit-Signature"

// WebhookMeta is caller-supplied context forwarded with the result.
type WebhookMeta struct {
	OrderID  string                 `json:"orderId,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// webhookPayload is the POSTed body.
type webhookPayload struct {
	EventID   string                     `json:"eventId"`
	Timestamp int64                      `json:"timestamp"`
	Result    conduit.VerificationResult `json:"result"`
	OrderID   string                     `json:"orderId,omitempty"`
	Email     string                     `json:"email,omitempty"`
	Metadata  map[string]interface{}     `json:"metadata,omitempty"`
}

// WebhookDispatcher posts verification results to a configured endpoint.
// Delivery is strictly best-effort: failures are reported to the caller for
// logging but must never fail the verification that triggered them.
type WebhookDispatcher struct {
	url        string
	secret     []byte
	httpClient *http.Client
}

// WebhookConfig configures a dispatcher.
type WebhookConfig struct {
	// URL receives the POST.
	URL string

	// Secret, when non-empty, enables the signature header.
	Secret string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 10s).
	Timeout time.Duration
}

// NewWebhookDispatcher creates a dispatcher.
func NewWebhookDispatcher(config WebhookConfig) (*WebhookDispatcher, error) {
	if config.URL == "" {
		return nil, conduit.NewConfig(conduit.ErrCodeMissingEndpoint, "webhook URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	var secret []byte
	if config.Secret != "" {
		secret = []byte(config.Secret)
	}

	return &WebhookDispatcher{
		url:        config.URL,
		secret:     secret,
		httpClient: httpClient,
	}, nil
}

// Send posts the result plus meta. The event id lets receivers deduplicate
// redeliveries. Returns an error on network failure or a non-2xx status;
// callers log and move on.
func (d *WebhookDispatcher) Send(ctx context.Context, result conduit.VerificationResult, meta *WebhookMeta) error {
	payload := webhookPayload{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Result:    result,
	}
	if meta != nil {
		payload.OrderID = meta.OrderID
		payload.Email = meta.Email
		payload.Metadata = meta.Metadata
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if d.secret != nil {
		req.Header.Set(SignatureHeader, Sign(d.secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed (%d)", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under secret. Exposed so
// receivers can validate the signature header.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares a received signature against the expected MAC in
// constant time.
func ValidSignature(secret, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
