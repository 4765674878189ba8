package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// SettlementClient reads payment records from the settlement backend. It
// never mutates them.
type SettlementClient struct {
	baseURL    string
	httpClient *http.Client
}

// SettlementClientConfig configures the settlement client.
type SettlementClientConfig struct {
	// BaseURL is the settlement backend base URL.
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 15s).
	Timeout time.Duration
}

// queryPath is the settlement query endpoint.
const queryPath = "/api/contracts/query"

// NewSettlementClient creates a settlement client.
func NewSettlementClient(config SettlementClientConfig) (*SettlementClient, error) {
	if config.BaseURL == "" {
		return nil, conduit.NewConfig(conduit.ErrCodeMissingEndpoint, "settlement backend URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &SettlementClient{
		baseURL:    config.BaseURL,
		httpClient: httpClient,
	}, nil
}

// settlementResponseSchema validates the backend's shape before any field is
// trusted. Violations are transient: the backend occasionally returns
// partial rows mid-settlement.
const settlementResponseSchema = `{
	"type": "object",
	"required": ["count", "results"],
	"properties": {
		"count": {"type": "integer", "minimum": 0},
		"results": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["contractid", "amount", "currencySymbol"],
				"properties": {
					"contractid": {"type": "string"},
					"chainAddress": {"type": ["string", "null"]},
					"sellerWalletId": {"type": "string"},
					"amount": {"type": ["string", "number"]},
					"currencySymbol": {"type": "string"},
					"state": {"type": "string"},
					"description": {"type": "string"},
					"expiryTimestamp": {"type": ["integer", "number"]}
				}
			}
		}
	}
}`

var settlementSchema = gojsonschema.NewStringLoader(settlementResponseSchema)

// settlementRow mirrors one result row on the wire.
type settlementRow struct {
	ContractID      string      `json:"contractid"`
	ChainAddress    string      `json:"chainAddress"`
	SellerWalletID  string      `json:"sellerWalletId"`
	Amount          json.Number `json:"amount"`
	CurrencySymbol  string      `json:"currencySymbol"`
	State           string      `json:"state"`
	Description     string      `json:"description"`
	ExpiryTimestamp int64       `json:"expiryTimestamp"`
}

// settlementResponse mirrors the query response on the wire.
type settlementResponse struct {
	Count   int             `json:"count"`
	Results []settlementRow `json:"results"`
}

// Query fetches the settlement record for recordID. A count of zero means
// "not found yet" and returns (nil, nil) so the caller keeps polling. All
// HTTP and shape failures come back as transient errors.
func (c *SettlementClient) Query(ctx context.Context, recordID, sellerWalletID string) (*conduit.SettlementRecord, error) {
	body, err := json.Marshal(map[string]string{
		"contractid":     recordID,
		"sellerWalletId": sellerWalletID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+queryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, conduit.NewTransient(conduit.ErrCodeSettlementQuery, "settlement request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, conduit.NewTransient(conduit.ErrCodeSettlementQuery, "failed to read settlement response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, conduit.NewTransient(conduit.ErrCodeSettlementQuery,
			fmt.Sprintf("settlement query failed (%d): %s", resp.StatusCode, string(responseBody)), nil)
	}

	validation, err := gojsonschema.Validate(settlementSchema, gojsonschema.NewBytesLoader(responseBody))
	if err != nil || !validation.Valid() {
		return nil, conduit.NewTransient(conduit.ErrCodeSettlementQuery, "settlement response failed schema validation", err)
	}

	var parsed settlementResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, conduit.NewTransient(conduit.ErrCodeSettlementQuery, "failed to decode settlement response", err)
	}

	if parsed.Count == 0 || len(parsed.Results) == 0 {
		return nil, nil
	}

	return rowToRecord(parsed.Results[0])
}

// rowToRecord maps a wire row onto the domain record.
func rowToRecord(row settlementRow) (*conduit.SettlementRecord, error) {
	amount, err := decimal.NewFromString(row.Amount.String())
	if err != nil {
		return nil, conduit.NewTransient(conduit.ErrCodeSettlementQuery,
			fmt.Sprintf("unparseable settlement amount %q", row.Amount.String()), err)
	}

	record := &conduit.SettlementRecord{
		RecordID:      row.ContractID,
		Counterparty:  row.SellerWalletID,
		Amount:        amount,
		Unit:          row.CurrencySymbol,
		State:         ClassifyState(row.State),
		RawState:      row.State,
		LedgerAddress: row.ChainAddress,
		Description:   row.Description,
	}
	if row.ExpiryTimestamp > 0 {
		record.ExpiresAt = time.Unix(row.ExpiryTimestamp, 0).UTC()
	}
	return record, nil
}
