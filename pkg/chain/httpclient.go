package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/util/resiliency"
)

// HTTPClient talks to an oracle node gateway that fronts the TeeOracle
// contract. The gateway exposes plain JSON endpoints; transaction signing
// happens gateway-side with the resolver's registered key, so this client's
// job is serializing submissions (one shared credential, one nonce stream)
// and classifying failures.
type HTTPClient struct {
	base   string
	client *resiliency.Client

	// submitMu serializes settlement submissions: the signing key is a single
	// shared credential and concurrent sends would race nonce allocation.
	submitMu sync.Mutex
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		base:   baseURL,
		client: resiliency.New("chain-rpc", 30*time.Second),
	}
}

func (c *HTTPClient) ListOutstanding(ctx context.Context) ([]contracts.RequestView, error) {
	var out struct {
		Requests []struct {
			RequestID     string `json:"request_id"`
			Identifier    string `json:"identifier"`
			AncillaryData []byte `json:"ancillary_data"`
			Timestamp     int64  `json:"timestamp"`
			Settled       bool   `json:"settled"`
			SettledPrice  int64  `json:"settled_price"`
		} `json:"requests"`
	}
	if err := c.get(ctx, "/oracle/requests", &out); err != nil {
		return nil, fmt.Errorf("list outstanding: %w", err)
	}

	views := make([]contracts.RequestView, 0, len(out.Requests))
	for _, r := range out.Requests {
		views = append(views, contracts.RequestView{
			ID:               r.RequestID,
			Identifier:       r.Identifier,
			AncillaryData:    r.AncillaryData,
			RequestTimestamp: time.Unix(r.Timestamp, 0).UTC(),
			Settled:          r.Settled,
			SettledPrice:     r.SettledPrice,
		})
	}
	return views, nil
}

func (c *HTTPClient) IsSettled(ctx context.Context, requestID string) (bool, error) {
	var out struct {
		Settled bool `json:"settled"`
	}
	if err := c.get(ctx, "/oracle/requests/"+requestID, &out); err != nil {
		return false, fmt.Errorf("is settled: %w", err)
	}
	return out.Settled, nil
}

func (c *HTTPClient) SubmitSettlement(ctx context.Context, requestID string, price int64, evidenceHash string) (string, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"request_id":    requestID,
		"price":         price,
		"evidence_hash": evidenceHash,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/oracle/settle", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", contracts.Transient(fmt.Errorf("submit settlement: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
	case http.StatusConflict:
		return "", contracts.ErrAlreadySettled
	case http.StatusForbidden, http.StatusUnauthorized:
		return "", contracts.ErrUnauthorizedSigner
	default:
		return "", contracts.Transient(fmt.Errorf("submit settlement: status %d", resp.StatusCode))
	}

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", contracts.Transient(fmt.Errorf("submit settlement response: %w", err))
	}
	if out.TxHash == "" {
		return "", contracts.Transient(fmt.Errorf("gateway returned no tx hash"))
	}
	return out.TxHash, nil
}

func (c *HTTPClient) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/oracle/tx/"+txHash, &out); err != nil {
		return TxUnknown, fmt.Errorf("tx status: %w", err)
	}
	switch out.Status {
	case "pending":
		return TxPending, nil
	case "mined", "confirmed":
		return TxMined, nil
	case "reverted", "failed":
		return TxReverted, nil
	}
	return TxUnknown, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return contracts.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
