// Package payment provides the HTTP client for the external payment
// gateway that settles invoices to contributor payout addresses.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client issues single payment attempts against the gateway. The client
// never retries; retry policy belongs to the caller.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// PayInvoice asks the gateway to pay amount (in the smallest indivisible
// unit) to payoutAddress. A non-2xx response is an error; the gateway's
// reported reason is surfaced when it provides one.
func (c *Client) PayInvoice(ctx context.Context, amount int64, payoutAddress string, metadata map[string]string) error {
	payload := map[string]any{
		"amount":  amount,
		"address": payoutAddress,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/pay", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pay invoice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.Error != "" {
			return fmt.Errorf("payment rejected: %s", out.Error)
		}
		return fmt.Errorf("payment rejected: status %d", resp.StatusCode)
	}
	return nil
}
