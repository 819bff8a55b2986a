package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

// Client talks to the custody/chain provider's REST API. The provider is
// treated as an opaque, retryable, poll-able service: network errors and
// 5xx responses surface as ErrProviderUnavailable so callers can retry.
type Client struct {
	baseURL string
	apiKey  string

	client *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", transfer.ErrProviderUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: provider returned %d", transfer.ErrProviderUnavailable, resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)

		return fmt.Errorf("provider rejected %s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// GetWallet fetches the provider's current view of a wallet, including
// custody and account type. Never cached.
func (c *Client) GetWallet(ctx context.Context, walletID string) (*transfer.Wallet, error) {
	var w transfer.Wallet

	err := c.do(ctx, http.MethodGet, "/wallets/"+walletID, nil, &w)
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// BalanceOf returns the wallet's available token balance on a chain.
func (c *Client) BalanceOf(ctx context.Context, walletID, token string, chainID int64) (decimal.Decimal, error) {
	var out struct {
		Balance string `json:"balance"`
	}

	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/wallets/%s/balances/%s?chain_id=%d", walletID, token, chainID), nil, &out)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(out.Balance)
}

// EstimateFee fetches the provider's per-level network fee quote.
func (c *Client) EstimateFee(ctx context.Context, walletID, to string, amount decimal.Decimal, chainID int64) (*transfer.FeeQuote, error) {
	body := map[string]any{
		"wallet_id": walletID,
		"to":        to,
		"amount":    amount.String(),
		"chain_id":  chainID,
	}

	var out struct {
		Low    string `json:"low"`
		Medium string `json:"medium"`
		High   string `json:"high"`
	}

	err := c.do(ctx, http.MethodPost, "/fees/estimate", body, &out)
	if err != nil {
		return nil, err
	}

	low, err := decimal.NewFromString(out.Low)
	if err != nil {
		return nil, err
	}

	medium, err := decimal.NewFromString(out.Medium)
	if err != nil {
		return nil, err
	}

	high, err := decimal.NewFromString(out.High)
	if err != nil {
		return nil, err
	}

	return &transfer.FeeQuote{
		Low:      low,
		Medium:   medium,
		High:     high,
		QuotedAt: time.Now(),
	}, nil
}

// SubmitTransfer hands a signed payload to the provider for broadcast.
func (c *Client) SubmitTransfer(ctx context.Context, payload *transfer.SignedPayload) (*transfer.Submission, error) {
	var sub transfer.Submission

	err := c.do(ctx, http.MethodPost, "/transfers", payload, &sub)
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

// GetStatus reads the provider's authoritative status for a submission.
func (c *Client) GetStatus(ctx context.Context, providerID string) (*transfer.StatusResult, error) {
	var res transfer.StatusResult

	err := c.do(ctx, http.MethodGet, "/transfers/"+providerID+"/status", nil, &res)
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// Accelerate resubmits a pending transfer under a higher fee level and
// returns the replacement submission.
func (c *Client) Accelerate(ctx context.Context, providerID string, level transfer.FeeLevel) (*transfer.Submission, error) {
	body := map[string]any{
		"fee_level": level,
	}

	var sub transfer.Submission

	err := c.do(ctx, http.MethodPost, "/transfers/"+providerID+"/accelerate", body, &sub)
	if err != nil {
		return nil, err
	}

	return &sub, nil
}
