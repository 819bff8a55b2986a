package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketpay/transferd/pkg/transfer"
)

// Client polls the off-chain attestation service that certifies burns for
// minting. A burn that has not been certified yet comes back pending.
type Client struct {
	baseURL string

	client *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
	MessageHash string `json:"message_hash"`
	ExpiresAt   string `json:"expires_at"`
}

// GetAttestation fetches the attestation for a confirmed burn.
func (c *Client) GetAttestation(ctx context.Context, burnTxHash string) (*transfer.Attestation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/attestations/"+burnTxHash, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", transfer.ErrProviderUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// the service has not seen the burn yet
		return &transfer.Attestation{Pending: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: attestation service returned %d", transfer.ErrProviderUnavailable, resp.StatusCode)
	}

	var ar attestationResponse
	err = json.NewDecoder(resp.Body).Decode(&ar)
	if err != nil {
		return nil, err
	}

	if ar.Status != "complete" {
		return &transfer.Attestation{Pending: true}, nil
	}

	att := &transfer.Attestation{
		Hash:    ar.MessageHash,
		Payload: ar.Attestation,
	}

	if ar.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, ar.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("invalid attestation expiry %q: %w", ar.ExpiresAt, err)
		}

		att.ExpiresAt = expiresAt
	}

	return att, nil
}
