package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pocketpay/transferd/pkg/transfer"
)

// Client executes signing challenges against the remote enclave signer.
// One request per challenge; the signer answers with the outcome, and on
// success with the signature and the rotated session credentials.
type Client struct {
	baseURL string

	client *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type executeRequest struct {
	SessionKey   string `json:"session_key"`
	RefreshToken string `json:"refresh_token"`
	Digest       string `json:"digest"`
}

type executeResponse struct {
	Result          string `json:"result"`
	Signature       string `json:"signature"`
	NewSessionKey   string `json:"new_session_key"`
	NewRefreshToken string `json:"new_refresh_token"`
}

// ExecuteChallenge runs one challenge round trip. Transport failures and
// 5xx responses come back as ErrProviderUnavailable: the challenge is
// spent either way, but the caller may mint a new one and retry.
func (c *Client) ExecuteChallenge(ctx context.Context, creds transfer.SessionCredentials, challengeID uuid.UUID, digest []byte) (*transfer.ChallengeResult, error) {
	body, err := json.Marshal(executeRequest{
		SessionKey:   creds.SessionKey,
		RefreshToken: creds.RefreshToken,
		Digest:       hex.EncodeToString(digest),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/challenges/"+challengeID.String()+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", transfer.ErrProviderUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: signer returned %d", transfer.ErrProviderUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signer rejected challenge %s: %d", challengeID, resp.StatusCode)
	}

	var er executeResponse
	err = json.NewDecoder(resp.Body).Decode(&er)
	if err != nil {
		return nil, err
	}

	result := &transfer.ChallengeResult{}

	switch er.Result {
	case "success":
		result.Outcome = transfer.ChallengeOutcomeSuccess
	case "denied":
		result.Outcome = transfer.ChallengeOutcomeDenied
	default:
		result.Outcome = transfer.ChallengeOutcomeFailed
	}

	if er.Signature != "" {
		sig, err := hex.DecodeString(er.Signature)
		if err != nil {
			return nil, err
		}

		result.Signature = sig
	}

	if er.NewSessionKey != "" {
		result.NewCredentials = &transfer.SessionCredentials{
			SessionKey:   er.NewSessionKey,
			RefreshToken: er.NewRefreshToken,
		}
	}

	return result, nil
}
