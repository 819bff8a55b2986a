package signing

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/pkg/transfer"
)

// Delegate produces a signature for a pending operation. App-held key
// custody signs locally and synchronously; remote-enclave custody goes
// through a single-use challenge against the out-of-process signer and
// rotates the wallet's session credentials on success.
type Delegate struct {
	key    *ecdsa.PrivateKey
	signer transfer.RemoteSigner
	creds  *db.CredentialDB

	challengeTTL  time.Duration
	signerTimeout time.Duration
}

func NewDelegate(key *ecdsa.PrivateKey, signer transfer.RemoteSigner, creds *db.CredentialDB, challengeTTL, signerTimeout time.Duration) *Delegate {
	return &Delegate{
		key:           key,
		signer:        signer,
		creds:         creds,
		challengeTTL:  challengeTTL,
		signerTimeout: signerTimeout,
	}
}

// Digest computes the signed-message digest for a payload: keccak over the
// canonical JSON encoding, wrapped in the standard text hash.
func Digest(payload *transfer.SignedPayload) ([]byte, error) {
	b, err := json.Marshal(struct {
		RecordID string `json:"record_id"`
		Kind     string `json:"kind"`
		WalletID string `json:"wallet_id"`
		To       string `json:"to"`
		ChainID  int64  `json:"chain_id"`
		Amount   string `json:"amount"`
		Token    string `json:"token"`
	}{
		RecordID: payload.RecordID.String(),
		Kind:     string(payload.Kind),
		WalletID: payload.WalletID,
		To:       payload.To,
		ChainID:  payload.ChainID,
		Amount:   payload.Amount.String(),
		Token:    payload.Token,
	})
	if err != nil {
		return nil, err
	}

	hash := crypto.Keccak256(b)

	return accounts.TextHash(hash), nil
}

// Sign fills in the payload's digest and signature, branching on the
// wallet's custody type. On any failure nothing was persisted and the
// caller restarts from fee and eligibility resolution.
func (d *Delegate) Sign(ctx context.Context, w *transfer.Wallet, payload *transfer.SignedPayload) error {
	digest, err := Digest(payload)
	if err != nil {
		return err
	}

	payload.Digest = digest

	if w.Custody == transfer.CustodyUser {
		return d.signLocal(payload)
	}

	return d.signRemote(ctx, w, payload)
}

func (d *Delegate) signLocal(payload *transfer.SignedPayload) error {
	if d.key == nil {
		return fmt.Errorf("%w: no signing key configured", transfer.ErrSigningFailed)
	}

	sig, err := crypto.Sign(payload.Digest, d.key)
	if err != nil {
		return fmt.Errorf("%w: %s", transfer.ErrSigningFailed, err)
	}

	// Ensure the v value is 27 or 28, this is because of the way Ethereum signature recovery works
	if sig[crypto.RecoveryIDOffset] == 0 || sig[crypto.RecoveryIDOffset] == 1 {
		sig[crypto.RecoveryIDOffset] += 27
	}

	payload.Signature = sig

	return nil
}

func (d *Delegate) signRemote(ctx context.Context, w *transfer.Wallet, payload *transfer.SignedPayload) error {
	if d.signer == nil {
		return fmt.Errorf("%w: no remote signer configured", transfer.ErrSigningFailed)
	}

	creds, err := d.creds.GetCredentials(w.ID)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return fmt.Errorf("%w: no session credentials for wallet %s", transfer.ErrSigningFailed, w.ID)
		}

		return err
	}

	challenge := transfer.NewSigningChallenge(w.ID, payload.Digest, d.challengeTTL)

	// the round trip is bounded by the challenge expiry and the signer
	// timeout, whichever comes first
	deadline := challenge.ExpiresAt
	if d.signerTimeout > 0 {
		if t := time.Now().Add(d.signerTimeout); t.Before(deadline) {
			deadline = t
		}
	}

	sctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result, rerr := d.signer.ExecuteChallenge(sctx, *creds, challenge.ID, challenge.Digest)

	// the challenge is spent no matter how the round trip went
	cerr := challenge.Consume()
	if cerr != nil {
		return fmt.Errorf("%w: %s", transfer.ErrSigningFailed, cerr)
	}

	if rerr != nil {
		// unavailable or timed out, the caller may retry with a new challenge
		return fmt.Errorf("%w: %s", transfer.ErrSigningFailed, rerr)
	}

	switch result.Outcome {
	case transfer.ChallengeOutcomeDenied:
		return transfer.ErrSigningDenied
	case transfer.ChallengeOutcomeSuccess:
	default:
		return transfer.ErrSigningFailed
	}

	if result.NewCredentials != nil {
		// the old credentials are invalid from here on; the swap has to
		// land against the exact credentials the challenge ran with
		err = d.creds.Rotate(w.ID, creds, result.NewCredentials)
		if err != nil {
			return fmt.Errorf("%w: %s", transfer.ErrSigningFailed, err)
		}
	}

	payload.Signature = result.Signature

	return nil
}
