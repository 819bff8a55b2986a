package transfer

import (
	"time"

	"github.com/google/uuid"
)

// SessionCredentials are the rotating per-wallet credentials the remote
// enclave signer requires. Every successful challenge rotates them.
type SessionCredentials struct {
	SessionKey   string `json:"session_key"`
	RefreshToken string `json:"refresh_token"`
}

// SigningChallenge is a single-use artifact representing one pending
// out-of-process signature request. It is never persisted: it lives for
// one signer round trip and is discarded regardless of outcome.
type SigningChallenge struct {
	ID        uuid.UUID
	WalletID  string
	Digest    []byte
	ExpiresAt time.Time

	consumed bool
}

func NewSigningChallenge(walletID string, digest []byte, ttl time.Duration) *SigningChallenge {
	return &SigningChallenge{
		ID:        uuid.New(),
		WalletID:  walletID,
		Digest:    digest,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// Consume marks the challenge spent. A consumed or expired challenge can
// never be submitted again; mint a new one instead.
func (c *SigningChallenge) Consume() error {
	if c.consumed {
		return ErrChallengeConsumed
	}

	c.consumed = true

	if time.Now().After(c.ExpiresAt) {
		return ErrChallengeExpired
	}

	return nil
}

func (c *SigningChallenge) Consumed() bool {
	return c.consumed
}
