package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CustodyType string

const (
	CustodyUser      CustodyType = "user"
	CustodyDeveloper CustodyType = "developer"
)

type AccountType string

const (
	AccountSmartContract AccountType = "sca"
	AccountSimple        AccountType = "simple"
)

// Wallet is the provider's view of a custody wallet. Custody and account
// type can change between calls, so it is fetched fresh on every request.
type Wallet struct {
	ID       string      `json:"id"`
	Address  string      `json:"address"`
	Custody  CustodyType `json:"custody"`
	Account  AccountType `json:"account"`
	Modular  bool        `json:"modular"`
	Deployed bool        `json:"deployed"`
}

// Chain is one row of the chain table: identity plus sponsorship metadata
// and the knobs the fee engine and stuck detector need.
type Chain struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Label     string `json:"label"`
	Sponsored bool   `json:"sponsored"`

	// DefaultFee caps the network fee estimate when no usable quote exists.
	DefaultFee decimal.Decimal `json:"default_fee"`

	// StalenessSeconds bounds how long a submitted transfer may sit without
	// forward progress before it is flagged stuck.
	StalenessSeconds int64 `json:"staleness_seconds"`
}

func (c Chain) StalenessTimeout() time.Duration {
	return time.Duration(c.StalenessSeconds) * time.Second
}

type ChainTable map[int64]Chain

func (ct ChainTable) Get(id int64) (Chain, bool) {
	c, ok := ct[id]
	return c, ok
}

// ProviderStatus is the provider's authoritative view of a submission.
type ProviderStatus string

const (
	ProviderStatusQueued    ProviderStatus = "queued"
	ProviderStatusCleared   ProviderStatus = "cleared"
	ProviderStatusSent      ProviderStatus = "sent"
	ProviderStatusConfirmed ProviderStatus = "confirmed"
	ProviderStatusComplete  ProviderStatus = "complete"
	ProviderStatusFailed    ProviderStatus = "failed"
	ProviderStatusCancelled ProviderStatus = "cancelled"
	ProviderStatusDenied    ProviderStatus = "denied"
)

// StatusFromProvider maps a provider status onto the local state enum.
// Unknown provider statuses map to StatusUnknown and are treated as no-ops
// by the reconciler.
func StatusFromProvider(ps ProviderStatus) Status {
	switch ps {
	case ProviderStatusQueued:
		return StatusQueued
	case ProviderStatusCleared:
		return StatusCleared
	case ProviderStatusSent:
		return StatusSent
	case ProviderStatusConfirmed:
		return StatusConfirmed
	case ProviderStatusComplete:
		return StatusComplete
	case ProviderStatusFailed:
		return StatusFailed
	case ProviderStatusCancelled:
		return StatusCancelled
	case ProviderStatusDenied:
		return StatusDenied
	}

	return StatusUnknown
}

// StatusResult is one authoritative status read for a submission.
type StatusResult struct {
	Status ProviderStatus `json:"status"`
	TxHash string         `json:"tx_hash,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// FeeQuote is the provider's per-level network fee quote in token units.
type FeeQuote struct {
	Low      decimal.Decimal `json:"low"`
	Medium   decimal.Decimal `json:"medium"`
	High     decimal.Decimal `json:"high"`
	QuotedAt time.Time       `json:"quoted_at"`
}

func (q *FeeQuote) Level(l FeeLevel) decimal.Decimal {
	switch l {
	case FeeLevelLow:
		return q.Low
	case FeeLevelHigh:
		return q.High
	}

	return q.Medium
}

// Ordered reports whether the quote respects high >= medium >= low.
func (q *FeeQuote) Ordered() bool {
	return q.High.GreaterThanOrEqual(q.Medium) && q.Medium.GreaterThanOrEqual(q.Low)
}

type PayloadKind string

const (
	PayloadKindTransfer PayloadKind = "transfer"
	PayloadKindBurn     PayloadKind = "burn"
	PayloadKindMint     PayloadKind = "mint"
)

// SignedPayload is the signed unit of work handed to the submission layer.
type SignedPayload struct {
	RecordID uuid.UUID       `json:"record_id"`
	Kind     PayloadKind     `json:"kind"`
	WalletID string          `json:"wallet_id"`
	To       string          `json:"to"`
	ChainID  int64           `json:"chain_id"`
	Amount   decimal.Decimal `json:"amount"`
	Token    string          `json:"token"`
	Mode     Mode            `json:"mode"`
	FeeLevel FeeLevel        `json:"fee_level"`

	// Attestation accompanies mint submissions only.
	Attestation string `json:"attestation,omitempty"`

	Digest    []byte `json:"digest,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// Submission is the provider's acknowledgement of a submitted payload.
type Submission struct {
	ProviderID string `json:"provider_id"`
	TxHash     string `json:"tx_hash,omitempty"`
}

// CustodyProvider is the custody/chain collaborator. All methods that can
// touch the network take a context and may return ErrProviderUnavailable
// on transient failure.
type CustodyProvider interface {
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)
	BalanceOf(ctx context.Context, walletID, token string, chainID int64) (decimal.Decimal, error)
	EstimateFee(ctx context.Context, walletID, to string, amount decimal.Decimal, chainID int64) (*FeeQuote, error)
	SubmitTransfer(ctx context.Context, payload *SignedPayload) (*Submission, error)
	GetStatus(ctx context.Context, providerID string) (*StatusResult, error)
	Accelerate(ctx context.Context, providerID string, level FeeLevel) (*Submission, error)
}

// Attestation certifies a confirmed burn for minting on the destination
// chain. Pending means the attestation service has not certified it yet.
type Attestation struct {
	Hash      string    `json:"hash"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
	Pending   bool      `json:"pending"`
}

// AttestationService certifies confirmed burns, keyed by burn tx hash.
type AttestationService interface {
	GetAttestation(ctx context.Context, burnTxHash string) (*Attestation, error)
}

type ChallengeOutcome string

const (
	ChallengeOutcomeSuccess ChallengeOutcome = "success"
	ChallengeOutcomeDenied  ChallengeOutcome = "denied"
	ChallengeOutcomeFailed  ChallengeOutcome = "failed"
)

// ChallengeResult is the remote signer's answer to an executed challenge.
// On success the signer hands back rotated session credentials; the old
// ones are invalid from that point on.
type ChallengeResult struct {
	Outcome        ChallengeOutcome    `json:"outcome"`
	Signature      []byte              `json:"signature,omitempty"`
	NewCredentials *SessionCredentials `json:"new_credentials,omitempty"`
}

// RemoteSigner is the out-of-process enclave signer.
type RemoteSigner interface {
	ExecuteChallenge(ctx context.Context, creds SessionCredentials, challengeID uuid.UUID, digest []byte) (*ChallengeResult, error)
}

// WebhookMessager notifies an operations channel. Failures are logged and
// never roll anything back.
type WebhookMessager interface {
	Notify(ctx context.Context, message string) error
	NotifyWarning(ctx context.Context, err error) error
	NotifyError(ctx context.Context, err error) error
}
