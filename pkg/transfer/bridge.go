package transfer

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BridgeStatus string

const (
	BridgeStatusUnknown             BridgeStatus = ""
	BridgeStatusInitiated           BridgeStatus = "initiated"
	BridgeStatusBurnPending         BridgeStatus = "burn_pending"
	BridgeStatusBurnConfirmed       BridgeStatus = "burn_confirmed"
	BridgeStatusAttestationPending  BridgeStatus = "attestation_pending"
	BridgeStatusAttestationReceived BridgeStatus = "attestation_received"
	BridgeStatusMintPending         BridgeStatus = "mint_pending"
	BridgeStatusComplete            BridgeStatus = "complete"
	BridgeStatusFailed              BridgeStatus = "failed"
	BridgeStatusCancelled           BridgeStatus = "cancelled"
)

func BridgeStatusFromString(s string) (BridgeStatus, error) {
	switch BridgeStatus(s) {
	case BridgeStatusInitiated, BridgeStatusBurnPending, BridgeStatusBurnConfirmed,
		BridgeStatusAttestationPending, BridgeStatusAttestationReceived,
		BridgeStatusMintPending, BridgeStatusComplete, BridgeStatusFailed,
		BridgeStatusCancelled:
		return BridgeStatus(s), nil
	}

	return BridgeStatusUnknown, errors.New("unknown bridge status: " + s)
}

func (s BridgeStatus) IsTerminal() bool {
	switch s {
	case BridgeStatusComplete, BridgeStatusFailed, BridgeStatusCancelled:
		return true
	}

	return false
}

var bridgeRank = map[BridgeStatus]int{
	BridgeStatusInitiated:           0,
	BridgeStatusBurnPending:         1,
	BridgeStatusBurnConfirmed:       2,
	BridgeStatusAttestationPending:  3,
	BridgeStatusAttestationReceived: 4,
	BridgeStatusMintPending:         5,
	BridgeStatusComplete:            6,
}

// CanBridgeTransition validates a state change against the bridge transition
// table. Unlike the single-chain path, the bridge path never skips states:
// every leg is driven by the reconciler one hop at a time, so only adjacent
// forward steps are legal.
func CanBridgeTransition(from, to BridgeStatus) bool {
	if from.IsTerminal() || from == to {
		return false
	}

	switch to {
	case BridgeStatusCancelled:
		// only before the burn is broadcast
		return from == BridgeStatusInitiated
	case BridgeStatusFailed:
		return true
	}

	fr, onPathFrom := bridgeRank[from]
	tr, onPathTo := bridgeRank[to]

	return onPathFrom && onPathTo && tr == fr+1
}

type Speed string

const (
	SpeedFast     Speed = "fast"
	SpeedStandard Speed = "standard"
)

func SpeedFromString(s string) (Speed, error) {
	switch Speed(s) {
	case SpeedFast, SpeedStandard:
		return Speed(s), nil
	}

	return "", errors.New("unknown transfer speed: " + s)
}

// BridgeTransfer moves a token across chains via burn, attest and mint.
type BridgeTransfer struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	WalletID string    `json:"wallet_id"`
	To       string    `json:"to"`

	SourceChainID int64 `json:"source_chain_id"`
	DestChainID   int64 `json:"dest_chain_id"`

	Amount     decimal.Decimal `json:"amount"`
	Token      string          `json:"token"`
	ServiceFee decimal.Decimal `json:"service_fee"`
	NetworkFee decimal.Decimal `json:"network_fee"`

	Speed  Speed        `json:"speed"`
	Status BridgeStatus `json:"status"`

	BurnProviderID string `json:"burn_provider_id,omitempty"`
	MintProviderID string `json:"mint_provider_id,omitempty"`

	BurnTxHash      string `json:"burn_tx_hash,omitempty"`
	MintTxHash      string `json:"mint_tx_hash,omitempty"`
	AttestationHash string `json:"attestation_hash,omitempty"`

	// Attestation is the certified burn payload handed to the mint leg,
	// held only between attestation receipt and mint submission.
	Attestation          string     `json:"-"`
	AttestationExpiresAt *time.Time `json:"attestation_expires_at,omitempty"`

	Reason string `json:"reason,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastPolledAt   time.Time  `json:"last_polled_at"`
	LastProgressAt time.Time  `json:"last_progress_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func NewBridgeTransfer(userID, walletID, to string, sourceChainID, destChainID int64, amount decimal.Decimal, token string, speed Speed) *BridgeTransfer {
	now := time.Now().UTC()

	return &BridgeTransfer{
		ID:             uuid.New(),
		UserID:         userID,
		WalletID:       walletID,
		To:             to,
		SourceChainID:  sourceChainID,
		DestChainID:    destChainID,
		Amount:         amount,
		Token:          token,
		Speed:          speed,
		Status:         BridgeStatusInitiated,
		CreatedAt:      now,
		LastProgressAt: now,
	}
}

// Advance applies a validated bridge transition and returns the history
// entry to be appended. The record is untouched on an illegal transition.
func (b *BridgeTransfer) Advance(to BridgeStatus, txHash, note string) (*HistoryEntry, error) {
	if !CanBridgeTransition(b.Status, to) {
		return nil, &InvalidTransitionError{BridgeFrom: b.Status, BridgeTo: to, Bridge: true}
	}

	now := time.Now().UTC()

	b.Status = to
	b.LastProgressAt = now
	if to.IsTerminal() {
		b.CompletedAt = &now
		if note != "" {
			b.Reason = note
		}
	}

	return &HistoryEntry{
		RecordID:  b.ID,
		Status:    Status(to),
		TxHash:    txHash,
		Note:      note,
		CreatedAt: now,
	}, nil
}

// HoldAttestation stores a validated attestation ahead of mint submission.
// An already expired attestation is refused.
func (b *BridgeTransfer) HoldAttestation(a *Attestation) error {
	if a.Pending {
		return errors.New("attestation is still pending")
	}

	if !a.ExpiresAt.IsZero() && a.ExpiresAt.Before(time.Now()) {
		return ErrAttestationExpired
	}

	b.Attestation = a.Payload
	b.AttestationHash = a.Hash
	if !a.ExpiresAt.IsZero() {
		exp := a.ExpiresAt
		b.AttestationExpiresAt = &exp
	}

	return nil
}

// AttestationUsable reports whether a held attestation is still valid for
// mint submission.
func (b *BridgeTransfer) AttestationUsable() bool {
	if b.Attestation == "" {
		return false
	}

	if b.AttestationExpiresAt != nil && b.AttestationExpiresAt.Before(time.Now()) {
		return false
	}

	return true
}
