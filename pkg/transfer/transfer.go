package transfer

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusUnknown   Status = ""
	StatusInitiated Status = "initiated"
	StatusQueued    Status = "queued"
	StatusCleared   Status = "cleared"
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusDenied    Status = "denied"
	StatusStuck     Status = "stuck"
)

func StatusFromString(s string) (Status, error) {
	switch Status(s) {
	case StatusInitiated, StatusQueued, StatusCleared, StatusSent, StatusConfirmed,
		StatusComplete, StatusFailed, StatusCancelled, StatusDenied, StatusStuck:
		return Status(s), nil
	}

	return StatusUnknown, errors.New("unknown transfer status: " + s)
}

// IsTerminal reports whether a record in this status can never move again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled, StatusDenied:
		return true
	}

	return false
}

// rank orders the happy path so that forward-only checks stay cheap.
// Off-path statuses have no rank.
var rank = map[Status]int{
	StatusInitiated: 0,
	StatusQueued:    1,
	StatusCleared:   2,
	StatusSent:      3,
	StatusConfirmed: 4,
	StatusComplete:  5,
}

// CanTransition validates a single state change against the transfer
// transition table. The happy path is monotonic forward (a provider may
// report a later status than the last one we saw, so skips along the path
// are legal). Cancellation is only possible before broadcast. Stuck is
// only reachable from queued/sent and resolves forward or via acceleration.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || from == to {
		return false
	}

	fr, onPathFrom := rank[from]
	tr, onPathTo := rank[to]

	switch to {
	case StatusCancelled:
		return from == StatusInitiated || from == StatusQueued
	case StatusDenied:
		// upstream policy denial, only before broadcast
		return from == StatusInitiated || from == StatusQueued || from == StatusCleared
	case StatusFailed:
		return true
	case StatusStuck:
		return from == StatusQueued || from == StatusSent
	}

	if from == StatusStuck {
		// acceleration resubmits, or the original tx resolves on its own
		return to == StatusSent || to == StatusConfirmed || to == StatusComplete
	}

	return onPathFrom && onPathTo && tr > fr
}

type Mode string

const (
	ModeStandard  Mode = "standard"
	ModeSponsored Mode = "sponsored"
)

func ModeFromString(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStandard, ModeSponsored:
		return Mode(s), nil
	}

	return "", errors.New("unknown transfer mode: " + s)
}

type FeeLevel string

const (
	FeeLevelLow    FeeLevel = "low"
	FeeLevelMedium FeeLevel = "medium"
	FeeLevelHigh   FeeLevel = "high"
)

var feeLevelRank = map[FeeLevel]int{
	FeeLevelLow:    0,
	FeeLevelMedium: 1,
	FeeLevelHigh:   2,
}

func FeeLevelFromString(s string) (FeeLevel, error) {
	switch FeeLevel(s) {
	case FeeLevelLow, FeeLevelMedium, FeeLevelHigh:
		return FeeLevel(s), nil
	}

	return "", errors.New("unknown fee level: " + s)
}

// Bump returns the next fee level up. There is nothing above high.
func (l FeeLevel) Bump() (FeeLevel, error) {
	switch l {
	case FeeLevelLow:
		return FeeLevelMedium, nil
	case FeeLevelMedium:
		return FeeLevelHigh, nil
	}

	return l, errors.New("fee level cannot be bumped above high")
}

// Less reports whether l is a strictly lower tier than other.
func (l FeeLevel) Less(other FeeLevel) bool {
	return feeLevelRank[l] < feeLevelRank[other]
}

// Transfer is one user-initiated movement of value on a single chain.
type Transfer struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	WalletID string    `json:"wallet_id"`
	To       string    `json:"to"`
	ChainID  int64     `json:"chain_id"`

	Amount     decimal.Decimal `json:"amount"`
	Token      string          `json:"token"`
	ServiceFee decimal.Decimal `json:"service_fee"`
	NetworkFee decimal.Decimal `json:"network_fee"`

	Mode     Mode     `json:"mode"`
	FeeLevel FeeLevel `json:"fee_level"`
	Status   Status   `json:"status"`

	// ProviderID keys status polls at the custody provider, set at submission.
	ProviderID string `json:"provider_id,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// Accelerated guards the single allowed fee-bump resubmission.
	Accelerated bool `json:"accelerated"`

	CreatedAt      time.Time  `json:"created_at"`
	LastPolledAt   time.Time  `json:"last_polled_at"`
	LastProgressAt time.Time  `json:"last_progress_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// HistoryEntry is one append-only audit row recorded on every transition.
type HistoryEntry struct {
	RecordID  uuid.UUID `json:"record_id"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewTransfer(userID, walletID, to string, chainID int64, amount decimal.Decimal, token string, mode Mode, level FeeLevel) *Transfer {
	now := time.Now().UTC()

	return &Transfer{
		ID:             uuid.New(),
		UserID:         userID,
		WalletID:       walletID,
		To:             to,
		ChainID:        chainID,
		Amount:         amount,
		Token:          token,
		Mode:           mode,
		FeeLevel:       level,
		Status:         StatusInitiated,
		CreatedAt:      now,
		LastProgressAt: now,
	}
}

// Advance applies a validated transition and returns the history entry to
// be appended. The record is left untouched when the transition is illegal.
func (t *Transfer) Advance(to Status, txHash, note string) (*HistoryEntry, error) {
	if !CanTransition(t.Status, to) {
		return nil, &InvalidTransitionError{From: t.Status, To: to}
	}

	now := time.Now().UTC()

	t.Status = to
	t.LastProgressAt = now
	if txHash != "" {
		t.TxHash = txHash
	}
	if note != "" && to.IsTerminal() {
		t.Reason = note
	}
	if to.IsTerminal() {
		t.CompletedAt = &now
	}

	return &HistoryEntry{
		RecordID:  t.ID,
		Status:    to,
		TxHash:    t.TxHash,
		Note:      note,
		CreatedAt: now,
	}, nil
}

// Accelerate resubmits a stuck transfer under a strictly higher fee level
// with the replacement tx hash the provider returned. The prior hash stays
// in history for traceability. Valid only while stuck, and only once.
func (t *Transfer) Accelerate(level FeeLevel, newTxHash string) (*HistoryEntry, error) {
	if t.Status != StatusStuck {
		return nil, &InvalidTransitionError{From: t.Status, To: StatusSent}
	}

	if t.Accelerated {
		return nil, ErrAccelerationRepeat
	}

	if !t.FeeLevel.Less(level) {
		return nil, errors.New("acceleration requires a strictly higher fee level")
	}

	entry, err := t.Advance(StatusSent, newTxHash, "accelerated from "+string(t.FeeLevel)+" to "+string(level))
	if err != nil {
		return nil, err
	}

	t.FeeLevel = level
	t.Accelerated = true

	return entry, nil
}
