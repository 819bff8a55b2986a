package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/pocketpay/transferd/internal/fees"
	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/internal/signing"
	"github.com/pocketpay/transferd/internal/sponsor"
	"github.com/pocketpay/transferd/pkg/queue"
	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

// Service turns transfer intents into signed, submitted, tracked records.
// Validation and signing failures are returned synchronously and never
// persist anything; once a record exists every further outcome is a state
// transition.
type Service struct {
	chains   transfer.ChainTable
	engine   *fees.Engine
	delegate *signing.Delegate
	provider transfer.CustodyProvider
	db       *db.DB
	queue    *queue.Service
	wm       transfer.WebhookMessager
}

func NewService(chains transfer.ChainTable, engine *fees.Engine, delegate *signing.Delegate, provider transfer.CustodyProvider, d *db.DB, q *queue.Service, wm transfer.WebhookMessager) *Service {
	return &Service{
		chains:   chains,
		engine:   engine,
		delegate: delegate,
		provider: provider,
		db:       d,
		queue:    q,
		wm:       wm,
	}
}

// CreateRequest is a transfer intent as it arrives from the app.
type CreateRequest struct {
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`
	To       string `json:"to"`
	ChainID  int64  `json:"chain_id"`
	Amount   string `json:"amount"`
	Token    string `json:"token"`
	Mode     string `json:"mode"`
	FeeLevel string `json:"fee_level"`
}

// CreateBridgeRequest is a cross-chain transfer intent.
type CreateBridgeRequest struct {
	UserID        string `json:"user_id"`
	WalletID      string `json:"wallet_id"`
	To            string `json:"to"`
	SourceChainID int64  `json:"source_chain_id"`
	DestChainID   int64  `json:"dest_chain_id"`
	Amount        string `json:"amount"`
	Token         string `json:"token"`
	Speed         string `json:"speed"`
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, transfer.NewValidationError("invalid_amount", "cannot parse amount %q", s)
	}

	if !amount.IsPositive() {
		return decimal.Zero, transfer.NewValidationError("invalid_amount", "amount must be positive")
	}

	return amount, nil
}

// CreateTransfer validates the intent, resolves sponsorship, computes fees,
// obtains a signature, persists the record and hands it to the submission
// queue. The returned record is the caller's handle for getTransfer polling.
func (s *Service) CreateTransfer(ctx context.Context, req *CreateRequest) (*transfer.Transfer, error) {
	if req.UserID == "" || req.WalletID == "" || req.To == "" || req.Token == "" {
		return nil, transfer.NewValidationError("invalid_request", "user_id, wallet_id, to and token are required")
	}

	chain, ok := s.chains.Get(req.ChainID)
	if !ok {
		return nil, transfer.NewValidationError("unknown_chain", "chain %d is not supported", req.ChainID)
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	mode := transfer.ModeStandard
	if req.Mode != "" {
		mode, err = transfer.ModeFromString(req.Mode)
		if err != nil {
			return nil, transfer.NewValidationError("invalid_request", "%s", err)
		}
	}

	level := transfer.FeeLevelMedium
	if req.FeeLevel != "" {
		level, err = transfer.FeeLevelFromString(req.FeeLevel)
		if err != nil {
			return nil, transfer.NewValidationError("invalid_request", "%s", err)
		}
	}

	wallet, err := s.provider.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	// custody and account type can change between calls, so eligibility is
	// resolved fresh every time
	mode, err = sponsor.ResolveMode(mode, wallet, chain)
	if err != nil {
		return nil, err
	}

	// the engine tolerates a failed quote, it falls back to the chain default
	providerQuote, err := s.provider.EstimateFee(ctx, req.WalletID, req.To, amount, req.ChainID)
	if err != nil {
		log.Default().Println("fee estimate unavailable for chain", req.ChainID, ":", err)
		providerQuote = nil
	}

	quote, err := s.engine.Quote(amount, req.Token, req.ChainID, level, providerQuote)
	if err != nil {
		return nil, err
	}

	// checked once at admission; the chain enforces balance at execution
	err = s.checkBalance(ctx, req.WalletID, req.Token, req.ChainID, amount, quote, mode)
	if err != nil {
		return nil, err
	}

	t := transfer.NewTransfer(req.UserID, req.WalletID, req.To, req.ChainID, amount, req.Token, mode, level)
	t.ServiceFee = quote.ServiceFee
	t.NetworkFee = quote.NetworkFeeEstimate

	payload := &transfer.SignedPayload{
		RecordID: t.ID,
		Kind:     transfer.PayloadKindTransfer,
		WalletID: t.WalletID,
		To:       t.To,
		ChainID:  t.ChainID,
		Amount:   t.Amount,
		Token:    t.Token,
		Mode:     t.Mode,
		FeeLevel: t.FeeLevel,
	}

	err = s.delegate.Sign(ctx, wallet, payload)
	if err != nil {
		return nil, err
	}

	entry := &transfer.HistoryEntry{
		RecordID:  t.ID,
		Status:    transfer.StatusInitiated,
		Note:      "signature obtained",
		CreatedAt: t.CreatedAt,
	}

	err = s.db.TransferDB.AddTransfer(t, entry)
	if err != nil {
		return nil, err
	}

	s.queue.Enqueue(*transfer.NewSubmitMessage(payload))

	return t, nil
}

// CreateBridgeTransfer validates and admits a cross-chain transfer. The
// burn leg pays gas like a standard transfer on the source chain; the mint
// leg is driven later by the reconciler once the attestation is held.
func (s *Service) CreateBridgeTransfer(ctx context.Context, req *CreateBridgeRequest) (*transfer.BridgeTransfer, error) {
	if req.UserID == "" || req.WalletID == "" || req.To == "" || req.Token == "" {
		return nil, transfer.NewValidationError("invalid_request", "user_id, wallet_id, to and token are required")
	}

	_, ok := s.chains.Get(req.SourceChainID)
	if !ok {
		return nil, transfer.NewValidationError("unknown_chain", "chain %d is not supported", req.SourceChainID)
	}

	if _, ok := s.chains.Get(req.DestChainID); !ok {
		return nil, transfer.NewValidationError("unknown_chain", "chain %d is not supported", req.DestChainID)
	}

	if req.SourceChainID == req.DestChainID {
		return nil, transfer.NewValidationError("invalid_request", "source and destination chain must differ")
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	speed := transfer.SpeedStandard
	if req.Speed != "" {
		speed, err = transfer.SpeedFromString(req.Speed)
		if err != nil {
			return nil, transfer.NewValidationError("invalid_request", "%s", err)
		}
	}

	wallet, err := s.provider.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	providerQuote, err := s.provider.EstimateFee(ctx, req.WalletID, req.To, amount, req.SourceChainID)
	if err != nil {
		log.Default().Println("fee estimate unavailable for chain", req.SourceChainID, ":", err)
		providerQuote = nil
	}

	quote, err := s.engine.Quote(amount, req.Token, req.SourceChainID, transfer.FeeLevelMedium, providerQuote)
	if err != nil {
		return nil, err
	}

	err = s.checkBalance(ctx, req.WalletID, req.Token, req.SourceChainID, amount, quote, transfer.ModeStandard)
	if err != nil {
		return nil, err
	}

	b := transfer.NewBridgeTransfer(req.UserID, req.WalletID, req.To, req.SourceChainID, req.DestChainID, amount, req.Token, speed)
	b.ServiceFee = quote.ServiceFee
	b.NetworkFee = quote.NetworkFeeEstimate

	payload := &transfer.SignedPayload{
		RecordID: b.ID,
		Kind:     transfer.PayloadKindBurn,
		WalletID: b.WalletID,
		To:       b.To,
		ChainID:  b.SourceChainID,
		Amount:   b.Amount,
		Token:    b.Token,
		Mode:     transfer.ModeStandard,
		FeeLevel: transfer.FeeLevelMedium,
	}

	err = s.delegate.Sign(ctx, wallet, payload)
	if err != nil {
		return nil, err
	}

	entry := &transfer.HistoryEntry{
		RecordID:  b.ID,
		Status:    transfer.Status(transfer.BridgeStatusInitiated),
		Note:      "signature obtained",
		CreatedAt: b.CreatedAt,
	}

	err = s.db.BridgeDB.AddBridge(b, entry)
	if err != nil {
		return nil, err
	}

	s.queue.Enqueue(*transfer.NewSubmitMessage(payload))

	return b, nil
}

func (s *Service) checkBalance(ctx context.Context, walletID, token string, chainID int64, amount decimal.Decimal, quote *fees.Quote, mode transfer.Mode) error {
	balance, err := s.provider.BalanceOf(ctx, walletID, token, chainID)
	if err != nil {
		return err
	}

	required := amount.Add(quote.ServiceFee)
	if mode == transfer.ModeStandard {
		required = required.Add(quote.NetworkFeeEstimate)
	}

	if required.GreaterThan(balance) {
		return transfer.NewValidationError("insufficient_balance", "required %s %s exceeds available %s", required, token, balance)
	}

	return nil
}

// GetTransfer returns the current state and full history of a record.
func (s *Service) GetTransfer(id uuid.UUID) (*transfer.Transfer, []*transfer.HistoryEntry, error) {
	t, err := s.db.TransferDB.GetTransfer(id)
	if err != nil {
		return nil, nil, err
	}

	history, err := s.db.TransferDB.GetHistory(id)
	if err != nil {
		return nil, nil, err
	}

	return t, history, nil
}

// GetBridgeTransfer returns the current state and full history of a bridge
// record.
func (s *Service) GetBridgeTransfer(id uuid.UUID) (*transfer.BridgeTransfer, []*transfer.HistoryEntry, error) {
	b, err := s.db.BridgeDB.GetBridge(id)
	if err != nil {
		return nil, nil, err
	}

	history, err := s.db.BridgeDB.GetHistory(id)
	if err != nil {
		return nil, nil, err
	}

	return b, history, nil
}

// Accelerate resubmits a stuck transfer with a bumped fee level. The prior
// tx hash stays in history; the record returns to sent under the new hash.
func (s *Service) Accelerate(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	unlock := s.db.LockRecord(id.String())
	defer unlock()

	t, err := s.db.TransferDB.GetTransfer(id)
	if err != nil {
		return nil, err
	}

	if t.Status != transfer.StatusStuck {
		return nil, &transfer.InvalidTransitionError{From: t.Status, To: transfer.StatusSent}
	}

	// every local refusal has to happen before the provider call; a real
	// resubmission followed by a local error would leave the chain and the
	// record disagreeing
	if t.Accelerated {
		return nil, transfer.ErrAccelerationRepeat
	}

	bumped, err := t.FeeLevel.Bump()
	if err != nil {
		return nil, transfer.NewValidationError("fee_level_max", "%s", err)
	}

	sub, err := s.provider.Accelerate(ctx, t.ProviderID, bumped)
	if err != nil {
		return nil, err
	}

	entry, err := t.Accelerate(bumped, sub.TxHash)
	if err != nil {
		return nil, err
	}

	if sub.ProviderID != "" {
		t.ProviderID = sub.ProviderID
	}

	err = s.db.TransferDB.SaveTransfer(t, entry)
	if err != nil {
		return nil, err
	}

	s.wm.Notify(ctx, fmt.Sprintf("transfer %s accelerated to %s", t.ID, t.FeeLevel))

	return t, nil
}

// Cancel marks a transfer cancelled. Only possible before broadcast; once
// sent, the record has to resolve via normal confirmation or failure.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	unlock := s.db.LockRecord(id.String())
	defer unlock()

	t, err := s.db.TransferDB.GetTransfer(id)
	if err != nil {
		return nil, err
	}

	if t.Status != transfer.StatusInitiated && t.Status != transfer.StatusQueued {
		return nil, transfer.ErrCancelAfterSend
	}

	entry, err := t.Advance(transfer.StatusCancelled, "", transfer.CauseUserCancelled)
	if err != nil {
		return nil, err
	}

	err = s.db.TransferDB.SaveTransfer(t, entry)
	if err != nil {
		return nil, err
	}

	s.wm.Notify(ctx, fmt.Sprintf("transfer %s cancelled by user %s", t.ID, t.UserID))

	return t, nil
}

// CancelBridge marks a bridge transfer cancelled. Only possible while the
// burn has not been broadcast.
func (s *Service) CancelBridge(ctx context.Context, id uuid.UUID) (*transfer.BridgeTransfer, error) {
	unlock := s.db.LockRecord(id.String())
	defer unlock()

	b, err := s.db.BridgeDB.GetBridge(id)
	if err != nil {
		return nil, err
	}

	if b.Status != transfer.BridgeStatusInitiated {
		return nil, transfer.ErrCancelAfterSend
	}

	entry, err := b.Advance(transfer.BridgeStatusCancelled, "", transfer.CauseUserCancelled)
	if err != nil {
		return nil, err
	}

	err = s.db.BridgeDB.SaveBridge(b, entry)
	if err != nil {
		return nil, err
	}

	s.wm.Notify(ctx, fmt.Sprintf("bridge transfer %s cancelled by user %s", b.ID, b.UserID))

	return b, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, transfer.ErrNotFound)
}
