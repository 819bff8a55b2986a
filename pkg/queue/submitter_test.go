package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	submission  *transfer.Submission
	submitErr   error
	submitCalls int
}

func (f *fakeProvider) GetWallet(ctx context.Context, walletID string) (*transfer.Wallet, error) {
	return nil, transfer.ErrNotFound
}

func (f *fakeProvider) BalanceOf(ctx context.Context, walletID, token string, chainID int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeProvider) EstimateFee(ctx context.Context, walletID, to string, amount decimal.Decimal, chainID int64) (*transfer.FeeQuote, error) {
	return nil, transfer.ErrProviderUnavailable
}

func (f *fakeProvider) SubmitTransfer(ctx context.Context, payload *transfer.SignedPayload) (*transfer.Submission, error) {
	f.submitCalls++

	if f.submitErr != nil {
		return nil, f.submitErr
	}

	return f.submission, nil
}

func (f *fakeProvider) GetStatus(ctx context.Context, providerID string) (*transfer.StatusResult, error) {
	return nil, transfer.ErrProviderUnavailable
}

func (f *fakeProvider) Accelerate(ctx context.Context, providerID string, level transfer.FeeLevel) (*transfer.Submission, error) {
	return nil, transfer.ErrProviderUnavailable
}

func testDB(t *testing.T) *db.DB {
	t.Helper()

	d, err := db.NewDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		d.Close()
	})

	return d
}

func seedTransfer(t *testing.T, d *db.DB) (*transfer.Transfer, *transfer.SignedPayload) {
	t.Helper()

	tr := transfer.NewTransfer("user-1", "wallet-1", "0xdeadbeef", 137, decimal.NewFromInt(100), "USDC", transfer.ModeStandard, transfer.FeeLevelMedium)

	if err := d.TransferDB.AddTransfer(tr, nil); err != nil {
		t.Fatal(err)
	}

	payload := &transfer.SignedPayload{
		RecordID: tr.ID,
		Kind:     transfer.PayloadKindTransfer,
		WalletID: tr.WalletID,
		To:       tr.To,
		ChainID:  tr.ChainID,
		Amount:   tr.Amount,
		Token:    tr.Token,
	}

	return tr, payload
}

func TestSubmitTransfer(t *testing.T) {
	t.Run("queues the record and stores the submission", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submission: &transfer.Submission{ProviderID: "prov-1", TxHash: "0xabc"}}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 3)

		tr, payload := seedTransfer(t, d)

		err := s.Process(*transfer.NewSubmitMessage(payload))
		if err != nil {
			t.Fatal(err)
		}

		got, err := d.TransferDB.GetTransfer(tr.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.Status != transfer.StatusQueued {
			t.Fatalf("status = %s, want queued", got.Status)
		}

		if got.ProviderID != "prov-1" || got.TxHash != "0xabc" {
			t.Fatalf("submission not stored: %s %s", got.ProviderID, got.TxHash)
		}
	})

	t.Run("transient failure bubbles up for retry", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submitErr: transfer.ErrProviderUnavailable}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 3)

		tr, payload := seedTransfer(t, d)

		err := s.Process(*transfer.NewSubmitMessage(payload))
		if !errors.Is(err, transfer.ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable, got %v", err)
		}

		// a retried message does not re-queue the record
		got, err := d.TransferDB.GetTransfer(tr.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.Status != transfer.StatusQueued {
			t.Fatalf("status = %s, want queued", got.Status)
		}

		provider.submitErr = nil
		provider.submission = &transfer.Submission{ProviderID: "prov-1"}

		if err := s.Process(*transfer.NewSubmitMessage(payload)); err != nil {
			t.Fatal(err)
		}

		history, err := d.TransferDB.GetHistory(tr.ID)
		if err != nil {
			t.Fatal(err)
		}

		if len(history) != 1 {
			t.Fatalf("history has %d entries, want 1", len(history))
		}
	})

	t.Run("cancelled while queued is never broadcast", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submission: &transfer.Submission{ProviderID: "prov-1"}}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 3)

		tr, payload := seedTransfer(t, d)

		entry, err := tr.Advance(transfer.StatusCancelled, "", transfer.CauseUserCancelled)
		if err != nil {
			t.Fatal(err)
		}

		if err := d.TransferDB.SaveTransfer(tr, entry); err != nil {
			t.Fatal(err)
		}

		if err := s.Process(*transfer.NewSubmitMessage(payload)); err != nil {
			t.Fatal(err)
		}

		if provider.submitCalls != 0 {
			t.Fatalf("cancelled transfer submitted %d times, want 0", provider.submitCalls)
		}

		got, err := d.TransferDB.GetTransfer(tr.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.Status != transfer.StatusCancelled {
			t.Fatalf("status = %s, want cancelled", got.Status)
		}
	})

	t.Run("exhausted transient failures fail the record", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submitErr: transfer.ErrProviderUnavailable}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 2)

		tr, payload := seedTransfer(t, d)

		// the last allowed attempt must not strand the record queued
		msg := transfer.NewSubmitMessage(payload)
		msg.RetryCount = 2

		if err := s.Process(*msg); err != nil {
			t.Fatal(err)
		}

		got, err := d.TransferDB.GetTransfer(tr.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.Status != transfer.StatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}

		if got.Reason != transfer.CauseSubmitFailed {
			t.Fatalf("reason = %s, want %s", got.Reason, transfer.CauseSubmitFailed)
		}

		if wm.errCount() != 1 {
			t.Fatalf("got %d error notifications, want 1", wm.errCount())
		}
	})

	t.Run("permanent failure fails the record", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submitErr: errors.New("rejected by policy")}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 3)

		tr, payload := seedTransfer(t, d)

		err := s.Process(*transfer.NewSubmitMessage(payload))
		if err != nil {
			t.Fatal(err)
		}

		got, err := d.TransferDB.GetTransfer(tr.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.Status != transfer.StatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}

		if got.Reason != transfer.CauseSubmitFailed {
			t.Fatalf("reason = %s, want %s", got.Reason, transfer.CauseSubmitFailed)
		}

		if wm.errCount() != 1 {
			t.Fatalf("got %d error notifications, want 1", wm.errCount())
		}
	})
}

func TestSubmitBurn(t *testing.T) {
	seedBridge := func(t *testing.T, d *db.DB) (*transfer.BridgeTransfer, *transfer.SignedPayload) {
		t.Helper()

		b := transfer.NewBridgeTransfer("user-1", "wallet-1", "0xdeadbeef", 1, 137, decimal.NewFromInt(50), "USDC", transfer.SpeedStandard)

		if err := d.BridgeDB.AddBridge(b, nil); err != nil {
			t.Fatal(err)
		}

		payload := &transfer.SignedPayload{
			RecordID: b.ID,
			Kind:     transfer.PayloadKindBurn,
			WalletID: b.WalletID,
			To:       b.To,
			ChainID:  b.SourceChainID,
			Amount:   b.Amount,
			Token:    b.Token,
		}

		return b, payload
	}

	t.Run("submits the burn and advances to burn_pending", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submission: &transfer.Submission{ProviderID: "burn-1", TxHash: "0xburn"}}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 3)

		b, payload := seedBridge(t, d)

		err := s.Process(*transfer.NewSubmitMessage(payload))
		if err != nil {
			t.Fatal(err)
		}

		got, err := d.BridgeDB.GetBridge(b.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.Status != transfer.BridgeStatusBurnPending {
			t.Fatalf("status = %s, want burn_pending", got.Status)
		}

		if got.BurnProviderID != "burn-1" || got.BurnTxHash != "0xburn" {
			t.Fatalf("burn leg not stored: %s %s", got.BurnProviderID, got.BurnTxHash)
		}

		// a duplicate delivery is a no-op
		if err := s.Process(*transfer.NewSubmitMessage(payload)); err != nil {
			t.Fatal(err)
		}

		if provider.submitCalls != 1 {
			t.Fatalf("burn submitted %d times, want 1", provider.submitCalls)
		}
	})

	t.Run("cancelled bridge is never broadcast", func(t *testing.T) {
		d := testDB(t)
		provider := &fakeProvider{submission: &transfer.Submission{ProviderID: "burn-1"}}
		wm := &recordingMessager{}

		s := NewSubmitter(context.Background(), d, provider, wm, 3)

		b, payload := seedBridge(t, d)

		entry, err := b.Advance(transfer.BridgeStatusCancelled, "", transfer.CauseUserCancelled)
		if err != nil {
			t.Fatal(err)
		}

		if err := d.BridgeDB.SaveBridge(b, entry); err != nil {
			t.Fatal(err)
		}

		if err := s.Process(*transfer.NewSubmitMessage(payload)); err != nil {
			t.Fatal(err)
		}

		if provider.submitCalls != 0 {
			t.Fatalf("cancelled bridge submitted %d times, want 0", provider.submitCalls)
		}
	})
}
