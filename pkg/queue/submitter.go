package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/pkg/transfer"
)

// Submitter hands signed payloads to the custody provider and records the
// resulting state. Transient provider failures return an error so that the
// queue retries; on the final attempt, and on any other failure, the record
// is failed so that the audit trail is complete.
type Submitter struct {
	ctx      context.Context
	db       *db.DB
	provider transfer.CustodyProvider
	wm       transfer.WebhookMessager

	maxRetries int
}

func NewSubmitter(ctx context.Context, d *db.DB, provider transfer.CustodyProvider, wm transfer.WebhookMessager, maxRetries int) *Submitter {
	return &Submitter{
		ctx:        ctx,
		db:         d,
		provider:   provider,
		wm:         wm,
		maxRetries: maxRetries,
	}
}

// Process implements Processor for submit messages.
func (s *Submitter) Process(message transfer.Message) error {
	sm, ok := message.Message.(transfer.SubmitMessage)
	if !ok {
		return fmt.Errorf("invalid submit message: %s", message.ID)
	}

	switch sm.Payload.Kind {
	case transfer.PayloadKindTransfer:
		return s.submitTransfer(sm.Payload, message.RetryCount)
	case transfer.PayloadKindBurn:
		return s.submitBurn(sm.Payload, message.RetryCount)
	}

	return fmt.Errorf("unsupported payload kind: %s", sm.Payload.Kind)
}

func (s *Submitter) submitTransfer(payload *transfer.SignedPayload, retryCount int) error {
	unlock := s.db.LockRecord(payload.RecordID.String())
	defer unlock()

	t, err := s.db.TransferDB.GetTransfer(payload.RecordID)
	if err != nil {
		return err
	}

	// the record may have been cancelled or otherwise resolved while the
	// message sat in the queue, in which case it must never be broadcast
	if t.Status != transfer.StatusInitiated && t.Status != transfer.StatusQueued {
		return nil
	}

	// a retried message may find the record already queued
	if t.Status == transfer.StatusInitiated {
		entry, err := t.Advance(transfer.StatusQueued, "", "accepted for submission")
		if err != nil {
			return err
		}

		err = s.db.TransferDB.SaveTransfer(t, entry)
		if err != nil {
			return err
		}
	}

	sub, err := s.provider.SubmitTransfer(s.ctx, payload)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) && retryCount < s.maxRetries {
			// transient, let the queue retry
			return err
		}

		// permanent, or the last allowed attempt: fail the record so it
		// does not sit queued with no provider id forever
		entry, terr := t.Advance(transfer.StatusFailed, "", transfer.CauseSubmitFailed)
		if terr != nil {
			return terr
		}

		serr := s.db.TransferDB.SaveTransfer(t, entry)
		if serr != nil {
			return serr
		}

		s.wm.NotifyError(s.ctx, fmt.Errorf("transfer %s failed at submission: %s", t.ID, err))

		return nil
	}

	t.ProviderID = sub.ProviderID
	if sub.TxHash != "" {
		t.TxHash = sub.TxHash
	}

	return s.db.TransferDB.SaveTransfer(t, nil)
}

func (s *Submitter) submitBurn(payload *transfer.SignedPayload, retryCount int) error {
	unlock := s.db.LockRecord(payload.RecordID.String())
	defer unlock()

	b, err := s.db.BridgeDB.GetBridge(payload.RecordID)
	if err != nil {
		return err
	}

	if b.Status != transfer.BridgeStatusInitiated {
		// cancelled, or a retried message after a successful submission
		return nil
	}

	sub, err := s.provider.SubmitTransfer(s.ctx, payload)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) && retryCount < s.maxRetries {
			return err
		}

		entry, terr := b.Advance(transfer.BridgeStatusFailed, "", transfer.CauseSubmitFailed)
		if terr != nil {
			return terr
		}

		serr := s.db.BridgeDB.SaveBridge(b, entry)
		if serr != nil {
			return serr
		}

		s.wm.NotifyError(s.ctx, fmt.Errorf("bridge %s failed at burn submission: %s", b.ID, err))

		return nil
	}

	b.BurnProviderID = sub.ProviderID
	if sub.TxHash != "" {
		b.BurnTxHash = sub.TxHash
	}

	entry, err := b.Advance(transfer.BridgeStatusBurnPending, sub.TxHash, "burn submitted")
	if err != nil {
		return err
	}

	return s.db.BridgeDB.SaveBridge(b, entry)
}
