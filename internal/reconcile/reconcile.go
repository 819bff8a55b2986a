package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/pkg/transfer"
)

// Reconciler polls the provider for every non-terminal record on a fixed
// cadence and applies the resulting transitions. One goroutine owns the
// loop; records are iterated serially each tick, so no record is ever
// mutated concurrently by the loop itself. Polling a record stops for good
// once it reaches a terminal state.
type Reconciler struct {
	interval time.Duration

	chains   transfer.ChainTable
	db       *db.DB
	provider transfer.CustodyProvider
	attest   transfer.AttestationService
	wm       transfer.WebhookMessager

	ctx  context.Context
	quit chan bool
}

func New(interval time.Duration, chains transfer.ChainTable, d *db.DB, provider transfer.CustodyProvider, attest transfer.AttestationService, wm transfer.WebhookMessager, ctx context.Context) *Reconciler {
	return &Reconciler{
		interval: interval,
		chains:   chains,
		db:       d,
		provider: provider,
		attest:   attest,
		wm:       wm,
		ctx:      ctx,
		quit:     make(chan bool),
	}
}

func (r *Reconciler) Close() {
	r.quit <- true
}

// Start runs the polling loop until Close is called.
func (r *Reconciler) Start() error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-r.quit:
			return nil
		}
	}
}

// Tick refills the work set from the store and polls each record once.
func (r *Reconciler) Tick() {
	transfers, err := r.db.TransferDB.GetNonTerminal()
	if err != nil {
		log.Default().Println("reconciler: failed to load transfers:", err)
		return
	}

	for _, t := range transfers {
		err := r.pollTransfer(t)
		if err != nil {
			log.Default().Println("reconciler: transfer", t.ID, ":", err)
		}
	}

	bridges, err := r.db.BridgeDB.GetNonTerminal()
	if err != nil {
		log.Default().Println("reconciler: failed to load bridges:", err)
		return
	}

	for _, b := range bridges {
		err := r.pollBridge(b)
		if err != nil {
			log.Default().Println("reconciler: bridge", b.ID, ":", err)
		}
	}
}

// pollTransfer issues one status query for a record and applies the
// implied transition. Unchanged provider status is a no-op, and a status
// that would imply an illegal transition is logged and skipped rather
// than crashing the loop.
func (r *Reconciler) pollTransfer(t *transfer.Transfer) error {
	unlock := r.db.LockRecord(t.ID.String())
	defer unlock()

	// the record may have moved while we waited for the lock
	t, err := r.db.TransferDB.GetTransfer(t.ID)
	if err != nil {
		return err
	}

	if t.Status.IsTerminal() {
		return nil
	}

	if t.ProviderID == "" {
		// not handed to the provider yet, nothing to poll
		return nil
	}

	res, err := r.provider.GetStatus(r.ctx, t.ProviderID)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) {
			// transient, the next tick retries the same poll
			return nil
		}

		return err
	}

	t.LastPolledAt = time.Now().UTC()

	target := transfer.StatusFromProvider(res.Status)
	if target == transfer.StatusUnknown {
		log.Default().Println("reconciler: unknown provider status", res.Status, "for transfer", t.ID)
		return r.db.TransferDB.SaveTransfer(t, nil)
	}

	if target == t.Status {
		// no forward progress, check the staleness threshold measured from
		// the last state-advancing poll, not from record creation
		return r.checkStuck(t)
	}

	if t.Status == transfer.StatusStuck && (target == transfer.StatusQueued || target == transfer.StatusSent) {
		// the provider still reports the original pending tx; only an
		// acceleration or a final status moves a stuck record
		return r.db.TransferDB.SaveTransfer(t, nil)
	}

	if !transfer.CanTransition(t.Status, target) {
		log.Default().Println("reconciler: provider status", res.Status, "implies illegal transition from", t.Status, "for transfer", t.ID)
		return r.db.TransferDB.SaveTransfer(t, nil)
	}

	note := res.Reason
	if target == transfer.StatusFailed && note == "" {
		note = transfer.CauseReverted
	}

	entry, err := t.Advance(target, res.TxHash, note)
	if err != nil {
		return err
	}

	err = r.db.TransferDB.SaveTransfer(t, entry)
	if err != nil {
		return err
	}

	if t.Status.IsTerminal() {
		r.notifyTerminal(fmt.Sprintf("transfer %s reached %s", t.ID, t.Status), t.Reason)
	}

	return nil
}

func (r *Reconciler) checkStuck(t *transfer.Transfer) error {
	if t.Status != transfer.StatusQueued && t.Status != transfer.StatusSent {
		return r.db.TransferDB.SaveTransfer(t, nil)
	}

	chain, ok := r.chains.Get(t.ChainID)
	if !ok || chain.StalenessTimeout() <= 0 {
		return r.db.TransferDB.SaveTransfer(t, nil)
	}

	if time.Since(t.LastProgressAt) < chain.StalenessTimeout() {
		return r.db.TransferDB.SaveTransfer(t, nil)
	}

	entry, err := t.Advance(transfer.StatusStuck, "", "no progress past staleness threshold")
	if err != nil {
		return err
	}

	err = r.db.TransferDB.SaveTransfer(t, entry)
	if err != nil {
		return err
	}

	// stuck is actionable, not terminal: surface it so the app can offer
	// acceleration
	r.wm.NotifyWarning(r.ctx, fmt.Errorf("transfer %s is stuck, acceleration available", t.ID))

	return nil
}

// pollBridge drives a bridge record through its current leg.
func (r *Reconciler) pollBridge(b *transfer.BridgeTransfer) error {
	unlock := r.db.LockRecord(b.ID.String())
	defer unlock()

	b, err := r.db.BridgeDB.GetBridge(b.ID)
	if err != nil {
		return err
	}

	b.LastPolledAt = time.Now().UTC()

	switch b.Status {
	case transfer.BridgeStatusBurnPending:
		return r.pollBurn(b)
	case transfer.BridgeStatusBurnConfirmed:
		// the burn is final, begin waiting on the attestation service
		entry, err := b.Advance(transfer.BridgeStatusAttestationPending, "", "attestation requested")
		if err != nil {
			return err
		}

		return r.db.BridgeDB.SaveBridge(b, entry)
	case transfer.BridgeStatusAttestationPending:
		return r.pollAttestation(b)
	case transfer.BridgeStatusAttestationReceived:
		return r.submitMint(b)
	case transfer.BridgeStatusMintPending:
		return r.pollMint(b)
	}

	return r.db.BridgeDB.SaveBridge(b, nil)
}

func (r *Reconciler) pollBurn(b *transfer.BridgeTransfer) error {
	res, err := r.provider.GetStatus(r.ctx, b.BurnProviderID)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) {
			return nil
		}

		return err
	}

	switch res.Status {
	case transfer.ProviderStatusConfirmed, transfer.ProviderStatusComplete:
		if res.TxHash != "" {
			b.BurnTxHash = res.TxHash
		}

		entry, err := b.Advance(transfer.BridgeStatusBurnConfirmed, b.BurnTxHash, "burn confirmed")
		if err != nil {
			return err
		}

		return r.db.BridgeDB.SaveBridge(b, entry)
	case transfer.ProviderStatusFailed, transfer.ProviderStatusDenied:
		return r.failBridge(b, res.Reason, transfer.CauseReverted)
	}

	// still pending on the source chain
	return r.db.BridgeDB.SaveBridge(b, nil)
}

func (r *Reconciler) pollAttestation(b *transfer.BridgeTransfer) error {
	if r.attest == nil {
		// no attestation service configured, the record waits
		log.Default().Println("reconciler: no attestation service configured, bridge", b.ID, "cannot progress")
		return r.db.BridgeDB.SaveBridge(b, nil)
	}

	att, err := r.attest.GetAttestation(r.ctx, b.BurnTxHash)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) {
			return nil
		}

		return err
	}

	if att.Pending {
		// certified burns take a while, keep waiting
		return r.db.BridgeDB.SaveBridge(b, nil)
	}

	err = b.HoldAttestation(att)
	if err != nil {
		if errors.Is(err, transfer.ErrAttestationExpired) {
			return r.failBridge(b, "", transfer.CauseAttestationExpired)
		}

		return err
	}

	entry, err := b.Advance(transfer.BridgeStatusAttestationReceived, "", "attestation validated")
	if err != nil {
		return err
	}

	return r.db.BridgeDB.SaveBridge(b, entry)
}

// submitMint hands the mint to the destination chain. By construction this
// is only reachable with a held attestation; if it lapsed in the meantime
// the bridge fails rather than silently retrying.
func (r *Reconciler) submitMint(b *transfer.BridgeTransfer) error {
	if !b.AttestationUsable() {
		return r.failBridge(b, "", transfer.CauseAttestationExpired)
	}

	payload := &transfer.SignedPayload{
		RecordID:    b.ID,
		Kind:        transfer.PayloadKindMint,
		WalletID:    b.WalletID,
		To:          b.To,
		ChainID:     b.DestChainID,
		Amount:      b.Amount,
		Token:       b.Token,
		Mode:        transfer.ModeStandard,
		FeeLevel:    transfer.FeeLevelMedium,
		Attestation: b.Attestation,
	}

	sub, err := r.provider.SubmitTransfer(r.ctx, payload)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) {
			// retried next tick while the attestation is still valid
			return nil
		}

		return r.failBridge(b, err.Error(), transfer.CauseSubmitFailed)
	}

	b.MintProviderID = sub.ProviderID
	if sub.TxHash != "" {
		b.MintTxHash = sub.TxHash
	}

	entry, err := b.Advance(transfer.BridgeStatusMintPending, sub.TxHash, "mint submitted")
	if err != nil {
		return err
	}

	return r.db.BridgeDB.SaveBridge(b, entry)
}

func (r *Reconciler) pollMint(b *transfer.BridgeTransfer) error {
	res, err := r.provider.GetStatus(r.ctx, b.MintProviderID)
	if err != nil {
		if errors.Is(err, transfer.ErrProviderUnavailable) {
			return nil
		}

		return err
	}

	switch res.Status {
	case transfer.ProviderStatusConfirmed, transfer.ProviderStatusComplete:
		if res.TxHash != "" {
			b.MintTxHash = res.TxHash
		}

		entry, err := b.Advance(transfer.BridgeStatusComplete, b.MintTxHash, "mint confirmed")
		if err != nil {
			return err
		}

		err = r.db.BridgeDB.SaveBridge(b, entry)
		if err != nil {
			return err
		}

		r.notifyTerminal(fmt.Sprintf("bridge transfer %s reached %s", b.ID, b.Status), "")

		return nil
	case transfer.ProviderStatusFailed, transfer.ProviderStatusDenied:
		return r.failBridge(b, res.Reason, transfer.CauseReverted)
	}

	return r.db.BridgeDB.SaveBridge(b, nil)
}

func (r *Reconciler) failBridge(b *transfer.BridgeTransfer, reason, cause string) error {
	note := cause
	if reason != "" {
		note = cause + ": " + reason
	}

	entry, err := b.Advance(transfer.BridgeStatusFailed, "", note)
	if err != nil {
		return err
	}

	err = r.db.BridgeDB.SaveBridge(b, entry)
	if err != nil {
		return err
	}

	r.notifyTerminal(fmt.Sprintf("bridge transfer %s reached %s", b.ID, b.Status), note)

	return nil
}

// notifyTerminal is fire and forget: a failed notification never rolls
// back a transition.
func (r *Reconciler) notifyTerminal(message, reason string) {
	if reason != "" {
		message = message + " (" + reason + ")"
	}

	err := r.wm.Notify(r.ctx, message)
	if err != nil {
		log.Default().Println("reconciler: notify failed:", err)
	}
}
