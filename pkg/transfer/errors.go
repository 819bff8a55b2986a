package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrSigningFailed means the signer was unreachable or timed out. The
	// caller may retry the whole request; nothing was persisted.
	ErrSigningFailed = errors.New("signing failed")

	// ErrSigningDenied means the signer explicitly rejected the operation.
	// Not retryable without the user confirming again.
	ErrSigningDenied = errors.New("signing denied")

	// ErrProviderUnavailable is a transient provider failure, safe to retry
	// the same poll or submission with backoff.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAttestationExpired means the burn attestation lapsed before the
	// mint could be submitted.
	ErrAttestationExpired = errors.New("attestation expired")

	ErrChallengeConsumed   = errors.New("signing challenge already consumed")
	ErrChallengeExpired    = errors.New("signing challenge expired")
	ErrCredentialConflict  = errors.New("session credentials changed concurrently")
	ErrNotFound            = errors.New("record not found")
	ErrWalletNotDeployed   = errors.New("wallet is not deployed on chain")
	ErrAccelerationRepeat  = errors.New("transfer has already been accelerated")
	ErrCancelAfterSend     = errors.New("transfer can no longer be cancelled")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Terminal failure cause codes surfaced to callers.
const (
	CauseReverted           = "execution_reverted"
	CauseUserCancelled      = "user_cancelled"
	CausePolicyDenied       = "policy_denied"
	CauseAttestationExpired = "attestation_expired"
	CauseInsufficientFunds  = "insufficient_balance"
	CauseSubmitFailed       = "submission_failed"
)

// InvalidTransitionError is a programming or data error: someone asked the
// state machine to skip states. It is never coerced into a silent no-op by
// the machine itself.
type InvalidTransitionError struct {
	From Status
	To   Status

	Bridge     bool
	BridgeFrom BridgeStatus
	BridgeTo   BridgeStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.Bridge {
		return fmt.Sprintf("invalid bridge transition: %s -> %s", e.BridgeFrom, e.BridgeTo)
	}

	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ValidationError rejects a request before any provider call. It carries a
// stable code for clients and a human-readable message.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Message
}

func NewValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
