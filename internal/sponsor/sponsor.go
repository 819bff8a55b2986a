package sponsor

import (
	"github.com/pocketpay/transferd/pkg/transfer"
)

// Eligible reports whether a wallet/chain pair qualifies for gas-sponsored
// execution: the chain must carry a paymaster, the wallet must be a smart
// contract account, and it must either be user-controlled or a modular
// wallet type. Developer-custodied simple accounts are never eligible.
//
// Custody and account type can change between calls, so this is evaluated
// fresh on every orchestration request and never cached.
func Eligible(w *transfer.Wallet, chain transfer.Chain) bool {
	if !chain.Sponsored {
		return false
	}

	if w.Account != transfer.AccountSmartContract {
		return false
	}

	return w.Custody == transfer.CustodyUser || w.Modular
}

// ResolveMode validates the requested mode against the wallet and chain.
// A sponsored request on an ineligible pair, or from a wallet that has not
// been deployed on chain yet, is rejected before any provider call.
func ResolveMode(requested transfer.Mode, w *transfer.Wallet, chain transfer.Chain) (transfer.Mode, error) {
	if requested != transfer.ModeSponsored {
		return transfer.ModeStandard, nil
	}

	if !w.Deployed {
		return "", transfer.NewValidationError("wallet_not_deployed", "wallet %s must be deployed before sponsored transfers", w.ID)
	}

	if !Eligible(w, chain) {
		return "", transfer.NewValidationError("not_sponsorship_eligible", "wallet %s is not eligible for sponsored transfers on %s", w.ID, chain.Name)
	}

	return transfer.ModeSponsored, nil
}
