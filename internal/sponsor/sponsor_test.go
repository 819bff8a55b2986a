package sponsor

import (
	"errors"
	"testing"

	"github.com/pocketpay/transferd/pkg/transfer"
)

func TestEligible(t *testing.T) {
	sponsored := transfer.Chain{ID: 137, Name: "polygon", Sponsored: true}
	unsponsored := transfer.Chain{ID: 1, Name: "ethereum"}

	cases := []struct {
		name    string
		custody transfer.CustodyType
		account transfer.AccountType
		modular bool
		chain   transfer.Chain
		want    bool
	}{
		{"user sca on sponsored chain", transfer.CustodyUser, transfer.AccountSmartContract, false, sponsored, true},
		{"modular developer sca on sponsored chain", transfer.CustodyDeveloper, transfer.AccountSmartContract, true, sponsored, true},
		{"non-modular developer sca", transfer.CustodyDeveloper, transfer.AccountSmartContract, false, sponsored, false},
		{"user simple account", transfer.CustodyUser, transfer.AccountSimple, false, sponsored, false},
		{"developer simple account", transfer.CustodyDeveloper, transfer.AccountSimple, false, sponsored, false},
		{"modular simple account", transfer.CustodyDeveloper, transfer.AccountSimple, true, sponsored, false},
		{"user sca on unsponsored chain", transfer.CustodyUser, transfer.AccountSmartContract, false, unsponsored, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := &transfer.Wallet{ID: "wallet-1", Custody: c.custody, Account: c.account, Modular: c.modular, Deployed: true}

			if got := Eligible(w, c.chain); got != c.want {
				t.Fatalf("Eligible = %v, want %v", got, c.want)
			}
		})
	}
}

func TestResolveMode(t *testing.T) {
	sponsored := transfer.Chain{ID: 137, Name: "polygon", Sponsored: true}

	t.Run("standard request passes through", func(t *testing.T) {
		w := &transfer.Wallet{ID: "wallet-1", Custody: transfer.CustodyDeveloper, Account: transfer.AccountSimple}

		mode, err := ResolveMode(transfer.ModeStandard, w, sponsored)
		if err != nil {
			t.Fatal(err)
		}

		if mode != transfer.ModeStandard {
			t.Fatalf("mode = %s, want standard", mode)
		}
	})

	t.Run("sponsored request on an eligible wallet", func(t *testing.T) {
		w := &transfer.Wallet{ID: "wallet-1", Custody: transfer.CustodyUser, Account: transfer.AccountSmartContract, Deployed: true}

		mode, err := ResolveMode(transfer.ModeSponsored, w, sponsored)
		if err != nil {
			t.Fatal(err)
		}

		if mode != transfer.ModeSponsored {
			t.Fatalf("mode = %s, want sponsored", mode)
		}
	})

	t.Run("undeployed wallet is rejected", func(t *testing.T) {
		w := &transfer.Wallet{ID: "wallet-1", Custody: transfer.CustodyUser, Account: transfer.AccountSmartContract}

		_, err := ResolveMode(transfer.ModeSponsored, w, sponsored)
		var verr *transfer.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}

		if verr.Code != "wallet_not_deployed" {
			t.Fatalf("code = %s, want wallet_not_deployed", verr.Code)
		}
	})

	t.Run("ineligible wallet is rejected", func(t *testing.T) {
		w := &transfer.Wallet{ID: "wallet-1", Custody: transfer.CustodyDeveloper, Account: transfer.AccountSmartContract, Deployed: true}

		_, err := ResolveMode(transfer.ModeSponsored, w, sponsored)
		var verr *transfer.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}

		if verr.Code != "not_sponsorship_eligible" {
			t.Fatalf("code = %s, want not_sponsorship_eligible", verr.Code)
		}
	})
}
