package signing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

type fakeSigner struct {
	result *transfer.ChallengeResult
	err    error

	calls     int
	lastCreds transfer.SessionCredentials
}

func (f *fakeSigner) ExecuteChallenge(ctx context.Context, creds transfer.SessionCredentials, challengeID uuid.UUID, digest []byte) (*transfer.ChallengeResult, error) {
	f.calls++
	f.lastCreds = creds

	if f.err != nil {
		return nil, f.err
	}

	return f.result, nil
}

func testPayload() *transfer.SignedPayload {
	return &transfer.SignedPayload{
		RecordID: uuid.New(),
		Kind:     transfer.PayloadKindTransfer,
		WalletID: "wallet-1",
		To:       "0xdeadbeef",
		ChainID:  137,
		Amount:   decimal.NewFromInt(100),
		Token:    "USDC",
	}
}

func testCreds(t *testing.T) *db.CredentialDB {
	t.Helper()

	d, err := db.NewDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		d.Close()
	})

	return d.CredentialDB
}

func TestDigest(t *testing.T) {
	p := testPayload()

	d1, err := Digest(p)
	if err != nil {
		t.Fatal(err)
	}

	d2, err := Digest(p)
	if err != nil {
		t.Fatal(err)
	}

	if string(d1) != string(d2) {
		t.Fatal("digest is not deterministic")
	}

	p.Amount = decimal.NewFromInt(101)

	d3, err := Digest(p)
	if err != nil {
		t.Fatal(err)
	}

	if string(d1) == string(d3) {
		t.Fatal("digest ignores the amount")
	}
}

func TestSignLocal(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	d := NewDelegate(key, nil, testCreds(t), time.Minute, time.Second)

	w := &transfer.Wallet{ID: "wallet-1", Custody: transfer.CustodyUser}
	p := testPayload()

	if err := d.Sign(context.Background(), w, p); err != nil {
		t.Fatal(err)
	}

	if len(p.Signature) != 65 {
		t.Fatalf("signature length %d, want 65", len(p.Signature))
	}

	v := p.Signature[crypto.RecoveryIDOffset]
	if v != 27 && v != 28 {
		t.Fatalf("recovery id %d, want 27 or 28", v)
	}
}

func TestSignRemote(t *testing.T) {
	w := &transfer.Wallet{ID: "wallet-1", Custody: transfer.CustodyDeveloper}

	seed := func(t *testing.T, creds *db.CredentialDB) {
		t.Helper()

		err := creds.SetCredentials("wallet-1", &transfer.SessionCredentials{SessionKey: "sk-old", RefreshToken: "rt-old"})
		if err != nil {
			t.Fatal(err)
		}
	}

	t.Run("success rotates credentials", func(t *testing.T) {
		creds := testCreds(t)
		seed(t, creds)

		signer := &fakeSigner{result: &transfer.ChallengeResult{
			Outcome:        transfer.ChallengeOutcomeSuccess,
			Signature:      []byte{0x01, 0x02},
			NewCredentials: &transfer.SessionCredentials{SessionKey: "sk-new", RefreshToken: "rt-new"},
		}}

		d := NewDelegate(nil, signer, creds, time.Minute, time.Second)

		p := testPayload()
		if err := d.Sign(context.Background(), w, p); err != nil {
			t.Fatal(err)
		}

		if len(p.Signature) == 0 {
			t.Fatal("signature not set")
		}

		if signer.lastCreds.SessionKey != "sk-old" {
			t.Fatalf("challenge ran with %s, want sk-old", signer.lastCreds.SessionKey)
		}

		stored, err := creds.GetCredentials("wallet-1")
		if err != nil {
			t.Fatal(err)
		}

		if stored.SessionKey != "sk-new" || stored.RefreshToken != "rt-new" {
			t.Fatalf("credentials not rotated: %+v", stored)
		}
	})

	t.Run("denied", func(t *testing.T) {
		creds := testCreds(t)
		seed(t, creds)

		signer := &fakeSigner{result: &transfer.ChallengeResult{Outcome: transfer.ChallengeOutcomeDenied}}
		d := NewDelegate(nil, signer, creds, time.Minute, time.Second)

		p := testPayload()
		err := d.Sign(context.Background(), w, p)
		if !errors.Is(err, transfer.ErrSigningDenied) {
			t.Fatalf("expected ErrSigningDenied, got %v", err)
		}

		if len(p.Signature) != 0 {
			t.Fatal("signature set on denial")
		}

		// denial does not rotate
		stored, err := creds.GetCredentials("wallet-1")
		if err != nil {
			t.Fatal(err)
		}

		if stored.SessionKey != "sk-old" {
			t.Fatalf("credentials rotated on denial: %+v", stored)
		}
	})

	t.Run("signer unreachable", func(t *testing.T) {
		creds := testCreds(t)
		seed(t, creds)

		signer := &fakeSigner{err: errors.New("connection refused")}
		d := NewDelegate(nil, signer, creds, time.Minute, time.Second)

		err := d.Sign(context.Background(), w, testPayload())
		if !errors.Is(err, transfer.ErrSigningFailed) {
			t.Fatalf("expected ErrSigningFailed, got %v", err)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		creds := testCreds(t)

		signer := &fakeSigner{}
		d := NewDelegate(nil, signer, creds, time.Minute, time.Second)

		err := d.Sign(context.Background(), w, testPayload())
		if !errors.Is(err, transfer.ErrSigningFailed) {
			t.Fatalf("expected ErrSigningFailed, got %v", err)
		}

		if signer.calls != 0 {
			t.Fatal("signer called without credentials")
		}
	})
}

func TestCredentialRotationConflict(t *testing.T) {
	creds := testCreds(t)

	err := creds.SetCredentials("wallet-1", &transfer.SessionCredentials{SessionKey: "sk-1", RefreshToken: "rt-1"})
	if err != nil {
		t.Fatal(err)
	}

	old := &transfer.SessionCredentials{SessionKey: "sk-1", RefreshToken: "rt-1"}

	err = creds.Rotate("wallet-1", old, &transfer.SessionCredentials{SessionKey: "sk-2", RefreshToken: "rt-2"})
	if err != nil {
		t.Fatal(err)
	}

	// the first rotation spent sk-1, a second swap against it must fail
	err = creds.Rotate("wallet-1", old, &transfer.SessionCredentials{SessionKey: "sk-3", RefreshToken: "rt-3"})
	if !errors.Is(err, transfer.ErrCredentialConflict) {
		t.Fatalf("expected ErrCredentialConflict, got %v", err)
	}

	stored, err := creds.GetCredentials("wallet-1")
	if err != nil {
		t.Fatal(err)
	}

	if stored.SessionKey != "sk-2" {
		t.Fatalf("session key = %s, want sk-2", stored.SessionKey)
	}
}
