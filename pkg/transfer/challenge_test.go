package transfer

import (
	"errors"
	"testing"
	"time"
)

func TestSigningChallenge(t *testing.T) {
	t.Run("single use", func(t *testing.T) {
		c := NewSigningChallenge("wallet-1", []byte{0x01}, time.Minute)

		if err := c.Consume(); err != nil {
			t.Fatal(err)
		}

		if !c.Consumed() {
			t.Fatal("expected challenge to be consumed")
		}

		if err := c.Consume(); !errors.Is(err, ErrChallengeConsumed) {
			t.Fatalf("expected ErrChallengeConsumed, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		c := NewSigningChallenge("wallet-1", []byte{0x01}, -time.Second)

		if err := c.Consume(); !errors.Is(err, ErrChallengeExpired) {
			t.Fatalf("expected ErrChallengeExpired, got %v", err)
		}

		// expired consumption still spends the challenge
		if err := c.Consume(); !errors.Is(err, ErrChallengeConsumed) {
			t.Fatalf("expected ErrChallengeConsumed, got %v", err)
		}
	})
}
