package transfers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/pocketpay/transferd/pkg/transfer"
)

func TestWriteError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", transfer.NewValidationError("insufficient_balance", "required 102.75 USDC exceeds available 50"), 400, "insufficient_balance"},
		{"invalid transition", &transfer.InvalidTransitionError{From: transfer.StatusComplete, To: transfer.StatusSent}, 409, "invalid_transition"},
		{"signing denied", transfer.ErrSigningDenied, 403, "signing_denied"},
		{"signing failed", fmt.Errorf("%w: timeout", transfer.ErrSigningFailed), 503, "signing_failed"},
		{"provider unavailable", transfer.ErrProviderUnavailable, 503, "provider_unavailable"},
		{"not found", transfer.ErrNotFound, 404, "not_found"},
		{"cancel after send", transfer.ErrCancelAfterSend, 409, "cancel_after_send"},
		{"acceleration repeat", transfer.ErrAccelerationRepeat, 409, "acceleration_repeat"},
		{"unexpected", errors.New("disk full"), 500, "internal"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			writeError(w, c.err)

			if w.Code != c.status {
				t.Fatalf("status = %d, want %d", w.Code, c.status)
			}

			var body struct {
				Code string `json:"code"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}

			if body.Code != c.code {
				t.Fatalf("code = %s, want %s", body.Code, c.code)
			}
		})
	}
}
