package transfers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	comm "github.com/pocketpay/transferd/internal/common"
	"github.com/pocketpay/transferd/internal/orchestrator"
	"github.com/pocketpay/transferd/pkg/transfer"
)

type Service struct {
	orch *orchestrator.Service
}

// NewService
func NewService(orch *orchestrator.Service) *Service {
	return &Service{
		orch,
	}
}

// writeError maps orchestrator errors onto status codes. Validation and
// signing errors never created a record, so the caller can simply retry
// the request.
func writeError(w http.ResponseWriter, err error) {
	var verr *transfer.ValidationError
	if errors.As(err, &verr) {
		comm.ErrorBody(w, http.StatusBadRequest, verr.Code, verr.Message)
		return
	}

	var terr *transfer.InvalidTransitionError
	if errors.As(err, &terr) {
		comm.ErrorBody(w, http.StatusConflict, "invalid_transition", terr.Error())
		return
	}

	switch {
	case errors.Is(err, transfer.ErrSigningDenied):
		comm.ErrorBody(w, http.StatusForbidden, "signing_denied", "the signer rejected the operation")
	case errors.Is(err, transfer.ErrSigningFailed):
		comm.ErrorBody(w, http.StatusServiceUnavailable, "signing_failed", "the signer was unavailable, retry the request")
	case errors.Is(err, transfer.ErrProviderUnavailable):
		comm.ErrorBody(w, http.StatusServiceUnavailable, "provider_unavailable", "the custody provider is unavailable, retry the request")
	case errors.Is(err, transfer.ErrNotFound):
		comm.ErrorBody(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, transfer.ErrCancelAfterSend):
		comm.ErrorBody(w, http.StatusConflict, "cancel_after_send", "the transfer was already broadcast and can no longer be cancelled")
	case errors.Is(err, transfer.ErrAccelerationRepeat):
		comm.ErrorBody(w, http.StatusConflict, "acceleration_repeat", "the transfer was already accelerated once")
	default:
		comm.ErrorBody(w, http.StatusInternalServerError, "internal", "something went wrong")
	}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// Create admits a new transfer intent.
func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "cannot parse request body")
		return
	}

	t, err := s.orch.CreateTransfer(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, t, nil)
}

// Get returns a transfer's current state plus its full history.
func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "invalid transfer id")
		return
	}

	t, history, err := s.orch.GetTransfer(id)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, t, map[string]any{"history": history})
}

// Accelerate resubmits a stuck transfer with a bumped fee.
func (s *Service) Accelerate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "invalid transfer id")
		return
	}

	t, err := s.orch.Accelerate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, t, nil)
}

// Cancel cancels a transfer that has not been broadcast yet.
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "invalid transfer id")
		return
	}

	t, err := s.orch.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, t, nil)
}

// CreateBridge admits a new cross-chain transfer intent.
func (s *Service) CreateBridge(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateBridgeRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "cannot parse request body")
		return
	}

	b, err := s.orch.CreateBridgeTransfer(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, b, nil)
}

// GetBridge returns a bridge transfer's current state plus its history.
func (s *Service) GetBridge(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "invalid bridge id")
		return
	}

	b, history, err := s.orch.GetBridgeTransfer(id)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, b, map[string]any{"history": history})
}

// CancelBridge cancels a bridge whose burn has not been broadcast yet.
func (s *Service) CancelBridge(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		comm.ErrorBody(w, http.StatusBadRequest, "invalid_request", "invalid bridge id")
		return
	}

	b, err := s.orch.CancelBridge(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	comm.Body(w, b, nil)
}
