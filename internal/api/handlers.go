package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/dispatch"
)

// commandRequest is the request body for POST /devices/{id}/command.
type commandRequest struct {
	Command string `json:"command"`
	Value   any    `json:"value,omitempty"`
}

// batchRequest is the request body for POST /batch.
type batchRequest struct {
	Operations []batchOperation `json:"operations"`
}

type batchOperation struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
	Value    any    `json:"value,omitempty"`
}

// maxBatchOperations caps one batch submission.
const maxBatchOperations = 100

// handleCommand dispatches a single command to a device and returns
// the terminal outcome. The HTTP status mirrors the outcome's error
// kind so callers can branch without inspecting the body.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	kind, err := dispatch.ParseCommandKind(req.Command)
	if err != nil {
		writeBadRequest(w, "unknown command: "+req.Command)
		return
	}

	outcome := s.dispatcher.Dispatch(r.Context(), dispatch.Operation{
		DeviceID: id,
		Command:  kind,
		Value:    req.Value,
	})
	writeJSON(w, outcomeHTTPStatus(outcome), outcome)
}

// handleRefreshStatus performs a live status query against the device
// and returns the refreshed state.
func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.dispatcher.QueryStatus(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, dispatch.ErrAwaitingConfig):
			writeError(w, http.StatusConflict, ErrCodeBadRequest, "device awaiting configuration")
		default:
			writeError(w, http.StatusBadGateway, ErrCodeInternal, "status query failed: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"status":    status,
	})
}

// handleBatch runs a batch of operations and returns per-operation
// outcomes in submission order. The response is always 200; individual
// failures are reported inside the result, never by short-circuiting.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Operations) == 0 {
		writeBadRequest(w, "operations must not be empty")
		return
	}
	if len(req.Operations) > maxBatchOperations {
		writeBadRequest(w, "too many operations in one batch")
		return
	}

	ops := make([]dispatch.Operation, 0, len(req.Operations))
	for _, op := range req.Operations {
		kind, err := dispatch.ParseCommandKind(op.Command)
		if err != nil {
			writeBadRequest(w, "unknown command: "+op.Command)
			return
		}
		ops = append(ops, dispatch.Operation{
			DeviceID: op.DeviceID,
			Command:  kind,
			Value:    op.Value,
		})
	}

	result := s.batcher.Run(r.Context(), ops)
	writeJSON(w, http.StatusOK, result)
}

// defaultDiscoveryBudget bounds an on-demand discovery sweep.
const defaultDiscoveryBudget = 10 * time.Second

// discoveryRequest is the optional request body for POST /discovery/run.
type discoveryRequest struct {
	BudgetSeconds int `json:"budget_seconds"`
}

// handleDiscoveryRun performs an on-demand discovery sweep and returns
// the summary of devices seen, created, and updated.
func (s *Server) handleDiscoveryRun(w http.ResponseWriter, r *http.Request) {
	if s.merger == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "discovery not configured")
		return
	}

	budget := defaultDiscoveryBudget
	var req discoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.BudgetSeconds > 0 {
		budget = time.Duration(req.BudgetSeconds) * time.Second
	}

	summary, err := s.merger.Run(r.Context(), budget)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "discovery sweep failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// outcomeHTTPStatus maps a dispatch outcome onto an HTTP status code.
func outcomeHTTPStatus(out dispatch.Outcome) int {
	if out.OK {
		return http.StatusOK
	}
	switch out.ErrorKind {
	case dispatch.ErrKindNotFound:
		return http.StatusNotFound
	case dispatch.ErrKindInvalidCommand:
		return http.StatusBadRequest
	case dispatch.ErrKindConfigInvalid:
		return http.StatusConflict
	case dispatch.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
