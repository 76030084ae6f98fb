package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tuyalink-core/internal/device"
)

// handleListDevices returns all known devices. Credential keys are
// never serialised.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records := s.registry.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// handleGetDevice returns a single device record by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to load device")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
