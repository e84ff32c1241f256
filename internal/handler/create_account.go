package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xueqianLu/hsmsigner/internal/signer"
	"go.uber.org/zap"
)

// CreateKeyHandler handles requests to create a new backend key.
type CreateKeyHandler struct {
	registry *signer.Registry
	logger   *zap.Logger
}

// NewCreateKeyHandler creates a new CreateKeyHandler.
func NewCreateKeyHandler(registry *signer.Registry, logger *zap.Logger) *CreateKeyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreateKeyHandler{registry: registry, logger: logger}
}

// ServeHTTP implements the http.Handler interface.
func (h *CreateKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
			return
		}
	}

	s, err := h.registry.Create(r.Context(), signer.KeyOptions{Label: req.Label, Exportable: req.Exportable})
	if err != nil {
		h.logger.Error("Failed to create key", zap.Error(err))
		writeJSON(w, httpStatus(err), ErrorResponse{Error: "Failed to create key: " + err.Error()})
		return
	}

	id := s.Identity()
	writeJSON(w, http.StatusCreated, KeyResponse{KeyID: string(id.Handle), Address: id.Address.Hex()})
}
