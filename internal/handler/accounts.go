package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xueqianLu/hsmsigner/internal/signer"
)

// AddressHandler returns the address of the key in the path.
type AddressHandler struct {
	registry *signer.Registry
}

// NewAddressHandler creates a new AddressHandler.
func NewAddressHandler(registry *signer.Registry) *AddressHandler {
	return &AddressHandler{registry: registry}
}

// ServeHTTP implements the http.Handler interface.
func (h *AddressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	keyID := signer.KeyHandle(mux.Vars(r)["keyID"])
	address, err := h.registry.Address(r.Context(), keyID)
	if err != nil {
		writeJSON(w, httpStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, AddressResponse{Address: address.Hex()})
}

// KeysHandler lists the keys loaded so far.
type KeysHandler struct {
	registry *signer.Registry
}

// NewKeysHandler creates a new KeysHandler.
func NewKeysHandler(registry *signer.Registry) *KeysHandler {
	return &KeysHandler{registry: registry}
}

// ServeHTTP implements the http.Handler interface.
func (h *KeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	keys := []KeyResponse{}
	for _, handle := range h.registry.Handles() {
		s, err := h.registry.Get(r.Context(), handle)
		if err != nil {
			continue
		}
		keys = append(keys, KeyResponse{KeyID: string(handle), Address: s.Identity().Address.Hex()})
	}
	writeJSON(w, http.StatusOK, keys)
}
