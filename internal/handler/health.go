package handler

import (
	"net/http"

	"github.com/xueqianLu/hsmsigner/internal/signer"
)

// PingHandler answers liveness probes with "pong".
func PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

// HealthHandler handles health checks.
type HealthHandler struct {
	session *signer.Session
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(session *signer.Session) *HealthHandler {
	return &HealthHandler{session: session}
}

// ServeHTTP implements the http.Handler interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"connector": h.session.Connector().Type(),
	})
}
