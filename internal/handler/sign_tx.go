package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// maxRequestBody bounds a JSON-RPC request.
const maxRequestBody = 1 << 20

// SignTxHandler serves JSON-RPC on /key/{keyID}. eth_signTransaction is signed
// with the key in the path; other methods go upstream when one is configured.
type SignTxHandler struct {
	registry *signer.Registry
	upstream *Upstream
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewSignTxHandler creates a new SignTxHandler. upstream and m may be nil.
func NewSignTxHandler(registry *signer.Registry, upstream *Upstream, logger *zap.Logger, m *metrics.Metrics) *SignTxHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignTxHandler{registry: registry, upstream: upstream, logger: logger, metrics: m}
}

// ServeHTTP implements the http.Handler interface.
func (h *SignTxHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeRPC(w, http.StatusBadRequest, nil, nil, &RPCError{Code: CodeParseError, Message: "failed to read request body"})
		return
	}
	if len(body) > maxRequestBody {
		writeRPC(w, http.StatusRequestEntityTooLarge, nil, nil, &RPCError{Code: CodeInvalidRequest, Message: "request body too large"})
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, http.StatusBadRequest, nil, nil, &RPCError{Code: CodeParseError, Message: "invalid JSON: " + err.Error()})
		return
	}
	if req.Method == "" {
		writeRPC(w, http.StatusBadRequest, req.ID, nil, &RPCError{Code: CodeInvalidRequest, Message: "method is required"})
		return
	}
	h.metrics.ObserveRPC(req.Method)

	if req.Method != MethodSignTransaction {
		h.passthrough(w, r, &req, body)
		return
	}

	keyID := signer.KeyHandle(mux.Vars(r)["keyID"])
	result, err := h.signTransaction(r, keyID, req.Params)
	if err != nil {
		rpcErr, status := rpcError(err)
		h.logger.Warn("Failed to sign transaction",
			zap.String("keyID", string(keyID)),
			zap.String("kind", rpcErr.Data.Kind),
			zap.Error(err))
		writeRPC(w, status, req.ID, nil, rpcErr)
		return
	}
	writeRPC(w, http.StatusOK, req.ID, result, nil)
}

func (h *SignTxHandler) signTransaction(r *http.Request, keyID signer.KeyHandle, params json.RawMessage) (string, error) {
	fields, err := decodeTxParams(params)
	if err != nil {
		return "", err
	}
	s, err := h.registry.Get(r.Context(), keyID)
	if err != nil {
		return "", err
	}
	if err := checkFrom(fields, s.Identity().Address); err != nil {
		return "", err
	}
	return s.SignRequest(r.Context(), fields)
}

func (h *SignTxHandler) passthrough(w http.ResponseWriter, r *http.Request, req *RPCRequest, body []byte) {
	if h.upstream == nil {
		writeRPC(w, http.StatusBadRequest, req.ID, nil, &RPCError{
			Code:    CodeMethodNotFound,
			Message: "method not supported (" + MethodSignTransaction + " only): " + req.Method,
		})
		return
	}
	if err := h.upstream.Forward(r.Context(), w, body); err != nil {
		h.logger.Error("Upstream forward failed", zap.String("method", req.Method), zap.Error(err))
		writeRPC(w, http.StatusBadGateway, req.ID, nil, &RPCError{Code: CodeServerError, Message: err.Error()})
	}
}

// decodeTxParams accepts [tx] or a bare transaction object. Numbers are kept
// as json.Number so large quantities are not rounded.
func decodeTxParams(params json.RawMessage) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(params)) == 0 {
		return nil, sigerr.Malformed("params", "missing transaction object")
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, sigerr.Malformed("params", "%v", err)
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, sigerr.Malformed("params", "missing transaction object")
		}
		fields, ok := v[0].(map[string]interface{})
		if !ok {
			return nil, sigerr.Malformed("params", "transaction must be an object")
		}
		return fields, nil
	default:
		return nil, sigerr.Malformed("params", "params must be an array or object")
	}
}

// checkFrom rejects a request whose from field names another account.
func checkFrom(fields map[string]interface{}, address common.Address) error {
	raw, ok := fields[tx.FieldFrom]
	if !ok || raw == nil {
		return nil
	}
	from, ok := raw.(string)
	if !ok || !common.IsHexAddress(from) {
		return sigerr.Malformed(tx.FieldFrom, "invalid address")
	}
	if common.HexToAddress(from) != address {
		return sigerr.Malformed(tx.FieldFrom, "%s is not the address of this key (%s)", from, address.Hex())
	}
	return nil
}

func writeRPC(w http.ResponseWriter, status int, id json.RawMessage, result interface{}, rpcErr *RPCError) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	writeJSON(w, status, RPCResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
