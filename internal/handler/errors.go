package handler

import (
	"net/http"

	"github.com/xueqianLu/hsmsigner/internal/sigerr"
)

// rpcError maps a signing failure onto a JSON-RPC error and HTTP status.
func rpcError(err error) (*RPCError, int) {
	kind := sigerr.KindOf(err)
	data := &ErrorData{
		Kind:      kind.String(),
		Field:     sigerr.FieldOf(err),
		Retryable: sigerr.Retryable(err),
	}
	switch kind {
	case sigerr.MalformedRequest, sigerr.EncodingOverflow:
		return &RPCError{Code: CodeInvalidParams, Message: err.Error(), Data: data}, http.StatusBadRequest
	case sigerr.SignerUnavailable:
		return &RPCError{Code: CodeServerError, Message: err.Error(), Data: data}, http.StatusServiceUnavailable
	default:
		return &RPCError{Code: CodeInternalError, Message: err.Error(), Data: data}, http.StatusInternalServerError
	}
}

// httpStatus maps a failure of the REST endpoints onto an HTTP status.
func httpStatus(err error) int {
	_, status := rpcError(err)
	return status
}
