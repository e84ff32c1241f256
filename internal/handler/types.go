package handler

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// MethodSignTransaction is the only method signed locally.
const MethodSignTransaction = "eth_signTransaction"

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the classification of a signing failure.
type ErrorData struct {
	Kind      string `json:"kind"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *RPCError) Error() string { return e.Message }

// AddressResponse is returned by the address endpoint.
type AddressResponse struct {
	Address string `json:"address"`
}

// KeyResponse describes one backend key.
type KeyResponse struct {
	KeyID   string `json:"keyId"`
	Address string `json:"address"`
}

// CreateKeyRequest asks the backend for a new key.
type CreateKeyRequest struct {
	Label      string `json:"label"`
	Exportable bool   `json:"exportable"`
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
