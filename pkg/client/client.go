// Package client is a Go client for the signing proxy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/middleware"
)

// TxArgs is an unsigned legacy transaction in eth_signTransaction form.
type TxArgs struct {
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	ChainID  *hexutil.Big    `json:"chainId"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Gas      hexutil.Uint64  `json:"gas"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

// KeyResponse describes one backend key.
type KeyResponse struct {
	KeyID   string `json:"keyId"`
	Address string `json:"address"`
}

// RPCError is an error returned by the proxy's JSON-RPC endpoint.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Kind      string `json:"kind"`
		Field     string `json:"field,omitempty"`
		Retryable bool   `json:"retryable"`
	} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the same request may succeed if sent again.
func (e *RPCError) Retryable() bool {
	return e.Data != nil && e.Data.Retryable
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client is a client for the signing proxy.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewClient creates a new client. apiKey may be empty when the proxy runs
// without authentication.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks that the proxy is reachable.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	if string(body) != "pong" {
		return errors.Errorf("unexpected ping reply %q", body)
	}
	return nil
}

// Health returns the proxy's health document.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return health, nil
}

// Address returns the address of the key keyID.
func (c *Client) Address(ctx context.Context, keyID string) (common.Address, error) {
	body, err := c.do(ctx, http.MethodGet, "/key/"+url.PathEscape(keyID)+"/address", nil)
	if err != nil {
		return common.Address{}, err
	}
	var resp struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Address{}, errors.Wrap(err, "failed to unmarshal response")
	}
	if !common.IsHexAddress(resp.Address) {
		return common.Address{}, errors.Errorf("invalid address %q", resp.Address)
	}
	return common.HexToAddress(resp.Address), nil
}

// Keys lists the keys the proxy has loaded.
func (c *Client) Keys(ctx context.Context) ([]KeyResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/keys", nil)
	if err != nil {
		return nil, err
	}
	var keys []KeyResponse
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return keys, nil
}

// CreateKey asks the proxy to create a key. Requires authentication.
func (c *Client) CreateKey(ctx context.Context, label string, exportable bool) (*KeyResponse, error) {
	reqBody, err := json.Marshal(map[string]interface{}{"label": label, "exportable": exportable})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request data")
	}
	body, err := c.do(ctx, http.MethodPost, "/keys", reqBody)
	if err != nil {
		return nil, err
	}
	var key KeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &key, nil
}

// SignTransaction signs args with keyID and returns the raw signed
// transaction, ready for eth_sendRawTransaction.
func (c *Client) SignTransaction(ctx context.Context, keyID string, args TxArgs) (hexutil.Bytes, error) {
	var raw hexutil.Bytes
	if err := c.Call(ctx, keyID, &raw, "eth_signTransaction", args); err != nil {
		return nil, err
	}
	return raw, nil
}

// Call invokes a JSON-RPC method on /key/{keyID} and decodes the result into
// result. Errors reported by the proxy are returned as *RPCError.
func (c *Client) Call(ctx context.Context, keyID string, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal request data")
	}

	status, body, err := c.send(ctx, http.MethodPost, "/key/"+url.PathEscape(keyID), reqBody)
	if err != nil {
		return err
	}
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.Errorf("request failed with status %d: %s", status, string(body))
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errors.Wrap(err, "failed to unmarshal result")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	status, body, err := c.send(ctx, method, path, reqBody)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, errors.Errorf("request failed with status %d: %s", status, string(body))
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, reqBody []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(middleware.APIKeyHeader, c.apiKey)
		req.Header.Set(middleware.TimestampHeader, timestamp)
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(c.apiSecret, timestamp, reqBody))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to execute request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read response body")
	}
	return resp.StatusCode, body, nil
}
