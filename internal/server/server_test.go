package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/hsmsigner/internal/connector/local"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/middleware"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, mutate func(*Options)) *httptest.Server {
	t.Helper()
	conn, err := local.New("", "", zap.NewNop(), local.WithMockKeys())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	opts := Options{
		Registry:       signer.NewRegistry(signer.NewSession(conn, nil, m), signer.WithMetrics(m)),
		Metrics:        m,
		Gatherer:       reg,
		RequestTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := httptest.NewServer(NewRouter(opts))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

const signBody = `{"jsonrpc":"2.0","id":1,"method":"eth_signTransaction","params":[{"chainId":"0x1","nonce":"0x0","gasPrice":"0x1","gas":"0x5208","to":"0xe673243b0573080B20E55C62f4d4b685B00427B9"}]}`

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	code, body := get(t, srv.URL+"/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body)

	code, body = get(t, srv.URL+"/key/1/address")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, local.MockKeys[0].Address)

	resp, err := http.Post(srv.URL+"/key/1", "application/json", strings.NewReader(signBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `hsmsigner_sign_requests_total{outcome="ok"} 1`)
	assert.Contains(t, body, `hsmsigner_rpc_requests_total{method="eth_signTransaction"} 1`)

	// Key creation requires authentication to be configured.
	resp, err = http.Post(srv.URL+"/keys", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.APIKey = "key"
		o.APISecret = "secret"
	})

	code, _ := get(t, srv.URL+"/ping")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv.URL+"/key/1/address")
	assert.Equal(t, http.StatusUnauthorized, code)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/keys", strings.NewReader(`{"label":"ops"}`))
	require.NoError(t, err)
	req.Header.Set(middleware.APIKeyHeader, "key")
	req.Header.Set(middleware.TimestampHeader, ts)
	req.Header.Set(middleware.SignatureHeader, middleware.Sign("secret", ts, []byte(`{"label":"ops"}`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestWithTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rec := httptest.NewRecorder()
	withTimeout(slow, 10*time.Millisecond).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/key/1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, timeoutBody, rec.Body.String())

	fast := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	rec = httptest.NewRecorder()
	withTimeout(fast, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRun(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := NewServer(http.NotFoundHandler(), addr, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
