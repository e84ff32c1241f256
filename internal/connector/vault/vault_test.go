package vault

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/hsmsigner/internal/connector/der"
	"github.com/xueqianLu/hsmsigner/internal/recovery"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// fakeTransit serves the subset of the transit API the connector uses.
type fakeTransit struct {
	mu      sync.Mutex
	mounted bool
	keys    map[string]*ecdsa.PrivateKey
	signs   []map[string]interface{}
}

func newFakeTransit(t *testing.T) (*fakeTransit, *httptest.Server) {
	f := &fakeTransit{keys: make(map[string]*ecdsa.PrivateKey)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTransit) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case path == "sys/mounts" && r.Method == http.MethodGet:
		data := map[string]interface{}{}
		if f.mounted {
			data["transit/"] = map[string]interface{}{"type": "transit"}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})

	case path == "sys/mounts/transit":
		f.mounted = true
		w.WriteHeader(http.StatusNoContent)

	case path == "transit/keys" && r.URL.Query().Get("list") == "true":
		names := make([]string, 0, len(f.keys))
		for name := range f.keys {
			names = append(names, name)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"keys": names}})

	case strings.HasPrefix(path, "transit/keys/"):
		name := strings.TrimPrefix(path, "transit/keys/")
		switch r.Method {
		case http.MethodGet:
			key, ok := f.keys[name]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
				return
			}
			pemBytes, _ := der.MarshalPEMPublicKey(&key.PublicKey)
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
				"latest_version": 2,
				"keys": map[string]interface{}{
					"1": map[string]interface{}{"public_key": "stale"},
					"2": map[string]interface{}{"public_key": string(pemBytes)},
				},
			}})
		default:
			key, _ := crypto.GenerateKey()
			f.keys[name] = key
			w.WriteHeader(http.StatusNoContent)
		}

	case strings.HasPrefix(path, "transit/sign/"):
		name := strings.TrimPrefix(path, "transit/sign/")
		key, ok := f.keys[name]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{"key not found"}})
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.signs = append(f.signs, body)
		input, _ := base64.StdEncoding.DecodeString(body["input"].(string))
		sig, _ := crypto.Sign(input, key)
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"signature": "vault:v2:" + base64.RawURLEncoding.EncodeToString(sig[:64]),
		}})

	default:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{"no handler for " + path}})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newConnector(t *testing.T) (*Connector, *fakeTransit) {
	f, srv := newFakeTransit(t)
	client, err := NewClient(srv.URL, "root")
	require.NoError(t, err)
	c, err := New(context.Background(), client, "transit", zap.NewNop())
	require.NoError(t, err)
	return c, f
}

func TestNewMountsTransit(t *testing.T) {
	_, f := newConnector(t)
	assert.True(t, f.mounted)
}

func TestGenerateAndSign(t *testing.T) {
	c, f := newConnector(t)
	ctx := context.Background()

	handle, pub, err := c.GenerateKey(ctx, signer.KeyOptions{Label: "ops"})
	require.NoError(t, err)
	assert.Equal(t, signer.KeyHandle("ops"), handle)

	got, err := c.PublicKey(ctx, handle)
	require.NoError(t, err)
	assert.True(t, recovery.SamePublicKey(pub, got))

	digest := crypto.Keccak256Hash([]byte("vault"))
	sig, err := c.SignDigest(ctx, handle, digest)
	require.NoError(t, err)
	_, err = recovery.Resolve(digest, sig, pub)
	assert.NoError(t, err)

	require.Len(t, f.signs, 1)
	assert.Equal(t, true, f.signs[0]["prehashed"])
	assert.Equal(t, "jws", f.signs[0]["marshaling_algorithm"])

	handles, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []signer.KeyHandle{"ops"}, handles)
}

func TestGenerateKeyRandomName(t *testing.T) {
	c, _ := newConnector(t)
	handle, _, err := c.GenerateKey(context.Background(), signer.KeyOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(handle), "eth-key-"))
}

func TestUnknownKey(t *testing.T) {
	c, _ := newConnector(t)
	ctx := context.Background()

	_, err := c.PublicKey(ctx, "missing")
	assert.Equal(t, sigerr.MalformedRequest, sigerr.KindOf(err))

	_, err = c.SignDigest(ctx, "missing", crypto.Keccak256Hash(nil))
	assert.Equal(t, sigerr.MalformedRequest, sigerr.KindOf(err))
}

func TestParseSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(crypto.Keccak256([]byte("x")), key)
	require.NoError(t, err)
	want, err := tx.NewRawSignature(sig[:32], sig[32:64])
	require.NoError(t, err)

	got, err := parseSignature("vault:v1:" + base64.RawURLEncoding.EncodeToString(sig[:64]))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	derBytes, err := der.MarshalSignature(want)
	require.NoError(t, err)
	got, err = parseSignature("vault:v1:" + base64.StdEncoding.EncodeToString(derBytes))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = parseSignature("v1:abc")
	assert.Error(t, err)
}

func TestParsePublicKeyHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encoded := hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))

	for _, in := range []string{encoded, strings.TrimPrefix(encoded, "0x")} {
		pub, err := parsePublicKey(in)
		require.NoError(t, err)
		assert.True(t, recovery.SamePublicKey(&key.PublicKey, pub))
	}
}

func TestLatestVersion(t *testing.T) {
	keys := map[string]interface{}{"1": nil, "2": nil, "10": nil}

	v, err := latestVersion(json.Number("2"), keys)
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	v, err = latestVersion(nil, keys)
	require.NoError(t, err)
	assert.Equal(t, "10", v)

	_, err = latestVersion(nil, map[string]interface{}{})
	assert.Error(t, err)
}
