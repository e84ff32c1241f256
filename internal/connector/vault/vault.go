// Package vault implements a key backend on a HashiCorp Vault transit engine
// holding secp256k1 keys.
package vault

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/connector/der"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// Type is the connector type name.
const Type = "vault"

const keyType = "secp256k1"

// Connector signs digests with transit keys.
type Connector struct {
	client      *api.Client
	transitPath string
	logger      *zap.Logger
}

// NewClient creates a Vault API client for address authenticated with token.
func NewClient(address, token string) (*api.Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create vault client")
	}
	if token != "" {
		client.SetToken(token)
	}
	return client, nil
}

// New creates a Connector and makes sure the transit engine is mounted at
// transitPath.
func New(ctx context.Context, client *api.Client, transitPath string, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connector{
		client:      client,
		transitPath: strings.Trim(transitPath, "/"),
		logger:      logger,
	}
	if c.transitPath == "" {
		return nil, errors.New("transit path is required")
	}
	if err := c.enableTransitEngine(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to enable transit secrets engine")
	}
	return c, nil
}

func (c *Connector) enableTransitEngine(ctx context.Context) error {
	mounts, err := c.client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return err
	}

	if _, ok := mounts[c.transitPath+"/"]; ok {
		c.logger.Info("Transit secrets engine already enabled", zap.String("path", c.transitPath))
		return nil
	}
	c.logger.Info("Transit secrets engine not found, enabling it", zap.String("path", c.transitPath))
	return c.client.Sys().MountWithContext(ctx, c.transitPath, &api.MountInput{Type: "transit"})
}

// Type implements signer.Connector.
func (c *Connector) Type() string { return Type }

// PublicKey implements signer.Connector. It reads the latest version of the
// transit key.
func (c *Connector) PublicKey(ctx context.Context, handle signer.KeyHandle) (*ecdsa.PublicKey, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.keyPath(handle))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key from vault")
	}
	if secret == nil || secret.Data["keys"] == nil {
		return nil, signer.KeyNotFound(handle)
	}

	keysData, ok := secret.Data["keys"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected format for key data")
	}
	version, err := latestVersion(secret.Data["latest_version"], keysData)
	if err != nil {
		return nil, err
	}
	keyData, ok := keysData[version].(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected format for key version %s", version)
	}
	encoded, ok := keyData["public_key"].(string)
	if !ok || encoded == "" {
		return nil, errors.New("public key not found in key data")
	}
	return parsePublicKey(encoded)
}

// SignDigest implements signer.Connector. The digest is submitted prehashed so
// Vault signs exactly the 32 bytes given.
func (c *Connector) SignDigest(ctx context.Context, handle signer.KeyHandle, digest common.Hash) (tx.RawSignature, error) {
	path := fmt.Sprintf("%s/sign/%s", c.transitPath, handle)
	resp, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"input":                base64.StdEncoding.EncodeToString(digest.Bytes()),
		"prehashed":            true,
		"hash_algorithm":       "sha2-256",
		"marshaling_algorithm": "jws",
	})
	if err != nil {
		if isNotFound(err) {
			return tx.RawSignature{}, signer.KeyNotFound(handle)
		}
		return tx.RawSignature{}, errors.Wrap(err, "failed to sign with vault")
	}
	if resp == nil {
		return tx.RawSignature{}, errors.New("empty response from vault")
	}
	signature, ok := resp.Data["signature"].(string)
	if !ok {
		return tx.RawSignature{}, errors.New("signature not found in vault response")
	}
	return parseSignature(signature)
}

// GenerateKey implements signer.KeyGenerator. The key is named after the
// label, or a random UUID when no label is given.
func (c *Connector) GenerateKey(ctx context.Context, opts signer.KeyOptions) (signer.KeyHandle, *ecdsa.PublicKey, error) {
	name := opts.Label
	if name == "" {
		name = "eth-key-" + uuid.NewString()
	}
	handle := signer.KeyHandle(name)

	_, err := c.client.Logical().WriteWithContext(ctx, c.keyPath(handle), map[string]interface{}{
		"type":       keyType,
		"exportable": opts.Exportable,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create key in vault")
	}

	pub, err := c.PublicKey(ctx, handle)
	if err != nil {
		c.deleteKey(ctx, handle)
		return "", nil, errors.Wrap(err, "failed to get public key for new key")
	}

	c.logger.Info("Created vault key",
		zap.String("key", name),
		zap.String("address", crypto.PubkeyToAddress(*pub).Hex()))
	return handle, pub, nil
}

// ListKeys implements signer.KeyLister.
func (c *Connector) ListKeys(ctx context.Context) ([]signer.KeyHandle, error) {
	secret, err := c.client.Logical().ListWithContext(ctx, c.transitPath+"/keys")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list vault keys")
	}
	if secret == nil || secret.Data["keys"] == nil {
		return nil, nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected format for keys from vault")
	}

	handles := make([]signer.KeyHandle, 0, len(keys))
	for _, k := range keys {
		if name, ok := k.(string); ok {
			handles = append(handles, signer.KeyHandle(name))
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, nil
}

func (c *Connector) deleteKey(ctx context.Context, handle signer.KeyHandle) {
	path := c.keyPath(handle)
	_, err := c.client.Logical().WriteWithContext(ctx, path+"/config", map[string]interface{}{
		"deletion_allowed": true,
	})
	if err == nil {
		_, err = c.client.Logical().DeleteWithContext(ctx, path)
	}
	if err != nil {
		c.logger.Warn("Failed to clean up vault key", zap.String("key", string(handle)), zap.Error(err))
	}
}

func (c *Connector) keyPath(handle signer.KeyHandle) string {
	return fmt.Sprintf("%s/keys/%s", c.transitPath, handle)
}

// latestVersion prefers the server's latest_version and falls back to the
// numerically highest version present.
func latestVersion(raw interface{}, keysData map[string]interface{}) (string, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case int:
		return strconv.Itoa(v), nil
	}

	best := -1
	for k := range keysData {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return "", errors.New("key has no versions")
	}
	return strconv.Itoa(best), nil
}

// parsePublicKey accepts a PEM SubjectPublicKeyInfo or a hex encoded
// uncompressed point.
func parsePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	if strings.Contains(encoded, "-----BEGIN") {
		return der.ParsePEMPublicKey([]byte(encoded))
	}
	if !strings.HasPrefix(encoded, "0x") {
		encoded = "0x" + encoded
	}
	point, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode public key")
	}
	pub, err := crypto.UnmarshalPubkey(point)
	if err != nil {
		return nil, errors.Wrap(err, "invalid secp256k1 point")
	}
	return pub, nil
}

// parseSignature decodes "vault:v<N>:<base64>". The payload is r || s under
// jws marshaling, or a DER ECDSA-Sig-Value under asn1 marshaling.
func parseSignature(signature string) (tx.RawSignature, error) {
	parts := strings.SplitN(signature, ":", 3)
	if len(parts) != 3 || parts[0] != "vault" {
		return tx.RawSignature{}, errors.Errorf("invalid signature format from vault: %s", signature)
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[2], "="))
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return tx.RawSignature{}, errors.Wrap(err, "failed to decode signature")
		}
	}
	if len(payload) == 2*tx.WordLength {
		return tx.NewRawSignature(payload[:tx.WordLength], payload[tx.WordLength:])
	}
	return der.ParseSignature(payload)
}

func isNotFound(err error) bool {
	var respErr *api.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
