// Package local implements a software key backend on top of encrypted
// keystore files. It signs digests with raw ECDSA and discards the recovery
// id, behaving like an HSM for development and tests.
package local

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// Type is the connector type name.
const Type = "local"

// MockKeys are well-known development keys served under handles "1" and "2".
// Never fund their addresses.
var MockKeys = []struct {
	Handle     signer.KeyHandle
	PrivateKey string
	Address    string
}{
	{"1", "25b1759e8eabc06b7d097550dffd7d8c92407fb818c5e9e33b81ef92d4afa2b7", "0x54E0602AfA63cFD1eAED15Ba4a778cD252AB925A"},
	{"2", "5bcaa0de81a26da01ba9e347e8093f2463a3f8e35626914c4984cae19b38288c", "0xe673243b0573080B20E55C62f4d4b685B00427B9"},
}

// Connector holds private keys in memory, loaded from keyDir.
type Connector struct {
	keyDir   string
	password string
	scryptN  int
	scryptP  int
	highS    bool
	logger   *zap.Logger

	mu   sync.RWMutex
	keys map[signer.KeyHandle]*ecdsa.PrivateKey
}

// Option configures a Connector.
type Option func(*Connector)

// WithHighS makes SignDigest return the high-s form of every signature,
// mimicking backends that do not normalize s.
func WithHighS(enabled bool) Option {
	return func(c *Connector) { c.highS = enabled }
}

// WithScrypt sets the keystore KDF cost for keys created by GenerateKey.
func WithScrypt(n, p int) Option {
	return func(c *Connector) { c.scryptN, c.scryptP = n, p }
}

// WithKey adds an in-memory key under handle.
func WithKey(handle signer.KeyHandle, key *ecdsa.PrivateKey) Option {
	return func(c *Connector) { c.keys[handle] = key }
}

// WithMockKeys adds MockKeys.
func WithMockKeys() Option {
	return func(c *Connector) {
		for _, mk := range MockKeys {
			key, err := crypto.HexToECDSA(mk.PrivateKey)
			if err != nil {
				panic(fmt.Sprintf("invalid mock key %s: %v", mk.Handle, err))
			}
			c.keys[mk.Handle] = key
		}
	}
}

// New creates a Connector and loads the keystore files found in keyDir. An
// empty keyDir keeps keys in memory only.
func New(keyDir, password string, logger *zap.Logger, opts ...Option) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connector{
		keyDir:   keyDir,
		password: password,
		scryptN:  keystore.StandardScryptN,
		scryptP:  keystore.StandardScryptP,
		logger:   logger,
		keys:     make(map[signer.KeyHandle]*ecdsa.PrivateKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	if keyDir == "" {
		return c, nil
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create key directory")
	}
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key directory")
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		keyJSON, err := os.ReadFile(filepath.Join(keyDir, file.Name()))
		if err != nil {
			logger.Warn("Failed to read key file", zap.String("file", file.Name()), zap.Error(err))
			continue
		}
		key, err := keystore.DecryptKey(keyJSON, password)
		if err != nil {
			logger.Warn("Failed to decrypt key file", zap.String("file", file.Name()), zap.Error(err))
			continue
		}
		c.keys[signer.KeyHandle(key.Address.Hex())] = key.PrivateKey
		logger.Info("Loaded local key", zap.String("address", key.Address.Hex()))
	}
	return c, nil
}

// Type implements signer.Connector.
func (c *Connector) Type() string { return Type }

// PublicKey implements signer.Connector.
func (c *Connector) PublicKey(_ context.Context, handle signer.KeyHandle) (*ecdsa.PublicKey, error) {
	key, err := c.key(handle)
	if err != nil {
		return nil, err
	}
	pub := key.PublicKey
	return &pub, nil
}

// SignDigest implements signer.Connector.
func (c *Connector) SignDigest(ctx context.Context, handle signer.KeyHandle, digest common.Hash) (tx.RawSignature, error) {
	if err := ctx.Err(); err != nil {
		return tx.RawSignature{}, err
	}
	key, err := c.key(handle)
	if err != nil {
		return tx.RawSignature{}, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return tx.RawSignature{}, errors.Wrap(err, "failed to sign digest")
	}
	raw, err := tx.NewRawSignature(sig[:32], sig[32:64])
	if err != nil {
		return tx.RawSignature{}, err
	}
	if c.highS {
		raw = raw.WithS(new(big.Int).Sub(crypto.S256().Params().N, raw.SInt()))
	}
	return raw, nil
}

// GenerateKey creates a key pair and, when a key directory is configured,
// saves it encrypted to disk. The handle is the checksummed address.
func (c *Connector) GenerateKey(_ context.Context, opts signer.KeyOptions) (signer.KeyHandle, *ecdsa.PublicKey, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to generate private key")
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	handle := signer.KeyHandle(address.Hex())

	if c.keyDir != "" {
		keyJSON, err := keystore.EncryptKey(&keystore.Key{
			Address:    address,
			PrivateKey: privateKey,
		}, c.password, c.scryptN, c.scryptP)
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to encrypt private key")
		}
		name := address.Hex() + ".json"
		if opts.Label != "" {
			name = opts.Label + "-" + name
		}
		if err := os.WriteFile(filepath.Join(c.keyDir, name), keyJSON, 0600); err != nil {
			return "", nil, errors.Wrap(err, "failed to save encrypted key")
		}
	}

	c.mu.Lock()
	c.keys[handle] = privateKey
	c.mu.Unlock()

	c.logger.Info("Created local key", zap.String("address", address.Hex()), zap.String("label", opts.Label))
	pub := privateKey.PublicKey
	return handle, &pub, nil
}

// ListKeys implements signer.KeyLister.
func (c *Connector) ListKeys(context.Context) ([]signer.KeyHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handles := make([]signer.KeyHandle, 0, len(c.keys))
	for h := range c.keys {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, nil
}

func (c *Connector) key(handle signer.KeyHandle) (*ecdsa.PrivateKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if key, ok := c.keys[handle]; ok {
		return key, nil
	}
	if common.IsHexAddress(string(handle)) {
		if key, ok := c.keys[signer.KeyHandle(common.HexToAddress(string(handle)).Hex())]; ok {
			return key, nil
		}
	}
	return nil, signer.KeyNotFound(handle)
}
