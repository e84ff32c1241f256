package signer

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/tx"
)

// KeyHandle names a key inside a backend: a Vault transit key name, an AWS
// KMS key id or alias, or a local keystore handle.
type KeyHandle string

// Connector is the capability a key backend exposes. It knows nothing about
// transactions: it returns public keys and signs 32-byte digests with raw
// ECDSA, without a recovery id.
type Connector interface {
	// Type names the backend, e.g. "vault".
	Type() string

	// PublicKey returns the secp256k1 public key of the key behind handle.
	PublicKey(ctx context.Context, handle KeyHandle) (*ecdsa.PublicKey, error)

	// SignDigest signs digest as-is, without hashing it again.
	SignDigest(ctx context.Context, handle KeyHandle, digest common.Hash) (tx.RawSignature, error)
}

// KeyOptions parameterizes key generation.
type KeyOptions struct {
	Label      string
	Exportable bool
}

// KeyGenerator is implemented by connectors that can create signing keys.
type KeyGenerator interface {
	GenerateKey(ctx context.Context, opts KeyOptions) (KeyHandle, *ecdsa.PublicKey, error)
}

// KeyLister is implemented by connectors that can enumerate their keys.
type KeyLister interface {
	ListKeys(ctx context.Context) ([]KeyHandle, error)
}

// Identity is the public half of a backend key. It is fetched once and never
// mutated afterwards, so it is shared by pointer between requests.
type Identity struct {
	Handle    KeyHandle
	PublicKey *ecdsa.PublicKey
	Address   common.Address
}

// NewIdentity validates pub and derives its address.
func NewIdentity(handle KeyHandle, pub *ecdsa.PublicKey) (*Identity, error) {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil, errors.Errorf("key %s: backend returned no public key", handle)
	}
	if !crypto.S256().IsOnCurve(pub.X, pub.Y) {
		return nil, errors.Errorf("key %s: public key is not on secp256k1", handle)
	}
	return &Identity{
		Handle:    handle,
		PublicKey: pub,
		Address:   crypto.PubkeyToAddress(*pub),
	}, nil
}

// KeyNotFound is the error connectors return for an unknown handle. It is a
// request error, not a backend failure.
func KeyNotFound(handle KeyHandle) error {
	return sigerr.Malformed("keyID", "key %s not found", handle)
}
