// Package recovery derives the recovery id that a raw (r, s) signature lacks by
// recovering candidate public keys and matching them against the known key.
package recovery

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/tx"
)

var (
	secp256k1N     = new(big.Int).Set(crypto.S256().Params().N)
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// Result describes a successful resolution.
type Result struct {
	// ID is the recovery id, 0 or 1, valid for Signature.
	ID uint8
	// Signature is the signature that matched. It differs from the input only
	// when Complemented is set.
	Signature tx.RawSignature
	// Complemented reports that s had to be replaced by N - s.
	Complemented bool
	// Attempts is the number of recoveries performed.
	Attempts int
}

// Candidates are tried in this order for each form of s.
var candidates = [...]uint8{0, 1}

// Resolve returns the recovery id under which sig recovers known from digest.
// The s given is tried first, then its complement N - s, so a backend that
// returns high-s signatures still resolves. Failing both, the error is a
// SignatureMismatch.
func Resolve(digest common.Hash, sig tx.RawSignature, known *ecdsa.PublicKey) (Result, error) {
	if known == nil {
		return Result{}, errors.New("known public key is nil")
	}
	if err := checkRange(sig); err != nil {
		return Result{}, err
	}

	attempts := 0
	forms := []struct {
		sig          tx.RawSignature
		complemented bool
	}{
		{sig, false},
		{sig.WithS(new(big.Int).Sub(secp256k1N, sig.SInt())), true},
	}
	for _, form := range forms {
		for _, id := range candidates {
			attempts++
			pub, err := Recover(digest, form.sig, id)
			if err != nil {
				continue
			}
			if SamePublicKey(pub, known) {
				return Result{ID: id, Signature: form.sig, Complemented: form.complemented, Attempts: attempts}, nil
			}
		}
	}
	return Result{Attempts: attempts}, sigerr.Mismatch(
		"no recovery id among %d attempts reproduces key %s", attempts, crypto.PubkeyToAddress(*known).Hex())
}

// Recover returns the public key recovered from digest, sig and id.
func Recover(digest common.Hash, sig tx.RawSignature, id uint8) (*ecdsa.PublicKey, error) {
	if id > 1 {
		return nil, errors.Errorf("recovery id %d out of range", id)
	}
	compact := append(sig.Bytes(), id)
	pub, err := crypto.SigToPub(digest.Bytes(), compact)
	if err != nil {
		return nil, errors.Wrapf(err, "recover with id %d", id)
	}
	return pub, nil
}

// NormalizeLowS returns sig with s in the lower half of the curve order and
// reports whether s was flipped. A flip inverts the parity of the recovery id.
func NormalizeLowS(sig tx.RawSignature) (tx.RawSignature, bool) {
	s := sig.SInt()
	if s.Cmp(secp256k1HalfN) <= 0 {
		return sig, false
	}
	return sig.WithS(s.Sub(secp256k1N, s)), true
}

// IsLowS reports whether s is in canonical form.
func IsLowS(sig tx.RawSignature) bool {
	return sig.SInt().Cmp(secp256k1HalfN) <= 0
}

// SamePublicKey compares two keys as curve points.
func SamePublicKey(a, b *ecdsa.PublicKey) bool {
	if a == nil || b == nil || a.X == nil || b.X == nil {
		return false
	}
	return a.X.Cmp(b.X) == 0 && a.Y.Cmp(b.Y) == 0
}

func checkRange(sig tx.RawSignature) error {
	r, s := sig.RInt(), sig.SInt()
	if r.Sign() == 0 || r.Cmp(secp256k1N) >= 0 {
		return sigerr.Mismatch("signature r is outside [1, N-1]")
	}
	if s.Sign() == 0 || s.Cmp(secp256k1N) >= 0 {
		return sigerr.Mismatch("signature s is outside [1, N-1]")
	}
	return nil
}
