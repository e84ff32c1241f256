package tx

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest is the single Keccak-256 hash of an EncodeUnsigned payload.
func Digest(encoded []byte) common.Hash {
	return crypto.Keccak256Hash(encoded)
}

// SigningDigest encodes t and hashes the result. It is the only way the
// signing pipeline derives the value submitted to a key backend.
func SigningDigest(t *UnsignedTransaction) (common.Hash, error) {
	enc, err := EncodeUnsigned(t)
	if err != nil {
		return common.Hash{}, err
	}
	return Digest(enc), nil
}
