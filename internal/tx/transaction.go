// Package tx holds the legacy transaction model together with its canonical
// RLP encodings and the signing digest derived from them.
package tx

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
)

const (
	// AddressLength is the exact width of a recipient address.
	AddressLength = common.AddressLength
	// WordBits bounds GasPrice, Value and the signature components.
	WordBits = 256
	// WordLength is WordBits in bytes.
	WordLength = WordBits / 8
)

// UnsignedTransaction is a legacy (gas price) transaction before signing.
// A nil To means contract creation. A nil GasPrice or Value is zero.
type UnsignedTransaction struct {
	ChainID  uint64
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *common.Address
	Value    *big.Int
	Data     []byte
}

// SignedTransaction is an UnsignedTransaction plus its replay protected signature.
type SignedTransaction struct {
	UnsignedTransaction
	V *big.Int
	R *big.Int
	S *big.Int
}

// Validate checks that the big integer fields fit their declared width.
func (t *UnsignedTransaction) Validate() error {
	if err := checkWord("gasPrice", t.GasPrice); err != nil {
		return err
	}
	return checkWord("value", t.Value)
}

// Equal compares two transactions field by field, treating nil and zero alike.
func (t *UnsignedTransaction) Equal(o *UnsignedTransaction) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.ChainID != o.ChainID || t.Nonce != o.Nonce || t.GasLimit != o.GasLimit {
		return false
	}
	if orZero(t.GasPrice).Cmp(orZero(o.GasPrice)) != 0 || orZero(t.Value).Cmp(orZero(o.Value)) != 0 {
		return false
	}
	if (t.To == nil) != (o.To == nil) || (t.To != nil && *t.To != *o.To) {
		return false
	}
	return bytes.Equal(t.Data, o.Data)
}

func checkWord(field string, v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return sigerr.Malformed(field, "negative value %s", v)
	}
	if v.BitLen() > WordBits {
		return sigerr.Overflow(field, "value needs %d bits, max %d", v.BitLen(), WordBits)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
