package tx

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
)

// EncodeUnsigned returns the EIP-155 signing payload
// rlp([nonce, gasPrice, gas, to, value, data, chainId, 0, 0]).
func EncodeUnsigned(t *UnsignedTransaction) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return encodeList(
		t.Nonce,
		orZero(t.GasPrice),
		t.GasLimit,
		toBytes(t.To),
		orZero(t.Value),
		dataBytes(t.Data),
		t.ChainID,
		uint(0),
		uint(0),
	)
}

// EncodeSigned returns the broadcast encoding
// rlp([nonce, gasPrice, gas, to, value, data, v, r, s]).
// r and s are written as minimal integers, without leading zeros.
func EncodeSigned(t *UnsignedTransaction, v *big.Int, sig RawSignature) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if v == nil || v.Sign() < 0 {
		return nil, sigerr.Malformed("v", "missing or negative")
	}
	return encodeList(
		t.Nonce,
		orZero(t.GasPrice),
		t.GasLimit,
		toBytes(t.To),
		orZero(t.Value),
		dataBytes(t.Data),
		v,
		sig.RInt(),
		sig.SInt(),
	)
}

type signedRLP struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       []byte
	Value    *big.Int
	Data     []byte
	V, R, S  *big.Int
}

// DecodeSigned parses the output of EncodeSigned. ChainID is derived from v
// and is left zero for pre-EIP-155 values of v.
func DecodeSigned(raw []byte) (*SignedTransaction, error) {
	var dec signedRLP
	if err := rlp.DecodeBytes(raw, &dec); err != nil {
		return nil, sigerr.Malformed("rawTransaction", "%v", err)
	}
	st := &SignedTransaction{
		UnsignedTransaction: UnsignedTransaction{
			Nonce:    dec.Nonce,
			GasPrice: dec.GasPrice,
			GasLimit: dec.Gas,
			Value:    dec.Value,
			Data:     dec.Data,
		},
		V: dec.V,
		R: dec.R,
		S: dec.S,
	}
	switch len(dec.To) {
	case 0:
	case AddressLength:
		to := common.BytesToAddress(dec.To)
		st.To = &to
	default:
		return nil, sigerr.Malformed("to", "address is %d bytes", len(dec.To))
	}
	if chainID, ok := ChainIDFromV(dec.V); ok {
		st.ChainID = chainID
	}
	return st, nil
}

// ChainIDFromV reverses v = recoveryId + 2*chainId + 35.
func ChainIDFromV(v *big.Int) (uint64, bool) {
	if v == nil || v.Cmp(big.NewInt(35)) < 0 {
		return 0, false
	}
	c := new(big.Int).Sub(v, big.NewInt(35))
	c.Rsh(c, 1)
	if !c.IsUint64() {
		return 0, false
	}
	return c.Uint64(), true
}

// RecoveryIDFromV returns the recovery id embedded in a replay protected v.
func RecoveryIDFromV(v *big.Int) (uint8, bool) {
	if v == nil || v.Cmp(big.NewInt(35)) < 0 {
		return 0, false
	}
	c := new(big.Int).Sub(v, big.NewInt(35))
	return uint8(c.Bit(0)), true
}

// RawSignature returns the (r, s) pair of a decoded transaction.
func (st *SignedTransaction) RawSignature() (RawSignature, error) {
	if st.R == nil || st.S == nil {
		return RawSignature{}, sigerr.Malformed("signature", "missing r or s")
	}
	return RawSignatureFromInts(st.R, st.S)
}

func encodeList(fields ...interface{}) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, errors.Wrap(err, "rlp encode")
	}
	return enc, nil
}

func toBytes(to *common.Address) []byte {
	if to == nil {
		return []byte{}
	}
	return to.Bytes()
}

func dataBytes(d []byte) []byte {
	if d == nil {
		return []byte{}
	}
	return d
}
