package tx

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
)

// Request field names, as sent in the eth_signTransaction object.
const (
	FieldChainID  = "chainId"
	FieldNonce    = "nonce"
	FieldGas      = "gas"
	FieldGasPrice = "gasPrice"
	FieldTo       = "to"
	FieldValue    = "value"
	FieldData     = "data"
	FieldFrom     = "from"
)

var fieldAliases = map[string][]string{
	FieldGas:  {"gasLimit"},
	FieldData: {"input"},
}

// DecodeRequestFields converts a loosely typed eth_signTransaction object into
// an UnsignedTransaction. Quantities may be 0x-prefixed hex, decimal strings
// or JSON numbers; byte strings must be 0x-prefixed hex. "from" is ignored.
func DecodeRequestFields(fields map[string]interface{}) (*UnsignedTransaction, error) {
	if fields == nil {
		return nil, sigerr.Malformed("", "transaction object is missing")
	}

	t := &UnsignedTransaction{}
	var err error

	if t.ChainID, err = requiredUint64(fields, FieldChainID); err != nil {
		return nil, err
	}
	if t.Nonce, err = requiredUint64(fields, FieldNonce); err != nil {
		return nil, err
	}
	if t.GasLimit, err = requiredUint64(fields, FieldGas); err != nil {
		return nil, err
	}

	raw, name, ok := lookup(fields, FieldGasPrice)
	if !ok {
		return nil, sigerr.Malformed(FieldGasPrice, "required field is missing")
	}
	if t.GasPrice, err = parseQuantity(name, raw, WordBits); err != nil {
		return nil, err
	}

	t.Value = new(big.Int)
	if raw, name, ok := lookup(fields, FieldValue); ok {
		if t.Value, err = parseQuantity(name, raw, WordBits); err != nil {
			return nil, err
		}
	}

	t.Data = []byte{}
	if raw, name, ok := lookup(fields, FieldData); ok {
		if t.Data, err = parseHexBytes(name, raw); err != nil {
			return nil, err
		}
	}

	if raw, name, ok := lookup(fields, FieldTo); ok {
		if t.To, err = parseAddress(name, raw); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// RequestFields renders t in the shape accepted by DecodeRequestFields.
func (t *UnsignedTransaction) RequestFields() map[string]interface{} {
	fields := map[string]interface{}{
		FieldChainID:  hexutil.EncodeUint64(t.ChainID),
		FieldNonce:    hexutil.EncodeUint64(t.Nonce),
		FieldGas:      hexutil.EncodeUint64(t.GasLimit),
		FieldGasPrice: hexutil.EncodeBig(orZero(t.GasPrice)),
		FieldValue:    hexutil.EncodeBig(orZero(t.Value)),
		FieldData:     hexutil.Encode(dataBytes(t.Data)),
	}
	if t.To != nil {
		fields[FieldTo] = t.To.Hex()
	}
	return fields
}

func lookup(fields map[string]interface{}, name string) (interface{}, string, bool) {
	for _, key := range append([]string{name}, fieldAliases[name]...) {
		if v, ok := fields[key]; ok && v != nil {
			return v, key, true
		}
	}
	return nil, name, false
}

func requiredUint64(fields map[string]interface{}, name string) (uint64, error) {
	raw, key, ok := lookup(fields, name)
	if !ok {
		return 0, sigerr.Malformed(name, "required field is missing")
	}
	v, err := parseQuantity(key, raw, 64)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func parseQuantity(field string, raw interface{}, bits int) (*big.Int, error) {
	var (
		v  *big.Int
		ok bool
	)
	switch n := raw.(type) {
	case string:
		v, ok = parseQuantityString(n)
	case json.Number:
		v, ok = new(big.Int).SetString(n.String(), 10)
	case float64:
		if n >= 0 && n == math.Trunc(n) && n <= 1<<53 {
			v, ok = new(big.Int).SetUint64(uint64(n)), true
		}
	case int:
		v, ok = big.NewInt(int64(n)), true
	case int64:
		v, ok = big.NewInt(n), true
	case uint64:
		v, ok = new(big.Int).SetUint64(n), true
	case *big.Int:
		if n != nil {
			v, ok = new(big.Int).Set(n), true
		}
	}
	if !ok {
		return nil, sigerr.Malformed(field, "cannot parse %v as a quantity", raw)
	}
	if v.Sign() < 0 {
		return nil, sigerr.Malformed(field, "negative quantity %s", v)
	}
	if v.BitLen() > bits {
		return nil, sigerr.Overflow(field, "quantity needs %d bits, max %d", v.BitLen(), bits)
	}
	return v, nil
}

// parseQuantityString accepts unsigned hex or decimal digits only.
func parseQuantityString(s string) (*big.Int, bool) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" || s[0] == '+' || s[0] == '-' {
		return nil, false
	}
	return new(big.Int).SetString(s, base)
}

func parseHexBytes(field string, raw interface{}) ([]byte, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, sigerr.Malformed(field, "expected a hex string, got %T", raw)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, sigerr.Malformed(field, "%v", err)
	}
	return b, nil
}

func parseAddress(field string, raw interface{}) (*common.Address, error) {
	if s, ok := raw.(string); ok && s == "" {
		return nil, nil
	}
	b, err := parseHexBytes(field, raw)
	if err != nil {
		return nil, err
	}
	switch {
	case len(b) > AddressLength:
		return nil, sigerr.Overflow(field, "address is %d bytes, max %d", len(b), AddressLength)
	case len(b) < AddressLength:
		return nil, sigerr.Malformed(field, "address is %d bytes, want %d", len(b), AddressLength)
	}
	to := common.BytesToAddress(b)
	return &to, nil
}
