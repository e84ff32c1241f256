package tx

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
)

func requestFields() map[string]interface{} {
	return map[string]interface{}{
		"chainId":  "0xaa37dc",
		"from":     "0x54E0602AfA63cFD1eAED15Ba4a778cD252AB925A",
		"gas":      "0x7b0c",
		"gasPrice": "0x1250b1",
		"nonce":    "0x0",
		"to":       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"value":    "0x2386f26fc10000",
		"data":     "0x",
	}
}

func TestDecodeRequestFields(t *testing.T) {
	got, err := DecodeRequestFields(requestFields())
	require.NoError(t, err)
	assert.True(t, sampleTx().Equal(got), "decoded %+v", got)
}

func TestDecodeRequestFields_Shapes(t *testing.T) {
	t.Run("json numbers and decimal strings", func(t *testing.T) {
		var fields map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader([]byte(`{
			"chainId": 11155420, "nonce": 0, "gas": "31500",
			"gasPrice": "0x1250b1", "value": "10000000000000000",
			"to": "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
		}`)))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&fields))

		got, err := DecodeRequestFields(fields)
		require.NoError(t, err)
		assert.True(t, sampleTx().Equal(got))
	})

	t.Run("float numbers from plain json", func(t *testing.T) {
		fields := requestFields()
		fields["chainId"] = float64(11155420)
		got, err := DecodeRequestFields(fields)
		require.NoError(t, err)
		assert.Equal(t, uint64(11155420), got.ChainID)
	})

	t.Run("aliases", func(t *testing.T) {
		fields := requestFields()
		delete(fields, "gas")
		delete(fields, "data")
		fields["gasLimit"] = "0x5208"
		fields["input"] = "0xa9059cbb"
		got, err := DecodeRequestFields(fields)
		require.NoError(t, err)
		assert.Equal(t, uint64(21000), got.GasLimit)
		assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, got.Data)
	})

	t.Run("missing to is contract creation", func(t *testing.T) {
		for _, to := range []interface{}{nil, ""} {
			fields := requestFields()
			fields["to"] = to
			got, err := DecodeRequestFields(fields)
			require.NoError(t, err)
			assert.Nil(t, got.To)
		}
		fields := requestFields()
		delete(fields, "to")
		got, err := DecodeRequestFields(fields)
		require.NoError(t, err)
		assert.Nil(t, got.To)
	})

	t.Run("value and data default to empty", func(t *testing.T) {
		fields := requestFields()
		delete(fields, "value")
		delete(fields, "data")
		got, err := DecodeRequestFields(fields)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Value.Sign())
		assert.Empty(t, got.Data)
	})

	t.Run("from is not trusted", func(t *testing.T) {
		fields := requestFields()
		fields["from"] = 12
		_, err := DecodeRequestFields(fields)
		assert.NoError(t, err)
	})
}

func TestDecodeRequestFields_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(map[string]interface{})
		kind  sigerr.Kind
		field string
	}{
		{"missing nonce", func(f map[string]interface{}) { delete(f, "nonce") }, sigerr.MalformedRequest, "nonce"},
		{"missing chainId", func(f map[string]interface{}) { delete(f, "chainId") }, sigerr.MalformedRequest, "chainId"},
		{"missing gas", func(f map[string]interface{}) { delete(f, "gas") }, sigerr.MalformedRequest, "gas"},
		{"missing gasPrice", func(f map[string]interface{}) { delete(f, "gasPrice") }, sigerr.MalformedRequest, "gasPrice"},
		{"bare 0x quantity", func(f map[string]interface{}) { f["nonce"] = "0x" }, sigerr.MalformedRequest, "nonce"},
		{"non hex quantity", func(f map[string]interface{}) { f["gasPrice"] = "0xzz" }, sigerr.MalformedRequest, "gasPrice"},
		{"negative quantity", func(f map[string]interface{}) { f["value"] = "-1" }, sigerr.MalformedRequest, "value"},
		{"signed hex quantity", func(f map[string]interface{}) { f["nonce"] = "0x+5" }, sigerr.MalformedRequest, "nonce"},
		{"negative hex zero", func(f map[string]interface{}) { f["value"] = "0x-0" }, sigerr.MalformedRequest, "value"},
		{"negative decimal zero", func(f map[string]interface{}) { f["gas"] = "-0" }, sigerr.MalformedRequest, "gas"},
		{"fractional number", func(f map[string]interface{}) { f["nonce"] = 1.5 }, sigerr.MalformedRequest, "nonce"},
		{"boolean quantity", func(f map[string]interface{}) { f["gas"] = true }, sigerr.MalformedRequest, "gas"},
		{"nonce over 64 bits", func(f map[string]interface{}) { f["nonce"] = "0x10000000000000000" }, sigerr.EncodingOverflow, "nonce"},
		{"value over 256 bits", func(f map[string]interface{}) {
			f["value"] = "0x1" + string(bytes.Repeat([]byte("0"), 64))
		}, sigerr.EncodingOverflow, "value"},
		{"to of 21 bytes", func(f map[string]interface{}) { f["to"] = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8ff" }, sigerr.EncodingOverflow, "to"},
		{"to of 19 bytes", func(f map[string]interface{}) { f["to"] = "0x70997970C51812dc3A010C7d01b50e0d17dc79" }, sigerr.MalformedRequest, "to"},
		{"to without prefix", func(f map[string]interface{}) { f["to"] = "70997970C51812dc3A010C7d01b50e0d17dc79C8" }, sigerr.MalformedRequest, "to"},
		{"odd data", func(f map[string]interface{}) { f["data"] = "0xabc" }, sigerr.MalformedRequest, "data"},
		{"data not a string", func(f map[string]interface{}) { f["data"] = []byte{1} }, sigerr.MalformedRequest, "data"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := requestFields()
			tc.edit(fields)
			_, err := DecodeRequestFields(fields)
			require.Error(t, err)
			assert.Equal(t, tc.kind, sigerr.KindOf(err), err.Error())
			assert.Equal(t, tc.field, sigerr.FieldOf(err))
		})
	}

	t.Run("nil object", func(t *testing.T) {
		_, err := DecodeRequestFields(nil)
		assert.Equal(t, sigerr.MalformedRequest, sigerr.KindOf(err))
	})
}

func TestRequestFields_RoundTrip(t *testing.T) {
	max256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	cases := map[string]*UnsignedTransaction{
		"sample": sampleTx(),
		"creation": {
			ChainID: 1, Nonce: 7, GasPrice: big.NewInt(0), GasLimit: 53000,
			Value: big.NewInt(0), Data: []byte{0x60, 0x80},
		},
		"extremes": {
			ChainID: 1<<64 - 1, Nonce: 1<<64 - 1, GasPrice: max256, GasLimit: 1<<64 - 1,
			To: addr("0xffffffffffffffffffffffffffffffffffffffff"), Value: max256, Data: bytes.Repeat([]byte{0xab}, 300),
		},
	}

	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeRequestFields(want.RequestFields())
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "want %+v got %+v", want, got)
		})
	}
}
