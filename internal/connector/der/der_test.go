package der

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/tx"
)

func TestPublicKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	pemBytes, err := MarshalPEMPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pub, err := ParsePEMPublicKey(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestParsePublicKey_RejectsOtherCurves(t *testing.T) {
	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	derBytes, err := x509.MarshalPKIXPublicKey(&p256.PublicKey)
	require.NoError(t, err)

	_, err = ParsePublicKey(derBytes)
	assert.ErrorContains(t, err, "not a secp256k1 key")

	_, err = ParsePEMPublicKey([]byte("not pem"))
	assert.Error(t, err)
}

func TestSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(crypto.Keccak256([]byte("der")), key)
	require.NoError(t, err)
	raw, err := tx.NewRawSignature(sig[:32], sig[32:64])
	require.NoError(t, err)

	derBytes, err := MarshalSignature(raw)
	require.NoError(t, err)

	parsed, err := ParseSignature(derBytes)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed)
}

func TestParseSignature_Oversized(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 264)
	derBytes, err := asn1.Marshal(ecdsaSig{R: huge, S: big.NewInt(1)})
	require.NoError(t, err)

	_, err = ParseSignature(derBytes)
	assert.Equal(t, sigerr.EncodingOverflow, sigerr.KindOf(err))
}
