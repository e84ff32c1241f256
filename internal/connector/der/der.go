// Package der converts between the ASN.1 DER structures key backends speak
// (SubjectPublicKeyInfo, ECDSA-Sig-Value) and secp256k1 values.
package der

import (
	"crypto/ecdsa"
	"encoding/asn1"
	"encoding/pem"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/tx"
)

var (
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type publicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type ecdsaSig struct {
	R, S *big.Int
}

// ParsePublicKey parses a DER SubjectPublicKeyInfo holding a secp256k1 key.
// crypto/x509 rejects the curve, hence the manual walk.
func ParsePublicKey(derBytes []byte) (*ecdsa.PublicKey, error) {
	var info publicKeyInfo
	rest, err := asn1.Unmarshal(derBytes, &info)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ASN.1 public key")
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing data after public key")
	}
	if !info.Algorithm.Algorithm.Equal(oidECPublicKey) {
		return nil, errors.Errorf("not an EC public key: %v", info.Algorithm.Algorithm)
	}
	if !info.Algorithm.Parameters.Equal(oidSecp256k1) {
		return nil, errors.Errorf("not a secp256k1 key: %v", info.Algorithm.Parameters)
	}
	pub, err := crypto.UnmarshalPubkey(info.PublicKey.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "invalid secp256k1 point")
	}
	return pub, nil
}

// ParsePEMPublicKey parses a PEM "PUBLIC KEY" block.
func ParsePEMPublicKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the public key")
	}
	return ParsePublicKey(block.Bytes)
}

// MarshalPublicKey encodes pub as a DER SubjectPublicKeyInfo.
func MarshalPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	point := crypto.FromECDSAPub(pub)
	return asn1.Marshal(publicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: oidECPublicKey, Parameters: oidSecp256k1},
		PublicKey: asn1.BitString{Bytes: point, BitLength: 8 * len(point)},
	})
}

// MarshalPEMPublicKey encodes pub as a PEM "PUBLIC KEY" block.
func MarshalPEMPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	derBytes, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}), nil
}

// ParseSignature parses a DER ECDSA-Sig-Value into a RawSignature.
func ParseSignature(derBytes []byte) (tx.RawSignature, error) {
	var sig ecdsaSig
	rest, err := asn1.Unmarshal(derBytes, &sig)
	if err != nil {
		return tx.RawSignature{}, errors.Wrap(err, "failed to parse ASN.1 signature")
	}
	if len(rest) != 0 {
		return tx.RawSignature{}, errors.New("trailing data after signature")
	}
	if sig.R == nil || sig.S == nil {
		return tx.RawSignature{}, errors.New("signature is missing r or s")
	}
	return tx.RawSignatureFromInts(sig.R, sig.S)
}

// MarshalSignature encodes sig as a DER ECDSA-Sig-Value.
func MarshalSignature(sig tx.RawSignature) ([]byte, error) {
	return asn1.Marshal(ecdsaSig{R: sig.RInt(), S: sig.SInt()})
}
