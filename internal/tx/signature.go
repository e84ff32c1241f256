package tx

import (
	"math/big"

	"github.com/xueqianLu/hsmsigner/internal/sigerr"
)

// RawSignature is the bare (r, s) pair a key backend returns for a digest.
// Both components are 32-byte big-endian integers.
type RawSignature struct {
	R [WordLength]byte
	S [WordLength]byte
}

// NewRawSignature builds a RawSignature from variable-length big-endian
// components, such as the integers of a DER signature. Leading zero bytes are
// ignored; anything still longer than 32 bytes is rejected.
func NewRawSignature(r, s []byte) (RawSignature, error) {
	var sig RawSignature
	rt, st := trimLeadingZeros(r), trimLeadingZeros(s)
	if len(rt) > WordLength {
		return sig, sigerr.Overflow("r", "component is %d bytes, max %d", len(rt), WordLength)
	}
	if len(st) > WordLength {
		return sig, sigerr.Overflow("s", "component is %d bytes, max %d", len(st), WordLength)
	}
	copy(sig.R[WordLength-len(rt):], rt)
	copy(sig.S[WordLength-len(st):], st)
	return sig, nil
}

// RawSignatureFromInts is NewRawSignature for big integers.
func RawSignatureFromInts(r, s *big.Int) (RawSignature, error) {
	if r.Sign() < 0 || s.Sign() < 0 {
		return RawSignature{}, sigerr.Malformed("signature", "negative component")
	}
	return NewRawSignature(r.Bytes(), s.Bytes())
}

// RInt returns r as an integer.
func (sig RawSignature) RInt() *big.Int { return new(big.Int).SetBytes(sig.R[:]) }

// SInt returns s as an integer.
func (sig RawSignature) SInt() *big.Int { return new(big.Int).SetBytes(sig.S[:]) }

// Bytes returns the 64-byte r || s concatenation.
func (sig RawSignature) Bytes() []byte {
	out := make([]byte, 0, 2*WordLength)
	out = append(out, sig.R[:]...)
	return append(out, sig.S[:]...)
}

// WithS returns a copy of sig carrying a different s.
func (sig RawSignature) WithS(s *big.Int) RawSignature {
	sig.S = [WordLength]byte{}
	s.FillBytes(sig.S[:])
	return sig
}

func trimLeadingZeros(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
