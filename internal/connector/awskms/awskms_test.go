package awskms

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/hsmsigner/internal/connector/der"
	"github.com/xueqianLu/hsmsigner/internal/recovery"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"github.com/xueqianLu/hsmsigner/internal/tx"
)

type fakeKMS struct {
	keys    map[string]*ecdsa.PrivateKey
	aliases map[string]string
	highS   bool
	signIn  *kms.SignInput
}

func newFakeKMS() *fakeKMS {
	return &fakeKMS{keys: map[string]*ecdsa.PrivateKey{}, aliases: map[string]string{}}
}

func (f *fakeKMS) resolve(id *string) (*ecdsa.PrivateKey, error) {
	name := aws.ToString(id)
	if target, ok := f.aliases[name]; ok {
		name = target
	}
	key, ok := f.keys[name]
	if !ok {
		return nil, &types.NotFoundException{Message: aws.String("key not found")}
	}
	return key, nil
}

func (f *fakeKMS) GetPublicKey(_ context.Context, in *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	key, err := f.resolve(in.KeyId)
	if err != nil {
		return nil, err
	}
	derBytes, err := der.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{KeyId: in.KeyId, KeySpec: types.KeySpecEccSecgP256k1, PublicKey: derBytes}, nil
}

func (f *fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.signIn = in
	key, err := f.resolve(in.KeyId)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(in.Message, key)
	if err != nil {
		return nil, err
	}
	raw, err := tx.NewRawSignature(sig[:32], sig[32:64])
	if err != nil {
		return nil, err
	}
	if f.highS {
		raw = raw.WithS(new(big.Int).Sub(crypto.S256().Params().N, raw.SInt()))
	}
	derBytes, err := der.MarshalSignature(raw)
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{KeyId: in.KeyId, Signature: derBytes}, nil
}

func (f *fakeKMS) CreateKey(_ context.Context, in *kms.CreateKeyInput, _ ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	id := crypto.PubkeyToAddress(key.PublicKey).Hex()
	f.keys[id] = key
	return &kms.CreateKeyOutput{KeyMetadata: &types.KeyMetadata{KeyId: aws.String(id), KeySpec: in.KeySpec}}, nil
}

func (f *fakeKMS) CreateAlias(_ context.Context, in *kms.CreateAliasInput, _ ...func(*kms.Options)) (*kms.CreateAliasOutput, error) {
	f.aliases[aws.ToString(in.AliasName)] = aws.ToString(in.TargetKeyId)
	return &kms.CreateAliasOutput{}, nil
}

func (f *fakeKMS) ListAliases(context.Context, *kms.ListAliasesInput, ...func(*kms.Options)) (*kms.ListAliasesOutput, error) {
	out := &kms.ListAliasesOutput{Aliases: []types.AliasListEntry{
		{AliasName: aws.String("alias/aws/ebs"), TargetKeyId: aws.String("managed")},
	}}
	for alias, target := range f.aliases {
		out.Aliases = append(out.Aliases, types.AliasListEntry{AliasName: aws.String(alias), TargetKeyId: aws.String(target)})
	}
	return out, nil
}

func TestGenerateAndSign(t *testing.T) {
	fake := newFakeKMS()
	c := New(fake, nil)
	ctx := context.Background()

	handle, pub, err := c.GenerateKey(ctx, signer.KeyOptions{Label: "treasury"})
	require.NoError(t, err)
	assert.Equal(t, signer.KeyHandle("alias/treasury"), handle)

	digest := crypto.Keccak256Hash([]byte("kms"))
	sig, err := c.SignDigest(ctx, handle, digest)
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeDigest, fake.signIn.MessageType)
	assert.Equal(t, digest.Bytes(), fake.signIn.Message)

	_, err = recovery.Resolve(digest, sig, pub)
	assert.NoError(t, err)

	handles, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []signer.KeyHandle{"alias/treasury"}, handles)
}

func TestSignHighS(t *testing.T) {
	fake := newFakeKMS()
	fake.highS = true
	c := New(fake, nil)
	ctx := context.Background()

	handle, pub, err := c.GenerateKey(ctx, signer.KeyOptions{})
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("high"))
	sig, err := c.SignDigest(ctx, handle, digest)
	require.NoError(t, err)
	assert.False(t, recovery.IsLowS(sig))

	low, flipped := recovery.NormalizeLowS(sig)
	require.True(t, flipped)
	_, err = recovery.Resolve(digest, low, pub)
	assert.NoError(t, err)
}

func TestUnknownKey(t *testing.T) {
	c := New(newFakeKMS(), nil)
	_, err := c.PublicKey(context.Background(), "missing")
	assert.Equal(t, sigerr.MalformedRequest, sigerr.KindOf(err))

	_, err = c.SignDigest(context.Background(), "missing", crypto.Keccak256Hash(nil))
	assert.Equal(t, sigerr.MalformedRequest, sigerr.KindOf(err))
}

func TestGenerateExportableRejected(t *testing.T) {
	c := New(newFakeKMS(), nil)
	_, _, err := c.GenerateKey(context.Background(), signer.KeyOptions{Exportable: true})
	assert.Error(t, err)
}
