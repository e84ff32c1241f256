// Package awskms implements a key backend on AWS KMS ECC_SECG_P256K1 keys.
package awskms

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/connector/der"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// Type is the connector type name.
const Type = "awskms"

// API is the subset of the KMS client the connector calls.
type API interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, params *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
	ListAliases(ctx context.Context, params *kms.ListAliasesInput, optFns ...func(*kms.Options)) (*kms.ListAliasesOutput, error)
}

// Connector signs digests with KMS keys, addressed by key id, ARN or alias.
type Connector struct {
	client API
	logger *zap.Logger
}

// NewClient creates a KMS client from cfg. A non-empty endpoint overrides the
// service endpoint, e.g. for LocalStack.
func NewClient(cfg aws.Config, endpoint string) *kms.Client {
	return kms.NewFromConfig(cfg, func(o *kms.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// New creates a Connector.
func New(client API, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{client: client, logger: logger}
}

// Type implements signer.Connector.
func (c *Connector) Type() string { return Type }

// PublicKey implements signer.Connector.
func (c *Connector) PublicKey(ctx context.Context, handle signer.KeyHandle) (*ecdsa.PublicKey, error) {
	out, err := c.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(string(handle))})
	if err != nil {
		return nil, c.mapError(handle, errors.Wrap(err, "failed to get public key"))
	}
	if out.KeySpec != "" && out.KeySpec != types.KeySpecEccSecgP256k1 {
		return nil, errors.Errorf("key %s has spec %s, want %s", handle, out.KeySpec, types.KeySpecEccSecgP256k1)
	}
	pub, err := der.ParsePublicKey(out.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for key %s", handle)
	}
	return pub, nil
}

// SignDigest implements signer.Connector. KMS is told the message is already a
// digest so it signs the 32 bytes unchanged.
func (c *Connector) SignDigest(ctx context.Context, handle signer.KeyHandle, digest common.Hash) (tx.RawSignature, error) {
	out, err := c.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(string(handle)),
		Message:          digest.Bytes(),
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return tx.RawSignature{}, c.mapError(handle, errors.Wrap(err, "failed to sign with KMS"))
	}
	return der.ParseSignature(out.Signature)
}

// GenerateKey implements signer.KeyGenerator. A label becomes the alias
// "alias/<label>". KMS keys are never exportable.
func (c *Connector) GenerateKey(ctx context.Context, opts signer.KeyOptions) (signer.KeyHandle, *ecdsa.PublicKey, error) {
	if opts.Exportable {
		return "", nil, errors.New("KMS keys cannot be exported")
	}
	name := opts.Label
	if name == "" {
		name = "ethereum-signing-key"
	}
	out, err := c.client.CreateKey(ctx, &kms.CreateKeyInput{
		KeyUsage:    types.KeyUsageTypeSignVerify,
		KeySpec:     types.KeySpecEccSecgP256k1,
		Description: aws.String(fmt.Sprintf("ECDSA key for Ethereum transaction signing - %s", name)),
		Tags: []types.Tag{
			{TagKey: aws.String("Name"), TagValue: aws.String(name)},
			{TagKey: aws.String("Purpose"), TagValue: aws.String("signing-key")},
			{TagKey: aws.String("Curve"), TagValue: aws.String("secp256k1")},
		},
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create KMS key")
	}
	if out.KeyMetadata == nil || out.KeyMetadata.KeyId == nil {
		return "", nil, errors.New("KMS returned no key metadata")
	}
	handle := signer.KeyHandle(*out.KeyMetadata.KeyId)

	if opts.Label != "" {
		alias := "alias/" + opts.Label
		if _, err := c.client.CreateAlias(ctx, &kms.CreateAliasInput{
			AliasName:   aws.String(alias),
			TargetKeyId: out.KeyMetadata.KeyId,
		}); err != nil {
			return "", nil, errors.Wrapf(err, "failed to create alias %s for key %s", alias, handle)
		}
		handle = signer.KeyHandle(alias)
	}

	pub, err := c.PublicKey(ctx, handle)
	if err != nil {
		return "", nil, err
	}
	c.logger.Info("Created KMS key",
		zap.String("key", string(handle)),
		zap.String("address", crypto.PubkeyToAddress(*pub).Hex()))
	return handle, pub, nil
}

// ListKeys implements signer.KeyLister. Only aliased customer keys are
// listed; AWS managed aliases are skipped.
func (c *Connector) ListKeys(ctx context.Context) ([]signer.KeyHandle, error) {
	var handles []signer.KeyHandle
	paginator := kms.NewListAliasesPaginator(c.client, &kms.ListAliasesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list KMS aliases")
		}
		for _, a := range page.Aliases {
			if a.AliasName == nil || a.TargetKeyId == nil || isAWSManaged(*a.AliasName) {
				continue
			}
			handles = append(handles, signer.KeyHandle(*a.AliasName))
		}
	}
	return handles, nil
}

func (c *Connector) mapError(handle signer.KeyHandle, err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return signer.KeyNotFound(handle)
	}
	return err
}

func isAWSManaged(alias string) bool {
	return strings.HasPrefix(alias, "alias/aws/")
}
