package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/pkg/errors"
	awsconfig "github.com/xueqianLu/hsmsigner/internal/aws"
	"github.com/xueqianLu/hsmsigner/internal/config"
	"github.com/xueqianLu/hsmsigner/internal/connector/awskms"
	"github.com/xueqianLu/hsmsigner/internal/connector/local"
	"github.com/xueqianLu/hsmsigner/internal/connector/vault"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"go.uber.org/zap"
)

// newConnector builds the key backend selected by cfg.Type.
func newConnector(ctx context.Context, cfg config.ConnectorConfig, logger *zap.Logger) (signer.Connector, error) {
	logger = logger.With(zap.String("connector", cfg.Type))

	switch cfg.Type {
	case config.ConnectorLocal:
		var opts []local.Option
		if cfg.Local.Mock {
			logger.Warn("Serving well-known mock keys; never fund their addresses")
			opts = append(opts, local.WithMockKeys())
		}
		if cfg.Local.LightKDF {
			opts = append(opts, local.WithScrypt(keystore.LightScryptN, keystore.LightScryptP))
		}
		return local.New(cfg.Local.KeyDir, cfg.Local.Password, logger, opts...)

	case config.ConnectorVault:
		client, err := vault.NewClient(cfg.Vault.Address, cfg.Vault.Token)
		if err != nil {
			return nil, err
		}
		return vault.New(ctx, client, cfg.Vault.TransitPath, logger)

	case config.ConnectorAWSKMS:
		awsCfg, err := awsconfig.LoadConfig(ctx, cfg.AWSKMS.Region, cfg.AWSKMS.Profile)
		if err != nil {
			return nil, err
		}
		if identity, err := awsconfig.CallerIdentity(ctx, awsCfg); err != nil {
			logger.Warn("Could not resolve AWS caller identity", zap.Error(err))
		} else {
			logger.Info("Using AWS identity",
				zap.String("arn", aws.ToString(identity.Arn)),
				zap.String("region", awsCfg.Region))
		}
		return awskms.New(awskms.NewClient(awsCfg, cfg.AWSKMS.Endpoint), logger), nil

	default:
		return nil, errors.Errorf("unknown connector type %q", cfg.Type)
	}
}

// newRegistry builds the connector, its session and the signer registry.
func (a *app) newRegistry(ctx context.Context, m *metrics.Metrics) (*signer.Registry, error) {
	conn, err := newConnector(ctx, a.cfg.Connector, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connector")
	}
	session := signer.NewSession(conn, a.logger, m)
	return signer.NewRegistry(session,
		signer.WithSignTimeout(a.cfg.Signer.SignTimeout),
		signer.WithLogger(a.logger),
		signer.WithMetrics(m),
	), nil
}
