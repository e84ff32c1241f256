package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xueqianLu/hsmsigner/internal/config"
	"github.com/xueqianLu/hsmsigner/internal/logger"
	"go.uber.org/zap"
)

const (
	configFlag    = "config"
	logLevelFlag  = "log-level"
	connectorFlag = "connector"
)

// app carries state shared by the subcommands.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "signer",
		Short: "Ethereum transaction signing proxy for HSM and KMS backends",
		Long: `signer exposes eth_signTransaction over JSON-RPC and signs legacy EIP-155
transactions with keys held by a backend that only returns raw (r, s)
signatures: an HSM, a Vault transit engine, AWS KMS or a local keystore.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, configFlag, "", "config file (default ./config.yaml)")
	flags.String(logLevelFlag, "info", "log level (debug, info, warn, error)")
	flags.String(connectorFlag, config.ConnectorLocal, "key backend (local, vault, awskms)")
	mustBind(a.v, "log.level", flags.Lookup(logLevelFlag))
	mustBind(a.v, "connector.type", flags.Lookup(connectorFlag))

	root.AddCommand(
		newServeCmd(a),
		newGenerateKeyCmd(a),
		newAddressCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	l, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	a.cfg = cfg
	a.logger = l
	return nil
}
