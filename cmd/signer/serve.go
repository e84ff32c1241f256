package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/server"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC signing server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("port", "3000", "listen port")
	flags.String("address", "0.0.0.0", "listen address")
	flags.String("upstream", "", "JSON-RPC node receiving methods other than eth_signTransaction")
	mustBind(a.v, "server.port", flags.Lookup("port"))
	mustBind(a.v, "server.address", flags.Lookup("address"))
	mustBind(a.v, "server.upstream_rpc_url", flags.Lookup("upstream"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewWithRegistry(reg)
		gatherer = reg
	}

	registry, err := a.newRegistry(ctx, m)
	if err != nil {
		return err
	}
	if cfg.Signer.Preload {
		if err := registry.Preload(ctx); err != nil {
			return err
		}
		a.logger.Info("Preloaded keys", zap.Int("count", len(registry.Handles())))
	}
	if cfg.Auth.APIKey == "" {
		a.logger.Warn("HMAC authentication is disabled")
	}

	router := server.NewRouter(server.Options{
		Registry:       registry,
		Logger:         a.logger,
		Metrics:        m,
		Gatherer:       gatherer,
		MetricsPath:    cfg.Metrics.Path,
		APIKey:         cfg.Auth.APIKey,
		APISecret:      cfg.Auth.APISecret,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
		UpstreamRPCURL: cfg.Server.UpstreamRPCURL,
	})
	srv := server.NewServer(router, cfg.Server.ListenAddr(), cfg.Server.RequestTimeout)
	return server.Run(ctx, srv, a.logger)
}
