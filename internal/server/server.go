package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xueqianLu/hsmsigner/internal/handler"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/middleware"
	"github.com/xueqianLu/hsmsigner/internal/signer"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Options configures the router.
type Options struct {
	Registry *signer.Registry
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	APIKey    string
	APISecret string
	RateLimit float64
	RateBurst int

	RequestTimeout time.Duration
	UpstreamRPCURL string
}

// NewRouter wires the HTTP routes. Signing and key routes sit behind HMAC
// authentication and rate limiting; probes and metrics do not. Key creation
// over HTTP is only exposed when authentication is configured.
func NewRouter(opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var upstream *handler.Upstream
	if opts.UpstreamRPCURL != "" {
		upstream = handler.NewUpstream(opts.UpstreamRPCURL, nil)
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/ping", handler.PingHandler).Methods(http.MethodGet)
	router.Handle("/health", handler.NewHealthHandler(opts.Registry.Session())).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.NewRoute().Subrouter()
	api.Use(middleware.RateLimit(opts.RateLimit, opts.RateBurst))
	api.Use(middleware.NewAuthMiddleware(opts.APIKey, opts.APISecret).Wrap)

	api.Handle("/key/{keyID}", withTimeout(
		handler.NewSignTxHandler(opts.Registry, upstream, logger, opts.Metrics), opts.RequestTimeout)).
		Methods(http.MethodPost)
	api.Handle("/key/{keyID}/address", withTimeout(
		handler.NewAddressHandler(opts.Registry), opts.RequestTimeout)).
		Methods(http.MethodGet)
	api.Handle("/keys", handler.NewKeysHandler(opts.Registry)).Methods(http.MethodGet)
	if opts.APIKey != "" {
		api.Handle("/keys", withTimeout(
			handler.NewCreateKeyHandler(opts.Registry, logger), opts.RequestTimeout)).
			Methods(http.MethodPost)
	}
	return router
}

const timeoutBody = `{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"request timed out","data":{"kind":"SignerUnavailable","retryable":true}}}`

// withTimeout bounds h and cancels its request context at d. Zero disables it.
// The content type is set up front so the timeout reply is served as JSON;
// headers written by h replace it on the normal path.
func withTimeout(h http.Handler, d time.Duration) http.Handler {
	if d <= 0 {
		return h
	}
	th := http.TimeoutHandler(h, d, timeoutBody)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		th.ServeHTTP(w, r)
	})
}

// NewServer creates and configures an HTTP server.
func NewServer(handler http.Handler, addr string, requestTimeout time.Duration) *http.Server {
	writeTimeout := 10 * time.Second
	if requestTimeout > 0 {
		writeTimeout = requestTimeout + 5*time.Second
	}
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

// Run serves srv until ctx is done, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down server")
	}
	return <-errCh
}
