package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dm-alt/USM-scripts/internal/config"
	"github.com/dm-alt/USM-scripts/internal/report"
	"github.com/dm-alt/USM-scripts/pkg/api"
	"github.com/dm-alt/USM-scripts/pkg/auth"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/ratelimit"
	"github.com/dm-alt/USM-scripts/pkg/shutdown"
	tlsutil "github.com/dm-alt/USM-scripts/pkg/tls"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the observation daemon",
	Long: `Run a local daemon that receives analytics request URLs (for example from
a browser extension or a proxy), keeps the freshest one and builds reports
on demand.

Endpoints:
  POST   /observed      record an observed request URL
  GET    /correlation   show the current correlation context
  DELETE /correlation   forget it
  GET    /report        run the pipeline (?start=10&end=18&fresh=1&format=csv)
  GET    /health
  GET    /metrics       Prometheus metrics

Any request sent to the daemon under a metrics job path is observed too.
Set serve.api_key_hash (see "hourly config apikey") to require a key, and
serve.tls_cert/serve.tls_key or serve.tls_self_signed to serve HTTPS.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from serve.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Serve.Addr = serveAddr
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	logger := a.logger.WithField("component", "daemon")

	// Start from the last persisted match
	if req, err := a.store.LastMatch(cmd.Context()); err != nil {
		logger.Warn("Failed to load last match", logging.Fields{"error": err})
	} else if req != nil {
		a.observer.Seed(req)
		logger.Info("Restored last match", logging.Fields{"correlation_id": req.CorrelationID})
	}

	handler := api.NewHandler(a.observer, a.pipeline, a.store, a.metrics, logger,
		report.Range{Start: cfg.Report.StartHour, End: cfg.Report.EndHour})

	var limiter *ratelimit.Limiter
	if cfg.Serve.RateLimit > 0 {
		limiter = ratelimit.NewLimiter(cfg.Serve.RateLimit, cfg.Serve.Burst)
	}
	router := api.NewRouter(handler, limiter, a.tracer)

	// Wrapped outside the router so unrouted paths are observed too
	var root http.Handler = observe.Middleware(a.observer)(router)
	if cfg.Serve.APIKeyHash != "" {
		verifier, err := auth.NewKeyVerifier(cfg.Serve.APIKeyHash)
		if err != nil {
			a.Close()
			return err
		}
		root = auth.Middleware(verifier, "/health", "/metrics")(root)
		logger.Info("API key required")
	}

	server := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Serve.TLSEnabled() {
		tlsConfig, err := serverTLS(cfg.Serve, logger)
		if err != nil {
			a.Close()
			return err
		}
		server.TLSConfig = tlsConfig
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if limiter != nil {
		go cleanupLimiters(ctx, limiter, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Daemon listening", logging.Fields{"addr": cfg.Serve.Addr, "tls": server.TLSConfig != nil})
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
	}()

	mgr := shutdown.New(15*time.Second, logger)
	mgr.Register("log", func(context.Context) error { return a.logger.Close() })
	mgr.Register("store", shutdown.CloseResource(a.store))
	mgr.Register("tracing", a.tracer.Shutdown)
	mgr.Register("http", shutdown.StopHTTPServer(server))

	shutdownErr := mgr.WaitWithContext(ctx)
	select {
	case err := <-errCh:
		return fmt.Errorf("daemon failed: %w", err)
	default:
	}
	return shutdownErr
}

// serverTLS loads the configured pair, generating a self-signed one under
// the state directory when asked to
func serverTLS(sc config.ServeConfig, logger *logging.Logger) (*tls.Config, error) {
	certFile, keyFile := sc.TLSCert, sc.TLSKey
	if certFile == "" {
		certFile = filepath.Join(config.DefaultDir(), "tls", "cert.pem")
		keyFile = filepath.Join(config.DefaultDir(), "tls", "key.pem")
	}
	if sc.TLSSelfSigned {
		created, err := tlsutil.EnsureSelfSigned(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Info("Generated self-signed certificate", logging.Fields{"cert": certFile})
		}
	}
	return tlsutil.ServerConfig(certFile, keyFile)
}

func cleanupLimiters(ctx context.Context, limiter *ratelimit.Limiter, logger *logging.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := limiter.CleanupOldLimiters(10 * time.Minute); n > 0 {
				logger.Debug("Removed idle rate limiters", logging.Fields{"count": n})
			}
		case <-ctx.Done():
			return
		}
	}
}
