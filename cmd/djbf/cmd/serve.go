package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/djbf-gateway/internal/api"
	"github.com/kenneth/djbf-gateway/internal/audit"
	"github.com/kenneth/djbf-gateway/internal/cache"
	"github.com/kenneth/djbf-gateway/internal/config"
	"github.com/kenneth/djbf-gateway/internal/crypto"
	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/metrics"
	"github.com/kenneth/djbf-gateway/internal/middleware"
	"github.com/kenneth/djbf-gateway/internal/s3"
	"github.com/kenneth/djbf-gateway/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the DJBF HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr(), &logrus.JSONFormatter{})
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.ListenAddr = listenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address, overrides server.listen_addr")
	return cmd
}

// gateway is the fully wired HTTP handler plus the cleanups of the
// components behind it.
type gateway struct {
	handler http.Handler
	closers []func()
}

// Close releases the gateway components in reverse order.
func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
}

// runServer serves the gateway until ctx is cancelled.
func runServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
	}).Info("Starting DJBF gateway")

	m := metrics.NewMetrics()
	gw, err := buildGateway(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer gw.Close()

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ConnState: func(_ net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				m.IncrementActiveConnections()
			case http.StateClosed, http.StateHijacked:
				m.DecrementActiveConnections()
			}
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Server.ListenAddr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// buildGateway wires the codec, backend, cache, audit, tracing and
// middleware chain described by cfg.
func buildGateway(ctx context.Context, cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (_ *gateway, err error) {
	gw := &gateway{}
	defer func() {
		if err != nil {
			gw.Close()
		}
	}()

	keys, err := config.LoadKeychain(cfg.Keychain.ProfilesFile)
	if err != nil {
		return nil, err
	}
	live := crypto.NewLiveKeychain(keys)
	codec := djbf.New(live, djbf.WithLogger(logger))
	logger.WithField("profiles", len(keys.Profiles())).Info("Key profiles loaded")

	metricsStop := make(chan struct{})
	m.StartSystemMetricsCollector(15*time.Second, metricsStop)
	gw.closers = append(gw.closers, func() { close(metricsStop) })

	var auditLogger audit.Logger
	if cfg.Audit.Enabled {
		auditLogger = audit.NewLogger(cfg.Audit.MaxEvents, nil)
		logger.WithField("max_events", cfg.Audit.MaxEvents).Info("Audit logging enabled")
	}

	var assetCache cache.Cache
	if cfg.Cache.Enabled {
		assetCache = cache.NewMemoryCache(cfg.Cache.MaxSize, cfg.Cache.MaxItems, cfg.Cache.DefaultTTL)
		logger.WithFields(logrus.Fields{
			"max_size":    cfg.Cache.MaxSize,
			"max_items":   cfg.Cache.MaxItems,
			"default_ttl": cfg.Cache.DefaultTTL,
		}).Info("Cache enabled")
	}

	if cfg.Keychain.Watch {
		reloader, err := config.NewProfileReloader(cfg.Keychain.ProfilesFile, live, logger)
		if err != nil {
			return nil, err
		}
		reloader.SetOnResultCallback(func(path string, profiles int, err error) {
			m.RecordProfileReload(err == nil)
			if err == nil && assetCache != nil {
				// Decodes cached under the previous keys are stale.
				if cerr := assetCache.Clear(context.Background()); cerr != nil {
					logger.WithError(cerr).Warn("Failed to clear asset cache after reload")
				}
			}
			if auditLogger != nil {
				auditLogger.LogProfileReload(path, profiles, err)
			}
		})
		go reloader.Start()
		gw.closers = append(gw.closers, reloader.Stop)
		logger.WithField("path", cfg.Keychain.ProfilesFile).Info("Watching key profiles for changes")
	}

	var backend s3.Client
	if cfg.Backend.Configured() {
		backend, err = s3.NewClient(ctx, &cfg.Backend)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"endpoint": cfg.Backend.Endpoint,
			"region":   cfg.Backend.Region,
			"provider": cfg.Backend.Provider,
		}).Info("S3 backend configured")
	} else {
		logger.Warn("No S3 backend configured, /assets routes are disabled")
	}

	rules := config.NewRuleSet()
	if len(cfg.Converter.RulesFiles) > 0 {
		if err := rules.Load(cfg.Converter.RulesFiles); err != nil {
			return nil, err
		}
		logger.WithField("rules", rules.Len()).Info("Loaded conversion rules")
	}

	tp, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	gw.closers = append(gw.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	})

	handler := api.NewHandlerWithFeatures(codec, backend, logger, m, assetCache, auditLogger, rules, tp.Tracer(), cfg)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.Use(
		middleware.TracingMiddleware(cfg.Tracing.RedactSensitive),
		middleware.LoggingMiddleware(logger, &cfg.Server, m),
		middleware.BucketValidationMiddleware(cfg.Server.AllowedBuckets, logger),
	)

	var httpHandler http.Handler = router
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window, logger)
		gw.closers = append(gw.closers, limiter.Stop)
		httpHandler = middleware.RateLimitMiddleware(limiter)(httpHandler)
		logger.WithFields(logrus.Fields{
			"limit":  cfg.RateLimit.Limit,
			"window": cfg.RateLimit.Window,
		}).Info("Rate limiting enabled")
	}
	httpHandler = middleware.SecurityHeadersMiddleware()(httpHandler)
	httpHandler = middleware.RequestIDMiddleware()(httpHandler)
	gw.handler = middleware.RecoveryMiddleware(logger)(httpHandler)
	return gw, nil
}
