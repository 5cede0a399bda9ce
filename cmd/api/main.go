package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openshop/api/internal/di"
	"github.com/openshop/api/internal/handlers"
	"github.com/openshop/api/internal/platform/config"
	"github.com/openshop/api/internal/platform/idempotency"
	"github.com/openshop/api/internal/platform/observability"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	shutdownTracer, err := observability.SetupTracer(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("failed to initialise tracer", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	var closers closerStack
	defer closers.closeAll(logger)

	registry, err := openRegistry(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise storage backend", zap.Error(err), zap.String("backend", cfg.Storage.Backend))
	}

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err), zap.String("mode", cfg.Auth.Mode))
	}

	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		closers.push("redis", redisClient.Close)
	}

	publisher, err := newEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err), zap.String("driver", cfg.Events.Driver))
	}
	if publisher != nil {
		closers.push("events", publisher.Close)
	}

	invoices, err := newInvoiceArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise invoice archive", zap.Error(err))
	}
	if invoices != nil {
		closers.push("invoices", invoices.Close)
	}

	verifier, err := newPaymentVerifier(logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment verifier", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)
	containerOpts := []di.Option{
		di.WithLogger(observability.EventLogger(logger.Named("orders"))),
		di.WithPaymentVerifier(verifier),
		di.WithBuildInfo(buildInfo),
		di.WithDependencyChecks(dependencyChecks(redisClient)...),
	}
	if publisher != nil {
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	}
	if invoices != nil {
		containerOpts = append(containerOpts, di.WithInvoiceArchive(invoices.archive))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := newIdempotencyStore(cfg, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err), zap.String("store", cfg.Idempotency.Store))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	addressHandlers := handlers.NewAddressHandlers(authenticator, container.Services.Addresses)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	catalogHandlers := handlers.NewAdminCatalogHandlers(authenticator, container.Services.Catalog)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Telemetry.ServiceName),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(observability.WithQuietPaths("/healthz", "/readyz")),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMeRoutes(addressHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes, catalogHandlers.Routes),
	)

	srv := &http.Server{
		Addr:         ":" + strings.TrimPrefix(cfg.Server.Port, ":"),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server",
			zap.String("addr", srv.Addr),
			zap.String("backend", registry.Name()),
			zap.String("auth", cfg.Auth.Mode),
			zap.String("events", cfg.Events.Driver),
			zap.String("idempotency", cfg.Idempotency.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

type namedCloser struct {
	name  string
	close func() error
}

// closerStack closes resources in reverse order of registration.
type closerStack []namedCloser

func (s *closerStack) push(name string, fn func() error) {
	*s = append(*s, namedCloser{name: name, close: fn})
}

func (s closerStack) closeAll(logger *zap.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].close(); err != nil {
			logger.Warn("close error", zap.String("resource", s[i].name), zap.Error(err))
		}
	}
}
