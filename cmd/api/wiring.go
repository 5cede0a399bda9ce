package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/openshop/api/internal/payments"
	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/config"
	"github.com/openshop/api/internal/platform/events"
	pfirestore "github.com/openshop/api/internal/platform/firestore"
	"github.com/openshop/api/internal/platform/idempotency"
	"github.com/openshop/api/internal/platform/observability"
	"github.com/openshop/api/internal/platform/secrets"
	platformstorage "github.com/openshop/api/internal/platform/storage"
	"github.com/openshop/api/internal/repositories"
	firestoreRepo "github.com/openshop/api/internal/repositories/firestore"
	"github.com/openshop/api/internal/repositories/memory"
	"github.com/openshop/api/internal/repositories/postgres"
	"github.com/openshop/api/internal/services"
)

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.ToLower(strings.TrimSpace(env["API_SECRETS_ENVIRONMENT"]))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func gcpProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func openRegistry(ctx context.Context, logger *zap.Logger, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory, "":
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.NewStore(), nil
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.Options{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			version, err := postgres.Migrate(db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			logger.Info("postgres schema ready", zap.Uint("version", version))
		}
		reg, err := postgres.NewRegistry(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return reg, nil
	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(googleClientOptions(cfg)...))
		if _, err := provider.Client(ctx); err != nil {
			return nil, err
		}
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func newAuthenticator(ctx context.Context, cfg config.Config) (*auth.Authenticator, error) {
	var verifier auth.TokenVerifier
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		jwtVerifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret,
			auth.WithJWTIssuer(cfg.Auth.JWTIssuer),
			auth.WithJWTAudience(cfg.Auth.JWTAudience),
		)
		if err != nil {
			return nil, err
		}
		verifier = jwtVerifier
	case config.AuthModeFirebase, "":
		var opts []auth.FirebaseOption
		if cfg.Auth.CheckRevoked {
			opts = append(opts, auth.WithRevocationCheck())
		}
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, opts...)
		if err != nil {
			return nil, err
		}
		verifier = firebaseVerifier
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
	return auth.NewAuthenticator(verifier), nil
}

func newRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newIdempotencyStore(cfg config.Config, client *redis.Client) (idempotency.Store, error) {
	switch cfg.Idempotency.Store {
	case config.IdempotencyStoreRedis:
		if client == nil {
			return nil, errors.New("redis idempotency store requires API_REDIS_ADDR")
		}
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.IdempotencyStoreMemory, "":
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported idempotency store %q", cfg.Idempotency.Store)
	}
}

func dependencyChecks(client *redis.Client) []repositories.DependencyCheck {
	if client == nil {
		return nil
	}
	// Redis backs the idempotency store, so mutating requests fail without it.
	return []repositories.DependencyCheck{{
		Name:     "redis",
		Timeout:  time.Second,
		Critical: true,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}}
}

// eventPublisher is an order event transport that owns a connection.
type eventPublisher interface {
	services.OrderEventPublisher
	Close() error
}

type pubsubPublisher struct {
	*events.PubSubPublisher
	client *pubsub.Client
}

func (p pubsubPublisher) Close() error {
	return errors.Join(p.PubSubPublisher.Close(), p.client.Close())
}

func newEventPublisher(ctx context.Context, cfg config.Config) (eventPublisher, error) {
	switch cfg.Events.Driver {
	case config.EventsDriverNone, "":
		return nil, nil
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, gcpProjectID(cfg), googleClientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Events.PubSubTopic))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return pubsubPublisher{PubSubPublisher: publisher, client: client}, nil
	case config.EventsDriverRabbitMQ:
		publisher, err := events.DialRabbitPublisher(cfg.Events.RabbitMQURL, cfg.Events.RabbitMQExchange)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
}

type invoiceArchive struct {
	archive *platformstorage.InvoiceArchive
	client  *gcs.Client
}

func (a *invoiceArchive) Close() error {
	return a.client.Close()
}

func newInvoiceArchive(ctx context.Context, cfg config.Config) (*invoiceArchive, error) {
	bucket := strings.TrimSpace(cfg.Storage.InvoicesBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx, googleClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	archive, err := platformstorage.NewInvoiceArchive(client, bucket)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &invoiceArchive{archive: archive, client: client}, nil
}

// newPaymentVerifier routes Stripe PaymentIntent ids to Stripe when a key is configured and
// returns nil otherwise so the order service falls back to reference matching.
func newPaymentVerifier(logger *zap.Logger, cfg config.Config) (services.PaymentVerifier, error) {
	apiKey := strings.TrimSpace(cfg.PSP.StripeAPIKey)
	if apiKey == "" {
		return nil, nil
	}
	stripeVerifier, err := payments.NewStripeVerifier(payments.StripeConfig{
		APIKey:    apiKey,
		AccountID: cfg.PSP.StripeAccountID,
		Logger:    observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		return nil, err
	}
	router, err := payments.NewRouter(
		payments.ReferenceVerifier{Prefix: "TXN"},
		payments.WithRoute(payments.StripeIntentPrefix, stripeVerifier),
	)
	if err != nil {
		return nil, err
	}
	return router, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECRETS_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for label, project := range projectMap {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		if ttl, err := time.ParseDuration(raw); err == nil {
			opts = append(opts, secrets.WithCacheTTL(ttl))
		}
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected drivers cannot start without.
func requiredSecretNames(env map[string]string) []string {
	value := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(env[key]))
	}

	var required []string
	if value("API_STORAGE_BACKEND") == config.BackendPostgres {
		required = append(required, "Postgres.DSN")
	}
	if value("API_AUTH_MODE") == config.AuthModeJWT {
		required = append(required, "Auth.JWTSecret")
	}
	if value("API_EVENTS_DRIVER") == config.EventsDriverRabbitMQ {
		required = append(required, "Events.RabbitMQURL")
	}
	return uniqueStrings(required)
}

// secretVersionPins parses "ref=version" pairs. Bare names are treated as secret:// references
// and the legacy sm:// scheme is rewritten.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
