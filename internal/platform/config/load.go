package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile reads overrides from path instead of ./.env. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap layers values above both the .env file and the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// EnvironmentValues merges the .env file, the process environment and any WithEnvMap values,
// later layers winning. Load reads from the same merged view, so callers can build the secret
// resolver from it before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	return newLoaderOptions(opts).layers()
}

func (o loaderOptions) layers() (map[string]string, error) {
	values, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return values, nil
}

// Load builds the configuration from defaults and the merged environment, then resolves
// secret:// and sm:// references and validates the drivers that were selected. Every
// unparsable or missing field is reported in a single ValidationError.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = unconfiguredResolver
	}

	values, err := options.layers()
	if err != nil {
		return Config{}, err
	}

	env := &envReader{values: values}
	cfg := Config{
		Server:      readServer(env),
		Firebase:    readFirebase(env),
		Storage:     readStorage(env),
		Postgres:    readPostgres(env),
		Cache:       readCache(env),
		Orders:      readOrders(env),
		Auth:        readAuth(env),
		Events:      readEvents(env),
		Idempotency: readIdempotency(env),
		Redis:       readRedis(env),
		PSP:         readPSP(env),
		Telemetry:   readTelemetry(env),
	}
	cfg.Firestore = readFirestore(env, cfg.Firebase.ProjectID)

	resolved, err := resolveSecrets(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := validate(cfg, env.invalid); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func readServer(env *envReader) ServerConfig {
	return ServerConfig{
		Port:         env.text("API_SERVER_PORT", "8080"),
		ReadTimeout:  env.duration("Server.ReadTimeout", "API_SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: env.duration("Server.WriteTimeout", "API_SERVER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:  env.duration("Server.IdleTimeout", "API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
	}
}

func readFirebase(env *envReader) FirebaseConfig {
	return FirebaseConfig{
		ProjectID:       env.text("API_FIREBASE_PROJECT_ID", ""),
		CredentialsFile: env.text("API_FIREBASE_CREDENTIALS_FILE", ""),
	}
}

func readFirestore(env *envReader, firebaseProject string) FirestoreConfig {
	return FirestoreConfig{
		ProjectID:    env.text("API_FIRESTORE_PROJECT_ID", firebaseProject),
		EmulatorHost: env.text("API_FIRESTORE_EMULATOR_HOST", ""),
	}
}

func readStorage(env *envReader) StorageConfig {
	return StorageConfig{
		Backend:        env.lower("API_STORAGE_BACKEND", BackendMemory),
		InvoicesBucket: env.text("API_INVOICES_BUCKET", ""),
	}
}

func readPostgres(env *envReader) PostgresConfig {
	return PostgresConfig{
		DSN:             env.text("API_POSTGRES_DSN", ""),
		MaxOpenConns:    env.integer("Postgres.MaxOpenConns", "API_POSTGRES_MAX_OPEN_CONNS", 20),
		ConnMaxIdleTime: env.duration("Postgres.ConnMaxIdleTime", "API_POSTGRES_CONN_MAX_IDLE_TIME", 5*time.Minute),
		Migrate:         env.flag("Postgres.Migrate", "API_POSTGRES_MIGRATE", true),
	}
}

func readCache(env *envReader) CacheConfig {
	return CacheConfig{
		IdleTTL:    env.duration("Cache.IdleTTL", "API_CACHE_IDLE_TTL", 10*time.Minute),
		MaxEntries: env.integer("Cache.MaxEntries", "API_CACHE_MAX_ENTRIES", 10000),
	}
}

func readOrders(env *envReader) OrdersConfig {
	return OrdersConfig{
		Currency:         strings.ToUpper(env.text("API_ORDERS_CURRENCY", "INR")),
		DeliveryLeadTime: env.duration("Orders.DeliveryLeadTime", "API_ORDERS_DELIVERY_LEAD_TIME", 7*24*time.Hour),
	}
}

func readAuth(env *envReader) AuthConfig {
	return AuthConfig{
		Mode:         env.lower("API_AUTH_MODE", AuthModeFirebase),
		CheckRevoked: env.flag("Auth.CheckRevoked", "API_AUTH_CHECK_REVOKED", false),
		JWTSecret:    env.text("API_AUTH_JWT_SECRET", ""),
		JWTIssuer:    env.text("API_AUTH_JWT_ISSUER", ""),
		JWTAudience:  env.text("API_AUTH_JWT_AUDIENCE", ""),
	}
}

func readEvents(env *envReader) EventsConfig {
	return EventsConfig{
		Driver:           env.lower("API_EVENTS_DRIVER", EventsDriverNone),
		PubSubTopic:      env.text("API_EVENTS_PUBSUB_TOPIC", ""),
		RabbitMQURL:      env.text("API_EVENTS_RABBITMQ_URL", ""),
		RabbitMQExchange: env.text("API_EVENTS_RABBITMQ_EXCHANGE", "orders"),
	}
}

func readIdempotency(env *envReader) IdempotencyConfig {
	return IdempotencyConfig{
		Store:            env.lower("API_IDEMPOTENCY_STORE", IdempotencyStoreMemory),
		Header:           env.text("API_IDEMPOTENCY_HEADER", "Idempotency-Key"),
		TTL:              env.duration("Idempotency.TTL", "API_IDEMPOTENCY_TTL", 24*time.Hour),
		CleanupInterval:  env.duration("Idempotency.CleanupInterval", "API_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
		CleanupBatchSize: env.integer("Idempotency.CleanupBatchSize", "API_IDEMPOTENCY_CLEANUP_BATCH", 200),
	}
}

func readRedis(env *envReader) RedisConfig {
	return RedisConfig{
		Addr:     env.text("API_REDIS_ADDR", ""),
		Password: env.text("API_REDIS_PASSWORD", ""),
		DB:       env.integer("Redis.DB", "API_REDIS_DB", 0),
	}
}

func readPSP(env *envReader) PSPConfig {
	return PSPConfig{
		StripeAPIKey:    env.text("API_PSP_STRIPE_API_KEY", ""),
		StripeAccountID: env.text("API_PSP_STRIPE_ACCOUNT_ID", ""),
	}
}

func readTelemetry(env *envReader) TelemetryConfig {
	return TelemetryConfig{
		ServiceName:  env.text("API_TELEMETRY_SERVICE_NAME", "openshop-api"),
		OTLPEndpoint: env.text("API_TELEMETRY_OTLP_ENDPOINT", ""),
		Insecure:     env.flag("Telemetry.Insecure", "API_TELEMETRY_OTLP_INSECURE", false),
	}
}

// envReader reads typed values from the merged environment. Values that fail to parse keep the
// default and record the field so validation can report it.
type envReader struct {
	values  map[string]string
	invalid []string
}

func (e *envReader) raw(key string) (string, bool) {
	value := strings.TrimSpace(e.values[key])
	return value, value != ""
}

func (e *envReader) text(key, fallback string) string {
	if value, ok := e.raw(key); ok {
		return value
	}
	return fallback
}

func (e *envReader) lower(key, fallback string) string {
	return strings.ToLower(e.text(key, fallback))
}

func (e *envReader) duration(field, key string, fallback time.Duration) time.Duration {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.invalid = append(e.invalid, field)
		return fallback
	}
	return d
}

func (e *envReader) integer(field, key string, fallback int) int {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.invalid = append(e.invalid, field)
		return fallback
	}
	return n
}

func (e *envReader) flag(field, key string, fallback bool) bool {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	e.invalid = append(e.invalid, field)
	return fallback
}
