package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// loadEnv loads from env alone, ignoring the process environment and any .env file.
func loadEnv(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func staticSecrets(values map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := values[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadEnv(t, map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.ReadTimeout != 15*time.Second || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("firestore project should follow firebase project, got %q", cfg.Firestore.ProjectID)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Auth.Mode != AuthModeFirebase || cfg.Events.Driver != EventsDriverNone {
		t.Errorf("unexpected driver defaults: storage=%s auth=%s events=%s", cfg.Storage.Backend, cfg.Auth.Mode, cfg.Events.Driver)
	}
	if cfg.Cache.IdleTTL != 10*time.Minute || cfg.Cache.MaxEntries != 10000 {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Orders.Currency != "INR" || cfg.Orders.DeliveryLeadTime != 7*24*time.Hour {
		t.Errorf("unexpected order defaults %+v", cfg.Orders)
	}
	want := IdempotencyConfig{
		Store:            IdempotencyStoreMemory,
		Header:           "Idempotency-Key",
		TTL:              24 * time.Hour,
		CleanupInterval:  time.Hour,
		CleanupBatchSize: 200,
	}
	if cfg.Idempotency != want {
		t.Errorf("idempotency defaults = %+v, want %+v", cfg.Idempotency, want)
	}
	if cfg.Telemetry.ServiceName != "openshop-api" || cfg.Telemetry.OTLPEndpoint != "" {
		t.Errorf("unexpected telemetry defaults %+v", cfg.Telemetry)
	}
	if !cfg.Postgres.Migrate {
		t.Error("migrations should run by default")
	}
}

func TestLoadProductionProfile(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                 "9090",
		"API_FIREBASE_PROJECT_ID":         "shop-prod",
		"API_STORAGE_BACKEND":             "Postgres",
		"API_POSTGRES_DSN":                "secret://postgres/dsn",
		"API_POSTGRES_MAX_OPEN_CONNS":     "40",
		"API_POSTGRES_MIGRATE":            "off",
		"API_POSTGRES_CONN_MAX_IDLE_TIME": "1m",
		"API_CACHE_IDLE_TTL":              "90s",
		"API_CACHE_MAX_ENTRIES":           "500",
		"API_ORDERS_CURRENCY":             "usd",
		"API_ORDERS_DELIVERY_LEAD_TIME":   "72h",
		"API_AUTH_MODE":                   "JWT",
		"API_AUTH_JWT_SECRET":             "secret://auth/jwt",
		"API_AUTH_JWT_ISSUER":             "shop",
		"API_EVENTS_DRIVER":               "rabbitmq",
		"API_EVENTS_RABBITMQ_URL":         "sm://rabbit/url",
		"API_IDEMPOTENCY_STORE":           "redis",
		"API_IDEMPOTENCY_HEADER":          "X-Idem-Key",
		"API_IDEMPOTENCY_CLEANUP_BATCH":   "500",
		"API_REDIS_ADDR":                  "redis:6379",
		"API_PSP_STRIPE_API_KEY":          "secret://stripe/api",
		"API_INVOICES_BUCKET":             "shop-invoices",
		"API_TELEMETRY_OTLP_ENDPOINT":     "collector:4317",
		"API_TELEMETRY_OTLP_INSECURE":     "yes",
	}
	resolver := staticSecrets(map[string]string{
		"secret://postgres/dsn": "postgres://shop@db/shop?sslmode=disable",
		"secret://auth/jwt":     "jwt-secret",
		"secret://rabbit/url":   "amqp://guest:guest@mq:5672/",
		"secret://stripe/api":   "stripe-key",
	})

	cfg, err := loadEnv(t, env, WithSecretResolver(resolver), WithRequiredSecrets("Postgres.DSN", "Auth.JWTSecret"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Backend != BackendPostgres || cfg.Auth.Mode != AuthModeJWT {
		t.Errorf("driver names should be lower-cased, got %s/%s", cfg.Storage.Backend, cfg.Auth.Mode)
	}
	wantPG := PostgresConfig{
		DSN:             "postgres://shop@db/shop?sslmode=disable",
		MaxOpenConns:    40,
		ConnMaxIdleTime: time.Minute,
		Migrate:         false,
	}
	if cfg.Postgres != wantPG {
		t.Errorf("postgres = %+v, want %+v", cfg.Postgres, wantPG)
	}
	if cfg.Orders.Currency != "USD" || cfg.Orders.DeliveryLeadTime != 72*time.Hour {
		t.Errorf("unexpected orders config %+v", cfg.Orders)
	}
	if cfg.Auth.JWTSecret != "jwt-secret" || cfg.PSP.StripeAPIKey != "stripe-key" {
		t.Errorf("secrets not resolved: auth=%q stripe=%q", cfg.Auth.JWTSecret, cfg.PSP.StripeAPIKey)
	}
	if cfg.Events.RabbitMQURL != "amqp://guest:guest@mq:5672/" || cfg.Events.RabbitMQExchange != "orders" {
		t.Errorf("unexpected events config %+v", cfg.Events)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.CleanupBatchSize != 500 || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected idempotency config %+v / %+v", cfg.Idempotency, cfg.Redis)
	}
	if cfg.Storage.InvoicesBucket != "shop-invoices" || !cfg.Telemetry.Insecure {
		t.Errorf("unexpected bucket or telemetry: %q %+v", cfg.Storage.InvoicesBucket, cfg.Telemetry)
	}
}

func TestLoadReportsEveryInvalidField(t *testing.T) {
	cases := []struct {
		name   string
		env    map[string]string
		fields []string
	}{
		{"postgres without dsn", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_STORAGE_BACKEND": "postgres"}, []string{"Postgres.DSN"}},
		{"unknown backend", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_STORAGE_BACKEND": "cassandra"}, []string{"Storage.Backend"}},
		{"jwt without secret", map[string]string{"API_AUTH_MODE": "jwt"}, []string{"Auth.JWTSecret"}},
		{"pubsub without topic", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_EVENTS_DRIVER": "pubsub"}, []string{"Events.PubSubTopic"}},
		{"rabbitmq without url", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_EVENTS_DRIVER": "rabbitmq"}, []string{"Events.RabbitMQURL"}},
		{"redis without addr", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_IDEMPOTENCY_STORE": "redis"}, []string{"Redis.Addr"}},
		{"bad currency", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_ORDERS_CURRENCY": "RUPEE"}, []string{"Orders.Currency"}},
		{"zero cache size", map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_CACHE_MAX_ENTRIES": "0"}, []string{"Cache.MaxEntries"}},
		{
			"unparsable values",
			map[string]string{
				"API_FIREBASE_PROJECT_ID":     "p",
				"API_CACHE_IDLE_TTL":          "ten minutes",
				"API_REDIS_DB":                "first",
				"API_TELEMETRY_OTLP_INSECURE": "maybe",
			},
			[]string{"Cache.IdleTTL", "Redis.DB", "Telemetry.Insecure"},
		},
		{
			"several at once",
			map[string]string{"API_AUTH_MODE": "jwt", "API_STORAGE_BACKEND": "postgres", "API_ORDERS_CURRENCY": "RUPEE"},
			[]string{"Orders.Currency", "Postgres.DSN", "Auth.JWTSecret"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadEnv(t, tc.env)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			for _, field := range tc.fields {
				if !slices.Contains(validation.Fields(), field) {
					t.Errorf("expected %s in %v", field, validation.Fields())
				}
			}
		})
	}
}

func TestLoadEmptyEnvironmentFailsValidation(t *testing.T) {
	_, err := loadEnv(t, map[string]string{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !slices.Contains(validation.Fields(), "Firebase.ProjectID") {
		t.Fatalf("firebase auth needs a project, got %v", validation.Fields())
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=shop-dot\nexport API_ORDERS_CURRENCY=\"EUR\"\nAPI_TELEMETRY_SERVICE_NAME='orders-local'\nnot a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Firebase.ProjectID != "shop-dot" {
		t.Errorf("dotenv values not applied: %+v %+v", cfg.Server, cfg.Firebase)
	}
	if cfg.Orders.Currency != "EUR" || cfg.Telemetry.ServiceName != "orders-local" {
		t.Errorf("quotes not stripped: %q %q", cfg.Orders.Currency, cfg.Telemetry.ServiceName)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "p"}),
		WithoutSystemEnv(),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadWrapsResolverFailures(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PSP_STRIPE_API_KEY":  "sm://missing",
	}

	t.Run("no resolver", func(t *testing.T) {
		_, err := loadEnv(t, env)
		var secretErr *SecretError
		if !errors.As(err, &secretErr) {
			t.Fatalf("expected SecretError, got %v", err)
		}
		if secretErr.Ref != "secret://missing" || !errors.Is(err, errSecretResolverNotConfigured) {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		_, err := loadEnv(t, env, WithSecretResolver(staticSecrets(nil)))
		var secretErr *SecretError
		if !errors.As(err, &secretErr) || secretErr.Ref != "secret://missing" {
			t.Fatalf("expected SecretError for secret://missing, got %v", err)
		}
	})
}

func TestLoadLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PSP_STRIPE_API_KEY":  "sm://stripe/api",
	}
	cfg, err := loadEnv(t, env, WithSecretResolver(staticSecrets(map[string]string{"secret://stripe/api": "legacy-secret"})))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PSP.StripeAPIKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %q", cfg.PSP.StripeAPIKey)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	want := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}
	for key, expected := range want {
		if got := values[key]; got != expected {
			t.Errorf("%s = %q, want %q", key, got, expected)
		}
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"}

	_, err := loadEnv(t, env, WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey", " "))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected names %v", got)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("PSP.StripeAPIKey") {
		t.Fatalf("unexpected redacted names %v", got)
	}
	if strings.Contains(err.Error(), "PSP.StripeAPIKey") {
		t.Fatal("error text must not name the secret")
	}
}

func TestLoadRequiredSecretsPanics(t *testing.T) {
	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		if !ok {
			t.Fatal("expected *MissingSecretsError panic")
		}
		if got := missing.Names(); len(got) != 1 || got[0] != "Auth.JWTSecret" {
			t.Fatalf("unexpected missing secrets %v", got)
		}
	}()

	_, _ = loadEnv(t, map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"},
		WithRequiredSecrets("Auth.JWTSecret"),
		WithPanicOnMissingSecrets(),
	)
}
