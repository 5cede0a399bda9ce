package config

import "time"

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Auth modes.
const (
	AuthModeFirebase = "firebase"
	AuthModeJWT      = "jwt"
)

// Event drivers.
const (
	EventsDriverNone     = "none"
	EventsDriverPubSub   = "pubsub"
	EventsDriverRabbitMQ = "rabbitmq"
)

// Idempotency stores.
const (
	IdempotencyStoreMemory = "memory"
	IdempotencyStoreRedis  = "redis"
)

// Config is the resolved runtime configuration of the order API, one struct per concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Cache       CacheConfig
	Orders      OrdersConfig
	Auth        AuthConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
	PSP         PSPConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig names the Google Cloud project. Pub/Sub and the invoice bucket live there too.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig defaults ProjectID to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig selects where carts and orders persist. An empty InvoicesBucket disables the
// invoice archive.
type StorageConfig struct {
	Backend        string
	InvoicesBucket string
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
	Migrate         bool
}

// CacheConfig bounds the in-process order cache. Entries idle for IdleTTL are evicted.
type CacheConfig struct {
	IdleTTL    time.Duration
	MaxEntries int
}

// OrdersConfig holds the store currency and the delivery estimate added to new orders.
type OrdersConfig struct {
	Currency         string
	DeliveryLeadTime time.Duration
}

// AuthConfig selects how bearer tokens are verified. CheckRevoked applies to AuthModeFirebase
// and the JWT fields to AuthModeJWT.
type AuthConfig struct {
	Mode         string
	CheckRevoked bool
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
}

// EventsConfig selects the transport for order lifecycle events.
type EventsConfig struct {
	Driver           string
	PubSubTopic      string
	RabbitMQURL      string
	RabbitMQExchange string
}

type IdempotencyConfig struct {
	Store            string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PSPConfig holds payment provider credentials. Without a Stripe key payments fall back to
// locally issued references.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
}

// TelemetryConfig controls trace export. An empty OTLPEndpoint keeps traces in process.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
}
