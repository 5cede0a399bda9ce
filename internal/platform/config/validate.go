package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists every configuration field that is missing or unparsable.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid or missing fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names in the order they were found.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// fieldCheck accumulates failures so one Load reports all of them.
type fieldCheck struct {
	failed []string
}

func (c *fieldCheck) need(ok bool, field string) {
	if !ok {
		c.fail(field)
	}
}

func (c *fieldCheck) fail(field string) {
	if !slices.Contains(c.failed, field) {
		c.failed = append(c.failed, field)
	}
}

func present(value string) bool {
	return strings.TrimSpace(value) != ""
}

func validate(cfg Config, unparsable []string) error {
	var c fieldCheck
	for _, field := range unparsable {
		c.fail(field)
	}

	c.need(present(cfg.Server.Port), "Server.Port")
	c.need(cfg.Cache.IdleTTL > 0, "Cache.IdleTTL")
	c.need(cfg.Cache.MaxEntries > 0, "Cache.MaxEntries")
	c.need(len(cfg.Orders.Currency) == 3, "Orders.Currency")
	c.need(cfg.Orders.DeliveryLeadTime > 0, "Orders.DeliveryLeadTime")

	checkStorage(&c, cfg)
	checkAuth(&c, cfg)
	checkEvents(&c, cfg)
	checkIdempotency(&c, cfg)

	if len(c.failed) == 0 {
		return nil
	}
	return &ValidationError{fields: c.failed}
}

func checkStorage(c *fieldCheck, cfg Config) {
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		c.need(present(cfg.Postgres.DSN), "Postgres.DSN")
		c.need(cfg.Postgres.MaxOpenConns > 0, "Postgres.MaxOpenConns")
	case BackendFirestore:
		c.need(present(cfg.Firestore.ProjectID), "Firestore.ProjectID")
	default:
		c.fail("Storage.Backend")
	}
	// The invoice archive bucket is addressed through the Firebase project.
	if present(cfg.Storage.InvoicesBucket) {
		c.need(present(cfg.Firebase.ProjectID), "Firebase.ProjectID")
	}
}

func checkAuth(c *fieldCheck, cfg Config) {
	switch cfg.Auth.Mode {
	case AuthModeFirebase:
		c.need(present(cfg.Firebase.ProjectID), "Firebase.ProjectID")
	case AuthModeJWT:
		c.need(present(cfg.Auth.JWTSecret), "Auth.JWTSecret")
	default:
		c.fail("Auth.Mode")
	}
}

func checkEvents(c *fieldCheck, cfg Config) {
	switch cfg.Events.Driver {
	case EventsDriverNone:
	case EventsDriverPubSub:
		c.need(present(cfg.Firebase.ProjectID), "Firebase.ProjectID")
		c.need(present(cfg.Events.PubSubTopic), "Events.PubSubTopic")
	case EventsDriverRabbitMQ:
		c.need(present(cfg.Events.RabbitMQURL), "Events.RabbitMQURL")
		c.need(present(cfg.Events.RabbitMQExchange), "Events.RabbitMQExchange")
	default:
		c.fail("Events.Driver")
	}
}

func checkIdempotency(c *fieldCheck, cfg Config) {
	switch cfg.Idempotency.Store {
	case IdempotencyStoreMemory:
	case IdempotencyStoreRedis:
		c.need(present(cfg.Redis.Addr), "Redis.Addr")
	default:
		c.fail("Idempotency.Store")
	}
	c.need(present(cfg.Idempotency.Header), "Idempotency.Header")
	c.need(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	c.need(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	c.need(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
}
