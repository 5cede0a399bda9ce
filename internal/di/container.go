package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openshop/api/internal/platform/cache"
	"github.com/openshop/api/internal/platform/config"
	"github.com/openshop/api/internal/repositories"
	"github.com/openshop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart      services.CartService
	Addresses services.AddressService
	Catalog   services.CatalogService
	Orders    services.OrderService
	System    services.SystemService
}

// Container wires repositories, services, and the order cache for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Cache        *cache.Store
	Services     Services
}

const healthReportTTL = 2 * time.Second

// Logger receives structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

type containerOptions struct {
	payments services.PaymentVerifier
	invoices services.InvoiceArchive
	events   services.OrderEventPublisher
	logger   Logger
	build    services.BuildInfo
	checks   []repositories.DependencyCheck
	clock    func() time.Time
}

// Option customises container assembly.
type Option func(*containerOptions)

// WithPaymentVerifier sets the verifier used by VerifyPayment.
func WithPaymentVerifier(v services.PaymentVerifier) Option {
	return func(o *containerOptions) { o.payments = v }
}

// WithInvoiceArchive archives rendered invoices.
func WithInvoiceArchive(a services.InvoiceArchive) Option {
	return func(o *containerOptions) { o.invoices = a }
}

// WithEventPublisher publishes order events after each committed mutation.
func WithEventPublisher(p services.OrderEventPublisher) Option {
	return func(o *containerOptions) { o.events = p }
}

// WithLogger sets the service event logger.
func WithLogger(l Logger) Option {
	return func(o *containerOptions) { o.logger = l }
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(b services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = b }
}

// WithDependencyChecks adds readiness checks beyond the storage backend.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) { o.checks = append(o.checks, checks...) }
}

// WithClock overrides the service clock.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides a backend registry
// selected by configuration, while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	store := cache.New(cache.Options{
		IdleTTL:    cfg.Cache.IdleTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})

	svc, err := buildServices(ctx, cfg, reg, store, options)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Cache:        store,
		Services:     svc,
	}, nil
}

// Close stops the cache and releases the repository backend.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Cache != nil {
		c.Cache.Close()
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, store *cache.Store, opts containerOptions) (Services, error) {
	var svc Services
	logger := opts.logger

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Variants: reg.Variants(),
		Clock:    opts.clock,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	addressSvc, err := services.NewAddressService(services.AddressServiceDeps{
		Addresses: reg.Addresses(),
		Clock:     opts.clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}
	svc.Addresses = addressSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Variants: reg.Variants(),
		Currency: cfg.Orders.Currency,
		Clock:    opts.clock,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           reg.Orders(),
		Carts:            reg.Carts(),
		Addresses:        reg.Addresses(),
		Variants:         reg.Variants(),
		UnitOfWork:       reg.UnitOfWork(),
		Cache:            store,
		Payments:         opts.payments,
		Invoices:         opts.invoices,
		Events:           opts.events,
		Currency:         cfg.Orders.Currency,
		DeliveryLeadTime: cfg.Orders.DeliveryLeadTime,
		Clock:            opts.clock,
		Logger:           logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checks := append([]repositories.DependencyCheck{{
		Name:     reg.Name(),
		Critical: true,
		Check:    reg.Ping,
	}}, opts.checks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(opts.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Cache:            store,
		Clock:            opts.clock,
		Build:            opts.build,
		ReportTTL:        healthReportTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
