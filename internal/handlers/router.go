package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openshop/api/internal/platform/httpx"
)

// RouteRegistrar registers one route group on the router it is given.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix         = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// groups are mounted under the API prefix in this order.
var groups = []string{"me", "cart", "orders", "admin"}

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	routes      map[string][]RouteRegistrar
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the API router. Request IDs, real client IPs and the request timeout are
// applied before any middleware passed through WithMiddlewares. Groups without a registrar
// answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		timeout: defaultTimeout,
		routes:  make(map[string][]RouteRegistrar, len(groups)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groups {
			registrars := cfg.routes[name]
			api.Route("/"+name, func(group chi.Router) {
				if len(registrars) == 0 {
					notImplemented(group, name)
					return
				}
				// Each registrar gets its own inline group so its middleware stays local.
				for _, reg := range registrars {
					group.Group(func(sub chi.Router) { reg(sub) })
				}
			})
		}
	})

	return r
}

// WithMiddlewares appends global middleware, applied in the given order.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout bounds every request's context. Non-positive values keep the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMeRoutes mounts regs under /api/v1/me.
func WithMeRoutes(regs ...RouteRegistrar) Option { return withGroup("me", regs) }

// WithCartRoutes mounts regs under /api/v1/cart.
func WithCartRoutes(regs ...RouteRegistrar) Option { return withGroup("cart", regs) }

// WithOrderRoutes mounts regs under /api/v1/orders.
func WithOrderRoutes(regs ...RouteRegistrar) Option { return withGroup("orders", regs) }

// WithAdminRoutes mounts regs under /api/v1/admin.
func WithAdminRoutes(regs ...RouteRegistrar) Option { return withGroup("admin", regs) }

func withGroup(name string, regs []RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		for _, reg := range regs {
			if reg != nil {
				cfg.routes[name] = append(cfg.routes[name], reg)
			}
		}
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
