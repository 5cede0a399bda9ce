package secrets

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/openshop/api/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the secret.
var ErrNotFound = errors.New("secrets: not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references for the config loader. Resolved values are cached for a
// bounded time so rotations are picked up without a restart. When Secret Manager refuses or
// cannot be reached, values come from the local fallback file.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env         string
	project     string
	projects    map[string]string
	versionPins map[string]string

	fallback *fallbackFile
	cache    *ttlcache.Cache[string, string]
	metrics  instruments
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	project      string
	projects     map[string]string
	versionPins  map[string]string
	fallbackPath string
	cacheTTL     time.Duration
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*fetcherConfig)

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment names the deployment, used to pick the project and environment-scoped pins.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when WithProjectMap has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.projects = maps.Clone(m) }
}

// WithVersionPins fixes secret versions. Keys are "secret://name" or "env:secret://name", the
// environment-scoped form winning.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.versionPins = maps.Clone(pins) }
}

// WithFallbackFile sets the local secrets file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a client instead of dialing one.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions is passed to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created, for example on a
// laptop without credentials, the fetcher serves from the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECRETS_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:      cfg.client,
		logger:      cfg.logger,
		env:         cfg.env,
		project:     cfg.project,
		projects:    cfg.projects,
		versionPins: cfg.versionPins,
		fallback:    &fallbackFile{path: cfg.fallbackPath},
		cache:       ttlcache.New[string, string](ttlcache.WithTTL[string, string](cfg.cacheTTL)),
		metrics:     newInstruments(cfg.meter, cfg.logger),
	}
	if f.client != nil {
		return f, nil
	}

	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager unavailable, serving from fallback file", zap.Error(err))
		return f, nil
	}
	f.client, f.ownsClient = client, true
	return f, nil
}

// Close drops cached values and closes the client if NewFetcher dialed it.
func (f *Fetcher) Close() error {
	f.cache.DeleteAll()
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref. The cache is consulted first, then Secret Manager, then
// the fallback file. Secret Manager errors other than access and availability failures are
// returned without consulting the file.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := ref.key(version)

	if item := f.cache.Get(key); item != nil {
		f.metrics.hit(ctx, ref)
		f.metrics.resolved(ctx, started, sourceCache, nil)
		return item.Value(), nil
	}

	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, ref.resourceName(project, version))
		switch {
		case err == nil:
			f.cache.Set(key, value, ttlcache.DefaultTTL)
			f.metrics.resolved(ctx, started, sourceRemote, nil)
			return value, nil
		case status.Code(err) == codes.NotFound:
			f.metrics.resolved(ctx, started, sourceError, err)
			return "", fmt.Errorf("%w: %s: %v", ErrNotFound, ref.canonical, err)
		case !useFallback(err):
			f.metrics.resolved(ctx, started, sourceError, err)
			return "", fmt.Errorf("secrets: access %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("secret", ref.masked()), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(ref, version)
	if err != nil {
		f.metrics.resolved(ctx, started, sourceError, err)
		return "", err
	}
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, ref.canonical)
		f.metrics.resolved(ctx, started, sourceError, err)
		return "", err
	}
	f.cache.Set(key, value, ttlcache.DefaultTTL)
	f.metrics.resolved(ctx, started, sourceFallback, nil)
	return value, nil
}

// Invalidate forgets every cached version of ref.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	prefix := ref.key("")
	for _, key := range f.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			f.cache.Delete(key)
		}
	}
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.canonical]); pin != "" {
		return pin
	}
	return latestVersion
}

func useFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
