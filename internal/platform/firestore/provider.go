package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openshop/api/internal/platform/config"
)

const (
	emulatorHostEnv = "FIRESTORE_EMULATOR_HOST"
	projectEnv      = "GOOGLE_CLOUD_PROJECT"
	dialTimeout     = 10 * time.Second
	pingCollection  = "_health"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the process-wide Firestore client used by the cart, order and catalog
// repositories. The client is dialed on first use and a failed dial is retried by the next caller.
type Provider struct {
	project  string
	emulator string
	opts     []option.ClientOption
	timeout  time.Duration

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises NewProvider.
type ProviderOption func(*Provider)

func WithDialTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClientOptions is passed through to firestore.NewClient.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// NewProvider resolves the project and emulator settings up front. GOOGLE_CLOUD_PROJECT and
// FIRESTORE_EMULATOR_HOST fill in whatever cfg leaves empty.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		project:  firstNonEmpty(cfg.ProjectID, os.Getenv(projectEnv)),
		emulator: firstNonEmpty(cfg.EmulatorHost, os.Getenv(emulatorHostEnv)),
		timeout:  dialTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client. Callers arriving during a dial wait for its result.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if p == nil {
		return nil, errors.New("firestore: nil provider")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	if p.project == "" {
		return nil, errors.New("firestore: no project configured")
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, p.project, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.project, err)
	}
	p.client = client
	return client, nil
}

// clientOptions points the client at the emulator, unauthenticated and over plaintext gRPC,
// when one is configured.
func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.opts...)
	if p.emulator == "" {
		return opts
	}
	if os.Getenv(emulatorHostEnv) == "" {
		_ = os.Setenv(emulatorHostEnv, p.emulator)
	}
	return append(opts,
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Ping reads a sentinel document. A missing document still proves the database answered.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(pingCollection).Doc("ping").Get(ctx); err != nil && !IsNotFound(err) {
		return WrapError("ping", err)
	}
	return nil
}

// Close closes the client. Later calls to Client fail with ErrProviderClosed.
func (p *Provider) Close(context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	client := p.client
	p.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
