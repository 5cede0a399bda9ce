package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeLatest = "projects/shop/secrets/stripe_api_key/versions/latest"

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	f, err := NewFetcher(context.Background(), append([]Option{WithFallbackFile("")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestResolveCachesRemoteValue(t *testing.T) {
	client := newFakeSecretClient()
	client.setValue(stripeLatest, "sk_live")
	f := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"))

	for i := 0; i < 3; i++ {
		got, err := f.Resolve(context.Background(), "secret://stripe_api_key")
		require.NoError(t, err)
		require.Equal(t, "sk_live", got)
	}
	require.Equal(t, 1, client.callCount(stripeLatest))
}

func TestResolveAcceptsLegacyScheme(t *testing.T) {
	client := newFakeSecretClient()
	client.setValue(stripeLatest, "sk_live")
	f := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"))

	got, err := f.Resolve(context.Background(), "sm://stripe_api_key")
	require.NoError(t, err)
	require.Equal(t, "sk_live", got)
}

func TestResolveFallsBackOnAccessFailures(t *testing.T) {
	for _, code := range []codes.Code{codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded} {
		t.Run(code.String(), func(t *testing.T) {
			client := newFakeSecretClient()
			client.setError(stripeLatest, status.Error(code, "nope"))
			f := newTestFetcher(t,
				WithSecretManagerClient(client),
				WithDefaultProject("shop"),
				WithFallbackFile(writeFallback(t, "secret://stripe_api_key=sk_local\n")),
			)

			got, err := f.Resolve(context.Background(), "secret://stripe_api_key")
			require.NoError(t, err)
			require.Equal(t, "sk_local", got)
		})
	}
}

func TestResolveNotFoundSkipsFallback(t *testing.T) {
	client := newFakeSecretClient()
	client.setError(stripeLatest, status.Error(codes.NotFound, "missing"))
	f := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithDefaultProject("shop"),
		WithFallbackFile(writeFallback(t, "secret://stripe_api_key=sk_local\n")),
	)

	_, err := f.Resolve(context.Background(), "secret://stripe_api_key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveOtherRemoteErrorsAreReturned(t *testing.T) {
	client := newFakeSecretClient()
	client.setError(stripeLatest, status.Error(codes.InvalidArgument, "bad name"))
	f := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"))

	_, err := f.Resolve(context.Background(), "secret://stripe_api_key")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, codes.InvalidArgument, status.Code(errors.Unwrap(err)))
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	client := newFakeSecretClient()
	f := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithFallbackFile(writeFallback(t, "secret://jwt_secret=local-jwt\n")),
	)

	got, err := f.Resolve(context.Background(), "secret://jwt_secret")
	require.NoError(t, err)
	require.Equal(t, "local-jwt", got)

	_, err = f.Resolve(context.Background(), "secret://unknown")
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, client.totalCalls())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	resource := "projects/shop/secrets/jwt_secret/versions/latest"
	client := newFakeSecretClient()
	client.setValue(resource, "first")
	f := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"))
	ctx := context.Background()

	_, err := f.Resolve(ctx, "secret://jwt_secret")
	require.NoError(t, err)

	client.setValue(resource, "rotated")
	f.Invalidate("secret://jwt_secret")

	got, err := f.Resolve(ctx, "secret://jwt_secret")
	require.NoError(t, err)
	require.Equal(t, "rotated", got)
	require.Equal(t, 2, client.callCount(resource))
}

func TestResolveRefetchesAfterCacheTTL(t *testing.T) {
	resource := "projects/shop/secrets/redis_password/versions/latest"
	client := newFakeSecretClient()
	client.setValue(resource, "value")
	f := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"), WithCacheTTL(20*time.Millisecond))

	for i := 0; i < 2; i++ {
		_, err := f.Resolve(context.Background(), "secret://redis_password")
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)
	}
	require.Equal(t, 2, client.callCount(resource))
}

func TestResolveVersionSelection(t *testing.T) {
	client := newFakeSecretClient()
	client.setValue("projects/shop/secrets/stripe_api_key/versions/5", "v5")
	client.setValue("projects/shop/secrets/stripe_api_key/versions/7", "v7")
	client.setValue("projects/shop/secrets/stripe_api_key/versions/9", "v9")
	client.setValue("projects/other/secrets/stripe_api_key/versions/5", "other-v5")

	pins := map[string]string{
		"secret://stripe_api_key":      "5",
		"prod:secret://stripe_api_key": "7",
	}
	ctx := context.Background()

	dev := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"), WithEnvironment("dev"), WithVersionPins(pins))
	got, err := dev.Resolve(ctx, "secret://stripe_api_key")
	require.NoError(t, err)
	require.Equal(t, "v5", got)

	prod := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("shop"), WithEnvironment("PROD"), WithVersionPins(pins))
	got, err = prod.Resolve(ctx, "secret://stripe_api_key")
	require.NoError(t, err)
	require.Equal(t, "v7", got)

	got, err = prod.Resolve(ctx, "secret://stripe_api_key?version=9")
	require.NoError(t, err)
	require.Equal(t, "v9", got)

	got, err = dev.Resolve(ctx, "secret://stripe_api_key?project=other")
	require.NoError(t, err)
	require.Equal(t, "other-v5", got)
}

func TestResolveProjectMap(t *testing.T) {
	client := newFakeSecretClient()
	client.setValue("projects/shop-staging/secrets/db_dsn/versions/latest", "staging-dsn")
	f := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithDefaultProject("shop"),
		WithEnvironment("staging"),
		WithProjectMap(map[string]string{"staging": "shop-staging"}),
	)

	got, err := f.Resolve(context.Background(), "secret://db_dsn")
	require.NoError(t, err)
	require.Equal(t, "staging-dsn", got)
}

func TestFallbackFileVersionedAndLegacyEntries(t *testing.T) {
	path := writeFallback(t, "# local overrides\n"+
		"secret://db_dsn?version=3=postgres://u:p@localhost/shop?sslmode=disable\n"+
		"sm://stripe_api_key=sk_test_legacy\n"+
		"not-a-reference=ignored\n")
	f := newTestFetcher(t, WithSecretManagerClient(newFakeSecretClient()), WithFallbackFile(path))
	ctx := context.Background()

	got, err := f.Resolve(ctx, "secret://db_dsn?version=3")
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@localhost/shop?sslmode=disable", got)

	got, err = f.Resolve(ctx, "secret://stripe_api_key")
	require.NoError(t, err)
	require.Equal(t, "sk_test_legacy", got)
}

func TestSplitFallbackLine(t *testing.T) {
	cases := []struct {
		line, key, value string
		ok               bool
	}{
		{"secret://a=b", "secret://a", "b", true},
		{"secret://a?version=2&project=p=v==", "secret://a?version=2&project=p", "v==", true},
		{"secret://a?version", "", "", false},
		{"=value", "", "", false},
	}
	for _, tc := range cases {
		key, value, ok := splitFallbackLine(tc.line)
		require.Equal(t, tc.ok, ok, tc.line)
		if ok {
			require.Equal(t, tc.key, key, tc.line)
			require.Equal(t, tc.value, value, tc.line)
		}
	}
}

func TestParseReferenceRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "  ", "https://example.com/x", "secret://", "secret:///"} {
		_, err := parseReference(raw)
		require.Error(t, err, raw)
	}

	ref, err := parseReference("sm://orders/psp?version=2&project=p")
	require.NoError(t, err)
	require.Equal(t, "secret://orders/psp", ref.canonical)
	require.Equal(t, "orders/psp", ref.name)
	require.Equal(t, "2", ref.version)
	require.Equal(t, "p", ref.project)
	require.Len(t, ref.masked(), 16)
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	f := newTestFetcher(t, WithDefaultProject("shop"), WithFallbackFile(writeFallback(t, "secret://stripe_api_key=sk_local\n")))

	got, err := f.Resolve(context.Background(), "secret://stripe_api_key")
	require.NoError(t, err)
	require.Equal(t, "sk_local", got)
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: make(map[string]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.calls[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	value, ok := f.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) setValue(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
}

func (f *fakeSecretClient) setError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = err
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSecretClient) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}
