package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/httpx"
	"github.com/openshop/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	defaultMaxBody    = 64 << 10
	anonymous         = "anonymous"
)

var errBodyTooLarge = errors.New("idempotency: request body too large")

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName  string
	ttl         time.Duration
	methods     map[string]struct{}
	clock       clockFunc
	logger      *zap.Logger
	keyOptional bool
	maxBody     int64
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods. By default every unsafe method is guarded.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// WithLogger sets the logger used when no request-scoped logger is on the context.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithOptionalKey lets requests without the key through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.keyOptional = true
	}
}

// WithMaxBody caps how much of the request body is buffered for fingerprinting.
func WithMaxBody(n int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if n > 0 {
			cfg.maxBody = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response when a mutating request repeats a key. Keys are
// scoped per authenticated user, so it must run after auth. Server errors release the key so
// the client can retry. Client errors are stored and replayed like successes.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock:   time.Now,
		logger:  zap.NewNop(),
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	g := &guard{store: store, cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
}

// attempt identifies one guarded request.
type attempt struct {
	key         string
	scoped      string
	fingerprint string
	requester   string
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if _, ok := g.cfg.methods[r.Method]; !ok {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "" && g.cfg.keyOptional:
		next.ServeHTTP(w, r)
		return
	case key == "":
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case len(key) > maxKeyLength:
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	a, err := newAttempt(r, key, g.cfg.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		respondError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds allowed size")
		return
	}
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	reservation, err := g.store.Reserve(ctx, a.scoped, a.fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	if err != nil {
		g.log(ctx).Error("idempotency reserve failed", zap.String("key", a.key), zap.Error(err))
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
	case ReservationStatePending:
		respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	case ReservationStateNew:
		buf := newBufferedResponse()
		next.ServeHTTP(buf, r)
		g.finish(ctx, w, a, buf)
	default:
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

func (g *guard) finish(ctx context.Context, w http.ResponseWriter, a attempt, buf *bufferedResponse) {
	logger := g.log(ctx).With(zap.String("key", a.key), zap.String("requester", a.requester))
	status := buf.statusCode()

	if status >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, a.scoped, a.fingerprint); err != nil {
			logger.Warn("idempotency release failed", zap.Int("status", status), zap.Error(err))
		}
		buf.flush(w)
		return
	}

	resp := Response{Status: status, Headers: cloneHeader(buf.header), Body: buf.bytes()}
	if err := g.store.SaveResponse(ctx, a.scoped, a.fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		logger.Error("idempotency save failed", zap.Error(err))
		if relErr := g.store.Release(ctx, a.scoped, a.fingerprint); relErr != nil {
			logger.Warn("idempotency release failed", zap.Error(relErr))
		}
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	buf.flush(w)
}

func (g *guard) log(ctx context.Context) *zap.Logger {
	if l := requestctx.Logger(ctx); l != requestctx.NoopLogger() {
		return l
	}
	return g.cfg.logger
}

// newAttempt buffers the body, restores it for the next handler and derives the scoped key and
// request fingerprint.
func newAttempt(r *http.Request, key string, maxBody int64) (attempt, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		_ = r.Body.Close()
		if err != nil {
			return attempt{}, err
		}
		if int64(len(data)) > maxBody {
			return attempt{}, errBodyTooLarge
		}
		body = data
		r.Body = io.NopCloser(bytes.NewReader(data))
	}

	requester := requesterOf(r.Context())
	return attempt{
		key:         key,
		scoped:      key + "|" + requester,
		fingerprint: fingerprint(r, body, requester),
		requester:   requester,
	}, nil
}

func fingerprint(r *http.Request, body []byte, requester string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		bodyHash,
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func requesterOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		if uid := strings.TrimSpace(identity.UID); uid != "" {
			return uid
		}
	}
	return anonymous
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range copyHeader(record.ResponseHeaders) {
		dst[name] = values
	}
	dst.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the handler's response until the outcome has been persisted.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) bytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}

func cloneHeader(src http.Header) http.Header {
	return copyHeader(src)
}
