package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openshop/api/internal/platform/httpx"
)

const (
	defaultRoleClaim      = "role"
	defaultAdminFlagClaim = "admin"
	emailClaim            = "email"
	defaultVerifyTimeout  = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// VerifiedToken is the provider-neutral result of bearer token verification.
type VerifiedToken struct {
	UID       string
	Claims    map[string]any
	ExpiresAt time.Time
}

// TokenVerifier verifies bearer tokens. Firebase ID tokens and shared-secret JWTs both satisfy it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (VerifiedToken, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier       TokenVerifier
	roleClaim      string
	adminFlagClaim string
	timeout        time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim overrides the claim holding the caller's role or roles.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithAdminFlagClaim overrides the boolean custom claim that grants the admin role.
func WithAdminFlagClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.adminFlagClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each call to the verifier.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:       verifier,
		roleClaim:      defaultRoleClaim,
		adminFlagClaim: defaultAdminFlagClaim,
		timeout:        defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are given, requires one
// of them. Missing or invalid tokens yield 401. A valid token lacking the role yields 403.
// Every verified caller holds at least the user role.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				deny(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			identity, err := a.authenticate(ctx, raw)
			switch {
			case errors.Is(err, ErrTokenExpired):
				deny(ctx, w, http.StatusUnauthorized, "token_expired", "bearer token expired")
				return
			case errors.Is(err, ErrTokenInvalid):
				deny(ctx, w, http.StatusUnauthorized, "invalid_token", "bearer token invalid")
				return
			case err != nil:
				deny(ctx, w, http.StatusUnauthorized, "invalid_token", "bearer token verification failed")
				return
			}

			if len(required) > 0 && !identity.HasAnyRole(required...) {
				deny(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (*Identity, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	token, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token.UID) == "" {
		return nil, ErrTokenInvalid
	}

	roles := rolesFromClaims(token.Claims, a.roleClaim)
	if flag, _ := token.Claims[a.adminFlagClaim].(bool); flag {
		roles = appendRole(roles, RoleAdmin)
	}
	roles = appendRole(roles, RoleUser)

	email, _ := token.Claims[emailClaim].(string)
	return &Identity{
		UID:   strings.TrimSpace(token.UID),
		Email: strings.TrimSpace(email),
		Roles: roles,
	}, nil
}

// rolesFromClaims accepts a single role string, a list of roles, or a map of role flags.
func rolesFromClaims(claims map[string]any, key string) []string {
	var roles []string
	switch v := claims[key].(type) {
	case string:
		roles = appendRole(roles, v)
	case []string:
		for _, item := range v {
			roles = appendRole(roles, item)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = appendRole(roles, s)
			}
		}
	case map[string]any:
		for name, value := range v {
			if on, _ := value.(bool); on {
				roles = appendRole(roles, name)
			}
		}
	}
	return roles
}

func appendRole(roles []string, role string) []string {
	role = normaliseRole(role)
	if role == "" {
		return roles
	}
	for _, existing := range roles {
		if existing == role {
			return roles
		}
	}
	return append(roles, role)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
