package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// JWTVerifier validates HS256 tokens signed with a shared secret. It serves local development and
// service-to-service callers that do not hold Firebase credentials.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

var _ TokenVerifier = (*JWTVerifier)(nil)

// JWTOption customises JWTVerifier instances.
type JWTOption func(*JWTVerifier)

// WithJWTIssuer requires the iss claim to equal issuer.
func WithJWTIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithJWTAudience requires the aud claim to contain audience.
func WithJWTAudience(audience string) JWTOption {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// WithJWTClock overrides the clock used for expiry checks.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier constructs a verifier for tokens signed with secret.
func NewJWTVerifier(secret string, opts ...JWTOption) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	v := &JWTVerifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify parses the token, checks its signature and registered claims, and returns the subject.
func (v *JWTVerifier) Verify(_ context.Context, raw string) (VerifiedToken, error) {
	if v == nil {
		return VerifiedToken{}, errors.New("auth: jwt verifier not initialised")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return VerifiedToken{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return VerifiedToken{}, fmt.Errorf("%w: token expired or missing exp", ErrTokenExpired)
	}
	if !claims.VerifyNotBefore(now, false) {
		return VerifiedToken{}, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return VerifiedToken{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return VerifiedToken{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return VerifiedToken{}, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	token := VerifiedToken{UID: subject, Claims: cloneClaims(claims)}
	if exp, ok := claims["exp"].(float64); ok {
		token.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return token, nil
}

// SignToken issues an HS256 token for subject carrying roles. Intended for local tooling and tests.
func SignToken(secret, issuer, subject string, roles []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth: jwt secret is required")
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  subject,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"role": roles,
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func cloneClaims(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return out
}
