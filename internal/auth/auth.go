// Package auth verifies the bearer tokens issued by the identity provider and
// carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// DefaultTokenTTL is the lifetime of tokens minted by Issue.
const DefaultTokenTTL = 12 * time.Hour

const minSecretLen = 16

var (
	ErrInvalidCredentials = errors.New("invalid token")
	ErrExpiredCredentials = errors.New("token has expired")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller may manage events.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Claims represents the JWT claims.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier returns a Verifier for secret. now may be nil.
func NewVerifier(secret string, now func() time.Time) (*Verifier, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth secret must be at least %d bytes", minSecretLen)
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), ttl: DefaultTokenTTL, now: now}, nil
}

// Issue mints a token for userID. Used by the dev token tool and tests; in
// production tokens come from the identity provider.
func (v *Verifier) Issue(userID, role string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if role != RoleAdmin && role != RoleUser {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := v.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses raw and returns the identity it carries.
func (v *Verifier) Verify(raw string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredCredentials
		}
		return Identity{}, ErrInvalidCredentials
	}
	if claims.UserID == "" || (claims.Role != RoleAdmin && claims.Role != RoleUser) {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

type identityKey struct{}

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
