// Package identity verifies bearer tokens issued by the external identity
// provider and carries the caller through the request context.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Display returns the value used to attribute documents.
func (i Identity) Display() string {
	if i.Email != "" {
		return i.Email
	}
	return i.UserID
}

type contextKey struct{}

// WithIdentity stores the identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity from context.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Actor returns the display name of the caller or "system".
func Actor(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.Display()
	}
	return "system"
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier builds a verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Verify parses the token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: verifier not configured", shared.ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}
	sub, _ := claims.GetSubject()
	email, _ := claims["email"].(string)
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", shared.ErrUnauthorized)
	}
	return Identity{UserID: sub, Email: strings.TrimSpace(email)}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
