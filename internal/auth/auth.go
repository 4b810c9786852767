// Package auth verifies and mints the HS256 session tokens used by the web
// app (as a cookie) and the extension (as a bearer token).
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fknsrs.biz/p/recall/internal/ctxclock"
)

var (
	ErrNoToken      = fmt.Errorf("no token")
	ErrInvalidToken = fmt.Errorf("invalid token")
)

type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

type Claims struct {
	jwt.RegisteredClaims
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

func (c *Claims) DisplayName() string {
	if c.UserMetadata.FullName != "" {
		return c.UserMetadata.FullName
	}

	return c.UserMetadata.Name
}

func (c *Claims) Avatar() string {
	if c.UserMetadata.AvatarURL != "" {
		return c.UserMetadata.AvatarURL
	}

	return c.UserMetadata.Picture
}

type Verifier struct {
	secret []byte
	clock  ctxclock.Clock
}

func NewVerifier(secret string, clock ctxclock.Clock) *Verifier {
	if clock == nil {
		clock = ctxclock.NewRealClock()
	}

	return &Verifier{secret: []byte(secret), clock: clock}
}

func (v *Verifier) now() time.Time {
	t, err := v.clock.Now()
	if err != nil {
		return time.Now().UTC()
	}

	return t
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("auth.Verifier.Verify: %w", ErrNoToken)
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(t *jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	); err != nil {
		return nil, fmt.Errorf("auth.Verifier.Verify: %w: %w", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("auth.Verifier.Verify: %w: subject is empty", ErrInvalidToken)
	}

	return &claims, nil
}

// Sign mints a token for claims. IssuedAt is filled in when missing, and
// ExpiresAt defaults to ttl from now.
func (v *Verifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := v.now()

	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth.Verifier.Sign: %w", err)
	}

	return s, nil
}

// TokenFromRequest prefers a bearer token over the session cookie.
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if h := r.Header.Get("authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}

	if cookieName != "" {
		c, err := r.Cookie(cookieName)
		if err == nil && c.Value != "" {
			return c.Value, nil
		}
		if err != nil && !errors.Is(err, http.ErrNoCookie) {
			return "", fmt.Errorf("auth.TokenFromRequest: %w", err)
		}
	}

	return "", fmt.Errorf("auth.TokenFromRequest: %w", ErrNoToken)
}
