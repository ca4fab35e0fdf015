// Package auth issues and checks the bearer tokens that guard admin routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	issuer = "x402-facilitator"
	// Audience is the only audience admin tokens are accepted for.
	Audience = "x402-admin"
	// minSecretLen is the HS256 key size.
	minSecretLen = 32
)

var (
	// ErrInvalidToken is returned for tokens that fail parsing, signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrWeakSecret is returned when the shared secret is shorter than 32 bytes.
	ErrWeakSecret = errors.New("auth: secret must be at least 32 bytes")
)

// AdminClaims are the claims carried by an admin token.
type AdminClaims struct {
	*jwt.Claims
	Scope string `json:"scope"`
}

// TokenAuth signs and verifies HS256 admin tokens with a shared secret.
// It is immutable and safe for concurrent use.
type TokenAuth struct {
	secret []byte
	now    func() time.Time
}

// NewTokenAuth creates a TokenAuth for secret.
func NewTokenAuth(secret string) (*TokenAuth, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	return &TokenAuth{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a compact JWT for subject valid for ttl.
func (a *TokenAuth) Issue(subject string, ttl time.Duration) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: a.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := &AdminClaims{
		Claims: &jwt.Claims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.Audience{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: "admin",
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

// Verify checks the signature, issuer, audience and validity window of token.
func (a *TokenAuth) Verify(token string) (*AdminClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	for _, h := range parsed.Headers {
		if h.Algorithm != string(jose.HS256) {
			return nil, fmt.Errorf("%w: unexpected algorithm %s", ErrInvalidToken, h.Algorithm)
		}
	}

	claims := AdminClaims{Claims: &jwt.Claims{}}
	if err := parsed.Claims(a.secret, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	err = claims.Claims.ValidateWithLeeway(jwt.Expected{
		Issuer:   issuer,
		Audience: jwt.Audience{Audience},
		Time:     a.now(),
	}, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Scope != "admin" {
		return nil, fmt.Errorf("%w: missing admin scope", ErrInvalidToken)
	}
	return &claims, nil
}
