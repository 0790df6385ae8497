// Package auth validates the bearer tokens presented when a connection is
// upgraded and mints tokens for local development.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/collabhub/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoSecret     = errors.New("signing secret is empty")
)

type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator checks HS256 tokens carrying the user identity.
type JWTAuthenticator struct {
	cfg Config
}

func NewJWTAuthenticator(cfg Config) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	return &JWTAuthenticator{cfg: cfg}, nil
}

// Mint signs a token for uid. A zero TokenTTL yields a token without expiry.
func (a *JWTAuthenticator) Mint(uid, displayName string) (string, error) {
	if _, err := domain.NewIdentity(uid, displayName); err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		UserID:      uid,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if a.cfg.TokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.cfg.TokenTTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
}

func (a *JWTAuthenticator) parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate implements core.Authenticator.
func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	claims, err := a.parse(credential)
	if err != nil {
		return domain.Identity{}, err
	}
	uid := claims.UserID
	if uid == "" {
		uid = claims.Subject
	}
	id, err := domain.NewIdentity(uid, claims.DisplayName)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return id, nil
}
