package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// tokenClaims is the JWT body shared by access and refresh tokens
type tokenClaims struct {
	domain.Claims
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies both token kinds. Each kind has its own secret.
type tokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

func (t *tokenIssuer) issuePair(claims domain.Claims) (*domain.TokenPair, error) {
	now := t.now()

	access, accessExp, err := t.sign(claims, tokenTypeAccess, t.accessSecret, now, t.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := t.sign(claims, tokenTypeRefresh, t.refreshSecret, now, t.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (t *tokenIssuer) sign(claims domain.Claims, typ string, secret []byte, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Claims: claims,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   fmt.Sprintf("%d", claims.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(secret)
	return signed, exp, err
}

func (t *tokenIssuer) verifyAccess(raw string) (*domain.Claims, error) {
	return t.verify(raw, tokenTypeAccess, t.accessSecret)
}

func (t *tokenIssuer) verifyRefresh(raw string) (*domain.Claims, error) {
	return t.verify(raw, tokenTypeRefresh, t.refreshSecret)
}

func (t *tokenIssuer) verify(raw, typ string, secret []byte) (*domain.Claims, error) {
	if raw == "" {
		return nil, domain.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", domain.ErrInvalidToken)
		}
		return nil, domain.ErrInvalidToken
	}
	if claims.Type != typ || claims.UserID <= 0 {
		return nil, domain.ErrInvalidToken
	}

	return &claims.Claims, nil
}
