package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/novadesk/novadesk-api/internal/models"
	"github.com/novadesk/novadesk-api/pkg/config"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
)

const (
	refreshTokenBytes = 32
	resetTokenBytes   = 48
)

// TokenService mints and validates access tokens and generates the opaque
// secrets used for refresh and password-reset tokens.
type TokenService struct {
	cfg config.JWTConfig
}

// NewTokenService constructs the codec from the JWT config section.
func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{cfg: cfg}
}

// AccessTokenTTL exposes the configured access-token lifetime.
func (t *TokenService) AccessTokenTTL() time.Duration {
	return t.cfg.AccessTokenTTL
}

// IssueAccessToken signs a short-lived HS256 token carrying the account's
// public identity claims.
func (t *TokenService) IssueAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(t.cfg.AccessTokenTTL)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   user.ID,
			Audience:  t.cfg.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken verifies signature, issuer, audience and expiry with
// zero clock-skew tolerance. Any parse failure yields an unauthorized error.
func (t *TokenService) ValidateAccessToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(t.cfg.Secret), nil
		},
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience[0]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// ExtractExpiry reads the expiry claim without verifying the signature.
// Revocation must work for tokens that no longer validate, so an unreadable
// expiry falls back to now plus the access-token lifetime.
func (t *TokenService) ExtractExpiry(tokenString string, fallback time.Duration) time.Time {
	if fallback <= 0 {
		fallback = t.cfg.AccessTokenTTL
	}
	claims := &models.JWTClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().UTC().Add(fallback)
}

// NewRefreshToken returns a 32-byte opaque secret. There is nothing to
// decode; the value only has meaning as a store lookup key.
func (t *TokenService) NewRefreshToken() (string, error) {
	return randomToken(refreshTokenBytes)
}

// NewResetToken returns a 48-byte opaque secret for password-reset links.
func (t *TokenService) NewResetToken() (string, error) {
	return randomToken(resetTokenBytes)
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
