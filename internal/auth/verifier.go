// Package auth verifies bearer tokens at the HTTP boundary. Accounts and
// token issuance belong to a separate identity service; this package only
// checks the HS256 signature and extracts the caller.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/abduss/dedupdrive/internal/config"
)

const audience = "dedupdrive-api"

// Claims is the access token payload.
type Claims struct {
	IsAdmin bool `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// UserClaims describes the validated identity extracted from an access token.
type UserClaims struct {
	UserID    uuid.UUID
	IsAdmin   bool
	ExpiresAt time.Time
}

// Verifier validates access tokens signed with the shared secret.
type Verifier struct {
	secret  []byte
	issuer  string
	nowFunc func() time.Time
	parser  *jwt.Parser
}

func NewVerifier(cfg config.AuthConfig) *Verifier {
	v := &Verifier{
		secret:  []byte(cfg.AccessTokenSecret),
		issuer:  cfg.Issuer,
		nowFunc: time.Now,
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(func() time.Time { return v.nowFunc() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	v.parser = jwt.NewParser(opts...)
	return v
}

// ValidateAccessToken verifies the token signature and extracts the caller.
func (v *Verifier) ValidateAccessToken(tokenString string) (UserClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return UserClaims{}, ErrUnauthorized
	}

	var claims Claims
	parsed, err := v.parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return UserClaims{}, ErrTokenExpired
		}
		return UserClaims{}, ErrUnauthorized
	}
	if !parsed.Valid {
		return UserClaims{}, ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return UserClaims{}, ErrUnauthorized
	}

	return UserClaims{
		UserID:    userID,
		IsAdmin:   claims.IsAdmin,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// IssueAccessToken signs a token this Verifier accepts. It backs the
// tokengen command and tests.
func (v *Verifier) IssueAccessToken(userID uuid.UUID, isAdmin bool, ttl time.Duration) (string, error) {
	now := v.nowFunc()
	claims := Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
