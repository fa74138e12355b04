package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dtroode/faceid-server/internal/model"
)

// RoleAdmin is the only role issued by this service.
const RoleAdmin = "admin"

// DefaultTTL is the lifetime of admin tokens.
const DefaultTTL = time.Hour

// Claims represents admin token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"rol"`
}

// JWT implements TokenManager backed by symmetric HMAC.
type JWT struct {
	secretKey string
	ttl       time.Duration
	now       func() time.Time
}

// NewJWT creates a token manager signing with secretKey. A non-positive ttl
// selects DefaultTTL.
func NewJWT(secretKey string, ttl time.Duration) model.TokenManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWT{secretKey: secretKey, ttl: ttl, now: time.Now}
}

// GenerateAccessToken issues an admin token for subject.
func (j *JWT) GenerateAccessToken(subject string) (string, error) {
	now := j.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
		Role: RoleAdmin,
	})

	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ParseAccessToken validates an admin token and returns its subject.
func (j *JWT) ParseAccessToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(j.secretKey), nil
	}, jwt.WithTimeFunc(j.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("access token is invalid")
	}
	if claims.Role != RoleAdmin {
		return "", fmt.Errorf("role mismatch: %s", claims.Role)
	}
	return claims.Subject, nil
}
