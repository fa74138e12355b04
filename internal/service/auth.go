package service

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
)

// AdminCredentials configures the single administrator account. When
// PasswordHash is set it takes precedence over Password.
type AdminCredentials struct {
	Username     string
	Password     string
	PasswordHash string
}

// Auth authenticates the administrator and validates issued tokens.
type Auth struct {
	creds  AdminCredentials
	tokens model.TokenManager
	logger *logger.Logger
}

func NewAuth(creds AdminCredentials, tokens model.TokenManager, logger *logger.Logger) *Auth {
	return &Auth{creds: creds, tokens: tokens, logger: logger}
}

// Login returns a signed admin token for valid credentials.
func (a *Auth) Login(_ context.Context, username, password string) (string, error) {
	if !a.verify(username, password) {
		a.logger.Warn("admin login rejected", "username", username)
		return "", model.ErrInvalidCredentials
	}

	token, err := a.tokens.GenerateAccessToken(username)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, nil
}

// Authenticate returns the subject of a valid admin token.
func (a *Auth) Authenticate(_ context.Context, token string) (string, error) {
	subject, err := a.tokens.ParseAccessToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrInvalidCredentials, err)
	}
	if subject != a.creds.Username {
		return "", model.ErrInvalidCredentials
	}
	return subject, nil
}

func (a *Auth) verify(username, password string) bool {
	if a.creds.Username == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.creds.Username)) == 1

	var passOK bool
	switch {
	case a.creds.PasswordHash != "":
		passOK = bcrypt.CompareHashAndPassword([]byte(a.creds.PasswordHash), []byte(password)) == nil
	case a.creds.Password != "":
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.creds.Password)) == 1
	}

	return userOK && passOK
}
