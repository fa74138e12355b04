package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dtroode/faceid-server/internal/api/http/respond"
	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
)

// TokenAuthenticator resolves the admin subject from a bearer token.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Authenticate validates bearer tokens and injects the subject into the request context.
type Authenticate struct {
	authenticator  TokenAuthenticator
	contextManager model.ContextManager
	logger         *logger.Logger
}

// NewAuthenticate creates a new Authenticate middleware instance.
func NewAuthenticate(authenticator TokenAuthenticator, contextManager model.ContextManager, logger *logger.Logger) *Authenticate {
	return &Authenticate{authenticator: authenticator, contextManager: contextManager, logger: logger}
}

// Handle rejects requests without a valid Authorization header.
func (m *Authenticate) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			_ = respond.Error(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		subject, err := m.authenticator.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			m.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			_ = respond.Error(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		next.ServeHTTP(w, r.WithContext(m.contextManager.SetSubjectToContext(r.Context(), subject)))
	})
}
