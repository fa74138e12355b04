package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dtroode/faceid-server/internal/api/http/respond"
	"github.com/dtroode/faceid-server/internal/logger"
)

// AuthService defines admin login.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Auth handles HTTP endpoints for administrator authentication.
type Auth struct {
	authService AuthService
	logger      *logger.Logger
}

// NewAuth creates a new Auth handler.
func NewAuth(authService AuthService, logger *logger.Logger) *Auth {
	return &Auth{authService: authService, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges admin credentials for a bearer token.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		_ = respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status, message := handleError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Auth handler: login failed", "error", err.Error())
		}
		_ = respond.Error(w, status, message)
		return
	}

	h.logger.Info("Auth handler: admin logged in", "username", req.Username)
	_ = respond.JSON(w, http.StatusOK, loginResponse{Token: token})
}

