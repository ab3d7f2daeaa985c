// Package admin serves dashboard authentication.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/auth"
	"github.com/zhouzirui/moodcycle-gateway/internal/middleware"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/budget"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

// User is the account summary returned to the dashboard.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginResponse is the body of a successful POST /admin/auth.
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// Handler serves /admin routes.
type Handler struct {
	issuer   *auth.Issuer
	accounts *auth.Accounts
	guard    *middleware.AdminAuth
	budget   *budget.Guard
	logger   *zap.Logger
}

// Option customises the admin handler.
type Option func(*Handler)

// WithBudget exposes the spend guard under GET /admin/budget.
func WithBudget(g *budget.Guard) Option {
	return func(h *Handler) { h.budget = g }
}

// New creates the admin handler.
func New(issuer *auth.Issuer, accounts *auth.Accounts, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		issuer:   issuer,
		accounts: accounts,
		guard:    middleware.NewAdminAuth(issuer, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the login route and the protected group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(admin chi.Router) {
		admin.Post("/auth", h.handleLogin)

		admin.Group(func(protected chi.Router) {
			protected.Use(h.guard.Handler)
			protected.Get("/session", h.handleSession)
			if h.budget != nil {
				protected.Get("/budget", h.handleBudget)
			}
		})
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(payload.Username)
	role, err := h.accounts.Verify(username, payload.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrBadCredentials) {
			h.logger.Error("admin login failed", zap.Error(err))
		}
		h.logger.Info("admin login refused", zap.String("username", username))
		utils.RespondError(w, http.StatusUnauthorized, "Identifiants invalides")
		return
	}

	token, err := h.issuer.Issue(username, role)
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Erreur authentification")
		return
	}

	utils.RespondJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		User:    User{Username: username, Role: role},
	})
}

// handleSession is the cheap call clients use to check a stored token.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	claims := middleware.AdminClaims(r.Context())
	if claims == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Token invalide")
		return
	}

	var expiresAt string
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"user":      User{Username: claims.Username, Role: claims.Role},
		"expiresAt": expiresAt,
	})
}

func (h *Handler) handleBudget(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"periods": h.budget.Status(),
	})
}
