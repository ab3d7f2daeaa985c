package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/auth"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

// AdminAuth guards dashboard routes with a bearer token.
type AdminAuth struct {
	issuer *auth.Issuer
	logger *zap.Logger
}

// NewAdminAuth creates the middleware. logger may be nil.
func NewAdminAuth(issuer *auth.Issuer, logger *zap.Logger) *AdminAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAuth{issuer: issuer, logger: logger}
}

// Handler returns the middleware handler.
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			utils.RespondError(w, http.StatusUnauthorized, "Token requis")
			return
		}

		claims, err := m.issuer.Parse(strings.TrimSpace(raw))
		if err != nil {
			m.logger.Debug("admin token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			utils.RespondError(w, http.StatusUnauthorized, "Token invalide")
			return
		}

		if !auth.ValidRole(claims.Role) {
			m.logger.Warn("admin role refused",
				zap.String("username", claims.Username),
				zap.String("role", claims.Role))
			utils.RespondError(w, http.StatusForbidden, "Accès refusé - Rôle invalide")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// AdminClaims returns the claims stored by AdminAuth, or nil.
func AdminClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}
