package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas  persona.Store
	fallbacks *persona.FallbackTable
}

// New 创建persona处理器
func New(personas persona.Store, fallbacks *persona.FallbackTable) *Handler {
	return &Handler{
		personas:  personas,
		fallbacks: fallbacks,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleGetPersona 返回单个persona及其被限流时使用的回复
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "personaID")
	p, ok := h.personas.FindByID(persona.ID(raw))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"persona":  p,
		"fallback": h.fallbacks.Resolve(raw),
	})
}
