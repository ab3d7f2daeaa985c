package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/logging"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	"github.com/zhouzirui/moodcycle-gateway/internal/middleware"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/ai"
	chatService "github.com/zhouzirui/moodcycle-gateway/internal/service/chat"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Config 聊天接口的限制参数
type Config struct {
	MaxMessageLength int
	Timeout          time.Duration
}

// Response 聊天成功时的响应
type Response struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokensUsed"`
	Timestamp  string `json:"timestamp"`
}

// DegradedResponse 后端无法应答时返回的降级响应
type DegradedResponse struct {
	Error      string `json:"error"`
	Response   string `json:"response"`
	RetryAfter int    `json:"retryAfter"`
	IsFallback bool   `json:"isFallback"`
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	backend       ai.Backend
	conversations *chatService.Service
	cfg           Config
	logger        *zap.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New 创建聊天处理器。backend 为 nil 时所有消息都返回不可用的降级回复
func New(backend ai.Backend, conversations *chatService.Service, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		backend:       backend,
		conversations: conversations,
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		now:           time.Now,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.DeviceAuth).Post("/chat", h.handleChat)
}

// handleChat 处理一条聊天消息
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	deviceID := middleware.DeviceID(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var payload chat.Request
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "INVALID_MESSAGE",
			"message": "Message vide non autorisé",
		})
		return
	}
	if utf8.RuneCountInString(payload.Message) > h.cfg.MaxMessageLength {
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "MESSAGE_TOO_LONG",
			"message": "Message trop long",
		})
		return
	}

	if h.backend == nil {
		h.respondDegraded(w, payload.Context.Persona, persona.ReasonUnavailable)
		return
	}

	history, err := h.conversations.History(r.Context(), deviceID)
	if err != nil {
		h.logger.Warn("conversation history unavailable", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := h.backend.Reply(ctx, ai.Request{
		DeviceID: deviceID,
		Message:  payload.Message,
		Context:  payload.Context,
		History:  history,
		Body:     body,
	})
	h.metrics.ObserveBackend(ai.Outcome(err), time.Since(start))

	if err != nil {
		h.logger.Warn("chat backend failed",
			zap.String("device", logging.MaskID(deviceID)),
			zap.String("persona", payload.Context.Persona),
			zap.Error(err))
		h.respondDegraded(w, payload.Context.Persona, reasonFor(err))
		return
	}

	if err := h.conversations.Record(r.Context(), deviceID, payload.Context, payload.Message, reply.Text); err != nil {
		h.logger.Warn("failed to record conversation", zap.Error(err))
	}

	utils.RespondJSON(w, http.StatusOK, Response{
		Response:   reply.Text,
		TokensUsed: reply.TokensUsed,
		Timestamp:  h.now().UTC().Format(time.RFC3339),
	})
}

// respondDegraded 发送降级响应
func (h *Handler) respondDegraded(w http.ResponseWriter, personaID string, reason persona.Reason) {
	status := http.StatusServiceUnavailable
	switch reason {
	case persona.ReasonThrottled, persona.ReasonQuota, persona.ReasonBudget:
		status = http.StatusTooManyRequests
	case persona.ReasonTimeout:
		status = http.StatusGatewayTimeout
	}

	utils.RespondJSON(w, status, DegradedResponse{
		Error:      string(reason),
		Response:   persona.DegradedReply(personaID, reason),
		RetryAfter: reason.RetryAfter(),
		IsFallback: true,
	})
}

func reasonFor(err error) persona.Reason {
	switch {
	case errors.Is(err, ai.ErrThrottled):
		return persona.ReasonThrottled
	case errors.Is(err, ai.ErrTimeout):
		return persona.ReasonTimeout
	case errors.Is(err, ai.ErrQuotaExceeded):
		return persona.ReasonQuota
	case errors.Is(err, ai.ErrBudgetExceeded):
		return persona.ReasonBudget
	default:
		return persona.ReasonUnavailable
	}
}
