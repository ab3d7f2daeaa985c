package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/admission"
	"github.com/zhouzirui/moodcycle-gateway/internal/auth"
	"github.com/zhouzirui/moodcycle-gateway/internal/handler/admin"
	"github.com/zhouzirui/moodcycle-gateway/internal/handler/chat"
	"github.com/zhouzirui/moodcycle-gateway/internal/handler/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	"github.com/zhouzirui/moodcycle-gateway/internal/middleware"
	personaModel "github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/ratelimit"
	aiService "github.com/zhouzirui/moodcycle-gateway/internal/service/ai"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/budget"
	chatService "github.com/zhouzirui/moodcycle-gateway/internal/service/chat"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

// Dependencies are the services the HTTP layer is wired to.
type Dependencies struct {
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string

	// Admission throttles the chat route. Nil disables throttling.
	Admission *admission.Controller

	Personas personaModel.Store
	// Fallbacks defaults to the built-in table.
	Fallbacks *personaModel.FallbackTable

	// Backend may be nil; chat then answers with degraded replies.
	Backend aiService.Backend
	// Conversations defaults to an in-memory history with default bounds.
	Conversations *chatService.Service
	Chat          chat.Config
	// Budget, when set, is reported on the admin API.
	Budget *budget.Guard

	Issuer   *auth.Issuer
	Accounts *auth.Accounts
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Fallbacks == nil {
		deps.Fallbacks = personaModel.DefaultFallbackTable(int(ratelimit.DefaultLimits().Window / time.Second))
	}
	if deps.Conversations == nil {
		deps.Conversations = chatService.NewService(chatService.WithLogger(logger))
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog(logger, deps.Metrics))
	r.Use(chimw.Recoverer)
	// preflights are answered here and never reach admission
	r.Use(middleware.CORS(deps.AllowedOrigins))
	if deps.Admission != nil {
		r.Use(deps.Admission.Middleware)
	}

	personaHandler := persona.New(deps.Personas, deps.Fallbacks)
	chatHandler := chat.New(deps.Backend, deps.Conversations, deps.Chat, logger, deps.Metrics)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":    "ok",
				"backend":   deps.Backend != nil,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		})

		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)

		if deps.Issuer != nil && deps.Accounts != nil {
			var opts []admin.Option
			if deps.Budget != nil {
				opts = append(opts, admin.WithBudget(deps.Budget))
			}
			admin.New(deps.Issuer, deps.Accounts, logger, opts...).RegisterRoutes(api)
		}
	})

	r.Handle("/metrics", deps.Metrics.Handler())

	return r
}
