package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/admission"
	"github.com/zhouzirui/moodcycle-gateway/internal/auth"
	"github.com/zhouzirui/moodcycle-gateway/internal/config"
	"github.com/zhouzirui/moodcycle-gateway/internal/handler"
	chatHandler "github.com/zhouzirui/moodcycle-gateway/internal/handler/chat"
	"github.com/zhouzirui/moodcycle-gateway/internal/logging"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/ratelimit"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/ai"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/budget"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	m := metrics.New()
	personaStore := persona.NewMemoryStore(persona.Seed())

	windowSeconds := int(cfg.RateLimit.Window / time.Second)
	fallbacks := persona.DefaultFallbackTable(windowSeconds)
	if cfg.Personas.FallbackFile != "" {
		fallbacks, err = persona.LoadFallbackTable(cfg.Personas.FallbackFile, windowSeconds)
		if err != nil {
			logger.Fatal("failed to load fallback table", zap.String("path", cfg.Personas.FallbackFile), zap.Error(err))
		}
		logger.Info("fallback table loaded", zap.String("path", cfg.Personas.FallbackFile))
	}

	controller, closeStore := newAdmission(ctx, cfg.RateLimit, fallbacks, logger, m)
	defer closeStore()

	conversations := chat.NewService(
		chat.WithTTL(cfg.Chat.HistoryTTL),
		chat.WithMaxMessages(cfg.Chat.HistoryMax),
		chat.WithLogger(logger),
	)
	go conversations.RunSweeper(ctx, cfg.Chat.HistorySweepPeriod)

	issuer, err := auth.NewIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if err != nil {
		logger.Fatal("failed to create token issuer", zap.Error(err))
	}
	if cfg.Admin.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, admin tokens will not survive a restart")
	}
	accounts, err := auth.NewAccounts(cfg.Admin.Accounts)
	if err != nil {
		logger.Fatal("invalid admin accounts", zap.Error(err))
	}
	if accounts.Len() == 0 {
		logger.Warn("no admin account configured, admin login will always fail")
	}

	backend := newBackend(ctx, cfg, personaStore, logger)
	var guard *budget.Guard
	if cfg.Budget.Enabled && backend != nil {
		guard = budget.NewGuard(
			budget.Limits{Daily: cfg.Budget.Daily, Weekly: cfg.Budget.Weekly, Monthly: cfg.Budget.Monthly},
			cfg.Budget.CostPerMillionTokens,
			cfg.Budget.EstimatedRequestCost,
			budget.WithLogger(logger),
			budget.WithMetrics(m),
		)
		backend = ai.NewBudgetedBackend(backend, guard)
		logger.Info("chat budget enabled",
			zap.Float64("daily", cfg.Budget.Daily),
			zap.Float64("weekly", cfg.Budget.Weekly),
			zap.Float64("monthly", cfg.Budget.Monthly),
		)
	}

	router := handler.NewRouter(handler.Dependencies{
		Logger:         logger,
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Admission:      controller,
		Personas:       personaStore,
		Fallbacks:      fallbacks,
		Backend:        backend,
		Budget:         guard,
		Conversations:  conversations,
		Chat: chatHandler.Config{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			Timeout:          cfg.Chat.BackendTimeout,
		},
		Issuer:   issuer,
		Accounts: accounts,
	})

	startServer(ctx, cfg.Server, router, logger)
}

// newAdmission builds the controller and its counter store. The returned
// func releases the store.
func newAdmission(ctx context.Context, cfg config.RateLimitConfig, fallbacks *persona.FallbackTable, logger *zap.Logger, m *metrics.Metrics) (*admission.Controller, func()) {
	if !cfg.Enabled {
		logger.Warn("rate limiting disabled")
		return nil, func() {}
	}

	limits := ratelimit.Limits{MaxPerWindow: cfg.MaxPerWindow, Window: cfg.Window}
	admissionCfg := admission.Config{Path: cfg.ChatPath, Limits: limits}
	opts := []admission.Option{admission.WithLogger(logger), admission.WithMetrics(m)}

	if cfg.RedisURL != "" {
		client, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
		if err == nil {
			logger.Info("rate limit counters in redis")
			store := ratelimit.NewRedisStore(client, limits, "")
			return admission.New(store, fallbacks, admissionCfg, opts...), func() { _ = client.Close() }
		}
		logger.Error("redis unavailable, using in-memory counters", zap.Error(err))
	}

	store := ratelimit.NewMemoryStore(limits, ratelimit.WithLogger(logger))
	go store.RunSweeper(ctx, cfg.SweepInterval)
	logger.Info("rate limit counters in memory",
		zap.Int("max_per_window", limits.MaxPerWindow),
		zap.Duration("window", limits.Window),
	)
	return admission.New(store, fallbacks, admissionCfg, opts...), func() {}
}

// newBackend prefers the in-process model, then the upstream proxy. A nil
// result makes every chat call answer with a degraded reply.
func newBackend(ctx context.Context, cfg *config.Config, personas persona.Store, logger *zap.Logger) ai.Backend {
	if cfg.AI.Enabled() {
		svc, err := ai.NewService(ctx, personas, cfg.AI, logger)
		if err == nil {
			logger.Info("chat backend: ark model", zap.String("model", cfg.AI.Model))
			return svc
		}
		logger.Error("failed to initialise ark model", zap.Error(err))
	}

	if cfg.Chat.BackendURL != "" {
		logger.Info("chat backend: upstream proxy", zap.String("url", cfg.Chat.BackendURL))
		return ai.NewProxyBackend(cfg.Chat.BackendURL, &http.Client{Timeout: cfg.Chat.BackendTimeout})
	}

	logger.Warn("no chat backend configured, chat answers are degraded")
	return nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("MoodCycle gateway listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
