package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedEnv = []string{
	"PORT", "CORS_ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW", "RATE_LIMIT_CHAT_PATH",
	"RATE_LIMIT_REDIS_URL", "RATE_LIMIT_SWEEP_INTERVAL", "PERSONA_FALLBACKS_FILE",
	"CHAT_BACKEND_URL", "CHAT_BACKEND_TIMEOUT", "CHAT_MAX_MESSAGE_LENGTH", "CHAT_HISTORY_TTL", "CHAT_HISTORY_MAX",
	"CHAT_HISTORY_SWEEP_INTERVAL", "BUDGET_ENABLED", "DAILY_BUDGET_LIMIT", "WEEKLY_BUDGET_LIMIT",
	"MONTHLY_BUDGET_LIMIT", "BUDGET_COST_PER_MILLION_TOKENS", "BUDGET_ESTIMATED_REQUEST_COST",
	"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model", "ARK_TEMPERATURE", "ARK_TOP_P", "ARK_MAX_TOKENS",
	"JWT_SECRET", "ADMIN_TOKEN_TTL", "ADMIN_USERS", "ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_ROLE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managedEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 12, cfg.RateLimit.MaxPerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "/api/chat", cfg.RateLimit.ChatPath)
	assert.Equal(t, 2000, cfg.Chat.MaxMessageLength)
	assert.Equal(t, 4*time.Hour, cfg.Chat.HistoryTTL)
	assert.Equal(t, 12, cfg.Chat.HistoryMax)
	assert.Equal(t, 10*time.Minute, cfg.Chat.HistorySweepPeriod)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.SweepInterval)
	assert.Equal(t, BudgetConfig{
		Enabled:              true,
		Daily:                10,
		Weekly:               50,
		Monthly:              150,
		CostPerMillionTokens: 1.25,
		EstimatedRequestCost: 0.001,
	}, cfg.Budget)
	assert.Equal(t, 24*time.Hour, cfg.Admin.TokenTTL)
	assert.Empty(t, cfg.Admin.Accounts)
	assert.False(t, cfg.AI.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example, https://app.example")
	t.Setenv("RATE_LIMIT_MAX", "30")
	t.Setenv("RATE_LIMIT_WINDOW", "120")
	t.Setenv("RATE_LIMIT_SWEEP_INTERVAL", "90s")
	t.Setenv("CHAT_HISTORY_MAX", "-3")
	t.Setenv("ADMIN_USERS", "jeza:admin:$2a$10$abc; eric:super_admin:$2a$10$def")
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	t.Setenv("ADMIN_USERNAME", "admin")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://admin.example", "https://app.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.RateLimit.MaxPerWindow)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 90*time.Second, cfg.RateLimit.SweepInterval)
	assert.Equal(t, 0, cfg.Chat.HistoryMax)

	require.Len(t, cfg.Admin.Accounts, 3)
	assert.Equal(t, AdminAccount{Username: "jeza", Role: "admin", PasswordHash: "$2a$10$abc"}, cfg.Admin.Accounts[0])
	assert.Equal(t, "super_admin", cfg.Admin.Accounts[1].Role)
	assert.Equal(t, AdminAccount{Username: "admin", Role: "admin", Password: "s3cret"}, cfg.Admin.Accounts[2])
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                 "80 80",
		"RATE_LIMIT_MAX":       "0",
		"RATE_LIMIT_WINDOW":    "soon",
		"RATE_LIMIT_ENABLED":   "maybe",
		"RATE_LIMIT_CHAT_PATH": "chat",
		"CHAT_BACKEND_TIMEOUT": "fast",
		"ARK_TEMPERATURE":      "warm",
		"ADMIN_USERS":          "jeza-without-role",

		"RATE_LIMIT_SWEEP_INTERVAL":   "-1",
		"CHAT_HISTORY_SWEEP_INTERVAL": "-5m",
		"DAILY_BUDGET_LIMIT":          "-2",
		"MONTHLY_BUDGET_LIMIT":        "lots",
		"BUDGET_ENABLED":              "perhaps",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestZeroSweepIntervalsDisableSweeping(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_SWEEP_INTERVAL", "0")
	t.Setenv("CHAT_HISTORY_SWEEP_INTERVAL", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.RateLimit.SweepInterval)
	assert.Zero(t, cfg.Chat.HistorySweepPeriod)
}

func TestLoadBudgetOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BUDGET_ENABLED", "false")
	t.Setenv("DAILY_BUDGET_LIMIT", "2.5")
	t.Setenv("BUDGET_COST_PER_MILLION_TOKENS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Budget.Enabled)
	assert.Equal(t, 2.5, cfg.Budget.Daily)
	assert.Equal(t, 50.0, cfg.Budget.Weekly)
	assert.Equal(t, 3.0, cfg.Budget.CostPerMillionTokens)
}

func TestAIConfigEnabled(t *testing.T) {
	assert.True(t, AIConfig{Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
	assert.False(t, AIConfig{Model: "m", AccessKey: "a"}.Enabled())
}
