package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Personas  PersonaConfig
	Chat      ChatConfig
	Budget    BudgetConfig
	AI        AIConfig
	Admin     AdminConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	budget, err := loadBudgetConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	admin, err := loadAdminConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		RateLimit: rateLimit,
		Personas: PersonaConfig{
			FallbackFile: strings.TrimSpace(os.Getenv("PERSONA_FALLBACKS_FILE")),
		},
		Chat:   chat,
		Budget: budget,
		AI:     ai,
		Admin:  admin,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与 CORS 来源。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"), ",")

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LogConfig 描述 zap 日志级别与编码格式。
type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig 描述聊天接口的准入限流配置。
type RateLimitConfig struct {
	Enabled       bool
	MaxPerWindow  int
	Window        time.Duration
	ChatPath      string
	RedisURL      string
	SweepInterval time.Duration
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	enabled, err := parseBoolEnv("RATE_LIMIT_ENABLED", true)
	if err != nil {
		return RateLimitConfig{}, err
	}

	maxPerWindow := 12
	if override, err := parseOptionalIntEnv("RATE_LIMIT_MAX"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_MAX value %d: must be positive", *override)
		}
		maxPerWindow = *override
	}

	window, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if window < time.Second {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW value %s: must be at least 1s", window)
	}

	// 0 表示关闭计数器清理
	sweep, err := parseIntervalEnv("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return RateLimitConfig{}, err
	}

	chatPath := getEnvOrDefault("RATE_LIMIT_CHAT_PATH", "/api/chat")
	if !strings.HasPrefix(chatPath, "/") {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_CHAT_PATH value %q: must start with /", chatPath)
	}

	return RateLimitConfig{
		Enabled:       enabled,
		MaxPerWindow:  maxPerWindow,
		Window:        window,
		ChatPath:      chatPath,
		RedisURL:      strings.TrimSpace(os.Getenv("RATE_LIMIT_REDIS_URL")),
		SweepInterval: sweep,
	}, nil
}

// PersonaConfig 指向可选的兜底文案覆盖文件。
type PersonaConfig struct {
	FallbackFile string
}

// ChatConfig 描述聊天接口及其后端。
type ChatConfig struct {
	BackendURL         string
	BackendTimeout     time.Duration
	MaxMessageLength   int
	HistoryTTL         time.Duration
	HistoryMax         int
	HistorySweepPeriod time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	timeout, err := parseDurationEnv("CHAT_BACKEND_TIMEOUT", 30*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	historyTTL, err := parseDurationEnv("CHAT_HISTORY_TTL", 4*time.Hour)
	if err != nil {
		return ChatConfig{}, err
	}

	// 0 表示关闭会话历史清理
	sweep, err := parseIntervalEnv("CHAT_HISTORY_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return ChatConfig{}, err
	}

	maxLength := 2000
	if override, err := parseOptionalIntEnv("CHAT_MAX_MESSAGE_LENGTH"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		maxLength = *override
	}

	historyMax := 12
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_MAX"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 0 {
			historyMax = 0
		} else {
			historyMax = *override
		}
	}

	return ChatConfig{
		BackendURL:         strings.TrimSpace(os.Getenv("CHAT_BACKEND_URL")),
		BackendTimeout:     timeout,
		MaxMessageLength:   maxLength,
		HistoryTTL:         historyTTL,
		HistoryMax:         historyMax,
		HistorySweepPeriod: sweep,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// BudgetConfig 描述聊天后端的花费上限，单位为美元。
type BudgetConfig struct {
	Enabled              bool
	Daily                float64
	Weekly               float64
	Monthly              float64
	CostPerMillionTokens float64
	EstimatedRequestCost float64
}

func loadBudgetConfig() (BudgetConfig, error) {
	enabled, err := parseBoolEnv("BUDGET_ENABLED", true)
	if err != nil {
		return BudgetConfig{}, err
	}

	cfg := BudgetConfig{Enabled: enabled}
	fields := []struct {
		key          string
		defaultValue float64
		dst          *float64
	}{
		{"DAILY_BUDGET_LIMIT", 10, &cfg.Daily},
		{"WEEKLY_BUDGET_LIMIT", 50, &cfg.Weekly},
		{"MONTHLY_BUDGET_LIMIT", 150, &cfg.Monthly},
		{"BUDGET_COST_PER_MILLION_TOKENS", 1.25, &cfg.CostPerMillionTokens},
		{"BUDGET_ESTIMATED_REQUEST_COST", 0.001, &cfg.EstimatedRequestCost},
	}
	for _, f := range fields {
		val, err := parseOptionalFloatEnv(f.key)
		if err != nil {
			return BudgetConfig{}, err
		}
		if val == nil {
			*f.dst = f.defaultValue
			continue
		}
		if *val < 0 {
			return BudgetConfig{}, fmt.Errorf("invalid %s value %v: must not be negative", f.key, *val)
		}
		*f.dst = *val
	}
	return cfg, nil
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// AdminAccount 描述一个后台账号。PasswordHash（bcrypt）与 Password（明文，启动时哈希）二选一。
type AdminAccount struct {
	Username     string
	Role         string
	PasswordHash string
	Password     string
}

// AdminConfig 描述后台鉴权配置。
type AdminConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Accounts  []AdminAccount
}

func loadAdminConfig() (AdminConfig, error) {
	ttl, err := parseDurationEnv("ADMIN_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return AdminConfig{}, err
	}

	var accounts []AdminAccount
	for _, entry := range splitList(os.Getenv("ADMIN_USERS"), ";") {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return AdminConfig{}, fmt.Errorf("invalid ADMIN_USERS entry %q: want user:role:bcrypt-hash", entry)
		}
		accounts = append(accounts, AdminAccount{Username: parts[0], Role: parts[1], PasswordHash: parts[2]})
	}

	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		accounts = append(accounts, AdminAccount{
			Username: getEnvOrDefault("ADMIN_USERNAME", "jeza"),
			Role:     getEnvOrDefault("ADMIN_ROLE", "admin"),
			Password: password,
		})
	}

	return AdminConfig{
		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  ttl,
		Accounts:  accounts,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw, sep string) []string {
	var out []string
	for _, item := range strings.Split(raw, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go 时长（"90s"、"4h"）或纯秒数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseIntervalEnv 解析周期任务的间隔，0 表示关闭，负数视为配置错误。
func parseIntervalEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	val, err := parseDurationEnv(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %s: must not be negative", key, val)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
