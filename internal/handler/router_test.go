package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/moodcycle-gateway/internal/admission"
	"github.com/zhouzirui/moodcycle-gateway/internal/auth"
	"github.com/zhouzirui/moodcycle-gateway/internal/config"
	"github.com/zhouzirui/moodcycle-gateway/internal/handler/chat"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	personaModel "github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/ratelimit"
	aiService "github.com/zhouzirui/moodcycle-gateway/internal/service/ai"
	"github.com/zhouzirui/moodcycle-gateway/internal/service/budget"
	chatService "github.com/zhouzirui/moodcycle-gateway/internal/service/chat"
)

type countingBackend struct{ calls atomic.Int64 }

func (b *countingBackend) Reply(context.Context, aiService.Request) (aiService.Reply, error) {
	b.calls.Add(1)
	return aiService.Reply{Text: "Je t'écoute", TokensUsed: 10}, nil
}

func newTestRouter(t *testing.T, backend aiService.Backend) http.Handler {
	t.Helper()
	limits := ratelimit.Limits{MaxPerWindow: 12, Window: time.Minute}
	fallbacks := personaModel.DefaultFallbackTable(60)
	m := metrics.New()

	issuer, err := auth.NewIssuer("router-secret", time.Hour)
	require.NoError(t, err)
	accounts, err := auth.NewAccounts([]config.AdminAccount{{Username: "jeza", Role: auth.RoleAdmin, Password: "pw"}})
	require.NoError(t, err)

	return NewRouter(Dependencies{
		Metrics:        m,
		AllowedOrigins: []string{"*"},
		Admission: admission.New(ratelimit.NewMemoryStore(limits), fallbacks,
			admission.Config{Path: "/api/chat", Limits: limits}, admission.WithMetrics(m)),
		Personas:      personaModel.NewMemoryStore(personaModel.Seed()),
		Fallbacks:     fallbacks,
		Backend:       backend,
		Conversations: chatService.NewService(),
		Chat:          chat.Config{MaxMessageLength: 2000, Timeout: time.Second},
		Issuer:        issuer,
		Accounts:      accounts,
	})
}

func chatRequest(device string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"J'ai mal au ventre","context":{"persona":"laure"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", device)
	return req
}

func TestChatIsAdmittedThenThrottled(t *testing.T) {
	backend := &countingBackend{}
	r := newTestRouter(t, backend)

	for i := 1; i <= 12; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, chatRequest("device-A"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "12", rec.Header().Get("RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-A"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, int64(12), backend.calls.Load())

	var denial admission.Denial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denial))
	assert.Equal(t, admission.CodeRateLimitExceeded, denial.Error)
	assert.Equal(t, personaModel.ToneProfessional, denial.Fallback.Tone)

	// another device is unaffected
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-B"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreflightIsNotCounted(t *testing.T) {
	r := newTestRouter(t, &countingBackend{})

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("X-Device-ID", "device-A")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-A"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "11", rec.Header().Get("RateLimit-Remaining"))
}

func TestHealthPersonasAndMetrics(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":false`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("RateLimit-Limit"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "moodcycle_http_requests_total")
}

func TestAdminRoutesMounted(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/auth", strings.NewReader(`{"username":"jeza","password":"pw"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThrottledChatIsCountedUnderItsRoute(t *testing.T) {
	limits := ratelimit.Limits{MaxPerWindow: 1, Window: time.Minute}
	m := metrics.New()
	r := NewRouter(Dependencies{
		Metrics:   m,
		Admission: admission.New(ratelimit.NewMemoryStore(limits), nil, admission.Config{Limits: limits}),
		Personas:  personaModel.NewMemoryStore(personaModel.Seed()),
		Backend:   &countingBackend{},
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), chatRequest("device-A"))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `moodcycle_http_requests_total{method="POST",route="/api/chat",status="200"} 1`)
	assert.Contains(t, body, `moodcycle_http_requests_total{method="POST",route="/api/chat",status="429"} 1`)
	assert.NotContains(t, body, `route="unmatched"`)
}

func TestRouterDefaultsOptionalDependencies(t *testing.T) {
	backend := &countingBackend{}
	r := NewRouter(Dependencies{
		Metrics:  metrics.New(),
		Personas: personaModel.NewMemoryStore(personaModel.Seed()),
		Backend:  backend,
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-A"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), backend.calls.Load())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminBudgetMounted(t *testing.T) {
	issuer, err := auth.NewIssuer("router-secret", time.Hour)
	require.NoError(t, err)
	accounts, err := auth.NewAccounts([]config.AdminAccount{{Username: "jeza", Role: auth.RoleAdmin, Password: "pw"}})
	require.NoError(t, err)

	r := NewRouter(Dependencies{
		Metrics:  metrics.New(),
		Personas: personaModel.NewMemoryStore(personaModel.Seed()),
		Budget:   budget.NewGuard(budget.Limits{Daily: 10}, 1, 0.001),
		Issuer:   issuer,
		Accounts: accounts,
	})

	token, err := issuer.Issue("jeza", auth.RoleAdmin)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/budget", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"period":"daily"`)
}
