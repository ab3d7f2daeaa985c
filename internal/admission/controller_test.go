package admission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/ratelimit"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingBackend struct {
	calls    atomic.Int64
	lastBody string
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.calls.Add(1)
	body, _ := io.ReadAll(r.Body)
	b.lastBody = string(body)
	w.WriteHeader(http.StatusOK)
}

func setupRouter(t *testing.T, limits ratelimit.Limits, store ratelimit.Store) (*chi.Mux, *recordingBackend) {
	t.Helper()
	if store == nil {
		store = ratelimit.NewMemoryStore(limits, ratelimit.WithClock(func() time.Time { return testNow }))
	}
	ctrl := New(store, persona.DefaultFallbackTable(int(limits.Window.Seconds())),
		Config{Path: "/api/chat", Limits: limits},
		WithClock(func() time.Time { return testNow }),
		WithMetrics(metrics.New()))

	backend := &recordingBackend{}
	r := chi.NewRouter()
	r.Use(ctrl.Middleware)
	r.Post("/api/chat", backend.ServeHTTP)
	r.Get("/api/personas", backend.ServeHTTP)
	return r, backend
}

func chatRequest(device, personaID string) *http.Request {
	body := `{"message":"bonjour","context":{"persona":"` + personaID + `","currentPhase":"luteal"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set(DeviceHeader, device)
	}
	return req
}

func TestThirteenthRequestIsDeniedInPersonaVoice(t *testing.T) {
	r, backend := setupRouter(t, ratelimit.Limits{MaxPerWindow: 12, Window: time.Minute}, nil)

	for i := 1; i <= 12; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, chatRequest("device-A", "sylvie"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "12", rec.Header().Get("RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-A", "sylvie"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, int64(12), backend.calls.Load(), "backend must not be contacted on deny")
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("RateLimit-Reset"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "12;w=60", rec.Header().Get("RateLimit-Policy"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))

	var denial struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
		Fallback   struct {
			Message    string `json:"message"`
			Tone       string `json:"tone"`
			Suggestion string `json:"suggestion"`
		} `json:"fallback"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denial))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", denial.Error)
	assert.Equal(t, 60, denial.RetryAfter)
	assert.Equal(t, "maternal", denial.Fallback.Tone)
	assert.NotEmpty(t, denial.Message)
	assert.NotEmpty(t, denial.Fallback.Suggestion)
}

func TestUnknownPersonaGetsDefaultFallback(t *testing.T) {
	r, _ := setupRouter(t, ratelimit.Limits{MaxPerWindow: 1, Window: time.Minute}, nil)

	r.ServeHTTP(httptest.NewRecorder(), chatRequest("device-B", "nobody"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-B", "nobody"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tone":"neutral"`)
}

func TestMalformedBodyStillCountedWithDefaultPersona(t *testing.T) {
	r, _ := setupRouter(t, ratelimit.Limits{MaxPerWindow: 1, Window: time.Minute}, nil)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`))
		req.Header.Set(DeviceHeader, "device-C")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tone":"neutral"`)
}

func TestBodyIsForwardedUnmodified(t *testing.T) {
	r, backend := setupRouter(t, ratelimit.DefaultLimits(), nil)

	req := chatRequest("device-A", "emma")
	want := `{"message":"bonjour","context":{"persona":"emma","currentPhase":"luteal"}}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want, backend.lastBody)
}

func TestOtherRoutesBypassAdmission(t *testing.T) {
	r, backend := setupRouter(t, ratelimit.Limits{MaxPerWindow: 1, Window: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
		req.Header.Set(DeviceHeader, "device-A")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("RateLimit-Limit"))
	}
	assert.Equal(t, int64(5), backend.calls.Load())

	// the chat budget is untouched
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-A", "emma"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDevicesHaveIndependentBudgets(t *testing.T) {
	r, _ := setupRouter(t, ratelimit.Limits{MaxPerWindow: 2, Window: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), chatRequest("device-A", "emma"))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-B", "emma"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingStore struct{}

func (failingStore) CheckAndIncrement(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestStoreFailureAdmits(t *testing.T) {
	r, backend := setupRouter(t, ratelimit.DefaultLimits(), failingStore{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-A", "emma"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), backend.calls.Load())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = "203.0.113.7:5123"
	assert.Equal(t, "203.0.113.7", ClientKey(req))

	req.Header.Set(DeviceHeader, "  device-42 ")
	assert.Equal(t, "device-42", ClientKey(req))

	req = httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = ""
	assert.Equal(t, AnonymousKey, ClientKey(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", ClientKey(req))
}

func TestNilFallbackTableUsesBuiltInReplies(t *testing.T) {
	limits := ratelimit.Limits{MaxPerWindow: 1, Window: 30 * time.Second}
	ctrl := New(ratelimit.NewMemoryStore(limits), nil, Config{Limits: limits})

	backend := &recordingBackend{}
	r := chi.NewRouter()
	r.Use(ctrl.Middleware)
	r.Post("/api/chat", backend.ServeHTTP)

	r.ServeHTTP(httptest.NewRecorder(), chatRequest("device-N", "emma"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chatRequest("device-N", "emma"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var denial Denial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denial))
	assert.NotEmpty(t, denial.Fallback.Message)
	assert.NotEmpty(t, denial.Fallback.Tone)
}
