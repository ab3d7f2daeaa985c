// Package admission throttles the chat endpoint per client before requests
// reach the chat backend.
package admission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/logging"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	"github.com/zhouzirui/moodcycle-gateway/internal/ratelimit"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

const (
	// DeviceHeader carries the stable device identity of the mobile app.
	DeviceHeader = "X-Device-ID"
	// AnonymousKey is the shared counter for callers with neither a device id
	// nor a usable remote address.
	AnonymousKey = "anonymous"
	// CodeRateLimitExceeded is the error code of a denial body.
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	defaultPeekBytes = 1 << 20
)

// KeySource tells which request attribute produced a client key.
type KeySource string

const (
	KeyFromDevice    KeySource = "device"
	KeyFromAddress   KeySource = "address"
	KeyFromAnonymous KeySource = "anonymous"
)

// Denial is the body of a 429 answer.
type Denial struct {
	Error      string                 `json:"error"`
	Message    string                 `json:"message"`
	RetryAfter int                    `json:"retryAfter"`
	Fallback   persona.FallbackBundle `json:"fallback"`
}

// Config scopes the controller.
type Config struct {
	// Path is the only request path subject to admission control.
	Path string
	// Limits mirrors the store configuration and feeds the policy header.
	Limits ratelimit.Limits
	// PeekBytes caps how much of the body is inspected for the persona.
	PeekBytes int64
}

// Controller decides, per request, whether the chat endpoint may be called.
type Controller struct {
	store     ratelimit.Store
	fallbacks *persona.FallbackTable
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the time source used for reset headers.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New builds a controller over store. fallbacks supplies denial bodies; nil
// selects the built-in table.
func New(store ratelimit.Store, fallbacks *persona.FallbackTable, cfg Config, opts ...Option) *Controller {
	if cfg.Path == "" {
		cfg.Path = "/api/chat"
	}
	if cfg.PeekBytes <= 0 {
		cfg.PeekBytes = defaultPeekBytes
	}
	if cfg.Limits.MaxPerWindow == 0 {
		cfg.Limits = ratelimit.DefaultLimits()
	}
	if fallbacks == nil {
		fallbacks = persona.DefaultFallbackTable(int(cfg.Limits.Window / time.Second))
	}

	c := &Controller{
		store:     store,
		fallbacks: fallbacks,
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Middleware intercepts requests to the configured path. Every other route
// passes through untouched.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != c.cfg.Path {
			next.ServeHTTP(w, r)
			return
		}

		key, source := clientKey(r)
		personaID := c.peekPersona(r)

		d, err := c.store.CheckAndIncrement(r.Context(), key)
		if err != nil {
			c.metrics.RecordStoreError()
			c.logger.Warn("rate-limit store unavailable, admitting request",
				zap.String("client", logging.MaskID(key)),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		c.metrics.RecordAdmission(d.Allowed, string(personaID))
		now := c.now()
		c.setHeaders(w, d, now)

		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		c.logger.Info("chat request throttled",
			zap.String("client", logging.MaskID(key)),
			zap.String("keySource", string(source)),
			zap.String("persona", string(personaID)),
			zap.Int("count", d.Count),
			zap.Int("limit", d.Limit))

		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter(now).Seconds())))
		utils.RespondJSON(w, http.StatusTooManyRequests, c.Deny(string(personaID)))
	})
}

// Deny builds the denial body for a persona.
func (c *Controller) Deny(personaID string) Denial {
	bundle := c.fallbacks.Resolve(personaID)
	return Denial{
		Error:      CodeRateLimitExceeded,
		Message:    c.fallbacks.Notice(personaID),
		RetryAfter: bundle.RetryAfterSeconds,
		Fallback:   bundle,
	}
}

// setHeaders writes the IETF draft RateLimit-* fields.
func (c *Controller) setHeaders(w http.ResponseWriter, d ratelimit.Decision, now time.Time) {
	h := w.Header()
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", d.Limit, int(c.cfg.Limits.Window.Seconds())))
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(int(d.RetryAfter(now).Seconds())))
}

// peekPersona reads context.persona from the JSON body and restores the body
// for the next handler. Unreadable bodies resolve to the default persona.
func (c *Controller) peekPersona(r *http.Request) persona.ID {
	if r.Body == nil || r.Body == http.NoBody {
		return persona.General
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, c.cfg.PeekBytes))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil {
		return persona.General
	}

	var payload struct {
		Context struct {
			Persona string `json:"persona"`
		} `json:"context"`
	}
	if err := json.Unmarshal(buf, &payload); err != nil {
		return persona.General
	}
	return persona.Parse(payload.Context.Persona)
}

// ClientKey derives the counter key: device identity, else remote address,
// else AnonymousKey. It is never empty.
func ClientKey(r *http.Request) string {
	key, _ := clientKey(r)
	return key
}

func clientKey(r *http.Request) (string, KeySource) {
	if device := strings.TrimSpace(r.Header.Get(DeviceHeader)); device != "" {
		return device, KeyFromDevice
	}
	if addr := remoteIP(r); addr != "" {
		return addr, KeyFromAddress
	}
	return AnonymousKey, KeyFromAnonymous
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
