// Package budget caps what the chat backend may spend per day, week and
// month. Spend is estimated from the tokens each reply reports.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/logging"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
)

// ErrExceeded is returned by Allow when a period has no room left.
var ErrExceeded = errors.New("budget exceeded")

// Period is one accounting window.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

var periods = []Period{Daily, Weekly, Monthly}

const (
	warningRatio  = 0.7
	criticalRatio = 0.9
)

// Limits are dollar caps per period. A zero limit leaves the period unchecked.
type Limits struct {
	Daily   float64
	Weekly  float64
	Monthly float64
}

func (l Limits) of(p Period) float64 {
	switch p {
	case Daily:
		return l.Daily
	case Weekly:
		return l.Weekly
	default:
		return l.Monthly
	}
}

// Status is the spend of one period.
type Status struct {
	Period    Period  `json:"period"`
	Spent     float64 `json:"spent"`
	Limit     float64 `json:"limit"`
	Remaining float64 `json:"remaining"`
}

// Guard tracks spend in memory. Counters reset when the calendar day, ISO
// week or month of the clock changes.
type Guard struct {
	mu     sync.Mutex
	spent  map[Period]float64
	marks  map[Period]string
	limits Limits

	costPerMillion float64
	estimate       float64

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option customises a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithMetrics publishes the spend gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard builds a guard. costPerMillionTokens prices reported tokens;
// estimatedRequestCost is the headroom a new call needs.
func NewGuard(limits Limits, costPerMillionTokens, estimatedRequestCost float64, opts ...Option) *Guard {
	g := &Guard{
		spent:          make(map[Period]float64, len(periods)),
		marks:          make(map[Period]string, len(periods)),
		limits:         limits,
		costPerMillion: costPerMillionTokens,
		estimate:       estimatedRequestCost,
		now:            time.Now,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	now := g.now()
	for _, p := range periods {
		g.marks[p] = periodKey(p, now)
	}
	return g
}

// Allow reports whether one more call fits every period.
func (g *Guard) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked(g.now())

	for _, p := range periods {
		limit := g.limits.of(p)
		if limit <= 0 {
			continue
		}
		if g.spent[p]+g.estimate > limit {
			return fmt.Errorf("%w: %s spent $%.4f of $%.2f", ErrExceeded, p, g.spent[p], limit)
		}
	}
	return nil
}

// Track adds the cost of a finished call and returns it.
func (g *Guard) Track(deviceID string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	cost := float64(tokens) / 1e6 * g.costPerMillion

	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked(g.now())

	for _, p := range periods {
		g.spent[p] += cost
		g.metrics.SetBudgetSpent(string(p), g.spent[p])
	}

	g.logger.Debug("usage tracked",
		zap.String("device", logging.MaskID(deviceID)),
		zap.Int("tokens", tokens),
		zap.Float64("cost", cost))
	g.alertLocked()
	return cost
}

// Status returns the spend of every period, daily first.
func (g *Guard) Status() []Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked(g.now())

	out := make([]Status, 0, len(periods))
	for _, p := range periods {
		limit := g.limits.of(p)
		out = append(out, Status{Period: p, Spent: g.spent[p], Limit: limit, Remaining: limit - g.spent[p]})
	}
	return out
}

func (g *Guard) resetLocked(now time.Time) {
	for _, p := range periods {
		key := periodKey(p, now)
		if g.marks[p] == key {
			continue
		}
		if g.spent[p] > 0 {
			g.logger.Info("budget period reset", zap.String("period", string(p)), zap.Float64("spent", g.spent[p]))
		}
		g.spent[p] = 0
		g.marks[p] = key
		g.metrics.SetBudgetSpent(string(p), 0)
	}
}

func (g *Guard) alertLocked() {
	for _, p := range periods {
		limit := g.limits.of(p)
		if limit <= 0 {
			continue
		}
		ratio := g.spent[p] / limit
		fields := []zap.Field{
			zap.String("period", string(p)),
			zap.Float64("spent", g.spent[p]),
			zap.Float64("limit", limit),
		}
		switch {
		case ratio >= criticalRatio:
			g.logger.Error("budget critical", fields...)
		case ratio >= warningRatio:
			g.logger.Warn("budget warning", fields...)
		}
	}
}

func periodKey(p Period, t time.Time) string {
	switch p {
	case Daily:
		return t.Format("2006-01-02")
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return t.Format("2006-01")
	}
}
