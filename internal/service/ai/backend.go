package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
)

// Failure classes of a chat backend. Handlers map them to degraded replies.
var (
	ErrThrottled   = errors.New("chat backend throttled")
	ErrTimeout     = errors.New("chat backend timed out")
	ErrUnavailable = errors.New("chat backend unavailable")
	// ErrQuotaExceeded is the provider refusing calls on account quota.
	ErrQuotaExceeded = errors.New("chat backend quota exceeded")
	// ErrBudgetExceeded is the local spend guard refusing the call.
	ErrBudgetExceeded = errors.New("chat backend budget exceeded")
)

var failureClasses = []error{ErrThrottled, ErrTimeout, ErrUnavailable, ErrQuotaExceeded, ErrBudgetExceeded}

// Request is one admitted chat message.
type Request struct {
	DeviceID string
	Message  string
	Context  chat.Context
	History  []chat.Message
	// Body is the client payload as received.
	Body []byte
}

// Reply is a successful backend answer.
type Reply struct {
	Text       string
	TokensUsed int
}

// Backend produces persona replies. Errors wrap one of the failure classes
// above.
type Backend interface {
	Reply(ctx context.Context, req Request) (Reply, error)
}

// classify wraps err with the failure class it belongs to.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	for _, class := range failureClasses {
		if errors.Is(err, class) {
			return err
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	if strings.Contains(msg, "quota") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Outcome names the failure class of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrBudgetExceeded):
		return "budget"
	default:
		return "unavailable"
	}
}
