package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
)

var ErrDeviceRequired = errors.New("device id is required")

const (
	defaultTTL         = 4 * time.Hour
	defaultMaxMessages = 12
)

// Service keeps the recent turns of each device in memory so the chat
// backend receives some history.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation

	ttl         time.Duration
	maxMessages int
	now         func() time.Time
	logger      *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithTTL sets how long an idle conversation is kept.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxMessages caps the stored turns per device. Zero disables history.
func WithMaxMessages(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxMessages = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService bootstraps the in-memory conversation cache.
func NewService(opts ...Option) *Service {
	s := &Service{
		conversations: make(map[string]*chat.Conversation),
		ttl:           defaultTTL,
		maxMessages:   defaultMaxMessages,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// History returns a copy of the stored turns of a device, oldest first.
// Expired conversations read as empty.
func (s *Service) History(_ context.Context, deviceID string) ([]chat.Message, error) {
	if deviceID == "" {
		return nil, ErrDeviceRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[deviceID]
	if !ok || s.expired(conv, s.now()) {
		return nil, nil
	}

	copied := make([]chat.Message, len(conv.Messages))
	copy(copied, conv.Messages)
	return copied, nil
}

// Record appends one exchange and trims the conversation to the cap.
func (s *Service) Record(_ context.Context, deviceID string, meta chat.Context, userMessage, reply string) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if s.maxMessages == 0 {
		return nil
	}

	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[deviceID]
	if !ok || s.expired(conv, now) {
		conv = &chat.Conversation{DeviceID: deviceID, Messages: make([]chat.Message, 0, s.maxMessages)}
		s.conversations[deviceID] = conv
	}

	conv.Messages = append(conv.Messages,
		chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Content: userMessage, CreatedAt: now},
		chat.Message{ID: uuid.NewString(), Role: chat.RoleAssistant, Content: reply, CreatedAt: now},
	)
	if over := len(conv.Messages) - s.maxMessages; over > 0 {
		conv.Messages = append(conv.Messages[:0:0], conv.Messages[over:]...)
	}
	conv.PersonaID = meta.Persona
	conv.Phase = meta.CurrentPhase
	conv.LastActive = now
	return nil
}

// Conversation returns a snapshot of a device's conversation.
func (s *Service) Conversation(_ context.Context, deviceID string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[deviceID]
	if !ok || s.expired(conv, s.now()) {
		return chat.Conversation{}, false
	}
	snapshot := *conv
	snapshot.Messages = append([]chat.Message(nil), conv.Messages...)
	return snapshot, true
}

// Sweep drops expired conversations and returns how many were removed.
func (s *Service) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, conv := range s.conversations {
		if s.expired(conv, now) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is cancelled. A non-positive
// interval disables sweeping; expired conversations are still ignored on read.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("expired conversations swept", zap.Int("removed", n))
			}
		}
	}
}

func (s *Service) expired(conv *chat.Conversation, now time.Time) bool {
	return now.Sub(conv.LastActive) > s.ttl
}
