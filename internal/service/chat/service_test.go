package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
	chat "github.com/zhouzirui/moodcycle-gateway/internal/service/chat"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestServiceRecordAndHistory(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "device-1", model.Context{Persona: "emma", CurrentPhase: "luteal"}, "bonjour", "salut ma belle"))

	history, err := svc.History(ctx, "device-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "bonjour", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.NotEqual(t, history[0].ID, history[1].ID)

	conv, ok := svc.Conversation(ctx, "device-1")
	require.True(t, ok)
	assert.Equal(t, "emma", conv.PersonaID)
	assert.Equal(t, "luteal", conv.Phase)

	history, err = svc.History(ctx, "device-2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestServiceRequiresDevice(t *testing.T) {
	svc := chat.NewService()
	_, err := svc.History(context.Background(), "")
	assert.ErrorIs(t, err, chat.ErrDeviceRequired)
	assert.ErrorIs(t, svc.Record(context.Background(), "", model.Context{}, "a", "b"), chat.ErrDeviceRequired)
}

func TestServiceTrimsToMaxMessages(t *testing.T) {
	svc := chat.NewService(chat.WithMaxMessages(4))
	ctx := context.Background()

	for _, msg := range []string{"un", "deux", "trois"} {
		require.NoError(t, svc.Record(ctx, "device-1", model.Context{}, msg, "ok "+msg))
	}

	history, err := svc.History(ctx, "device-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "deux", history[0].Content)
	assert.Equal(t, "ok trois", history[3].Content)
}

func TestServiceZeroMaxDisablesHistory(t *testing.T) {
	svc := chat.NewService(chat.WithMaxMessages(0))
	require.NoError(t, svc.Record(context.Background(), "device-1", model.Context{}, "a", "b"))

	history, err := svc.History(context.Background(), "device-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestServiceExpiryAndSweep(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc := chat.NewService(chat.WithTTL(time.Hour), chat.WithClock(c.now))
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "device-1", model.Context{}, "a", "b"))
	c.t = c.t.Add(30 * time.Minute)
	require.NoError(t, svc.Record(ctx, "device-2", model.Context{}, "a", "b"))

	c.t = c.t.Add(45 * time.Minute)
	history, err := svc.History(ctx, "device-1")
	require.NoError(t, err)
	assert.Empty(t, history, "idle conversation must read as empty")

	assert.Equal(t, 1, svc.Sweep(c.t))
	_, ok := svc.Conversation(ctx, "device-2")
	assert.True(t, ok)

	// a new exchange after expiry starts fresh
	require.NoError(t, svc.Record(ctx, "device-1", model.Context{}, "c", "d"))
	history, err = svc.History(ctx, "device-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c", history[0].Content)
}

func TestServiceRunSweeperStops(t *testing.T) {
	svc := chat.NewService()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestServiceRunSweeperDisabledByNonPositiveInterval(t *testing.T) {
	svc := chat.NewService()
	for _, interval := range []time.Duration{0, -time.Second} {
		done := make(chan struct{})
		go func() {
			svc.RunSweeper(context.Background(), interval)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("sweeper with interval %s kept running", interval)
		}
	}
}
