package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/guardbot/internal/engine"
	"github.com/whisper/guardbot/internal/platform"
)

type capture struct {
	chat platform.ChatID
	data []byte
	err  error
}

func (c *capture) PublishModerationAction(chatID platform.ChatID, data []byte) error {
	c.chat = chatID
	c.data = data
	return c.err
}

func TestActionSubject(t *testing.T) {
	assert.Equal(t, "moderation.action.-100123", ActionSubject(-100123))
}

func TestEventPublisher_Emit(t *testing.T) {
	pub := &capture{}
	ev := engine.Event{
		ID:     "e1",
		Reason: "abusive_language",
		ChatID: -5,
		User:   platform.User{ID: 7, FirstName: "A"},
		Tier:   2,
		Action: "mute",
		At:     time.Unix(1700000000, 0).UTC(),
	}

	require.NoError(t, NewEventPublisher(pub).Emit(context.Background(), ev))
	assert.Equal(t, platform.ChatID(-5), pub.chat)

	var got engine.Event
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, ev, got)
}

func TestEventPublisher_Error(t *testing.T) {
	pub := &capture{err: errors.New("no responders")}
	err := NewEventPublisher(pub).Emit(context.Background(), engine.Event{ChatID: 1})
	assert.ErrorIs(t, err, pub.err)
}

// newTestClient connects to a local NATS server, skipping when none runs.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNATSClient_ActionFeed(t *testing.T) {
	c := newTestClient(t)

	got := make(chan string, 1)
	require.NoError(t, c.SubscribeModerationActions(func(subject string, data []byte) {
		got <- subject + " " + string(data)
	}))
	require.NoError(t, c.Flush(context.Background()))

	require.NoError(t, c.PublishModerationAction(-42, []byte(`{"id":"x"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, `moderation.action.-42 {"id":"x"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no action received")
	}
}
