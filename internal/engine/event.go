package engine

import (
	"context"
	"time"

	"github.com/whisper/guardbot/internal/platform"
)

// ActionDelete is the action recorded for link removals.
const ActionDelete = "delete"

// Event describes one enforcement, for the action feed and the incident log.
type Event struct {
	ID       string          `json:"id"`
	Reason   string          `json:"reason"`
	Term     string          `json:"term,omitempty"` // matched term or URL
	ChatID   platform.ChatID `json:"chat_id"`
	User     platform.User   `json:"user"`
	Tier     int             `json:"tier,omitempty"`
	Action   string          `json:"action"`
	Duration time.Duration   `json:"duration,omitempty"`
	Deleted  int             `json:"deleted"`
	Failed   int             `json:"failed,omitempty"`
	At       time.Time       `json:"at"`
}

// EventSink receives enforcement events.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }
