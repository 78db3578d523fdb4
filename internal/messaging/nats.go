// Package messaging provides a NATS client wrapper used to publish every
// moderation action on a per-chat subject, so dashboards and audit consumers
// can follow enforcement live.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/engine"
	"github.com/whisper/guardbot/internal/platform"
)

// SubjectModerationAction is the prefix of the action feed; the chat ID is
// appended: moderation.action.<chat_id>.
const SubjectModerationAction = "moderation.action"

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "guardbot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It fails if the
// initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	logger := log.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for subject and keeps the subscription for
// cleanup in Close.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// ActionSubject returns the feed subject of one chat.
func ActionSubject(chatID platform.ChatID) string {
	return SubjectModerationAction + "." + chatID.String()
}

// PublishModerationAction publishes data on moderation.action.<chatID>.
func (c *NATSClient) PublishModerationAction(chatID platform.ChatID, data []byte) error {
	return c.Publish(ActionSubject(chatID), data)
}

// SubscribeModerationActions receives the actions of every chat.
func (c *NATSClient) SubscribeModerationActions(handler func(subject string, data []byte)) error {
	return c.Subscribe(SubjectModerationAction+".>", func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

// Flush waits until the server has processed all buffered publishes.
func (c *NATSClient) Flush(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

// Close drains all subscriptions and the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("component", "nats").Str("subject", subject).Msg("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Str("component", "nats").Msg("connection drain failed")
	}
}

// Publisher is the part of NATSClient EventPublisher needs.
type Publisher interface {
	PublishModerationAction(chatID platform.ChatID, data []byte) error
}

// EventPublisher adapts a Publisher to engine.EventSink.
type EventPublisher struct {
	pub Publisher
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(pub Publisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

// Emit publishes ev as JSON on the chat's action subject.
func (p *EventPublisher) Emit(_ context.Context, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: marshal event: %w", err)
	}
	if err := p.pub.PublishModerationAction(ev.ChatID, data); err != nil {
		return fmt.Errorf("messaging: publish event: %w", err)
	}
	return nil
}
