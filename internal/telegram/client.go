// Package telegram implements platform.ChatActions and the inbound feed on
// top of the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	tb "gopkg.in/telebot.v3"

	"github.com/whisper/guardbot/internal/platform"
)

const (
	// BatchSize is the largest number of messages deleted in one batch.
	BatchSize = 100

	// batchWorkers bounds concurrent deletions inside a batch.
	batchWorkers = 8
)

// Settings configures the client.
type Settings struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout
	SendRate    float64       // outbound requests per second
	Burst       int
	Offline     bool // skip getMe, for tests
}

// DefaultSettings returns a 10s long poll and 20 requests per second.
func DefaultSettings() Settings {
	return Settings{
		PollTimeout: 10 * time.Second,
		SendRate:    20,
		Burst:       5,
	}
}

// Client wraps a telebot Bot. Every outbound call waits on a shared rate
// limiter so bursts of enforcement stay under the Bot API flood limits.
type Client struct {
	bot     *tb.Bot
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates the bot. Unless s.Offline is set it contacts Telegram to
// validate the token.
func NewClient(s Settings) (*Client, error) {
	def := DefaultSettings()
	if s.PollTimeout <= 0 {
		s.PollTimeout = def.PollTimeout
	}
	if s.SendRate <= 0 {
		s.SendRate = def.SendRate
	}
	if s.Burst <= 0 {
		s.Burst = def.Burst
	}

	logger := log.With().Str("component", "telegram").Logger()

	bot, err := tb.NewBot(tb.Settings{
		Token: s.Token,
		Poller: &tb.LongPoller{
			Timeout:        s.PollTimeout,
			AllowedUpdates: []string{"message", "chat_member", "my_chat_member"},
		},
		Offline: s.Offline,
		OnError: func(err error, c tb.Context) {
			logger.Error().Err(err).Msg("update handler failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}

	return &Client{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(s.SendRate), s.Burst),
		logger:  logger,
	}, nil
}

// BotID returns the bot's own user ID, zero when offline.
func (c *Client) BotID() platform.UserID {
	if c.bot.Me == nil {
		return 0
	}
	return platform.UserID(c.bot.Me.ID)
}

// Username returns the bot's username.
func (c *Client) Username() string {
	if c.bot.Me == nil {
		return ""
	}
	return c.bot.Me.Username
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate wait: %w", err)
	}
	return nil
}

func chatOf(id platform.ChatID) *tb.Chat { return &tb.Chat{ID: int64(id)} }

func (c *Client) DeleteMessage(ctx context.Context, chatID platform.ChatID, messageID int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	err := c.bot.Delete(tb.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: int64(chatID)})
	return mapError(err)
}

// DeleteMessages deletes messageIDs in batches of BatchSize. Failures are
// counted, never rolled back; Err holds the last failure.
func (c *Client) DeleteMessages(ctx context.Context, chatID platform.ChatID, messageIDs []int) platform.BatchResult {
	var res platform.BatchResult
	for _, batch := range chunk(messageIDs, BatchSize) {
		errs := make([]error, len(batch))
		var g errgroup.Group
		g.SetLimit(batchWorkers)
		for i, id := range batch {
			g.Go(func() error {
				errs[i] = c.DeleteMessage(ctx, chatID, id)
				return nil
			})
		}
		_ = g.Wait()

		for _, err := range errs {
			if err != nil {
				res.Failed++
				res.Err = err
				continue
			}
			res.Succeeded++
		}
	}
	return res
}

func (c *Client) RestrictUser(ctx context.Context, chatID platform.ChatID, userID platform.UserID, until time.Time) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	member := &tb.ChatMember{
		User:            &tb.User{ID: int64(userID)},
		RestrictedUntil: until.Unix(),
		Rights:          tb.Rights{CanSendMessages: false},
	}
	return mapError(c.bot.Restrict(chatOf(chatID), member))
}

func (c *Client) BanUser(ctx context.Context, chatID platform.ChatID, userID platform.UserID) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	member := &tb.ChatMember{User: &tb.User{ID: int64(userID)}}
	return mapError(c.bot.Ban(chatOf(chatID), member))
}

func (c *Client) SendNotice(ctx context.Context, notice platform.Notice) (platform.NoticeHandle, error) {
	if err := c.wait(ctx); err != nil {
		return platform.NoticeHandle{}, err
	}
	m, err := c.bot.Send(chatOf(notice.ChatID), notice.Text, sendOptions(notice))
	if err != nil {
		return platform.NoticeHandle{}, mapError(err)
	}
	return platform.NoticeHandle{ChatID: notice.ChatID, MessageID: m.ID}, nil
}

func (c *Client) SendPhotoNotice(ctx context.Context, notice platform.Notice, photo string) (platform.NoticeHandle, error) {
	if err := c.wait(ctx); err != nil {
		return platform.NoticeHandle{}, err
	}
	p := &tb.Photo{File: tb.File{FileID: photo}, Caption: notice.Text}
	m, err := c.bot.Send(chatOf(notice.ChatID), p, sendOptions(notice))
	if err != nil {
		return platform.NoticeHandle{}, mapError(err)
	}
	return platform.NoticeHandle{ChatID: notice.ChatID, MessageID: m.ID}, nil
}

func (c *Client) DeleteNotice(ctx context.Context, h platform.NoticeHandle) error {
	return c.DeleteMessage(ctx, h.ChatID, h.MessageID)
}

func (c *Client) MemberCapabilities(ctx context.Context, chatID platform.ChatID, userID platform.UserID) (platform.Capabilities, error) {
	if err := c.wait(ctx); err != nil {
		return platform.Capabilities{}, err
	}
	m, err := c.bot.ChatMemberOf(chatOf(chatID), &tb.User{ID: int64(userID)})
	if err != nil {
		return platform.Capabilities{}, mapError(err)
	}
	return capabilitiesOf(m), nil
}

func (c *Client) ProfilePhoto(ctx context.Context, userID platform.UserID) (string, bool, error) {
	if err := c.wait(ctx); err != nil {
		return "", false, err
	}
	photos, err := c.bot.ProfilePhotosOf(&tb.User{ID: int64(userID)})
	if err != nil {
		return "", false, mapError(err)
	}
	if len(photos) == 0 {
		return "", false, nil
	}
	return photos[0].FileID, true, nil
}

func sendOptions(n platform.Notice) *tb.SendOptions {
	opts := &tb.SendOptions{ParseMode: tb.ModeHTML, DisableWebPagePreview: true}
	if n.ReplyTo != 0 {
		opts.ReplyTo = &tb.Message{ID: n.ReplyTo}
	}
	return opts
}

// capabilitiesOf maps a member's rights. The chat creator holds every right
// implicitly.
func capabilitiesOf(m *tb.ChatMember) platform.Capabilities {
	if m == nil {
		return platform.Capabilities{}
	}
	switch m.Role {
	case tb.Creator:
		return platform.Capabilities{CanRestrict: true, CanDelete: true}
	case tb.Administrator:
		return platform.Capabilities{CanRestrict: m.CanRestrictMembers, CanDelete: m.CanDeleteMessages}
	default:
		return platform.Capabilities{}
	}
}

// mapError translates Bot API failures into platform sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "have no rights"),
		strings.Contains(msg, "can't remove chat owner"),
		strings.Contains(msg, "user is an administrator"),
		strings.Contains(msg, "bot was kicked"),
		strings.Contains(msg, "bot is not a member"):
		return fmt.Errorf("%w: %w", platform.ErrPermissionDenied, err)
	case strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message can't be deleted"),
		strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "user not found"):
		return fmt.Errorf("%w: %w", platform.ErrNotFound, err)
	}
	var apiErr *tb.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %w", platform.ErrPermissionDenied, err)
	}
	return fmt.Errorf("telegram: %w", err)
}

func chunk(ids []int, size int) [][]int {
	var out [][]int
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
