package telegram

import (
	"context"
	"sync"
	"time"

	tb "gopkg.in/telebot.v3"

	"github.com/whisper/guardbot/internal/platform"
)

// Handlers receive converted inbound events. Nil handlers are skipped.
type Handlers struct {
	OnText       func(ctx context.Context, msg platform.TextMessage)
	OnMembership func(ctx context.Context, ev platform.MembershipEvent)
}

// Run polls for updates until ctx is cancelled. Every event is handled on its
// own goroutine so a slow chat never blocks another. Run waits for in-flight
// handlers before returning; they keep running after ctx is cancelled.
func (c *Client) Run(ctx context.Context, h Handlers) {
	hctx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	dispatch := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	c.bot.Handle(tb.OnText, func(tc tb.Context) error {
		msg, ok := textMessageOf(tc.Message())
		if !ok || h.OnText == nil {
			return nil
		}
		dispatch(func() { h.OnText(hctx, msg) })
		return nil
	})

	membership := func(tc tb.Context) error {
		ev, ok := membershipEventOf(tc.ChatMember())
		if !ok || h.OnMembership == nil {
			return nil
		}
		dispatch(func() { h.OnMembership(hctx, ev) })
		return nil
	}
	c.bot.Handle(tb.OnChatMember, membership)
	c.bot.Handle(tb.OnMyChatMember, membership)

	go c.bot.Start()
	c.logger.Info().Str("bot", c.Username()).Msg("polling started")

	<-ctx.Done()
	c.bot.Stop()
	wg.Wait()
	c.logger.Info().Msg("polling stopped")
}

// textMessageOf converts a group text message. Private chats, channels and
// messages without a sender are dropped.
func textMessageOf(m *tb.Message) (platform.TextMessage, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil || m.Text == "" {
		return platform.TextMessage{}, false
	}
	if m.Chat.Type != tb.ChatGroup && m.Chat.Type != tb.ChatSuperGroup {
		return platform.TextMessage{}, false
	}
	sent := time.Unix(m.Unixtime, 0)
	if m.Unixtime == 0 {
		sent = time.Now()
	}
	return platform.TextMessage{
		ChatID:    platform.ChatID(m.Chat.ID),
		ChatTitle: m.Chat.Title,
		From:      userOf(m.Sender),
		Text:      m.Text,
		MessageID: m.ID,
		SentAt:    sent,
	}, true
}

func membershipEventOf(u *tb.ChatMemberUpdate) (platform.MembershipEvent, bool) {
	if u == nil || u.Chat == nil || u.NewChatMember == nil || u.NewChatMember.User == nil {
		return platform.MembershipEvent{}, false
	}
	prev := platform.StatusLeft
	if u.OldChatMember != nil {
		prev = string(u.OldChatMember.Role)
	}
	return platform.MembershipEvent{
		ChatID:         platform.ChatID(u.Chat.ID),
		ChatTitle:      u.Chat.Title,
		Subject:        userOf(u.NewChatMember.User),
		PreviousStatus: prev,
		NewStatus:      string(u.NewChatMember.Role),
	}, true
}

func userOf(u *tb.User) platform.User {
	return platform.User{
		ID:        platform.UserID(u.ID),
		IsBot:     u.IsBot,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}
