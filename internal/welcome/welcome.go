// Package welcome greets users who join a group, with their profile photo
// when one is available.
package welcome

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/metrics"
	"github.com/whisper/guardbot/internal/platform"
)

// DefaultRules are listed in every welcome message unless overridden.
var DefaultRules = []string{
	"No Abuse",
	"No Porn",
	"No 3rd-party Links (Only Telegram/Instagram)",
	"Be Respectful",
}

// Sender is the subset of platform.ChatActions the notifier needs.
type Sender interface {
	SendNotice(ctx context.Context, notice platform.Notice) (platform.NoticeHandle, error)
	SendPhotoNotice(ctx context.Context, notice platform.Notice, photo string) (platform.NoticeHandle, error)
	ProfilePhoto(ctx context.Context, userID platform.UserID) (string, bool, error)
}

// Result describes what Handle did.
type Result string

const (
	ResultIgnored Result = "ignored"
	ResultPhoto   Result = "photo"
	ResultText    Result = "text"
	ResultFailed  Result = "error"
)

// Notifier sends welcome messages. It keeps no state between events.
type Notifier struct {
	sender Sender
	rules  []string
}

// New creates a Notifier. Empty rules select DefaultRules.
func New(sender Sender, rules []string) *Notifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Notifier{sender: sender, rules: rules}
}

// IsJoin reports whether a status transition is a user joining: from not a
// member to member, administrator or creator.
func IsJoin(previous, next string) bool {
	if previous != platform.StatusLeft && previous != platform.StatusKicked {
		return false
	}
	switch next {
	case platform.StatusMember, platform.StatusAdministrator, platform.StatusCreator:
		return true
	}
	return false
}

// Text renders the welcome message for u.
func (n *Notifier) Text(u platform.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 <b>Welcome</b>, %s!\n\n", u.Mention())
	b.WriteString("📜 <b>Rules:</b>")
	for _, r := range n.rules {
		fmt.Fprintf(&b, "\n   • %s", html.EscapeString(r))
	}
	return b.String()
}

// Handle welcomes the subject of ev if it is a human joining the chat. The
// profile photo is attached when available; any photo failure falls back to a
// plain text notice.
func (n *Notifier) Handle(ctx context.Context, ev platform.MembershipEvent) Result {
	if ev.Subject.IsBot || !IsJoin(ev.PreviousStatus, ev.NewStatus) {
		return ResultIgnored
	}

	logger := log.With().
		Str("component", "welcome").
		Stringer("chat", ev.ChatID).
		Stringer("user", ev.Subject.ID).
		Logger()
	logger.Info().Str("title", ev.ChatTitle).Msg("new member joined")

	notice := platform.Notice{ChatID: ev.ChatID, Text: n.Text(ev.Subject)}

	photo, ok, err := n.sender.ProfilePhoto(ctx, ev.Subject.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("profile photo lookup failed")
	}
	if err == nil && ok {
		_, err := n.sender.SendPhotoNotice(ctx, notice, photo)
		if err == nil {
			metrics.WelcomeTotal.WithLabelValues(string(ResultPhoto)).Inc()
			return ResultPhoto
		}
		logger.Warn().Err(err).Msg("photo welcome failed, sending text")
	}

	if _, err := n.sender.SendNotice(ctx, notice); err != nil {
		logger.Error().Err(err).Msg("welcome failed")
		metrics.WelcomeTotal.WithLabelValues(string(ResultFailed)).Inc()
		return ResultFailed
	}
	metrics.WelcomeTotal.WithLabelValues(string(ResultText)).Inc()
	return ResultText
}
