// Package platform defines the contracts between the moderation core and the
// chat platform it runs on. The core only sees inbound events and the
// ChatActions interface; the Telegram transport implements both sides.
package platform

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"time"
)

// ChatID and UserID are stable platform-supplied identifiers.
type (
	ChatID int64
	UserID int64
)

func (c ChatID) String() string { return strconv.FormatInt(int64(c), 10) }
func (u UserID) String() string { return strconv.FormatInt(int64(u), 10) }

// Member status values reported by the platform for membership transitions.
const (
	StatusLeft          = "left"
	StatusKicked        = "kicked"
	StatusRestricted    = "restricted"
	StatusMember        = "member"
	StatusAdministrator = "administrator"
	StatusCreator       = "creator"
)

var (
	// ErrPermissionDenied is returned when the bot lacks the capability the
	// action requires.
	ErrPermissionDenied = errors.New("platform: permission denied")

	// ErrNotFound is returned when the target message or user no longer exists.
	ErrNotFound = errors.New("platform: not found")
)

// User is the author or subject of an event.
type User struct {
	ID        UserID `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// FullName returns the display name used in notices.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Mention renders an HTML link that notifies the user.
func (u User) Mention() string {
	name := u.FullName()
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = u.ID.String()
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(name))
}

// TextMessage is an inbound text message from a group chat.
type TextMessage struct {
	ChatID    ChatID    `json:"chat_id"`
	ChatTitle string    `json:"chat_title,omitempty"`
	From      User      `json:"from"`
	Text      string    `json:"text"`
	MessageID int       `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// Ref returns the reference used to delete this message later.
func (m TextMessage) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, MessageID: m.MessageID, AuthorID: m.From.ID, SentAt: m.SentAt}
}

// MembershipEvent reports a change of a user's membership status in a chat.
type MembershipEvent struct {
	ChatID         ChatID `json:"chat_id"`
	ChatTitle      string `json:"chat_title,omitempty"`
	Subject        User   `json:"subject"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
}

// MessageRef identifies a stored message.
type MessageRef struct {
	ChatID    ChatID    `json:"chat_id"`
	MessageID int       `json:"message_id"`
	AuthorID  UserID    `json:"author_id"`
	SentAt    time.Time `json:"sent_at"`
}

// NoticeHandle identifies a notice the bot has sent.
type NoticeHandle struct {
	ChatID    ChatID `json:"chat_id"`
	MessageID int    `json:"message_id"`
}

// Capabilities are the administrative rights of the bot in one chat.
type Capabilities struct {
	CanRestrict bool `json:"can_restrict"`
	CanDelete   bool `json:"can_delete"`
}

// Notice is an outbound HTML message.
type Notice struct {
	ChatID  ChatID
	Text    string
	ReplyTo int // message ID, 0 for none
}

// BatchResult reports a bulk operation. Successes are never rolled back when
// some items fail.
type BatchResult struct {
	Succeeded int
	Failed    int
	Err       error
}

// ChatActions is the set of platform operations the core may issue. All
// methods may block on the network.
type ChatActions interface {
	DeleteMessage(ctx context.Context, chatID ChatID, messageID int) error
	DeleteMessages(ctx context.Context, chatID ChatID, messageIDs []int) BatchResult
	RestrictUser(ctx context.Context, chatID ChatID, userID UserID, until time.Time) error
	BanUser(ctx context.Context, chatID ChatID, userID UserID) error
	SendNotice(ctx context.Context, notice Notice) (NoticeHandle, error)
	SendPhotoNotice(ctx context.Context, notice Notice, photo string) (NoticeHandle, error)
	DeleteNotice(ctx context.Context, handle NoticeHandle) error
	MemberCapabilities(ctx context.Context, chatID ChatID, userID UserID) (Capabilities, error)
	ProfilePhoto(ctx context.Context, userID UserID) (photo string, ok bool, err error)
}
