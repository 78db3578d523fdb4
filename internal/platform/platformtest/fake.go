// Package platformtest provides an in-memory ChatActions implementation that
// records every call, for use in tests.
package platformtest

import (
	"context"
	"sync"
	"time"

	"github.com/whisper/guardbot/internal/platform"
)

// Restriction is one recorded RestrictUser call.
type Restriction struct {
	ChatID platform.ChatID
	UserID platform.UserID
	Until  time.Time
}

// SentNotice is one recorded SendNotice or SendPhotoNotice call.
type SentNotice struct {
	Notice platform.Notice
	Photo  string
	Handle platform.NoticeHandle
}

// Actions is a fake platform.ChatActions. Error fields make the matching call
// fail; zero values succeed.
type Actions struct {
	mu sync.Mutex

	Caps         platform.Capabilities
	CapsErr      error
	DeleteErr    error
	FailDeleteID map[int]bool
	RestrictErr  error
	BanErr       error
	SendErr      error
	PhotoSendErr error
	Photos       map[platform.UserID]string
	PhotoErr     error

	CapabilityCalls int
	Deleted         []int
	Restrictions    []Restriction
	Banned          []platform.UserID
	Notices         []SentNotice
	DeletedNotices  []platform.NoticeHandle

	nextID int
	gone   map[messageKey]bool
}

type messageKey struct {
	chat platform.ChatID
	id   int
}

// NewActions returns a fake where the bot holds full rights.
func NewActions() *Actions {
	return &Actions{
		Caps:         platform.Capabilities{CanRestrict: true, CanDelete: true},
		FailDeleteID: make(map[int]bool),
		Photos:       make(map[platform.UserID]string),
		nextID:       10000,
		gone:         make(map[messageKey]bool),
	}
}

func (a *Actions) DeleteMessage(ctx context.Context, chatID platform.ChatID, messageID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DeleteErr != nil {
		return a.DeleteErr
	}
	k := messageKey{chat: chatID, id: messageID}
	// deleting a message twice fails like it does on Telegram
	if a.FailDeleteID[messageID] || a.gone[k] {
		return platform.ErrNotFound
	}
	if a.gone == nil {
		a.gone = make(map[messageKey]bool)
	}
	a.gone[k] = true
	a.Deleted = append(a.Deleted, messageID)
	return nil
}

func (a *Actions) DeleteMessages(ctx context.Context, chatID platform.ChatID, messageIDs []int) platform.BatchResult {
	var res platform.BatchResult
	for _, id := range messageIDs {
		if err := a.DeleteMessage(ctx, chatID, id); err != nil {
			res.Failed++
			res.Err = err
			continue
		}
		res.Succeeded++
	}
	return res
}

func (a *Actions) RestrictUser(ctx context.Context, chatID platform.ChatID, userID platform.UserID, until time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RestrictErr != nil {
		return a.RestrictErr
	}
	a.Restrictions = append(a.Restrictions, Restriction{ChatID: chatID, UserID: userID, Until: until})
	return nil
}

func (a *Actions) BanUser(ctx context.Context, chatID platform.ChatID, userID platform.UserID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.BanErr != nil {
		return a.BanErr
	}
	a.Banned = append(a.Banned, userID)
	return nil
}

func (a *Actions) SendNotice(ctx context.Context, notice platform.Notice) (platform.NoticeHandle, error) {
	return a.send(notice, "")
}

func (a *Actions) SendPhotoNotice(ctx context.Context, notice platform.Notice, photo string) (platform.NoticeHandle, error) {
	a.mu.Lock()
	err := a.PhotoSendErr
	a.mu.Unlock()
	if err != nil {
		return platform.NoticeHandle{}, err
	}
	return a.send(notice, photo)
}

func (a *Actions) send(notice platform.Notice, photo string) (platform.NoticeHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		return platform.NoticeHandle{}, a.SendErr
	}
	a.nextID++
	h := platform.NoticeHandle{ChatID: notice.ChatID, MessageID: a.nextID}
	a.Notices = append(a.Notices, SentNotice{Notice: notice, Photo: photo, Handle: h})
	return h, nil
}

func (a *Actions) DeleteNotice(ctx context.Context, handle platform.NoticeHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DeletedNotices = append(a.DeletedNotices, handle)
	return nil
}

func (a *Actions) MemberCapabilities(ctx context.Context, chatID platform.ChatID, userID platform.UserID) (platform.Capabilities, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CapabilityCalls++
	if a.CapsErr != nil {
		return platform.Capabilities{}, a.CapsErr
	}
	return a.Caps, nil
}

func (a *Actions) ProfilePhoto(ctx context.Context, userID platform.UserID) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PhotoErr != nil {
		return "", false, a.PhotoErr
	}
	p, ok := a.Photos[userID]
	return p, ok, nil
}

// Snapshot helpers take the lock so tests can read while handlers run.

func (a *Actions) DeletedIDs() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.Deleted...)
}

func (a *Actions) RestrictionList() []Restriction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Restriction(nil), a.Restrictions...)
}

func (a *Actions) NoticeList() []SentNotice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SentNotice(nil), a.Notices...)
}

func (a *Actions) DeletedNoticeList() []platform.NoticeHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]platform.NoticeHandle(nil), a.DeletedNotices...)
}

func (a *Actions) CapabilityCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CapabilityCalls
}

// SetCapsErr changes the capability error under the lock.
func (a *Actions) SetCapsErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CapsErr = err
}
