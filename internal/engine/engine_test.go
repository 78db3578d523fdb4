package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/guardbot/internal/escalation"
	"github.com/whisper/guardbot/internal/permission"
	"github.com/whisper/guardbot/internal/platform"
	"github.com/whisper/guardbot/internal/platform/platformtest"
)

const (
	chat  platform.ChatID = -1001
	botID platform.UserID = 999
)

var (
	alice = platform.User{ID: 7, FirstName: "Alice"}
	t0    = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) list() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newTestEngine(t *testing.T, fake *platformtest.Actions, cfg Config) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg.BotID = botID
	e := New(cfg, Deps{
		Actions:     fake,
		Permissions: permission.NewCache(fake, botID, time.Minute),
		Sinks:       []EventSink{rec},
	})
	e.now = func() time.Time { return t0 }
	t.Cleanup(e.Stop)
	return e, rec
}

func text(id int, from platform.User, body string) platform.TextMessage {
	return platform.TextMessage{
		ChatID:    chat,
		From:      from,
		Text:      body,
		MessageID: id,
		SentAt:    t0.Add(time.Duration(id) * time.Minute),
	}
}

func TestHandleMessage_EscalatesThroughTiers(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{})
	ctx := context.Background()

	// first strike: deleted, warned, not muted
	require.Equal(t, OutcomeAbuse, e.HandleMessage(ctx, text(1, alice, "you ass")))
	assert.Equal(t, []int{1}, fake.DeletedIDs())
	assert.Empty(t, fake.RestrictionList())
	notices := fake.NoticeList()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Notice.Text, "Warning")
	assert.Contains(t, notices[0].Notice.Text, `tg://user?id=7`)
	assert.Equal(t, 1, e.Ledger().Count(chat, alice.ID))

	// second strike: 30 minute mute
	require.Equal(t, OutcomeAbuse, e.HandleMessage(ctx, text(2, alice, "shit")))
	rs := fake.RestrictionList()
	require.Len(t, rs, 1)
	assert.Equal(t, t0.Add(2*time.Minute).Add(30*time.Minute), rs[0].Until)
	assert.Contains(t, fake.NoticeList()[1].Notice.Text, "30 Minutes Mute")

	// third strike: 2 hour mute, then reset
	require.Equal(t, OutcomeAbuse, e.HandleMessage(ctx, text(3, alice, "BITCH!")))
	rs = fake.RestrictionList()
	require.Len(t, rs, 2)
	assert.Equal(t, t0.Add(3*time.Minute).Add(2*time.Hour), rs[1].Until)
	assert.Contains(t, fake.NoticeList()[2].Notice.Text, "2 Hours Mute")
	assert.Equal(t, 0, e.Ledger().Count(chat, alice.ID))

	// fourth starts over at a warning
	e.HandleMessage(ctx, text(4, alice, "ass"))
	assert.Len(t, fake.RestrictionList(), 2)
	assert.Equal(t, 1, e.Ledger().Count(chat, alice.ID))

	events := rec.list()
	require.Len(t, events, 4)
	assert.Equal(t, []int{1, 2, 3, 1}, []int{events[0].Tier, events[1].Tier, events[2].Tier, events[3].Tier})
	assert.Equal(t, escalation.ActionWarn, events[0].Action)
	assert.Equal(t, escalation.ActionMute, events[1].Action)
	assert.Equal(t, 2*time.Hour, events[2].Duration)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestHandleMessage_RetractsRecentHistory(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{})
	ctx := context.Background()
	bob := platform.User{ID: 8, FirstName: "Bob"}

	assert.Equal(t, OutcomeNone, e.HandleMessage(ctx, text(1, alice, "hello")))
	assert.Equal(t, OutcomeNone, e.HandleMessage(ctx, text(2, bob, "hi alice")))
	assert.Equal(t, OutcomeNone, e.HandleMessage(ctx, text(3, alice, "how are you")))
	assert.Equal(t, OutcomeAbuse, e.HandleMessage(ctx, text(4, alice, "fuck off")))

	assert.Equal(t, []int{1, 3, 4}, fake.DeletedIDs())
	assert.Equal(t, 0, e.History().Len(chat, alice.ID))
	assert.Equal(t, 1, e.History().Len(chat, bob.ID))
	assert.Equal(t, 3, rec.list()[0].Deleted)
	assert.Equal(t, int64(4), e.Processed())
}

func TestHandleMessage_AbuseBeatsLink(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{})

	out := e.HandleMessage(context.Background(), text(1, alice, "asshole https://evil.example.com/x"))

	assert.Equal(t, OutcomeAbuse, out)
	notices := fake.NoticeList()
	require.Len(t, notices, 1)
	assert.NotContains(t, notices[0].Notice.Text, "Link Policy")
	require.Len(t, rec.list(), 1)
	assert.Equal(t, "abusive_language", rec.list()[0].Reason)
	assert.Equal(t, 1, e.Ledger().Count(chat, alice.ID))
}

func TestHandleMessage_DisallowedLink(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{LinkNoticeTTL: 20 * time.Millisecond})

	out := e.HandleMessage(context.Background(), text(5, alice, "free stuff at https://evil.example.com/path"))

	assert.Equal(t, OutcomeLink, out)
	assert.Equal(t, []int{5}, fake.DeletedIDs())
	notices := fake.NoticeList()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Notice.Text, "Link Policy Violation")
	assert.Contains(t, notices[0].Notice.Text, "telegram.me")
	assert.Equal(t, 0, e.Ledger().Count(chat, alice.ID))

	events := rec.list()
	require.Len(t, events, 1)
	assert.Equal(t, "https://evil.example.com/path", events[0].Term)
	assert.Equal(t, ActionDelete, events[0].Action)

	// the notice is removed after its lifetime
	require.Eventually(t, func() bool { return len(fake.DeletedNoticeList()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, notices[0].Handle, fake.DeletedNoticeList()[0])
}

func TestHandleMessage_LinkThenAbuseDeletesOnce(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{})
	ctx := context.Background()

	require.Equal(t, OutcomeLink, e.HandleMessage(ctx, text(1, alice, "see https://evil.example.com")))
	assert.Equal(t, 0, e.History().Len(chat, alice.ID))

	require.Equal(t, OutcomeAbuse, e.HandleMessage(ctx, text(2, alice, "fuck you")))
	assert.Equal(t, []int{1, 2}, fake.DeletedIDs())

	events := rec.list()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[1].Deleted)
	assert.Zero(t, events[1].Failed)
}

func TestHandleMessage_AllowedLinkIsClean(t *testing.T) {
	fake := platformtest.NewActions()
	e, _ := newTestEngine(t, fake, Config{})

	assert.Equal(t, OutcomeNone, e.HandleMessage(context.Background(), text(1, alice, "join https://t.me/group")))
	assert.Empty(t, fake.DeletedIDs())
	assert.Empty(t, fake.NoticeList())
}

func TestHandleMessage_SkipsWithoutRights(t *testing.T) {
	tests := []struct {
		name string
		caps platform.Capabilities
		err  error
	}{
		{"no restrict", platform.Capabilities{CanDelete: true}, nil},
		{"no delete", platform.Capabilities{CanRestrict: true}, nil},
		{"lookup failed", platform.Capabilities{}, errors.New("timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := platformtest.NewActions()
			fake.Caps = tt.caps
			fake.CapsErr = tt.err
			e, rec := newTestEngine(t, fake, Config{})

			out := e.HandleMessage(context.Background(), text(1, alice, "fuck"))

			assert.Equal(t, OutcomeSkipped, out)
			assert.Empty(t, fake.DeletedIDs())
			assert.Empty(t, fake.NoticeList())
			assert.Empty(t, rec.list())
			assert.Equal(t, 0, e.Ledger().Count(chat, alice.ID))
			// the message is still remembered for later retraction
			assert.Equal(t, 1, e.History().Len(chat, alice.ID))
		})
	}
}

func TestHandleMessage_IgnoresBots(t *testing.T) {
	fake := platformtest.NewActions()
	e, _ := newTestEngine(t, fake, Config{})
	other := platform.User{ID: 55, IsBot: true, FirstName: "OtherBot"}

	assert.Equal(t, OutcomeNone, e.HandleMessage(context.Background(), text(1, other, "fuck")))
	assert.Equal(t, 0, fake.CapabilityCallCount())
	assert.Equal(t, int64(0), e.Processed())
}

func TestHandleMessage_PartialBatchDelete(t *testing.T) {
	fake := platformtest.NewActions()
	fake.FailDeleteID[2] = true
	e, rec := newTestEngine(t, fake, Config{})
	ctx := context.Background()

	e.HandleMessage(ctx, text(1, alice, "one"))
	e.HandleMessage(ctx, text(2, alice, "two"))
	out := e.HandleMessage(ctx, text(3, alice, "dickhead"))

	assert.Equal(t, OutcomeAbuse, out)
	assert.Equal(t, []int{1, 3}, fake.DeletedIDs())
	ev := rec.list()[0]
	assert.Equal(t, 2, ev.Deleted)
	assert.Equal(t, 1, ev.Failed)
	// enforcement continues despite the failure
	assert.Len(t, fake.NoticeList(), 1)
	assert.Equal(t, 1, e.Ledger().Count(chat, alice.ID))
}

func TestHandleMessage_MuteFailureFallsBackToWarning(t *testing.T) {
	fake := platformtest.NewActions()
	fake.RestrictErr = platform.ErrPermissionDenied
	e, rec := newTestEngine(t, fake, Config{})
	ctx := context.Background()

	e.HandleMessage(ctx, text(1, alice, "ass"))
	calls := fake.CapabilityCallCount()

	out := e.HandleMessage(ctx, text(2, alice, "ass"))

	assert.Equal(t, OutcomeAbuse, out)
	notices := fake.NoticeList()
	require.Len(t, notices, 2)
	assert.Contains(t, notices[1].Notice.Text, "Warning")
	assert.NotContains(t, notices[1].Notice.Text, "Mute")
	assert.Equal(t, escalation.ActionWarn, rec.list()[1].Action)
	assert.Zero(t, rec.list()[1].Duration)

	// the permission entry was dropped, so the next message re-checks
	e.HandleMessage(ctx, text(3, alice, "hello"))
	assert.Equal(t, calls+1, fake.CapabilityCallCount())
}

func TestHandleMessage_BacklogMuteStartsNow(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{})
	now := t0.Add(10 * time.Hour)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	// both messages were sent hours before they are processed
	e.HandleMessage(ctx, text(1, alice, "ass"))
	e.HandleMessage(ctx, text(2, alice, "ass"))

	rs := fake.RestrictionList()
	require.Len(t, rs, 1)
	assert.Equal(t, now.Add(30*time.Minute), rs[0].Until)
	// the event keeps the original send time
	assert.Equal(t, t0.Add(2*time.Minute), rec.list()[1].At)
}

// slowFirstMute delays the first restriction it sees.
type slowFirstMute struct {
	*platformtest.Actions
	delay time.Duration
	calls atomic.Int32
}

func (s *slowFirstMute) RestrictUser(ctx context.Context, chatID platform.ChatID, userID platform.UserID, until time.Time) error {
	if s.calls.Add(1) == 1 {
		time.Sleep(s.delay)
	}
	return s.Actions.RestrictUser(ctx, chatID, userID, until)
}

func TestHandleMessage_ConcurrentStrikesKeepHighestTier(t *testing.T) {
	fake := platformtest.NewActions()
	slow := &slowFirstMute{Actions: fake, delay: 50 * time.Millisecond}
	e := New(Config{BotID: botID}, Deps{
		Actions:     slow,
		Permissions: permission.NewCache(fake, botID, time.Minute),
	})
	t.Cleanup(e.Stop)
	now := t0.Add(time.Hour)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	e.HandleMessage(ctx, text(1, alice, "ass"))

	var wg sync.WaitGroup
	for _, id := range []int{2, 3} {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.HandleMessage(ctx, text(id, alice, "ass"))
		}(id)
	}
	wg.Wait()

	rs := fake.RestrictionList()
	require.Len(t, rs, 2)
	assert.Equal(t, now.Add(30*time.Minute), rs[0].Until)
	assert.Equal(t, now.Add(2*time.Hour), rs[1].Until, "last mute applied must be the terminal one")
	assert.Equal(t, 0, e.Ledger().Count(chat, alice.ID))
	assert.Equal(t, 0, e.strikes.size())
}

func TestHandleMessage_NoticeLimiter(t *testing.T) {
	fake := platformtest.NewActions()
	e, _ := newTestEngine(t, fake, Config{})
	e.limiter = denyAll{}

	out := e.HandleMessage(context.Background(), text(1, alice, "shit"))

	assert.Equal(t, OutcomeAbuse, out)
	assert.Equal(t, []int{1}, fake.DeletedIDs())
	assert.Empty(t, fake.NoticeList())
}

type denyAll struct{}

func (denyAll) AllowNotice(context.Context, platform.ChatID) bool { return false }

func TestHandleMessage_SinkErrorIsIgnored(t *testing.T) {
	fake := platformtest.NewActions()
	e := New(Config{BotID: botID}, Deps{
		Actions:     fake,
		Permissions: permission.NewCache(fake, botID, time.Minute),
		Sinks: []EventSink{SinkFunc(func(context.Context, Event) error {
			return errors.New("broker down")
		})},
	})
	defer e.Stop()

	assert.Equal(t, OutcomeAbuse, e.HandleMessage(context.Background(), text(1, alice, "ass")))
	assert.Len(t, fake.NoticeList(), 1)
}

func TestHandleMessage_ConcurrentUsers(t *testing.T) {
	fake := platformtest.NewActions()
	e, rec := newTestEngine(t, fake, Config{})

	const users = 20
	var wg sync.WaitGroup
	wg.Add(users)
	for u := 1; u <= users; u++ {
		go func(u int) {
			defer wg.Done()
			from := platform.User{ID: platform.UserID(u), FirstName: "u"}
			for i := 0; i < 3; i++ {
				e.HandleMessage(context.Background(), text(u*10+i, from, "fuck"))
			}
		}(u)
	}
	wg.Wait()

	assert.Len(t, rec.list(), users*3)
	assert.Len(t, fake.RestrictionList(), users*2)
	assert.Equal(t, 0, e.Ledger().Len())
}

func TestHandleMembership_BotRemoved(t *testing.T) {
	fake := platformtest.NewActions()
	e, _ := newTestEngine(t, fake, Config{})
	ctx := context.Background()

	e.HandleMessage(ctx, text(1, alice, "hello"))
	require.Equal(t, 1, e.History().Len(chat, alice.ID))
	calls := fake.CapabilityCallCount()

	// someone else's change is ignored
	e.HandleMembership(ctx, platform.MembershipEvent{ChatID: chat, Subject: alice, PreviousStatus: platform.StatusMember, NewStatus: platform.StatusLeft})
	assert.Equal(t, 1, e.History().Len(chat, alice.ID))

	e.HandleMembership(ctx, platform.MembershipEvent{
		ChatID:         chat,
		Subject:        platform.User{ID: botID, IsBot: true},
		PreviousStatus: platform.StatusAdministrator,
		NewStatus:      platform.StatusKicked,
	})
	assert.Equal(t, 0, e.History().Len(chat, alice.ID))

	e.HandleMessage(ctx, text(2, alice, "back"))
	assert.Equal(t, calls+1, fake.CapabilityCallCount())
}

func TestStopCancelsPendingNotices(t *testing.T) {
	fake := platformtest.NewActions()
	e, _ := newTestEngine(t, fake, Config{AbuseNoticeTTL: time.Hour})

	e.HandleMessage(context.Background(), text(1, alice, "ass"))
	require.Equal(t, 1, e.deferrer.Pending())

	e.Stop()
	assert.Equal(t, 0, e.deferrer.Pending())
	assert.Empty(t, fake.DeletedNoticeList())
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Minute, "30 Minutes"},
		{time.Hour, "1 Hour"},
		{2 * time.Hour, "2 Hours"},
		{90 * time.Minute, "90 Minutes"},
		{time.Minute, "1 Minute"},
		{10 * time.Second, "10 Seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, humanDuration(tt.d))
		})
	}
}
