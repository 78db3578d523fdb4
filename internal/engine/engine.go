// Package engine runs the moderation pipeline for inbound group messages:
// record the message, check the bot's rights, classify the text, then delete,
// escalate and notify.
package engine

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/escalation"
	"github.com/whisper/guardbot/internal/history"
	"github.com/whisper/guardbot/internal/metrics"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/platform"
)

// Outcome is what HandleMessage did with a message.
type Outcome int

const (
	OutcomeNone    Outcome = iota // clean or ignored
	OutcomeSkipped                // bot lacks rights in the chat
	OutcomeAbuse
	OutcomeLink
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAbuse:
		return "abuse"
	case OutcomeLink:
		return "link"
	default:
		return "clean"
	}
}

// Authorizer reports the bot's rights in a chat.
type Authorizer interface {
	Authorized(ctx context.Context, chatID platform.ChatID) (canRestrict, canDelete bool)
	Invalidate(chatID platform.ChatID)
}

// NoticeLimiter may suppress a notice in a busy chat.
type NoticeLimiter interface {
	AllowNotice(ctx context.Context, chatID platform.ChatID) bool
}

// Config holds engine settings.
type Config struct {
	BotID          platform.UserID
	AbuseNoticeTTL time.Duration // notice lifetime after an abuse action
	LinkNoticeTTL  time.Duration // notice lifetime after a link deletion
	ActionTimeout  time.Duration // upper bound for handling one message
}

// DefaultConfig returns the 30s / 10s notice lifetimes.
func DefaultConfig() Config {
	return Config{
		AbuseNoticeTTL: 30 * time.Second,
		LinkNoticeTTL:  10 * time.Second,
		ActionTimeout:  15 * time.Second,
	}
}

// Deps are the collaborators of an Engine. Limiter and Sinks are optional.
type Deps struct {
	Actions     platform.ChatActions
	Filter      *moderation.Filter
	Permissions Authorizer
	History     *history.Buffer
	Ledger      *escalation.Ledger
	Limiter     NoticeLimiter
	Sinks       []EventSink
}

// Engine applies the moderation policy. It is safe for concurrent use; the
// buffer, ledger and permission cache do their own locking.
type Engine struct {
	cfg      Config
	actions  platform.ChatActions
	filter   *moderation.Filter
	perms    Authorizer
	history  *history.Buffer
	ledger   *escalation.Ledger
	limiter  NoticeLimiter
	sinks    []EventSink
	deferrer *Deferrer
	strikes  *userLocks
	now      func() time.Time
	logger   zerolog.Logger

	processed atomic.Int64
}

// New creates an Engine. Missing history, ledger and filter are replaced with
// defaults; Actions and Permissions are required.
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.AbuseNoticeTTL <= 0 {
		cfg.AbuseNoticeTTL = def.AbuseNoticeTTL
	}
	if cfg.LinkNoticeTTL <= 0 {
		cfg.LinkNoticeTTL = def.LinkNoticeTTL
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if deps.Filter == nil {
		deps.Filter = moderation.NewFilter(moderation.NewLexicon(), moderation.NewLinkClassifier())
	}
	if deps.History == nil {
		deps.History = history.NewBuffer(history.DefaultCapacity)
	}
	if deps.Ledger == nil {
		deps.Ledger = escalation.NewLedger(escalation.DefaultPolicy())
	}

	return &Engine{
		cfg:      cfg,
		actions:  deps.Actions,
		filter:   deps.Filter,
		perms:    deps.Permissions,
		history:  deps.History,
		ledger:   deps.Ledger,
		limiter:  deps.Limiter,
		sinks:    deps.Sinks,
		deferrer: NewDeferrer(),
		strikes:  newUserLocks(),
		now:      time.Now,
		logger:   log.With().Str("component", "engine").Logger(),
	}
}

// Processed returns the number of non-bot messages handled so far.
func (e *Engine) Processed() int64 { return e.processed.Load() }

// History returns the message buffer.
func (e *Engine) History() *history.Buffer { return e.history }

// Ledger returns the escalation ledger.
func (e *Engine) Ledger() *escalation.Ledger { return e.ledger }

// Stop cancels pending notice deletions.
func (e *Engine) Stop() {
	if n := e.deferrer.Stop(); n > 0 {
		e.logger.Info().Int("abandoned", n).Msg("pending notice deletions cancelled")
	}
}

// HandleMessage runs the pipeline for one text message. It never fails: every
// platform error is logged and the message is handled as far as possible.
func (e *Engine) HandleMessage(ctx context.Context, msg platform.TextMessage) Outcome {
	if msg.From.IsBot {
		return OutcomeNone
	}

	start := time.Now()
	defer func() { metrics.HandleDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	e.processed.Add(1)
	metrics.MessagesTotal.WithLabelValues("received").Inc()

	e.history.Record(msg.ChatID, msg.From.ID, msg.Ref())

	canRestrict, canDelete := e.perms.Authorized(ctx, msg.ChatID)
	if !canRestrict || !canDelete {
		e.logger.Debug().
			Stringer("chat", msg.ChatID).
			Bool("can_restrict", canRestrict).
			Bool("can_delete", canDelete).
			Msg("missing rights, not enforcing")
		metrics.MessagesTotal.WithLabelValues(OutcomeSkipped.String()).Inc()
		return OutcomeSkipped
	}

	verdict := e.filter.Check(msg.Text)
	var out Outcome
	switch verdict.Reason {
	case moderation.ReasonAbuse:
		e.handleAbuse(ctx, msg, verdict)
		out = OutcomeAbuse
	case moderation.ReasonLink:
		e.handleLink(ctx, msg, verdict)
		out = OutcomeLink
	default:
		out = OutcomeNone
	}
	metrics.MessagesTotal.WithLabelValues(out.String()).Inc()
	return out
}

func (e *Engine) handleAbuse(ctx context.Context, msg platform.TextMessage, verdict moderation.Verdict) {
	logger := e.logger.With().
		Stringer("chat", msg.ChatID).
		Stringer("user", msg.From.ID).
		Str("term", verdict.Term).
		Logger()

	refs := e.history.Drain(msg.ChatID, msg.From.ID)
	ids := make([]int, len(refs))
	for i, r := range refs {
		ids[i] = r.MessageID
	}
	res := e.actions.DeleteMessages(ctx, msg.ChatID, ids)
	metrics.ActionsTotal.WithLabelValues("delete", "ok").Add(float64(res.Succeeded))
	metrics.ActionsTotal.WithLabelValues("delete", "error").Add(float64(res.Failed))
	if res.Failed > 0 {
		logger.Warn().Err(res.Err).Int("deleted", res.Succeeded).Int("failed", res.Failed).Msg("bulk delete partially failed")
		e.checkDenied(msg.ChatID, res.Err)
	}

	now := e.now()
	at := msg.SentAt
	if at.IsZero() {
		at = now
	}

	// recording and dispatching a tier is one step per (chat, user)
	unlock := e.strikes.lock(msg.ChatID, msg.From.ID)
	defer unlock()

	tier := e.ledger.RecordViolation(msg.ChatID, msg.From.ID, at)
	metrics.ViolationTierTotal.WithLabelValues(strconv.Itoa(tier.Level)).Inc()

	action := tier.Action
	text := warningText(msg.From, tier.Level, len(e.ledger.Policy().Tiers))
	if tier.Action == escalation.ActionMute {
		// an expiry in the past means a permanent restriction to Telegram
		base := at
		if now.After(base) {
			base = now
		}
		err := e.actions.RestrictUser(ctx, msg.ChatID, msg.From.ID, base.Add(tier.Duration))
		metrics.ActionsTotal.WithLabelValues("restrict", metrics.Result(err)).Inc()
		if err != nil {
			// fall back to a plain warning
			logger.Error().Err(err).Int("tier", tier.Level).Msg("mute failed")
			e.checkDenied(msg.ChatID, err)
			action = escalation.ActionWarn
		} else {
			text = muteText(msg.From, tier.Duration)
		}
	}

	logger.Info().Int("tier", tier.Level).Str("action", action).Int("deleted", res.Succeeded).Msg("abusive message handled")

	e.notify(ctx, msg.ChatID, text, e.cfg.AbuseNoticeTTL)
	e.emit(ctx, Event{
		ID:       uuid.NewString(),
		Reason:   verdict.Reason,
		Term:     verdict.Term,
		ChatID:   msg.ChatID,
		User:     msg.From,
		Tier:     tier.Level,
		Action:   action,
		Duration: durationFor(action, tier),
		Deleted:  res.Succeeded,
		Failed:   res.Failed,
		At:       at,
	})
}

func (e *Engine) handleLink(ctx context.Context, msg platform.TextMessage, verdict moderation.Verdict) {
	logger := e.logger.With().
		Stringer("chat", msg.ChatID).
		Stringer("user", msg.From.ID).
		Str("url", verdict.Term).
		Logger()

	err := e.actions.DeleteMessage(ctx, msg.ChatID, msg.MessageID)
	metrics.ActionsTotal.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		logger.Error().Err(err).Msg("delete link message failed")
		e.checkDenied(msg.ChatID, err)
		return
	}
	logger.Info().Msg("link message deleted")
	e.history.Remove(msg.ChatID, msg.From.ID, msg.MessageID)

	e.notify(ctx, msg.ChatID, linkText(msg.From, e.filter.Links().Domains()), e.cfg.LinkNoticeTTL)

	at := msg.SentAt
	if at.IsZero() {
		at = e.now()
	}
	e.emit(ctx, Event{
		ID:      uuid.NewString(),
		Reason:  verdict.Reason,
		Term:    verdict.Term,
		ChatID:  msg.ChatID,
		User:    msg.From,
		Action:  ActionDelete,
		Deleted: 1,
		At:      at,
	})
}

// HandleMembership keeps per-chat state in sync with the bot's own membership:
// rights are re-checked after any change and history is dropped on removal.
func (e *Engine) HandleMembership(ctx context.Context, ev platform.MembershipEvent) {
	if e.cfg.BotID == 0 || ev.Subject.ID != e.cfg.BotID {
		return
	}
	e.perms.Invalidate(ev.ChatID)
	if ev.NewStatus == platform.StatusLeft || ev.NewStatus == platform.StatusKicked {
		n := e.history.Forget(ev.ChatID)
		e.logger.Info().Stringer("chat", ev.ChatID).Int("dropped", n).Msg("bot removed from chat")
	}
}

// notify sends a transient notice and schedules its deletion after ttl.
func (e *Engine) notify(ctx context.Context, chatID platform.ChatID, text string, ttl time.Duration) {
	if e.limiter != nil && !e.limiter.AllowNotice(ctx, chatID) {
		e.logger.Debug().Stringer("chat", chatID).Msg("notice suppressed by rate limit")
		metrics.ActionsTotal.WithLabelValues("notice", "limited").Inc()
		return
	}

	h, err := e.actions.SendNotice(ctx, platform.Notice{ChatID: chatID, Text: text})
	metrics.ActionsTotal.WithLabelValues("notice", metrics.Result(err)).Inc()
	if err != nil {
		e.logger.Error().Err(err).Stringer("chat", chatID).Msg("send notice failed")
		return
	}

	e.deferrer.Schedule(ttl, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := e.actions.DeleteNotice(dctx, h)
		metrics.ActionsTotal.WithLabelValues("cleanup", metrics.Result(err)).Inc()
		if err != nil {
			e.logger.Warn().Err(err).Stringer("chat", h.ChatID).Int("message", h.MessageID).Msg("delete notice failed")
		}
	})
}

func (e *Engine) checkDenied(chatID platform.ChatID, err error) {
	if errors.Is(err, platform.ErrPermissionDenied) {
		e.perms.Invalidate(chatID)
	}
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	for _, s := range e.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			e.logger.Warn().Err(err).Str("event", ev.ID).Msg("event sink failed")
		}
	}
}

func durationFor(action string, tier escalation.Tier) time.Duration {
	if action == escalation.ActionMute {
		return tier.Duration
	}
	return 0
}
