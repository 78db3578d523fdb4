// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. The bot uses it to cap how many warning notices it posts in a
// single chat, so a raid of abusive messages does not turn into a flood of
// bot replies.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/platform"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:notice:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleNotice allows 5 warning notices per 10 seconds per chat.
var RuleNotice = Rule{Key: "rl:notice:", Limit: 5, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether identifier is within rule. It increments the counter
// and sets the expiry on first access.
//
// On Redis errors it fails open (returns true) so an outage never suppresses
// moderation notices entirely.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis INCR failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis EXPIRE failed, failing open")
			// a key without TTL would block the identifier forever
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many requests identifier has left in the current
// window. Missing keys and Redis errors report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}

// NoticeLimiter applies a Rule per chat.
type NoticeLimiter struct {
	limiter *Limiter
	rule    Rule
}

// NewNoticeLimiter creates a per-chat notice limiter. A zero rule selects
// RuleNotice.
func NewNoticeLimiter(client *redis.Client, rule Rule) *NoticeLimiter {
	if rule.Limit <= 0 || rule.Window <= 0 {
		rule = RuleNotice
	}
	if rule.Key == "" {
		rule.Key = RuleNotice.Key
	}
	return &NoticeLimiter{limiter: NewLimiter(client), rule: rule}
}

// AllowNotice reports whether another notice may be posted in chatID.
func (n *NoticeLimiter) AllowNotice(ctx context.Context, chatID platform.ChatID) bool {
	ok, _ := n.limiter.Allow(ctx, chatID.String(), n.rule)
	return ok
}
