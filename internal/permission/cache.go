// Package permission caches the bot's own capabilities per chat, so the
// platform is asked at most once per TTL whether the bot may restrict members
// and delete messages.
package permission

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/whisper/guardbot/internal/metrics"
	"github.com/whisper/guardbot/internal/platform"
)

const (
	// DefaultTTL is how long a successful lookup is trusted.
	DefaultTTL = 5 * time.Minute

	// DefaultSize bounds the number of cached chats.
	DefaultSize = 4096
)

// Fetcher looks up a member's capabilities in a chat.
type Fetcher interface {
	MemberCapabilities(ctx context.Context, chatID platform.ChatID, userID platform.UserID) (platform.Capabilities, error)
}

// Cache memoizes the bot's capabilities per chat. Failed lookups are never
// cached; concurrent misses for the same chat share one fetch.
type Cache struct {
	fetcher Fetcher
	botID   platform.UserID
	entries *expirable.LRU[platform.ChatID, platform.Capabilities]
	group   singleflight.Group
}

// NewCache creates a Cache. A non-positive ttl selects DefaultTTL.
func NewCache(fetcher Fetcher, botID platform.UserID, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		botID:   botID,
		entries: expirable.NewLRU[platform.ChatID, platform.Capabilities](DefaultSize, nil, ttl),
	}
}

// Authorized reports whether the bot can restrict members and delete
// messages in chatID. Lookup failures report (false, false).
func (c *Cache) Authorized(ctx context.Context, chatID platform.ChatID) (canRestrict, canDelete bool) {
	caps, err := c.Capabilities(ctx, chatID)
	if err != nil {
		return false, false
	}
	return caps.CanRestrict, caps.CanDelete
}

// Capabilities returns the cached capabilities, fetching them on a miss.
func (c *Cache) Capabilities(ctx context.Context, chatID platform.ChatID) (platform.Capabilities, error) {
	if caps, ok := c.entries.Get(chatID); ok {
		metrics.PermissionChecks.WithLabelValues("hit").Inc()
		return caps, nil
	}

	v, err, _ := c.group.Do(chatID.String(), func() (any, error) {
		caps, err := c.fetcher.MemberCapabilities(ctx, chatID, c.botID)
		if err != nil {
			return platform.Capabilities{}, err
		}
		c.entries.Add(chatID, caps)
		return caps, nil
	})
	if err != nil {
		metrics.PermissionChecks.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("component", "permission").Stringer("chat", chatID).Msg("capability lookup failed")
		return platform.Capabilities{}, err
	}

	metrics.PermissionChecks.WithLabelValues("miss").Inc()
	return v.(platform.Capabilities), nil
}

// Invalidate drops the cached entry for chatID, e.g. after an action failed
// with a permission error or the bot's membership changed.
func (c *Cache) Invalidate(chatID platform.ChatID) {
	c.entries.Remove(chatID)
}

// Len returns the number of cached chats.
func (c *Cache) Len() int {
	return c.entries.Len()
}
