package escalation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/guardbot/internal/platform"
)

// ViolationPrefix is the Redis key prefix for violation records:
//
//	Key:    violations:<chat>:<user>
//	Fields: count, last (unix seconds)
//	TTL:    decay window, measured from the last violation
const ViolationPrefix = "violations:"

// RedisSnapshotStore persists ledger snapshots in Redis hashes so counts
// survive a restart.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore creates a store whose keys expire ttl after the
// record's last violation.
func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	if ttl <= 0 {
		ttl = DefaultDecayWindow
	}
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func violationKey(chatID platform.ChatID, userID platform.UserID) string {
	return fmt.Sprintf("%s%d:%d", ViolationPrefix, chatID, userID)
}

func parseViolationKey(k string) (platform.ChatID, platform.UserID, error) {
	rest, ok := strings.CutPrefix(k, ViolationPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("escalation: bad key %q", k)
	}
	// chat IDs of groups are negative, so split on the last colon
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return 0, 0, fmt.Errorf("escalation: bad key %q", k)
	}
	chat, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("escalation: bad chat in %q: %w", k, err)
	}
	user, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("escalation: bad user in %q: %w", k, err)
	}
	return platform.ChatID(chat), platform.UserID(user), nil
}

// Save replaces the stored snapshot with records. Keys no longer present in
// records are deleted.
func (s *RedisSnapshotStore) Save(ctx context.Context, records []Record) error {
	keep := make(map[string]struct{}, len(records))
	for _, r := range records {
		keep[violationKey(r.ChatID, r.UserID)] = struct{}{}
	}

	var stale []string
	iter := s.client.Scan(ctx, 0, ViolationPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if _, ok := keep[iter.Val()]; !ok {
			stale = append(stale, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("escalation: save scan: %w", err)
	}

	pipe := s.client.TxPipeline()
	if len(stale) > 0 {
		pipe.Del(ctx, stale...)
	}
	for _, r := range records {
		k := violationKey(r.ChatID, r.UserID)
		pipe.HSet(ctx, k, "count", r.Count, "last", r.LastViolationAt.Unix())
		pipe.ExpireAt(ctx, k, r.LastViolationAt.Add(s.ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escalation: save: %w", err)
	}
	return nil
}

// Load reads every stored record. Malformed entries are skipped.
func (s *RedisSnapshotStore) Load(ctx context.Context) ([]Record, error) {
	var out []Record

	iter := s.client.Scan(ctx, 0, ViolationPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		chat, user, err := parseViolationKey(k)
		if err != nil {
			continue
		}
		fields, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("escalation: load %s: %w", k, err)
		}
		count, err := strconv.Atoi(fields["count"])
		if err != nil {
			continue
		}
		last, err := strconv.ParseInt(fields["last"], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Record{
			ChatID:          chat,
			UserID:          user,
			Count:           count,
			LastViolationAt: time.Unix(last, 0),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("escalation: load scan: %w", err)
	}
	return out, nil
}
