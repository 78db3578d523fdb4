// Package history keeps the most recent messages of every (chat, user) pair so
// a user's last messages can be retracted in bulk after a violation.
package history

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/whisper/guardbot/internal/platform"
)

// DefaultCapacity is the number of messages retained per (chat, user).
const DefaultCapacity = 50

type key struct {
	chat platform.ChatID
	user platform.UserID
}

// Buffer stores the last N message references per (chat, user). Each key has
// its own ring and lock, so unrelated users never contend.
type Buffer struct {
	capacity int
	rings    *xsync.Map[key, *ring]
}

// ring is a fixed-size circular buffer of message references.
type ring struct {
	mu       sync.Mutex
	items    []platform.MessageRef
	pos      int
	count    int
	lastSeen time.Time
	dead     bool // removed from the map by Prune
}

// NewBuffer creates a Buffer. A non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		rings:    xsync.NewMap[key, *ring](),
	}
}

// Capacity returns the per-key limit.
func (b *Buffer) Capacity() int { return b.capacity }

// Record appends a message to the author's ring. When the ring is full the
// oldest entry is overwritten.
func (b *Buffer) Record(chatID platform.ChatID, userID platform.UserID, ref platform.MessageRef) {
	k := key{chat: chatID, user: userID}
	for {
		r, _ := b.rings.LoadOrCompute(k, func() (*ring, bool) {
			return &ring{items: make([]platform.MessageRef, b.capacity)}, false
		})

		r.mu.Lock()
		if r.dead {
			// lost a race with Prune; the next LoadOrCompute creates a fresh ring
			r.mu.Unlock()
			continue
		}
		r.items[r.pos] = ref
		r.pos = (r.pos + 1) % b.capacity
		if r.count < b.capacity {
			r.count++
		}
		seen := ref.SentAt
		if seen.IsZero() {
			seen = time.Now()
		}
		if seen.After(r.lastSeen) {
			r.lastSeen = seen
		}
		r.mu.Unlock()
		return
	}
}

// Drain returns the stored references for the user in insertion order (oldest
// first) and clears them. Draining an unknown key returns an empty slice.
func (b *Buffer) Drain(chatID platform.ChatID, userID platform.UserID) []platform.MessageRef {
	r, ok := b.rings.Load(key{chat: chatID, user: userID})
	if !ok {
		return []platform.MessageRef{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]platform.MessageRef, r.count)
	start := (r.pos - r.count + b.capacity) % b.capacity
	for i := 0; i < r.count; i++ {
		idx := (start + i) % b.capacity
		out[i] = r.items[idx]
		r.items[idx] = platform.MessageRef{}
	}
	r.pos = 0
	r.count = 0
	return out
}

// Remove drops one message from the user's ring, keeping the order of the
// rest. It reports whether the message was stored.
func (b *Buffer) Remove(chatID platform.ChatID, userID platform.UserID, messageID int) bool {
	r, ok := b.rings.Load(key{chat: chatID, user: userID})
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]platform.MessageRef, 0, r.count)
	found := false
	start := (r.pos - r.count + b.capacity) % b.capacity
	for i := 0; i < r.count; i++ {
		ref := r.items[(start+i)%b.capacity]
		if !found && ref.MessageID == messageID {
			found = true
			continue
		}
		kept = append(kept, ref)
	}
	if !found {
		return false
	}

	clear(r.items)
	copy(r.items, kept)
	r.count = len(kept)
	r.pos = r.count % b.capacity
	return true
}

// Len returns the number of stored references for the user.
func (b *Buffer) Len(chatID platform.ChatID, userID platform.UserID) int {
	r, ok := b.rings.Load(key{chat: chatID, user: userID})
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Forget drops every ring of a chat, e.g. after the bot left it.
func (b *Buffer) Forget(chatID platform.ChatID) int {
	return b.remove(func(k key, _ *ring) bool { return k.chat == chatID })
}

// Prune drops rings that saw no message since cutoff and returns how many
// were removed.
func (b *Buffer) Prune(cutoff time.Time) int {
	return b.remove(func(_ key, r *ring) bool { return r.lastSeen.Before(cutoff) })
}

// Keys returns the number of tracked (chat, user) pairs.
func (b *Buffer) Keys() int {
	return b.rings.Size()
}

func (b *Buffer) remove(match func(key, *ring) bool) int {
	removed := 0
	b.rings.Range(func(k key, r *ring) bool {
		r.mu.Lock()
		if !r.dead && match(k, r) {
			r.dead = true
			b.rings.Delete(k)
			removed++
		}
		r.mu.Unlock()
		return true
	})
	return removed
}
