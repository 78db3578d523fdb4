package engine

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/whisper/guardbot/internal/platform"
)

type userKey struct {
	chat platform.ChatID
	user platform.UserID
}

type userLock struct {
	mu   sync.Mutex
	refs int // guarded by the map bucket, not mu
}

// userLocks serializes work per (chat, user). Entries exist only while some
// goroutine holds or waits for the lock.
type userLocks struct {
	m *xsync.Map[userKey, *userLock]
}

func newUserLocks() *userLocks {
	return &userLocks{m: xsync.NewMap[userKey, *userLock]()}
}

// lock blocks until the caller owns the (chat, user) lock and returns the
// matching unlock func.
func (l *userLocks) lock(chatID platform.ChatID, userID platform.UserID) func() {
	k := userKey{chat: chatID, user: userID}
	ul, _ := l.m.Compute(k, func(old *userLock, loaded bool) (*userLock, xsync.ComputeOp) {
		if !loaded {
			old = &userLock{}
		}
		old.refs++
		return old, xsync.UpdateOp
	})
	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()
		l.m.Compute(k, func(old *userLock, loaded bool) (*userLock, xsync.ComputeOp) {
			if !loaded {
				return old, xsync.CancelOp
			}
			old.refs--
			if old.refs == 0 {
				return old, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
	}
}

// size returns the number of live entries.
func (l *userLocks) size() int { return l.m.Size() }
