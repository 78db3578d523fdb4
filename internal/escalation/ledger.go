// Package escalation tracks violations per (chat, user) and maps the running
// count to a punitive tier:
//
//	1st violation -> warning
//	2nd violation -> 30 minute mute
//	3rd violation -> 2 hour mute, then the count resets
//
// Counts also reset when no violation was recorded for the decay window.
package escalation

import (
	"sync"
	"time"

	"github.com/whisper/guardbot/internal/platform"
)

// Actions a tier can apply.
const (
	ActionWarn = "warn"
	ActionMute = "mute"
)

const (
	// Mute30Min and Mute2Hour are the default tier 2 and tier 3 durations.
	Mute30Min = 30 * time.Minute
	Mute2Hour = 2 * time.Hour

	// DefaultDecayWindow is how long a record survives without new violations.
	DefaultDecayWindow = 24 * time.Hour

	// DefaultDecayInterval is how often the decay sweep runs.
	DefaultDecayInterval = time.Hour
)

// Tier is one escalation level.
type Tier struct {
	Level    int           `json:"level"`
	Action   string        `json:"action"`
	Duration time.Duration `json:"duration"`
	Terminal bool          `json:"terminal"` // count resets after this tier
}

// Policy is the tier table plus the decay window. Tiers are ordered by level;
// counts beyond the table map to the last tier.
type Policy struct {
	Tiers       []Tier
	DecayWindow time.Duration
}

// DefaultPolicy returns the warn / 30m / 2h table with a 24h decay window.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{Level: 1, Action: ActionWarn},
			{Level: 2, Action: ActionMute, Duration: Mute30Min},
			{Level: 3, Action: ActionMute, Duration: Mute2Hour, Terminal: true},
		},
		DecayWindow: DefaultDecayWindow,
	}
}

func (p Policy) tierFor(count int) Tier {
	if count <= 0 || len(p.Tiers) == 0 {
		return Tier{}
	}
	if count > len(p.Tiers) {
		return p.Tiers[len(p.Tiers)-1]
	}
	return p.Tiers[count-1]
}

// Record is the violation state of one user in one chat.
type Record struct {
	ChatID          platform.ChatID `json:"chat_id"`
	UserID          platform.UserID `json:"user_id"`
	Count           int             `json:"count"`
	LastViolationAt time.Time       `json:"last_violation_at"`
}

type key struct {
	chat platform.ChatID
	user platform.UserID
}

// Ledger owns every violation Record. All mutation goes through its methods
// and happens under one lock, so a recorded violation and the tier it yields
// are a single atomic step.
type Ledger struct {
	policy  Policy
	mu      sync.Mutex
	records map[key]*Record
}

// NewLedger creates an empty Ledger. A policy without tiers falls back to
// DefaultPolicy.
func NewLedger(policy Policy) *Ledger {
	if len(policy.Tiers) == 0 {
		policy.Tiers = DefaultPolicy().Tiers
	}
	if policy.DecayWindow <= 0 {
		policy.DecayWindow = DefaultDecayWindow
	}
	return &Ledger{
		policy:  policy,
		records: make(map[key]*Record),
	}
}

// Policy returns the ledger's policy.
func (l *Ledger) Policy() Policy { return l.policy }

// RecordViolation increments the user's count and returns the resulting tier.
// When the tier is terminal the record is reset to zero before returning, so
// two concurrent violations can never both observe the terminal tier for the
// same count.
func (l *Ledger) RecordViolation(chatID platform.ChatID, userID platform.UserID, at time.Time) Tier {
	k := key{chat: chatID, user: userID}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[k]
	if !ok {
		rec = &Record{ChatID: chatID, UserID: userID}
		l.records[k] = rec
	}
	rec.Count++
	rec.LastViolationAt = at

	tier := l.policy.tierFor(rec.Count)
	if tier.Terminal {
		delete(l.records, k)
	}
	return tier
}

// Count returns the user's current violation count.
func (l *Ledger) Count(chatID platform.ChatID, userID platform.UserID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[key{chat: chatID, user: userID}]; ok {
		return rec.Count
	}
	return 0
}

// Reset clears the user's record, e.g. after a moderator pardons them.
func (l *Ledger) Reset(chatID platform.ChatID, userID platform.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key{chat: chatID, user: userID})
}

// Sweep resets every record whose last violation is at least the decay
// window before now. It returns the number of records reset.
func (l *Ledger) Sweep(now time.Time) int {
	cutoff := now.Add(-l.policy.DecayWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	reset := 0
	for k, rec := range l.records {
		if !rec.LastViolationAt.After(cutoff) {
			delete(l.records, k)
			reset++
		}
	}
	return reset
}

// Len returns the number of non-zero records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Snapshot returns a copy of every non-zero record.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	return out
}

// Restore loads records, skipping those already past the decay window at now
// and those with a non-positive count. Existing records for the same key are
// replaced. It returns the number of records loaded.
func (l *Ledger) Restore(records []Record, now time.Time) int {
	cutoff := now.Add(-l.policy.DecayWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	for _, r := range records {
		if r.Count <= 0 || !r.LastViolationAt.After(cutoff) {
			continue
		}
		rec := r
		l.records[key{chat: r.ChatID, user: r.UserID}] = &rec
		loaded++
	}
	return loaded
}
