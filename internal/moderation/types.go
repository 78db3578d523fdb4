package moderation

// Reasons reported in a Verdict.
const (
	ReasonAbuse = "abusive_language"
	ReasonLink  = "disallowed_link"
)

// Verdict is the outcome of screening one message. A zero Verdict is clean.
type Verdict struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Term    string `json:"term,omitempty"` // matched lexicon term or offending URL
}
