// Package moderation provides content screening for group chat messages. It
// detects abusive language against a word lexicon and links that point
// outside an allow-list of domains.
package moderation

// check pairs a detector with the reason it reports.
type check struct {
	reason string
	match  func(f *Filter, text string) (string, bool)
}

// checks is applied in order and the first match wins, so abuse always takes
// priority over links for the same message.
var checks = []check{
	{reason: ReasonAbuse, match: func(f *Filter, text string) (string, bool) {
		return f.lexicon.Match(text)
	}},
	{reason: ReasonLink, match: func(f *Filter, text string) (string, bool) {
		return f.links.FirstDisallowed(text)
	}},
}

// Filter screens text with a Lexicon and a LinkClassifier. It is immutable
// after construction and safe for concurrent use.
type Filter struct {
	lexicon *Lexicon
	links   *LinkClassifier
}

// NewFilter creates a Filter. A nil lexicon or classifier disables that check.
func NewFilter(lexicon *Lexicon, links *LinkClassifier) *Filter {
	if lexicon == nil {
		lexicon = NewLexiconWithTerms(nil)
	}
	if links == nil {
		links = NewLinkClassifier()
		links.disabled = true
	}
	return &Filter{lexicon: lexicon, links: links}
}

// Check screens text and returns a blocking Verdict on the first match.
func (f *Filter) Check(text string) Verdict {
	for _, c := range checks {
		if term, ok := c.match(f, text); ok {
			return Verdict{Blocked: true, Reason: c.reason, Term: term}
		}
	}
	return Verdict{}
}

// Lexicon returns the filter's lexicon.
func (f *Filter) Lexicon() *Lexicon { return f.lexicon }

// Links returns the filter's link classifier.
func (f *Filter) Links() *LinkClassifier { return f.links }
