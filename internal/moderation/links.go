package moderation

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultAllowedDomains are the hosts members may link to.
var DefaultAllowedDomains = []string{"t.me", "telegram.me", "instagram.com"}

// linkPattern only matches explicit http and https URLs. Bare domains such as
// "t.me/x" and protocol-relative "//host" are not extracted.
var linkPattern = regexp.MustCompile(`(?i)https?://[^\s<>"'` + "`" + `]+`)

// trailing punctuation that usually belongs to the sentence, not the URL
const urlTrailer = ".,;:!?)]}"

// LinkClassifier extracts URLs from text and checks them against an
// allow-list of host suffixes. It is immutable and safe for concurrent use.
type LinkClassifier struct {
	domains  []string
	disabled bool
}

// NewLinkClassifier creates a classifier for the given domains. With no
// domains, DefaultAllowedDomains is used.
func NewLinkClassifier(domains ...string) *LinkClassifier {
	if len(domains) == 0 {
		domains = DefaultAllowedDomains
	}
	lc := &LinkClassifier{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, ".")
		if d != "" {
			lc.domains = append(lc.domains, d)
		}
	}
	return lc
}

// Domains returns the allow-list.
func (lc *LinkClassifier) Domains() []string {
	return append([]string(nil), lc.domains...)
}

// ExtractLinks returns every scheme-prefixed URL in text, in order.
func (lc *LinkClassifier) ExtractLinks(text string) []string {
	found := linkPattern.FindAllString(text, -1)
	out := found[:0]
	for _, u := range found {
		u = strings.TrimRight(u, urlTrailer)
		if i := strings.Index(u, "://"); i >= 0 && i+3 < len(u) {
			out = append(out, u)
		}
	}
	return out
}

// IsAllowed reports whether the URL's host equals an allowed domain or is a
// subdomain of one. URLs that do not parse are not allowed.
func (lc *LinkClassifier) IsAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	for _, d := range lc.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// FirstDisallowed returns the first link in text that is not allowed.
func (lc *LinkClassifier) FirstDisallowed(text string) (string, bool) {
	if lc.disabled {
		return "", false
	}
	for _, u := range lc.ExtractLinks(text) {
		if !lc.IsAllowed(u) {
			return u, true
		}
	}
	return "", false
}
