package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkClassifier_IsAllowed(t *testing.T) {
	lc := NewLinkClassifier()

	tests := []struct {
		url     string
		allowed bool
	}{
		{"https://t.me/x", true},
		{"http://telegram.me/joinchat/abc", true},
		{"https://www.instagram.com/p/123", true},
		{"https://T.ME/upper", true},
		{"https://t.me:443/port", true},
		{"https://evil.example.com/path", false},
		{"https://nott.me/x", false},
		{"https://t.me.evil.com/x", false},
		{"https://instagram.com@evil.com/", false},
		{"http://%zz", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.allowed, lc.IsAllowed(tt.url))
		})
	}
}

func TestLinkClassifier_ExtractLinks(t *testing.T) {
	lc := NewLinkClassifier()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"scheme required", "t.me/x and www.evil.com", nil},
		{"protocol relative", "see //evil.com/x", nil},
		{"http and https", "a http://a.com b HTTPS://b.org/c?d=1", []string{"http://a.com", "HTTPS://b.org/c?d=1"}},
		{"trailing punctuation", "look: https://evil.com/x.", []string{"https://evil.com/x"}},
		{"scheme only", "https://", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lc.ExtractLinks(tt.text)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLinkClassifier_FirstDisallowed(t *testing.T) {
	lc := NewLinkClassifier()

	u, ok := lc.FirstDisallowed("ok https://t.me/a but https://evil.example.com/x and https://other.net")
	assert.True(t, ok)
	assert.Equal(t, "https://evil.example.com/x", u)

	_, ok = lc.FirstDisallowed("only https://t.me/a and https://instagram.com/b")
	assert.False(t, ok)
}

func TestLinkClassifier_CustomDomains(t *testing.T) {
	lc := NewLinkClassifier(" Example.ORG ", ".docs.io", "")

	assert.Equal(t, []string{"example.org", "docs.io"}, lc.Domains())
	assert.True(t, lc.IsAllowed("https://sub.example.org/a"))
	assert.True(t, lc.IsAllowed("https://docs.io"))
	assert.False(t, lc.IsAllowed("https://t.me/x"))
}
