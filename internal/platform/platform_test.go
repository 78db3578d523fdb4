package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_FullName(t *testing.T) {
	assert.Equal(t, "Ada", User{FirstName: "Ada"}.FullName())
	assert.Equal(t, "Ada Lovelace", User{FirstName: "Ada", LastName: "Lovelace"}.FullName())
}

func TestUser_Mention(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"full name", User{ID: 1, FirstName: "Ada", LastName: "L"}, `<a href="tg://user?id=1">Ada L</a>`},
		{"escaped", User{ID: 3, FirstName: "<b>x</b>", LastName: "&y"}, `<a href="tg://user?id=3">&lt;b&gt;x&lt;/b&gt; &amp;y</a>`},
		{"username fallback", User{ID: 4, Username: "nick"}, `<a href="tg://user?id=4">nick</a>`},
		{"id fallback", User{ID: 5}, `<a href="tg://user?id=5">5</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.Mention())
		})
	}
}

func TestTextMessage_Ref(t *testing.T) {
	m := TextMessage{ChatID: -5, From: User{ID: 9}, MessageID: 77}
	assert.Equal(t, MessageRef{ChatID: -5, MessageID: 77, AuthorID: 9}, m.Ref())
}
