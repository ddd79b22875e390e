package relay

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPayloadBuilder(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	long := strings.Repeat("a", 300)
	emoji := strings.Repeat("é🙂", 200) // 400 runes, multi-byte

	cases := []struct {
		name      string
		msg       Message
		wantTitle string
		wantBody  string
	}{
		{"plain", Message{Sender: "alice", Text: "hi there"}, "alice", "hi there"},
		{"empty text", Message{Sender: "alice", Text: ""}, "alice", DefaultFallbackBody},
		{"blank text", Message{Sender: "alice", Text: " \n\t "}, "alice", DefaultFallbackBody},
		{"no sender", Message{Text: "hello"}, DefaultFallbackTitle, "hello"},
		{"nothing", Message{}, DefaultFallbackTitle, DefaultFallbackBody},
		{"long ascii", Message{Sender: "bob", Text: long}, "bob", long[:250]},
		{"exactly max", Message{Sender: "bob", Text: long[:250]}, "bob", long[:250]},
		{"multi-byte", Message{Sender: "bob", Text: emoji}, "bob", string([]rune(emoji)[:250])},
	}
	b := NewPayloadBuilder()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.msg.SentAt = at
			n := b.Build(tc.msg)
			assert.Equal(t, tc.wantTitle, n.Title)
			assert.Equal(t, tc.wantBody, n.Body)
			assert.True(t, utf8.ValidString(n.Body))
			assert.LessOrEqual(t, utf8.RuneCountInString(n.Body), DefaultMaxBody)
			assert.NotEmpty(t, n.Body)
			assert.Equal(t, at, n.SentAt)
		})
	}
}

func TestPayloadBuilderCustom(t *testing.T) {
	t.Parallel()

	b := &PayloadBuilder{FallbackTitle: "Someone", FallbackBody: "ping", MaxBody: 5}
	n := b.Build(Message{Text: "hello world"})
	assert.Equal(t, "Someone", n.Title)
	assert.Equal(t, "hello", n.Body)

	n = (&PayloadBuilder{}).Build(Message{})
	assert.Equal(t, DefaultFallbackTitle, n.Title)
	assert.Equal(t, DefaultFallbackBody, n.Body)
}
