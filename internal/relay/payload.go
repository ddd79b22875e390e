package relay

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultFallbackTitle = "Protocol Chat"
	DefaultFallbackBody  = "New message"
	DefaultMaxBody       = 250
)

// PayloadBuilder turns a chat message into notification content.
type PayloadBuilder struct {
	FallbackTitle string
	FallbackBody  string
	MaxBody       int
}

func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{
		FallbackTitle: DefaultFallbackTitle,
		FallbackBody:  DefaultFallbackBody,
		MaxBody:       DefaultMaxBody,
	}
}

// Build never returns an empty title or body. The body is cut to MaxBody
// runes.
func (b *PayloadBuilder) Build(msg Message) Notification {
	title := strings.TrimSpace(msg.Sender)
	if title == "" {
		title = orDefault(b.FallbackTitle, DefaultFallbackTitle)
	}
	body := strings.TrimSpace(msg.Text)
	if body == "" {
		body = orDefault(b.FallbackBody, DefaultFallbackBody)
	}
	max := b.MaxBody
	if max <= 0 {
		max = DefaultMaxBody
	}
	return Notification{
		Title:  title,
		Body:   truncateRunes(body, max),
		Sender: strings.TrimSpace(msg.Sender),
		SentAt: msg.SentAt,
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
