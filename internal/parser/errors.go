package parser

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const maxMessageLen = 300

// ErrorMessage extracts a short human-readable message from an API error body.
// JSON bodies use their "error" or "message" member, HTML pages (Express
// answers "Cannot PUT /api/..." inside <pre>) are reduced to their text.
func ErrorMessage(body []byte, contentType string) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	ct := strings.ToLower(contentType)

	if strings.Contains(ct, "json") || body[0] == '{' {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err == nil {
			for _, key := range []string{"error", "message", "msg"} {
				if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
					return trunc(strings.TrimSpace(s))
				}
			}
		}
	}

	if strings.Contains(ct, "html") || body[0] == '<' {
		if text := htmlText(body); text != "" {
			return trunc(text)
		}
	}

	return trunc(string(body))
}

func htmlText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	for _, sel := range []string{"pre", "h1", "title", "body"} {
		text := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " ")
		if text != "" {
			return text
		}
	}
	return ""
}

// trunc limits s to maxMessageLen runes; messages are often Cyrillic.
func trunc(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLen {
		return s
	}
	return string([]rune(s)[:maxMessageLen]) + "…"
}
