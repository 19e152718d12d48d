package usecase

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// Telegram limits, in characters.
const (
	MaxTextLength    = 4096
	MaxCaptionLength = 1024

	maxHashtags     = 5
	minTeaserLength = 50
	ellipsis        = "..."
)

var categoryEmoji = map[domain.Category]string{
	domain.CategoryCrypto:   "🔐",
	domain.CategoryPolitics: "🏛️",
}

type postParts struct {
	header   string
	teaser   string
	insights string
	link     string
	hashtags string
}

func (p postParts) String() string {
	return p.header + p.teaser + p.insights + p.link + p.hashtags
}

// RenderPost formats an item as a Telegram HTML message no longer than limit.
// The teaser is shortened first; if that is not enough the whole message is
// cut and closed with an ellipsis.
func RenderPost(item domain.NewsItem, limit int) string {
	parts := postParts{
		header: fmt.Sprintf("%s <b>%s</b>", emojiFor(item.Category), html.EscapeString(item.Title)),
		link:   fmt.Sprintf("\n\n🔗 <a href=\"%s\">Read more</a>", html.EscapeString(item.URL)),
	}
	if item.Summary != "" {
		parts.teaser = teaserBlock(item.Summary)
	}
	if points := insightPoints(item.Insights); len(points) > 0 {
		var b strings.Builder
		b.WriteString("\n\n🔍 <b>AI insights:</b>")
		for _, point := range points {
			b.WriteString("\n• ")
			b.WriteString(html.EscapeString(point))
		}
		parts.insights = b.String()
	}
	if tags := domain.NormalizeHashtags(item.Hashtags); len(tags) > 0 {
		if len(tags) > maxHashtags {
			tags = tags[:maxHashtags]
		}
		parts.hashtags = "\n\n" + html.EscapeString(strings.Join(tags, " "))
	}

	message := parts.String()
	excess := utf8.RuneCountInString(message) - limit
	if excess <= 0 {
		return message
	}

	if teaserLen := utf8.RuneCountInString(item.Summary); teaserLen > minTeaserLength {
		keep := max(minTeaserLength, teaserLen-excess-len(ellipsis))
		parts.teaser = teaserBlock(truncateRunes(item.Summary, keep) + ellipsis)
		message = parts.String()
	}
	return clampHTML(message, limit)
}

// RenderModerationPrompt is the operator-facing request for a decision.
func RenderModerationPrompt(item domain.NewsItem) string {
	var b strings.Builder
	b.WriteString("🚨 <b>Moderation required</b>\n\n")
	fmt.Fprintf(&b, "<b>Title:</b> %s\n\n", html.EscapeString(item.Title))
	fmt.Fprintf(&b, "<b>Category:</b> %s\n", item.Category)
	fmt.Fprintf(&b, "<b>Relevance:</b> %.1f/10\n\n", item.Score())
	if item.Summary != "" {
		fmt.Fprintf(&b, "<b>AI teaser:</b>\n%s\n\n", html.EscapeString(item.Summary))
	}
	fmt.Fprintf(&b, "<a href=\"%s\">Source</a>\n\n", html.EscapeString(item.URL))
	b.WriteString("Approve this item for publication?")
	return clampHTML(b.String(), MaxTextLength)
}

// RenderPublishedNotice tells the operator where an item was posted.
func RenderPublishedNotice(item domain.NewsItem, channel string, messageID int64) string {
	var b strings.Builder
	b.WriteString("✅ <b>Published</b>\n\n")
	fmt.Fprintf(&b, "<b>Channel:</b> %s\n", html.EscapeString(channel))
	fmt.Fprintf(&b, "<b>Title:</b> %s\n\n", html.EscapeString(item.Title))
	fmt.Fprintf(&b, "<b>Relevance:</b> %.1f/10\n", item.Score())
	fmt.Fprintf(&b, "<b>Message ID:</b> %d", messageID)
	if name, ok := strings.CutPrefix(channel, "@"); ok {
		fmt.Fprintf(&b, "\n\n<a href=\"https://t.me/%s/%d\">Open post</a>", html.EscapeString(name), messageID)
	}
	return clampHTML(b.String(), MaxTextLength)
}

// ModerationButtons are the inline approve/reject affordances for an item.
func ModerationButtons(itemID string) [][]ports.Button {
	return [][]ports.Button{{
		{Text: "✅ Approve", Data: string(DecisionApprove) + ":" + itemID},
		{Text: "❌ Reject", Data: string(DecisionReject) + ":" + itemID},
	}}
}

func teaserBlock(teaser string) string {
	return "\n\n📝 " + html.EscapeString(teaser)
}

func emojiFor(category domain.Category) string {
	if emoji, ok := categoryEmoji[category]; ok {
		return emoji
	}
	return "📰"
}

func insightPoints(insights []string) []string {
	var lines []string
	for _, insight := range insights {
		lines = append(lines, strings.Split(insight, "\n")...)
	}
	return domain.NormalizeInsights(lines)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// clampHTML cuts message to limit runes without leaving a broken tag or
// entity behind, closes the tags it opened and appends an ellipsis.
func clampHTML(message string, limit int) string {
	if utf8.RuneCountInString(message) <= limit {
		return message
	}

	const closersReserve = len("</b></a>")
	cut := truncateRunes(message, limit-len(ellipsis)-closersReserve)

	if lt := strings.LastIndex(cut, "<"); lt > strings.LastIndex(cut, ">") {
		cut = cut[:lt]
	}
	if amp := strings.LastIndex(cut, "&"); amp >= 0 && !strings.Contains(cut[amp:], ";") {
		cut = cut[:amp]
	}
	return cut + ellipsis + closeTags(cut)
}

// closeTags returns closing tags for <b> and <a> left open in s.
func closeTags(s string) string {
	var open []string
	for rest := s; ; {
		i := strings.Index(rest, "<")
		if i < 0 {
			break
		}
		rest = rest[i:]
		switch {
		case strings.HasPrefix(rest, "<b>"):
			open = append(open, "</b>")
		case strings.HasPrefix(rest, "<a "):
			open = append(open, "</a>")
		case strings.HasPrefix(rest, "</b>"), strings.HasPrefix(rest, "</a>"):
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
		rest = rest[1:]
	}

	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString(open[i])
	}
	return b.String()
}
