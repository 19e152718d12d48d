package usecase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"NewsHub/internal/domain"
)

func sampleItem() domain.NewsItem {
	score := 8.5
	return domain.NewsItem{
		ID:             "item-1",
		Title:          "ETF <approved> & listed",
		URL:            "https://news.example/etf?a=1&b=2",
		Category:       domain.CategoryCrypto,
		Status:         domain.StatusAnalyzed,
		RelevanceScore: &score,
		Summary:        "The regulator approved the first spot ETF.",
		Insights:       []string{"• Inflows expected", "- Volatility may rise"},
		Hashtags:       []string{"#A", "B", "#C", "#D", "#E", "#F", "#G"},
	}
}

func TestRenderPostLayout(t *testing.T) {
	t.Parallel()

	msg := RenderPost(sampleItem(), MaxTextLength)

	wants := []string{
		"🔐 <b>ETF &lt;approved&gt; &amp; listed</b>",
		"\n\n📝 The regulator approved the first spot ETF.",
		"\n• Inflows expected\n• Volatility may rise",
		`<a href="https://news.example/etf?a=1&amp;b=2">Read more</a>`,
		"\n\n#A #B #C #D #E",
	}
	for _, want := range wants {
		if !strings.Contains(msg, want) {
			t.Fatalf("message misses %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "#F") {
		t.Fatalf("more than five hashtags rendered:\n%s", msg)
	}
	if strings.Contains(msg, "• •") || strings.Contains(msg, "• -") {
		t.Fatalf("duplicated bullet markers:\n%s", msg)
	}
}

func TestRenderPostInsightShapesMatch(t *testing.T) {
	t.Parallel()

	list := sampleItem()
	list.Insights = []string{"Inflows expected", "Volatility may rise"}

	block := sampleItem()
	block.Insights = []string{"• Inflows expected\n* Volatility may rise\n"}

	if a, b := RenderPost(list, MaxTextLength), RenderPost(block, MaxTextLength); a != b {
		t.Fatalf("list and block insights render differently:\n%s\n---\n%s", a, b)
	}

	list.Insights = []string{"-5% drop in BTC dominance", "*Ethereum* gains"}
	block.Insights = []string{"- -5% drop in BTC dominance\n• *Ethereum* gains"}
	a, b := RenderPost(list, MaxTextLength), RenderPost(block, MaxTextLength)
	if a != b {
		t.Fatalf("signed insights render differently:\n%s\n---\n%s", a, b)
	}
	if !strings.Contains(a, "\n• -5% drop in BTC dominance\n• *Ethereum* gains") {
		t.Fatalf("leading dash or asterisk lost:\n%s", a)
	}
}

func TestRenderPostShortensTeaserFirst(t *testing.T) {
	t.Parallel()

	item := sampleItem()
	item.Summary = strings.Repeat("слово ", 400)

	msg := RenderPost(item, MaxCaptionLength)
	if n := utf8.RuneCountInString(msg); n > MaxCaptionLength {
		t.Fatalf("caption has %d runes, limit %d", n, MaxCaptionLength)
	}
	if !strings.Contains(msg, "...\n\n🔍") {
		t.Fatalf("teaser was not shortened with an ellipsis:\n%s", msg)
	}
	if !strings.Contains(msg, "Read more</a>") || !strings.HasSuffix(msg, "#E") {
		t.Fatalf("link or hashtags lost:\n%s", msg)
	}
}

func TestRenderPostHardTruncates(t *testing.T) {
	t.Parallel()

	item := sampleItem()
	item.Title = strings.Repeat("T", 3000)

	msg := RenderPost(item, MaxCaptionLength)
	if n := utf8.RuneCountInString(msg); n > MaxCaptionLength {
		t.Fatalf("caption has %d runes, limit %d", n, MaxCaptionLength)
	}
	if !strings.HasSuffix(msg, "...</b>") {
		t.Fatalf("expected closed tag after ellipsis, got tail %q", msg[len(msg)-20:])
	}
}

func TestClampHTMLKeepsEntitiesAndTagsWhole(t *testing.T) {
	t.Parallel()

	msg := "<b>" + strings.Repeat("&amp;", 300) + "</b>"
	got := clampHTML(msg, 100)

	if n := utf8.RuneCountInString(got); n > 100 {
		t.Fatalf("got %d runes", n)
	}
	body := strings.TrimSuffix(got, "...</b>")
	if body == got || !strings.HasSuffix(body, "&amp;") {
		t.Fatalf("entity split or tag not closed: %q", got)
	}

	link := `<a href="https://x.example/very/long/path">` + strings.Repeat("y", 50) + "</a>"
	got = clampHTML("intro "+link, 30)
	if strings.Contains(got, "<a") && !strings.HasSuffix(got, "</a>") {
		t.Fatalf("unclosed anchor: %q", got)
	}
	if strings.Count(got, "<") != strings.Count(got, ">") {
		t.Fatalf("broken tag: %q", got)
	}
}

func TestRenderModerationPromptAndNotice(t *testing.T) {
	t.Parallel()

	item := sampleItem()
	prompt := RenderModerationPrompt(item)
	for _, want := range []string{"Moderation required", "ETF &lt;approved&gt;", "8.5/10", "crypto"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt misses %q:\n%s", want, prompt)
		}
	}

	notice := RenderPublishedNotice(item, "@crypto_ainews", 42)
	if !strings.Contains(notice, `https://t.me/crypto_ainews/42`) {
		t.Fatalf("notice misses post link:\n%s", notice)
	}
	if strings.Contains(RenderPublishedNotice(item, "-100123", 42), "t.me") {
		t.Fatal("numeric chats have no public link")
	}

	buttons := ModerationButtons("item-1")
	if len(buttons) != 1 || buttons[0][0].Data != "approve:item-1" || buttons[0][1].Data != "reject:item-1" {
		t.Fatalf("unexpected buttons %+v", buttons)
	}
}
