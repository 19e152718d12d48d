package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

const maxTitleRunes = 500

// RSSFetcher reads RSS and Atom feeds.
type RSSFetcher struct {
	client *http.Client
}

var _ ports.SourceFetcher = (*RSSFetcher)(nil)

// NewRSSFetcher uses client, or a client with a 30s timeout when nil.
func NewRSSFetcher(client *http.Client) *RSSFetcher {
	return &RSSFetcher{client: defaultClient(client)}
}

// Type identifies the strategy inside the registry.
func (f *RSSFetcher) Type() domain.SourceType {
	return domain.SourceRSS
}

// Fetch returns at most limit entries in feed order. Entries without a
// title or a usable link are skipped.
func (f *RSSFetcher) Fetch(ctx context.Context, source domain.NewsSource, limit int) ([]domain.RawEntry, error) {
	var feed *gofeed.Feed
	header := http.Header{"Accept": {"application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"}}
	err := get(ctx, f.client, "fetch rss "+source.Name, source.URL, header,
		func(body io.Reader) error {
			parsed, err := gofeed.NewParser().Parse(body)
			if err != nil {
				return fmt.Errorf("parse feed %s: %w", source.Name, err)
			}
			feed = parsed
			return nil
		})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.RawEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if limit > 0 && len(entries) >= limit {
			break
		}

		entry, ok := toRawEntry(item)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toRawEntry(item *gofeed.Item) (domain.RawEntry, bool) {
	title := truncateRunes(PlainText(item.Title), maxTitleRunes)
	link := itemLink(item)
	if title == "" || link == "" {
		return domain.RawEntry{}, false
	}

	content := item.Description
	if content == "" {
		content = item.Content
	}

	entry := domain.RawEntry{
		Title:    title,
		Content:  PlainText(content),
		URL:      link,
		Author:   itemAuthor(item),
		ImageURL: itemImage(item),
	}
	switch {
	case item.PublishedParsed != nil:
		published := item.PublishedParsed.UTC()
		entry.PublishedAt = &published
	case item.UpdatedParsed != nil:
		updated := item.UpdatedParsed.UTC()
		entry.PublishedAt = &updated
	}
	return entry, true
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, person := range item.Authors {
		if person != nil && person.Name != "" {
			return person.Name
		}
	}
	return ""
}

// itemImage looks at the feed image, image enclosures, then the Media RSS
// content and thumbnail extensions.
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	media := item.Extensions["media"]
	for _, name := range []string{"content", "thumbnail"} {
		for _, ext := range media[name] {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}
