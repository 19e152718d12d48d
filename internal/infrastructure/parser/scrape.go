package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// ScrapeFetcher extracts entries from an HTML listing page. Each <article>
// element becomes one entry; a page without articles yields a single entry
// built from its OpenGraph metadata.
type ScrapeFetcher struct {
	client *http.Client
}

var _ ports.SourceFetcher = (*ScrapeFetcher)(nil)

// NewScrapeFetcher uses client, or a client with a 30s timeout when nil.
func NewScrapeFetcher(client *http.Client) *ScrapeFetcher {
	return &ScrapeFetcher{client: defaultClient(client)}
}

// Type identifies the strategy inside the registry.
func (f *ScrapeFetcher) Type() domain.SourceType {
	return domain.SourceScraping
}

// Fetch downloads source.URL and extracts up to limit entries.
func (f *ScrapeFetcher) Fetch(ctx context.Context, source domain.NewsSource, limit int) ([]domain.RawEntry, error) {
	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %s: %w", source.URL, err)
	}

	var doc *goquery.Document
	header := http.Header{"Accept": {"text/html,application/xhtml+xml"}}
	err = get(ctx, f.client, "scrape "+source.Name, source.URL, header, func(body io.Reader) error {
		parsed, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return fmt.Errorf("parse document: %w", err)
		}
		doc = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := extractArticles(doc, base, limit)
	if len(entries) > 0 {
		return entries, nil
	}
	if entry, ok := extractOpenGraph(doc, base); ok {
		return []domain.RawEntry{entry}, nil
	}
	return nil, nil
}

func extractArticles(doc *goquery.Document, base *url.URL, limit int) []domain.RawEntry {
	var entries []domain.RawEntry
	seen := map[string]struct{}{}

	doc.Find("article").EachWithBreak(func(_ int, article *goquery.Selection) bool {
		if limit > 0 && len(entries) >= limit {
			return false
		}

		heading := article.Find("h1, h2, h3").First()
		title := truncateRunes(collapse(heading.Text()), maxTitleRunes)

		link := heading.Find("a[href]").First()
		if link.Length() == 0 {
			link = article.Find("a[href]").First()
		}
		href, _ := link.Attr("href")
		resolved := resolve(base, href)
		if title == "" || resolved == "" {
			return true
		}
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}

		var paragraphs []string
		article.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := collapse(p.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})

		entry := domain.RawEntry{
			Title:   title,
			Content: strings.Join(paragraphs, " "),
			URL:     resolved,
			Author:  collapse(article.Find("[rel=author], .author, .byline").First().Text()),
		}
		if src, ok := article.Find("img[src]").First().Attr("src"); ok {
			entry.ImageURL = resolve(base, src)
		}
		entries = append(entries, entry)
		return true
	})

	return entries
}

func extractOpenGraph(doc *goquery.Document, base *url.URL) (domain.RawEntry, bool) {
	meta := func(property string) string {
		content, _ := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First().Attr("content")
		return collapse(content)
	}

	title := meta("og:title")
	if title == "" {
		title = collapse(doc.Find("title").First().Text())
	}
	link := resolve(base, meta("og:url"))
	if link == "" {
		link = base.String()
	}
	if title == "" {
		return domain.RawEntry{}, false
	}

	return domain.RawEntry{
		Title:    truncateRunes(title, maxTitleRunes),
		Content:  meta("og:description"),
		URL:      link,
		ImageURL: resolve(base, meta("og:image")),
	}, true
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
