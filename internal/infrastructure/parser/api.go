package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// DefaultNewsAPIURL is the NewsAPI v2 base.
const DefaultNewsAPIURL = "https://newsapi.org/v2"

var categoryQueries = map[domain.Category]string{
	domain.CategoryCrypto:   "cryptocurrency OR bitcoin OR ethereum OR blockchain",
	domain.CategoryPolitics: "russia OR kremlin OR putin OR ukraine",
}

// APIFetcher queries the NewsAPI /everything endpoint.
type APIFetcher struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	language string
}

var _ ports.SourceFetcher = (*APIFetcher)(nil)

// NewAPIFetcher builds a fetcher; baseURL is used for sources without a URL.
func NewAPIFetcher(client *http.Client, baseURL, apiKey, language string) *APIFetcher {
	if baseURL == "" {
		baseURL = DefaultNewsAPIURL
	}
	return &APIFetcher{
		client:   defaultClient(client),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		language: language,
	}
}

// Type identifies the strategy inside the registry.
func (f *APIFetcher) Type() domain.SourceType {
	return domain.SourceAPI
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

// Fetch searches for the source keywords, newest first.
func (f *APIFetcher) Fetch(ctx context.Context, source domain.NewsSource, limit int) ([]domain.RawEntry, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("%w: newsapi key is not configured", domain.ErrValidation)
	}

	target, err := f.searchURL(source, limit)
	if err != nil {
		return nil, err
	}

	var payload newsAPIResponse
	header := http.Header{"Accept": {"application/json"}, "X-Api-Key": {f.apiKey}}
	err = get(ctx, f.client, "fetch newsapi "+source.Name, target, header, func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return fmt.Errorf("decode newsapi response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if payload.Status == "error" {
		return nil, fmt.Errorf("newsapi %s: %s", payload.Code, payload.Message)
	}

	entries := make([]domain.RawEntry, 0, len(payload.Articles))
	for _, article := range payload.Articles {
		if limit > 0 && len(entries) >= limit {
			break
		}
		if article.Title == "" || article.URL == "" || article.Title == "[Removed]" {
			continue
		}

		content := article.Description
		if content == "" {
			content = article.Content
		}
		entry := domain.RawEntry{
			Title:    truncateRunes(collapse(article.Title), maxTitleRunes),
			Content:  PlainText(content),
			URL:      article.URL,
			Author:   article.Author,
			ImageURL: article.URLToImage,
		}
		if published, err := time.Parse(time.RFC3339, article.PublishedAt); err == nil {
			published = published.UTC()
			entry.PublishedAt = &published
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (f *APIFetcher) searchURL(source domain.NewsSource, limit int) (string, error) {
	base := strings.TrimSuffix(source.URL, "/")
	if base == "" {
		base = f.baseURL
	}
	parsed, err := url.Parse(base + "/everything")
	if err != nil {
		return "", fmt.Errorf("invalid newsapi url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("q", searchQuery(source))
	query.Set("sortBy", "publishedAt")
	if limit > 0 {
		query.Set("pageSize", strconv.Itoa(min(limit, 100)))
	}
	if f.language != "" {
		query.Set("language", f.language)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func searchQuery(source domain.NewsSource) string {
	terms := make([]string, 0, len(source.Keywords))
	for _, kw := range source.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			if strings.Contains(kw, " ") {
				kw = strconv.Quote(kw)
			}
			terms = append(terms, kw)
		}
	}
	if len(terms) == 0 {
		return categoryQueries[source.Category]
	}
	return strings.Join(terms, " OR ")
}
