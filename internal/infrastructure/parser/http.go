// Package parser holds the source fetchers: RSS feeds, the NewsAPI search
// endpoint and HTML scraping.
package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsHub/internal/domain"
)

const (
	defaultUserAgent = "NewsHub/1.0 (+https://github.com/newshub)"
	defaultTimeout   = 30 * time.Second
	errorBodyLimit   = 1024
)

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: defaultTimeout}
	}
	return client
}

// get performs a GET and hands a 200 body to read. Non-200 answers become
// classified external errors.
func get(ctx context.Context, client *http.Client, op, target string, header http.Header, read func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return domain.TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return domain.StatusError(op, resp.StatusCode, 0, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	return read(resp.Body)
}
