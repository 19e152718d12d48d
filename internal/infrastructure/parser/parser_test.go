package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"NewsHub/internal/domain"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Crypto Wire</title>
    <item>
      <title>Bitcoin ETF inflows hit record</title>
      <link>https://example.com/btc-etf</link>
      <description><![CDATA[<p>Spot <b>bitcoin</b> funds took in $1bn.</p>]]></description>
      <author>desk@example.com (Jane Doe)</author>
      <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
      <media:content url="https://img.example.com/btc.jpg" medium="image"/>
    </item>
    <item>
      <title>Ethereum upgrade scheduled</title>
      <guid>https://example.com/eth-upgrade</guid>
      <description>Core devs agree on a date.</description>
      <enclosure url="https://img.example.com/eth.png" type="image/png" length="100"/>
    </item>
    <item>
      <title>No link here</title>
      <description>Should be skipped.</description>
    </item>
    <item>
      <title>Third valid entry</title>
      <link>https://example.com/third</link>
      <description>Extra.</description>
    </item>
  </channel>
</rss>`

func TestRSSFetcherParsesFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "NewsHub/") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	fetcher := NewRSSFetcher(srv.Client())
	source := domain.NewsSource{Name: "wire", Type: domain.SourceRSS, URL: srv.URL, Category: domain.CategoryCrypto}

	entries, err := fetcher.Fetch(context.Background(), source, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Title != "Bitcoin ETF inflows hit record" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.Content != "Spot bitcoin funds took in $1bn." {
		t.Fatalf("expected markup stripped, got %q", first.Content)
	}
	if first.ImageURL != "https://img.example.com/btc.jpg" {
		t.Fatalf("unexpected image: %q", first.ImageURL)
	}
	if first.PublishedAt == nil || first.PublishedAt.Day() != 2 {
		t.Fatalf("unexpected published date: %v", first.PublishedAt)
	}

	second := entries[1]
	if second.URL != "https://example.com/eth-upgrade" {
		t.Fatalf("expected guid fallback, got %q", second.URL)
	}
	if second.ImageURL != "https://img.example.com/eth.png" {
		t.Fatalf("expected enclosure image, got %q", second.ImageURL)
	}
}

func TestRSSFetcherClassifiesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewRSSFetcher(srv.Client()).Fetch(context.Background(), domain.NewsSource{Name: "down", URL: srv.URL}, 10)
	var ext *domain.ExternalError
	if !errors.As(err, &ext) || ext.Kind != domain.KindServer || ext.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestAPIFetcherBuildsQueryAndParses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/everything" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("unexpected api key %q", got)
		}
		q := r.URL.Query()
		if q.Get("q") != `bitcoin OR "spot etf"` {
			t.Errorf("unexpected query %q", q.Get("q"))
		}
		if q.Get("pageSize") != "5" || q.Get("sortBy") != "publishedAt" {
			t.Errorf("unexpected params %v", q)
		}
		_, _ = w.Write([]byte(`{"status":"ok","articles":[
			{"title":"BTC tops 100k","description":"Markets rally.","url":"https://n.example/1","urlToImage":"https://n.example/1.jpg","author":"A","publishedAt":"2026-03-02T08:00:00Z"},
			{"title":"[Removed]","url":"https://removed"},
			{"title":"Only content","content":"Body text","url":"https://n.example/2"}
		]}`))
	}))
	defer srv.Close()

	fetcher := NewAPIFetcher(srv.Client(), srv.URL+"/v2", "secret", "")
	source := domain.NewsSource{Name: "NewsAPI Crypto", Type: domain.SourceAPI, Category: domain.CategoryCrypto, Keywords: []string{"bitcoin", "spot etf"}}

	entries, err := fetcher.Fetch(context.Background(), source, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ImageURL != "https://n.example/1.jpg" || entries[0].PublishedAt == nil {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Content != "Body text" {
		t.Fatalf("expected content fallback, got %q", entries[1].Content)
	}
}

func TestAPIFetcherRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewAPIFetcher(nil, "", "", "").Fetch(context.Background(), domain.NewsSource{Category: domain.CategoryCrypto}, 5)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchQueryFallsBackToCategory(t *testing.T) {
	t.Parallel()

	got := searchQuery(domain.NewsSource{Category: domain.CategoryPolitics})
	if got != "russia OR kremlin OR putin OR ukraine" {
		t.Fatalf("unexpected fallback query %q", got)
	}
}

func TestScrapeFetcherExtractsArticles(t *testing.T) {
	t.Parallel()

	page := `<html><body>
	  <article>
	    <h2><a href="/news/one">First headline</a></h2>
	    <span class="author">Ivan</span>
	    <img src="/img/one.jpg">
	    <p>Para one.</p><p>Para two.</p>
	  </article>
	  <article><h2>No link</h2></article>
	  <article><h3><a href="https://other.example/two">Second headline</a></h3><p>Body.</p></article>
	</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	entries, err := NewScrapeFetcher(srv.Client()).Fetch(context.Background(), domain.NewsSource{Name: "site", URL: srv.URL + "/list"}, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].URL != srv.URL+"/news/one" || entries[0].ImageURL != srv.URL+"/img/one.jpg" {
		t.Fatalf("expected resolved urls, got %+v", entries[0])
	}
	if entries[0].Content != "Para one. Para two." || entries[0].Author != "Ivan" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].URL != "https://other.example/two" {
		t.Fatalf("unexpected second url %q", entries[1].URL)
	}
}

func TestScrapeFetcherFallsBackToOpenGraph(t *testing.T) {
	t.Parallel()

	page := `<html><head>
	  <meta property="og:title" content="Summit ends without deal">
	  <meta property="og:description" content="Talks stalled on sanctions.">
	  <meta property="og:url" content="/story">
	  <meta property="og:image" content="https://cdn.example/story.jpg">
	</head><body><div>no articles</div></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	entries, err := NewScrapeFetcher(srv.Client()).Fetch(context.Background(), domain.NewsSource{Name: "site", URL: srv.URL}, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Title != "Summit ends without deal" || entries[0].URL != srv.URL+"/story" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	got := PlainText("<div>Hello <script>x()</script><b>world</b>\n\n &amp; more</div>")
	if got != "Hello world & more" {
		t.Fatalf("unexpected text %q", got)
	}
	if PlainText("  plain   text ") != "plain text" {
		t.Fatal("expected whitespace collapsed")
	}
}
