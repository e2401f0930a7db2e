// Package extract fetches article pages and parses body text, bylines and a
// best-effort publish date.
package extract

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/medwatch/config"
	"github.com/mohammad-safakhou/medwatch/models"
)

const maxBodyBytes = 5 << 20

// ExtractionError reports a link whose content could not be extracted after
// the full retry budget. The caller drops the article from the batch.
type ExtractionError struct {
	Link     string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s after %d attempts: %v", e.Link, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Fetcher retrieves the raw HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, link string) (string, error)
}

// HTTPFetcher fetches pages over plain HTTP with a bounded timeout.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Extractor parses article content with a fixed retry budget: up to
// cfg.FetchRetries attempts total with a flat pause between attempts.
type Extractor struct {
	fetcher  Fetcher
	retries  int
	backoff  time.Duration
	maxChars int
	logger   *log.Logger
}

func New(fetcher Fetcher, cfg config.IngestConfig, logger *log.Logger) *Extractor {
	retries := cfg.FetchRetries
	if retries <= 0 {
		retries = 3
	}
	return &Extractor{
		fetcher:  fetcher,
		retries:  retries,
		backoff:  cfg.FetchBackoff,
		maxChars: cfg.MaxChars,
		logger:   logger,
	}
}

// Extract fetches and parses ref.Link. On persistent failure it returns an
// *ExtractionError carrying the attempt count.
func (e *Extractor) Extract(ctx context.Context, ref models.ArticleReference) (models.ArticleContent, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		content, err := e.attempt(ctx, ref.Link)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if attempt == e.retries {
			break
		}
		e.logger.Printf("retrying %s (attempt %d/%d): %v", ref.Link, attempt, e.retries, err)
		select {
		case <-time.After(e.backoff):
		case <-ctx.Done():
			return models.ArticleContent{}, &ExtractionError{Link: ref.Link, Attempts: attempt, Err: ctx.Err()}
		}
	}
	return models.ArticleContent{}, &ExtractionError{Link: ref.Link, Attempts: e.retries, Err: lastErr}
}

func (e *Extractor) attempt(ctx context.Context, link string) (models.ArticleContent, error) {
	html, err := e.fetcher.Fetch(ctx, link)
	if err != nil {
		return models.ArticleContent{}, err
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(link))
	if err != nil {
		return models.ArticleContent{}, fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return models.ArticleContent{}, fmt.Errorf("no article text at %s", link)
	}
	if e.maxChars > 0 {
		text = truncate(text, e.maxChars)
	}

	return models.ArticleContent{
		Text:        text,
		Authors:     splitByline(article.Byline),
		PublishDate: metaPublishDate(html),
	}, nil
}

// splitByline turns a readability byline ("By Jane Doe, John Roe and Max Poe")
// into an ordered author list.
func splitByline(byline string) []string {
	byline = strings.TrimSpace(byline)
	if byline == "" {
		return []string{}
	}
	byline = strings.TrimPrefix(byline, "By ")
	byline = strings.TrimPrefix(byline, "by ")
	byline = strings.ReplaceAll(byline, " and ", ",")
	byline = strings.ReplaceAll(byline, "&", ",")
	var authors []string
	for _, part := range strings.Split(byline, ",") {
		if name := strings.TrimSpace(part); name != "" {
			authors = append(authors, name)
		}
	}
	if authors == nil {
		return []string{}
	}
	return authors
}

var metaDateSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:article:published_time"]`,
	`meta[itemprop="datePublished"]`,
	`meta[name="date"]`,
}

var metaDateFormats = []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"}

// metaPublishDate scans page metadata for a publish timestamp. Best-effort:
// nil when nothing parses.
func metaPublishDate(html string) *time.Time {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	for _, sel := range metaDateSelectors {
		content, ok := doc.Find(sel).First().Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			continue
		}
		for _, layout := range metaDateFormats {
			if t, err := time.Parse(layout, strings.TrimSpace(content)); err == nil {
				return &t
			}
		}
	}
	return nil
}

// truncate caps s at max bytes, backing up so a multi-byte rune is never
// split at the boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
