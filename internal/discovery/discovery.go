// Package discovery turns a topic query into candidate article references
// via the Google News RSS search endpoint.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mohammad-safakhou/medwatch/config"
	"github.com/mohammad-safakhou/medwatch/models"
)

// pubDateFormats are the timestamp layouts the feed is known to emit.
var pubDateFormats = []string{time.RFC1123Z, time.RFC1123}

// DiscoveryError wraps a failed feed request. Callers treat it as zero
// results for the query; it never aborts a run.
type DiscoveryError struct {
	Query string
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for query %q: %v", e.Query, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Discoverer fetches and filters news search results for one query at a time.
type Discoverer struct {
	cfg        config.GoogleNewsConfig
	maxResults int
	window     time.Duration
	parser     *gofeed.Parser
	logger     *log.Logger

	now func() time.Time // stubbed in tests
}

// New builds a Discoverer with a bounded HTTP timeout.
func New(cfg config.GoogleNewsConfig, ingest config.IngestConfig, logger *log.Logger) *Discoverer {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Timeout}
	parser.UserAgent = ingest.UserAgent
	return &Discoverer{
		cfg:        cfg,
		maxResults: ingest.MaxResults,
		window:     ingest.RecencyWindow,
		parser:     parser,
		logger:     logger,
		now:        time.Now,
	}
}

// Discover returns up to maxResults references for query, newest-window only,
// in feed order. Items with an unparsable timestamp are skipped and logged.
func (d *Discoverer) Discover(ctx context.Context, query string) ([]models.ArticleReference, error) {
	feed, err := d.parser.ParseURLWithContext(d.searchURL(query), ctx)
	if err != nil {
		return nil, &DiscoveryError{Query: query, Err: err}
	}

	now := d.now()
	var refs []models.ArticleReference
	for _, item := range feed.Items {
		pub, err := parsePubDate(item.Published)
		if err != nil {
			d.logger.Printf("skipping item %q: %v", item.Title, err)
			continue
		}
		if now.Sub(pub) > d.window {
			continue
		}
		refs = append(refs, models.ArticleReference{
			Title:       item.Title,
			Link:        item.Link,
			PublishedAt: pub,
			Source:      itemSource(item.Title, feed.Title),
		})
		if len(refs) >= d.maxResults {
			break
		}
	}
	return refs, nil
}

func (d *Discoverer) searchURL(query string) string {
	lang := d.cfg.Language
	short := lang
	if i := strings.Index(lang, "-"); i > 0 {
		short = lang[:i]
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", lang)
	params.Set("gl", d.cfg.Country)
	params.Set("ceid", fmt.Sprintf("%s:%s", d.cfg.Country, short))
	return fmt.Sprintf("%s?%s", d.cfg.Endpoint, params.Encode())
}

func parsePubDate(raw string) (time.Time, error) {
	for _, layout := range pubDateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable pubDate %q", raw)
}

// itemSource extracts the publisher name. Google News encodes it as a
// " - Publisher" title suffix; the feed title is the fallback.
func itemSource(title, feedTitle string) string {
	if i := strings.LastIndex(title, " - "); i > 0 && i+3 < len(title) {
		return title[i+3:]
	}
	return feedTitle
}
