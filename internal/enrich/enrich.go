// Package enrich resolves quoted speakers to professional profile links via
// a web-search lookup. Every failure mode is a miss, never an error: a quote
// without a profile is a normal outcome.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/medwatch/config"
)

// Resolver issues one search per quote, paced by a client-side rate limiter
// so the search quota survives large batches without stalling callers that
// run other articles in parallel.
type Resolver struct {
	endpoint string
	apiKey   string
	site     string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *log.Logger
}

func New(cfg config.WebSearchConfig, logger *log.Logger) *Resolver {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Resolver{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.SerperAPIKey,
		site:     cfg.ProfileSite,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:   logger,
	}
}

// Resolve searches for the exact phrase "<speaker> <organization>" on the
// configured profile site and returns the first result URL, or "" on any
// failure or empty result.
func (r *Resolver) Resolve(ctx context.Context, speaker, organization string) string {
	if r.apiKey == "" {
		return ""
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return ""
	}

	phrase := strings.TrimSpace(speaker + " " + organization)
	payload := map[string]any{
		"q":   fmt.Sprintf(`"%s" site:%s`, phrase, r.site),
		"num": 1,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	req.Header.Set("X-API-KEY", r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Printf("profile lookup for %q: %v", phrase, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.logger.Printf("profile lookup for %q: %s", phrase, resp.Status)
		return ""
	}

	var raw struct {
		Organic []struct {
			Link string `json:"link"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ""
	}
	if len(raw.Organic) == 0 {
		return ""
	}
	return raw.Organic[0].Link
}
