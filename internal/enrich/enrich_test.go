package enrich

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/medwatch/config"
)

func newResolver(endpoint, key string) *Resolver {
	return New(config.WebSearchConfig{
		Endpoint:      endpoint,
		SerperAPIKey:  key,
		ProfileSite:   "linkedin.com/in",
		Timeout:       5 * time.Second,
		RatePerSecond: 1000, // no pacing in tests
	}, log.New(io.Discard, "", 0))
}

func TestResolveReturnsFirstResult(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotQuery, _ = req["q"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"link": "https://linkedin.com/in/jane-doe"},
				{"link": "https://linkedin.com/in/other"},
			},
		})
	}))
	defer srv.Close()

	r := newResolver(srv.URL, "key")
	link := r.Resolve(context.Background(), "Jane Doe", "NeoCardia")
	if link != "https://linkedin.com/in/jane-doe" {
		t.Fatalf("link = %q", link)
	}
	if !strings.Contains(gotQuery, `"Jane Doe NeoCardia"`) || !strings.Contains(gotQuery, "site:linkedin.com/in") {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestResolveMissOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if link := newResolver(srv.URL, "key").Resolve(context.Background(), "Jane Doe", "NeoCardia"); link != "" {
		t.Fatalf("expected miss, got %q", link)
	}
}

func TestResolveMissOnEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"organic": []any{}})
	}))
	defer srv.Close()

	if link := newResolver(srv.URL, "key").Resolve(context.Background(), "Jane Doe", ""); link != "" {
		t.Fatalf("expected miss, got %q", link)
	}
}

func TestResolveMissWithoutAPIKey(t *testing.T) {
	if link := newResolver("http://unreachable.invalid", "").Resolve(context.Background(), "Jane Doe", "NeoCardia"); link != "" {
		t.Fatalf("expected miss, got %q", link)
	}
}
