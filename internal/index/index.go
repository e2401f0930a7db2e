// Package index maintains an in-memory full-text index over the current
// snapshot for the dashboard search box. Rebuilt wholesale after each run.
package index

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/medwatch/models"
)

// Hit is one ranked search result.
type Hit struct {
	Link    string  `json:"link"`
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

type indexedArticle struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Index wraps a swap-on-rebuild bleve index. Reads and rebuilds may race
// freely; searches always hit a complete index.
type Index struct {
	mu   sync.RWMutex
	idx  bleve.Index
	meta map[string]models.ArticleRecord
}

func New() *Index {
	return &Index{meta: map[string]models.ArticleRecord{}}
}

// Rebuild replaces the index contents with the given snapshot's records.
func (x *Index) Rebuild(snap models.Snapshot) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("bleve: %w", err)
	}
	meta := make(map[string]models.ArticleRecord, len(snap.Records))
	for _, rec := range snap.Records {
		doc := indexedArticle{Title: rec.Reference.Title, Text: rec.Content.Text, Source: rec.Reference.Source}
		if err := idx.Index(rec.Reference.Link, doc); err != nil {
			_ = idx.Close()
			return fmt.Errorf("index %s: %w", rec.Reference.Link, err)
		}
		meta[rec.Reference.Link] = rec
	}

	x.mu.Lock()
	old := x.idx
	x.idx = idx
	x.meta = meta
	x.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Search returns up to k ranked hits for q. An index that has never been
// built returns no hits.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx == nil {
		return []Hit{}, nil
	}
	if k <= 0 || k > 50 {
		k = 10
	}

	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, err
	}

	hits := []Hit{}
	for i, h := range res.Hits {
		rec := x.meta[h.ID]
		hits = append(hits, Hit{
			Link:    h.ID,
			Title:   rec.Reference.Title,
			Source:  rec.Reference.Source,
			Snippet: snippet(rec.Content.Text),
			Score:   h.Score,
			Rank:    i + 1,
		})
	}
	return hits, nil
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}
