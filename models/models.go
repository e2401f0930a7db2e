package models

import "time"

// EntityCategory is one of the five entity labels tracked by the pipeline.
type EntityCategory string

const (
	CategoryPerson EntityCategory = "PERSON"
	CategoryOrg    EntityCategory = "ORG"
	CategoryMoney  EntityCategory = "MONEY"
	CategoryDate   EntityCategory = "DATE"
	CategoryGPE    EntityCategory = "GPE"
)

// Categories lists the tracked labels in display order.
var Categories = []EntityCategory{CategoryPerson, CategoryOrg, CategoryMoney, CategoryDate, CategoryGPE}

// ArticleReference is one discovered search result. Link is the unique key
// within a run.
type ArticleReference struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
}

// ArticleContent is the extracted body of an article.
type ArticleContent struct {
	Text        string     `json:"text"`
	Authors     []string   `json:"authors"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
}

// EntitySet maps a category to its mentions, deduplicated by exact text and
// kept in first-seen order.
type EntitySet map[EntityCategory][]string

// NewEntitySet returns an empty set with all tracked categories present, so
// the serialized form always carries the five keys.
func NewEntitySet() EntitySet {
	es := make(EntitySet, len(Categories))
	for _, c := range Categories {
		es[c] = []string{}
	}
	return es
}

// Add appends mention under cat unless the category is untracked or the exact
// text was already seen.
func (es EntitySet) Add(cat EntityCategory, mention string) {
	existing, ok := es[cat]
	if !ok {
		return
	}
	for _, m := range existing {
		if m == mention {
			return
		}
	}
	es[cat] = append(existing, mention)
}

// First returns the first mention of a category, or "".
func (es EntitySet) First(cat EntityCategory) string {
	if ms := es[cat]; len(ms) > 0 {
		return ms[0]
	}
	return ""
}

// Quote is a quotation attributed to a speaker. ProfileLink is filled in by
// enrichment when a profile can be found.
type Quote struct {
	Text        string `json:"text"`
	Speaker     string `json:"speaker"`
	ProfileLink string `json:"profile_link,omitempty"`
}

// ArticleRecord is one fully processed article. Articles whose content
// extraction fails are never recorded, even partially.
type ArticleRecord struct {
	Reference         ArticleReference `json:"reference"`
	Content           ArticleContent   `json:"content"`
	Entities          EntitySet        `json:"entities"`
	Quotes            []Quote          `json:"quotes"`
	EmergingCompanies []string         `json:"emerging_companies"`
}

// Snapshot is the sole persisted artifact: the complete result set of one
// ingestion run. Each run fully replaces the previous snapshot.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Records     []ArticleRecord `json:"records"`
}
