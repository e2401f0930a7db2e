package facts

import (
	"fmt"
	"regexp"

	prose "github.com/jdkato/prose/v2"
)

// Mention is one raw labelled span from the recognizer, before category
// filtering and dedup.
type Mention struct {
	Text  string
	Label string
}

// Recognizer produces labelled mentions from article text. Implementations
// are pure local computation; failures after construction are per-text, not
// per-process.
type Recognizer interface {
	Recognize(text string) ([]Mention, error)
}

// ModelInitError is fatal at startup: without the entity model loaded the
// pipeline cannot run at all.
type ModelInitError struct {
	Err error
}

func (e *ModelInitError) Error() string { return fmt.Sprintf("entity model init: %v", e.Err) }
func (e *ModelInitError) Unwrap() error { return e.Err }

// ProseRecognizer combines the prose statistical model (person and location
// spans) with rule patterns for the money, date and organization labels the
// model does not emit.
type ProseRecognizer struct {
	money *regexp.Regexp
	date  *regexp.Regexp
	org   []*regexp.Regexp
}

// NewProseRecognizer loads and probes the model once.
func NewProseRecognizer() (*ProseRecognizer, error) {
	if _, err := prose.NewDocument("Model warm-up sentence."); err != nil {
		return nil, &ModelInitError{Err: err}
	}
	return &ProseRecognizer{
		money: regexp.MustCompile(`\$\s?\d+(?:[.,]\d+)*\s?(?:million|billion|trillion|[MBK])?`),
		date: regexp.MustCompile(`(?:January|February|March|April|May|June|July|August|September|October|November|December)` +
			`\s+\d{1,2}(?:,\s*\d{4})?|Q[1-4]\s+\d{4}`),
		org: []*regexp.Regexp{
			// capitalized run ending in a corporate designator
			regexp.MustCompile(`(?:[A-Z][A-Za-z&-]+\s+)+(?:Inc|Corp|Corporation|LLC|Ltd|Company|Technologies|Therapeutics|Diagnostics|Systems|Health|Healthcare|Medical|Pharmaceuticals|Labs|Devices|Bio)\.?`),
			// camel-case coinage, the common startup naming shape
			regexp.MustCompile(`\b[A-Z][a-z]+[A-Z][A-Za-z]+\b`),
		},
	}, nil
}

func (p *ProseRecognizer) Recognize(text string) ([]Mention, error) {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil, fmt.Errorf("entity pass: %w", err)
	}

	var mentions []Mention
	for _, ent := range doc.Entities() {
		mentions = append(mentions, Mention{Text: ent.Text, Label: ent.Label})
	}
	for _, m := range p.money.FindAllString(text, -1) {
		mentions = append(mentions, Mention{Text: m, Label: "MONEY"})
	}
	for _, m := range p.date.FindAllString(text, -1) {
		mentions = append(mentions, Mention{Text: m, Label: "DATE"})
	}
	for _, re := range p.org {
		for _, m := range re.FindAllString(text, -1) {
			mentions = append(mentions, Mention{Text: m, Label: "ORG"})
		}
	}
	return mentions, nil
}
