package facts

import (
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/medwatch/models"
)

// minQuoteLen is the trimmed length a quotation must exceed to be retained.
const minQuoteLen = 20

// QuoteAttributor extracts quotations and their speakers from text. The
// regex implementation below is deliberately simple; a dependency-parse
// attributor can replace it without touching callers.
type QuoteAttributor interface {
	Quotes(text string) []models.Quote
}

const (
	attributionVerbs = `(?:said|stated|announced|commented|explained|added|noted)`
	speakerName      = `[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*`
)

// RegexAttributor matches two complementary shapes: quote-before-speaker and
// speaker-before-quote. Both patterns run independently over the full text,
// so a sentence satisfying both yields two entries; that is accepted, not
// deduplicated.
type RegexAttributor struct {
	quoteFirst   *regexp.Regexp
	speakerFirst *regexp.Regexp
}

func NewRegexAttributor() *RegexAttributor {
	return &RegexAttributor{
		quoteFirst:   regexp.MustCompile(`["'](.*?)["']\s*` + attributionVerbs + `\s+(` + speakerName + `)`),
		speakerFirst: regexp.MustCompile(`(` + speakerName + `)\s+` + attributionVerbs + `\s+["'](.*?)["']`),
	}
}

func (a *RegexAttributor) Quotes(text string) []models.Quote {
	quotes := []models.Quote{}
	for _, m := range a.quoteFirst.FindAllStringSubmatch(text, -1) {
		quotes = appendQuote(quotes, m[1], m[2])
	}
	for _, m := range a.speakerFirst.FindAllStringSubmatch(text, -1) {
		quotes = appendQuote(quotes, m[2], m[1])
	}
	return quotes
}

func appendQuote(quotes []models.Quote, text, speaker string) []models.Quote {
	text = strings.TrimSpace(text)
	if len(text) <= minQuoteLen {
		return quotes
	}
	return append(quotes, models.Quote{Text: text, Speaker: speaker})
}
