// Package facts derives structured facts (entities, quotes, emerging
// companies) from article text. Everything here is local computation with no
// network side effects.
package facts

import (
	"strings"

	"github.com/mohammad-safakhou/medwatch/models"
)

// labelCategories maps recognizer labels onto the five tracked categories.
// Mentions with any other label are discarded.
var labelCategories = map[string]models.EntityCategory{
	"PERSON":       models.CategoryPerson,
	"ORG":          models.CategoryOrg,
	"ORGANIZATION": models.CategoryOrg,
	"MONEY":        models.CategoryMoney,
	"DATE":         models.CategoryDate,
	"GPE":          models.CategoryGPE,
}

// Entities runs the recognizer over text and folds the mentions into an
// EntitySet: tracked categories only, exact-text dedup, first-seen order.
func Entities(r Recognizer, text string) (models.EntitySet, error) {
	mentions, err := r.Recognize(text)
	if err != nil {
		return nil, err
	}
	es := models.NewEntitySet()
	for _, m := range mentions {
		cat, ok := labelCategories[m.Label]
		if !ok {
			continue
		}
		es.Add(cat, m.Text)
	}
	return es, nil
}

// corpSuffixes exclude generic corporate naming from emerging detection.
var corpSuffixes = []string{"inc", "llc", "ltd", "corp"}

// Emerging returns the ORG mentions judged new: not registered, longer than
// three characters, and free of generic corporate suffixes. Order follows the
// entity set's ORG list. With an empty registry this fails open.
func Emerging(entities models.EntitySet, registry *Registry) []string {
	emerging := []string{}
	for _, org := range entities[models.CategoryOrg] {
		if registry.Known(org) {
			continue
		}
		if len(org) <= 3 {
			continue
		}
		lower := strings.ToLower(org)
		generic := false
		for _, suffix := range corpSuffixes {
			if strings.Contains(lower, suffix) {
				generic = true
				break
			}
		}
		if generic {
			continue
		}
		emerging = append(emerging, org)
	}
	return emerging
}
