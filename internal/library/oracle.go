package library

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sortd/sortd/internal/collection"
)

var fold = cases.Fold()

// KeywordOracle classifies items by keyword match: an item matches a
// criterion when every whitespace-separated term appears, case-folded, in
// its title or description. An empty criterion matches everything.
//
// This is the offline stand-in for an external classifier; it satisfies
// the same contract and never declines an item.
type KeywordOracle struct{}

// Classify implements collection.Oracle.
func (KeywordOracle) Classify(ctx context.Context, items []collection.Item, criterion string) (map[string]bool, error) {
	terms := strings.Fields(fold.String(criterion))
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it.ID] = matches(it, terms)
	}
	return out, nil
}

func matches(it collection.Item, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	text := fold.String(it.Title + " " + it.Description)
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

// StaticTokens is a no-op TokenProvider for local adapters that need no
// credentials.
type StaticTokens struct{}

// Refresh implements collection.TokenProvider.
func (StaticTokens) Refresh(ctx context.Context) error { return nil }
