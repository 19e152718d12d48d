// Package filter holds the keyword relevance gate used by the collector.
package filter

import (
	"strings"

	"github.com/cloudflare/ahocorasick"

	"NewsHub/internal/domain"
)

// KeywordFilter matches text against per-category keyword lists,
// case-insensitively and as plain substrings.
type KeywordFilter struct {
	matchers map[domain.Category]*ahocorasick.Matcher
}

// NewKeywordFilter compiles one matcher per category.
func NewKeywordFilter(keywords map[domain.Category][]string) *KeywordFilter {
	f := &KeywordFilter{matchers: make(map[domain.Category]*ahocorasick.Matcher, len(keywords))}
	for category, words := range keywords {
		normalized := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				normalized = append(normalized, w)
			}
		}
		if len(normalized) > 0 {
			f.matchers[category] = ahocorasick.NewStringMatcher(normalized)
		}
	}
	return f
}

// Match reports whether text contains any keyword of the category.
// A category without keywords matches nothing.
func (f *KeywordFilter) Match(category domain.Category, text string) bool {
	m, ok := f.matchers[category]
	if !ok {
		return false
	}
	return m.Contains([]byte(strings.ToLower(text)))
}
