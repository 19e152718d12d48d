package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxRelevance is the upper bound of the relevance scale.
const MaxRelevance = 10.0

// Analysis is the canonical enrichment produced for one item.
type Analysis struct {
	Teaser         string   `json:"teaser"`
	Insights       []string `json:"insights"`
	RelevanceScore float64  `json:"relevance_score"`
	Hashtags       []string `json:"hashtags"`
	Model          string   `json:"-"`
	Degraded       bool     `json:"-"`
}

// NeutralAnalysis is used when every model failed.
func NeutralAnalysis() Analysis {
	return Analysis{
		Teaser:         "Analysis is temporarily unavailable.",
		Insights:       []string{"AI analysis could not be completed."},
		RelevanceScore: 5,
		Hashtags:       []string{"#News"},
		Degraded:       true,
	}
}

// UnparsableAnalysis is used when the model answered with malformed JSON.
func UnparsableAnalysis() Analysis {
	return Analysis{
		Teaser:         "Analysis error.",
		Insights:       []string{},
		RelevanceScore: 0,
		Hashtags:       []string{},
		Degraded:       true,
	}
}

// ClampScore keeps a score on the 0–10 scale.
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > MaxRelevance:
		return MaxRelevance
	}
	return score
}

// ParseInsights splits a newline-delimited insight block into points.
func ParseInsights(block string) []string {
	return NormalizeInsights(strings.Split(block, "\n"))
}

// NormalizeInsights strips existing bullet markers and drops empty points.
// Dashes and asterisks count as markers only when followed by a space, so
// "-5%" or "*bold*" keep their first character.
func NormalizeInsights(points []string) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		if p = trimBullets(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimBullets(p string) string {
	p = strings.TrimSpace(p)
	for {
		r, size := utf8.DecodeRuneInString(p)
		switch {
		case r == '•' || r == '·':
		case strings.ContainsRune("-*–—", r) && len(p) > size && (p[size] == ' ' || p[size] == '\t'):
		default:
			return p
		}
		p = strings.TrimSpace(p[size:])
	}
}

// NormalizeHashtags ensures a single leading '#' and drops blanks and repeats.
func NormalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimLeft(strings.TrimSpace(tag), "#")
		tag = strings.Join(strings.Fields(tag), "")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, "#"+tag)
	}
	return out
}
