package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"NewsHub/internal/domain"
)

var errNoJSONObject = errors.New("response contains no JSON object")

// analysisPayload accepts the loose shapes models actually return.
type analysisPayload struct {
	Teaser         string          `json:"teaser"`
	Summary        string          `json:"summary"`
	Insights       json.RawMessage `json:"insights"`
	RelevanceScore json.RawMessage `json:"relevance_score"`
	Hashtags       json.RawMessage `json:"hashtags"`
}

// parseAnalysis decodes a completion body into an Analysis. Code fences and
// prose around the JSON object are tolerated.
func parseAnalysis(content string) (domain.Analysis, error) {
	body, err := extractJSONObject(content)
	if err != nil {
		return domain.Analysis{}, err
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}

	teaser := strings.TrimSpace(payload.Teaser)
	if teaser == "" {
		teaser = strings.TrimSpace(payload.Summary)
	}

	score, err := decodeScore(payload.RelevanceScore)
	if err != nil {
		return domain.Analysis{}, err
	}

	insights, single, err := decodeList(payload.Insights)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("decode insights: %w", err)
	}
	if single {
		insights = domain.ParseInsights(insights[0])
	}

	hashtags, single, err := decodeList(payload.Hashtags)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("decode hashtags: %w", err)
	}
	if single {
		hashtags = strings.FieldsFunc(hashtags[0], func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t'
		})
	}

	return domain.Analysis{
		Teaser:         teaser,
		Insights:       domain.NormalizeInsights(insights),
		RelevanceScore: domain.ClampScore(score),
		Hashtags:       domain.NormalizeHashtags(hashtags),
	}, nil
}

func extractJSONObject(content string) (string, error) {
	text := strings.TrimSpace(content)

	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	open := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if open < 0 || end < open {
		return "", errNoJSONObject
	}
	return text[open : end+1], nil
}

func decodeScore(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("decode relevance_score: %w", err)
	}
	text = strings.TrimSpace(text)
	if slash := strings.Index(text, "/"); slash > 0 {
		text = strings.TrimSpace(text[:slash])
	}
	number, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("decode relevance_score %q: %w", text, err)
	}
	return number, nil
}

// decodeList accepts either a JSON array of strings or a single string.
// single reports the latter.
func decodeList(raw json.RawMessage) (values []string, single bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, false, err
		}
		return values, false, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, false, err
	}
	return []string{text}, true, nil
}
