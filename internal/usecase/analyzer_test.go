package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsHub/internal/domain"
	"NewsHub/internal/logging"
	"NewsHub/internal/ports"
)

func newTestAnalyzer(store ports.Store, chat *fakeChat, models ...string) *Analyzer {
	return NewAnalyzer(AnalyzerDeps{
		Store:      store,
		Chat:       chat,
		Models:     models,
		Thresholds: domain.DefaultThresholds(),
		Retry:      fastRetry(),
		Logger:     logging.Discard(),
		Now:        fixedNow,
	})
}

const highScoreReply = "Here you go:\n```json\n{\"teaser\": \"Big news\", \"insights\": [\"• one\", \"two\"], \"relevance_score\": 9, \"hashtags\": [\"Crypto\", \"#Bitcoin\"]}\n```"

func TestAnalyzeItemFallsBackToNextModel(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	item := seedAnalyzed(t, store, "bitcoin", -1, domain.CategoryCrypto)
	chat := &fakeChat{replies: map[string][]chatReply{
		"primary":  {{err: serverError("complete")}, {err: serverError("complete")}},
		"fallback": {{content: highScoreReply}},
	}}

	ok, err := newTestAnalyzer(store, chat, "primary", "fallback").AnalyzeItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"primary", "primary", "fallback"}, chat.Calls())

	got := loadItem(t, store, item.ID)
	assert.Equal(t, domain.StatusAnalyzed, got.Status)
	assert.True(t, got.RequiresModeration)
	require.NotNil(t, got.RelevanceScore)
	assert.Equal(t, 9.0, *got.RelevanceScore)
	assert.Equal(t, "Big news", got.Summary)
	assert.Equal(t, []string{"one", "two"}, got.Insights)
	assert.Equal(t, []string{"#Crypto", "#Bitcoin"}, got.Hashtags)

	tasks := store.Tasks(item.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskCompleted, tasks[0].Status)
	assert.Equal(t, "fallback", tasks[0].Model)
	require.NotNil(t, tasks[0].Cost)
	assert.Contains(t, tasks[0].Output, `"relevance_score":9`)
	assert.NotNil(t, tasks[0].CompletedAt)
}

func TestAnalyzeItemUsesNeutralResultWhenAllModelsFail(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	item := seedAnalyzed(t, store, "ethereum", -1, domain.CategoryCrypto)
	chat := &fakeChat{replies: map[string][]chatReply{}}

	ok, err := newTestAnalyzer(store, chat, "a", "b").AnalyzeItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, chat.Calls())

	got := loadItem(t, store, item.ID)
	assert.Equal(t, domain.StatusAnalyzed, got.Status)
	assert.False(t, got.RequiresModeration)
	assert.Equal(t, 5.0, got.Score())
	assert.Equal(t, domain.NeutralAnalysis().Teaser, got.Summary)
	assert.Equal(t, []string{"#News"}, got.Hashtags)
}

func TestAnalyzeItemMalformedJSONRejects(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	item := seedAnalyzed(t, store, "kremlin", -1, domain.CategoryPolitics)
	chat := &fakeChat{replies: map[string][]chatReply{
		"m": {{content: "I cannot answer in JSON, sorry"}},
	}}

	ok, err := newTestAnalyzer(store, chat, "m").AnalyzeItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got := loadItem(t, store, item.ID)
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.Equal(t, 0.0, got.Score())

	tasks := store.Tasks(item.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskCompleted, tasks[0].Status)
}

func TestAnalyzeItemSkipsNonPending(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	item := seedAnalyzed(t, store, "done", 6, domain.CategoryCrypto)
	chat := &fakeChat{replies: map[string][]chatReply{}}

	ok, err := newTestAnalyzer(store, chat, "m").AnalyzeItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, chat.Calls())
	assert.Empty(t, store.Tasks(item.ID))
}

func TestAnalyzeItemNotFound(t *testing.T) {
	t.Parallel()

	_, err := newTestAnalyzer(newMemoryStore(), &fakeChat{}, "m").AnalyzeItem(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnalyzePendingCountsOutcomes(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	seedAnalyzed(t, store, "one", -1, domain.CategoryCrypto)
	seedAnalyzed(t, store, "two", -1, domain.CategoryCrypto)
	seedAnalyzed(t, store, "three", -1, domain.CategoryCrypto)
	seedAnalyzed(t, store, "old", 7, domain.CategoryCrypto)

	chat := &fakeChat{replies: map[string][]chatReply{
		"m": {
			{content: `{"teaser": "t", "insights": "a\nb", "relevance_score": 6, "hashtags": "#A #B"}`},
			{content: `{"teaser": "t", "insights": [], "relevance_score": "2/10", "hashtags": []}`},
			{content: `{"teaser": "t", "insights": [], "relevance_score": 8, "hashtags": []}`},
		},
	}}

	report, err := newTestAnalyzer(store, chat, "m").AnalyzePending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, AnalysisReport{Total: 3, Analyzed: 2, Rejected: 1}, report)
}

func TestAnalyzePendingDefaultsNonPositiveLimit(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	for _, title := range []string{"one", "two", "three"} {
		seedAnalyzed(t, store, title, -1, domain.CategoryCrypto)
	}
	analyzer := NewAnalyzer(AnalyzerDeps{
		Store:      store,
		Chat:       &fakeChat{replies: map[string][]chatReply{}},
		Models:     []string{"m"},
		BatchLimit: 2,
		Thresholds: domain.DefaultThresholds(),
		Retry:      fastRetry(),
		Logger:     logging.Discard(),
		Now:        fixedNow,
	})

	report, err := analyzer.AnalyzePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)

	report, err = analyzer.AnalyzePending(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)

	var pending []domain.NewsItem
	require.NoError(t, store.Scope(context.Background(), func(ctx context.Context, repo ports.Repository) error {
		var err error
		pending, err = repo.ListItems(ctx, ports.ItemFilter{Status: domain.StatusPending})
		return err
	}))
	assert.Len(t, pending, 0)
}

func TestParseAnalysisShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		score    float64
		insights []string
		hashtags []string
	}{
		{
			name:     "plain object",
			content:  `{"teaser": "x", "insights": ["a", "b"], "relevance_score": 7.5, "hashtags": ["#A"]}`,
			score:    7.5,
			insights: []string{"a", "b"},
			hashtags: []string{"#A"},
		},
		{
			name:     "fence without language",
			content:  "```\n{\"teaser\": \"x\", \"insights\": \"- a\\n- b\", \"relevance_score\": 3, \"hashtags\": \"#A, #B\"}\n```",
			score:    3,
			insights: []string{"a", "b"},
			hashtags: []string{"#A", "#B"},
		},
		{
			name:     "prose around and clamped score",
			content:  "Sure! {\"teaser\": \"x\", \"relevance_score\": 14} Hope it helps.",
			score:    10,
			insights: []string{},
			hashtags: []string{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseAnalysis(tt.content)
			require.NoError(t, err)
			assert.Equal(t, "x", got.Teaser)
			assert.Equal(t, tt.score, got.RelevanceScore)
			assert.Equal(t, tt.insights, got.Insights)
			assert.Equal(t, tt.hashtags, got.Hashtags)
		})
	}
}

func TestParseAnalysisRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, content := range []string{"", "no json here", "{broken", `{"relevance_score": "high"}`} {
		if _, err := parseAnalysis(content); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}
