package research

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricsAt(depth int, relevance, quality float64) SourceMetrics {
	return SourceMetrics{RelevanceScore: relevance, DepthLevel: depth, ContentQuality: quality, TimeRelevance: 0.5, SourceAuthority: 0.5}
}

func TestAIEthicsScenarioAdvancesToDepthTwo(t *testing.T) {
	c := NewController(DefaultMaxDepth, DefaultRules())

	var advanced bool
	for i := 0; i < 5; i++ {
		src := Source{URL: fmt.Sprintf("https://example.edu/ai-ethics/%d", i), Title: "AI ethics", Relevance: 0.9, QueryUsed: "AI ethics"}
		var err error
		_, advanced, err = c.AddSource(src, metricsAt(0, 0.9, 0.8))
		require.NoError(t, err)
		if i < 4 {
			assert.False(t, advanced, "advanced after %d sources", i+1)
		}
	}

	s := c.Snapshot()
	assert.True(t, advanced)
	assert.Equal(t, 2, s.CurrentDepth)
	assert.Equal(t, 0.0, s.DepthScores[2])
	assert.InDelta(t, 0.9, s.DepthScores[1], 1e-9)
	for _, m := range s.Metrics() {
		assert.Equal(t, 1, m.DepthLevel)
	}
}

func TestShouldAdvanceNeverPastMaxDepth(t *testing.T) {
	s := NewSession(3)
	s.CurrentDepth = 3

	var metrics []SourceMetrics
	for i := 0; i < 20; i++ {
		metrics = append(metrics, metricsAt(3, 1, 1))
	}
	assert.False(t, ShouldAdvance(s, metrics, DefaultRules()))
	assert.False(t, ShouldAdvance(s, nil, Rules{}))
}

func TestShouldAdvanceThresholds(t *testing.T) {
	s := NewSession(7)
	s.CurrentDepth = 1
	rules := DefaultRules()

	four := []SourceMetrics{metricsAt(1, 1, 1), metricsAt(1, 1, 1), metricsAt(1, 1, 1), metricsAt(1, 1, 1)}
	assert.False(t, ShouldAdvance(s, four, rules), "too few sources")

	// effective threshold at depth 1 of 7 is 0.7 * (1 - 1/7*0.3) = 0.67
	lowRelevance := append(append([]SourceMetrics{}, four...), metricsAt(1, 0, 1))
	for i := range lowRelevance {
		lowRelevance[i].RelevanceScore = 0.66
	}
	assert.False(t, ShouldAdvance(s, lowRelevance, rules))
	for i := range lowRelevance {
		lowRelevance[i].RelevanceScore = 0.68
	}
	assert.True(t, ShouldAdvance(s, lowRelevance, rules))

	lowQuality := []SourceMetrics{metricsAt(1, 1, 0.5), metricsAt(1, 1, 0.5), metricsAt(1, 1, 0.5), metricsAt(1, 1, 0.5), metricsAt(1, 1, 0.5)}
	assert.False(t, ShouldAdvance(s, lowQuality, rules))

	otherDepth := []SourceMetrics{metricsAt(2, 1, 1), metricsAt(2, 1, 1), metricsAt(2, 1, 1), metricsAt(2, 1, 1), metricsAt(2, 1, 1)}
	assert.False(t, ShouldAdvance(s, otherDepth, rules))
}

func TestDepthIsMonotonicUntilCleared(t *testing.T) {
	c := NewController(3, Rules{MinRelevanceForNextDepth: 0.1, MaxSourcesPerDepth: 1, QualityThreshold: 0.1})

	prev := 0
	for i := 0; i < 10; i++ {
		s, _, err := c.AddSource(Source{URL: fmt.Sprintf("https://a.com/%d", i), Relevance: 1}, metricsAt(0, 1, 1))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.CurrentDepth, prev)
		assert.LessOrEqual(t, s.CurrentDepth, 3)
		prev = s.CurrentDepth
	}
	assert.Equal(t, 3, prev)

	s, err := c.Dispatch(ActiveSet{Active: false})
	require.NoError(t, err)
	assert.Equal(t, 3, s.CurrentDepth)

	s, err = c.Dispatch(Cleared{At: "now"})
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentDepth)
	assert.True(t, s.IsCleared)
	assert.Empty(t, s.Sources)
	assert.Equal(t, 3, s.MaxDepth)
}

func TestClearedSessionRejectsMutation(t *testing.T) {
	c := NewController(DefaultMaxDepth, DefaultRules())
	_, err := c.Dispatch(ActivityAdded{Activity: Activity{Type: ActivitySearch, Status: StatusPending, Message: "q"}})
	require.NoError(t, err)

	_, err = c.Dispatch(Cleared{})
	require.NoError(t, err)

	_, _, err = c.AddSource(Source{URL: "https://a.com"}, metricsAt(0, 1, 1))
	assert.ErrorIs(t, err, ErrSessionCleared)
	_, err = c.Dispatch(ActivityAdded{Activity: Activity{Message: "x"}})
	assert.ErrorIs(t, err, ErrSessionCleared)
	assert.Empty(t, c.Snapshot().Activity)

	s, err := c.Dispatch(Reactivated{})
	require.NoError(t, err)
	assert.False(t, s.IsCleared)

	s, _, err = c.AddSource(Source{URL: "https://a.com"}, metricsAt(0, 1, 1))
	require.NoError(t, err)
	assert.Len(t, s.Sources, 1)
	assert.Equal(t, 1, s.CurrentDepth)
	assert.True(t, s.IsActive)
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	s := NewSession(5)
	next, err := Transition(s, SourceAdded{Source: Source{URL: "https://a.com", Relevance: 0.4}, Metrics: metricsAt(0, 0.4, 0.4)}, DefaultRules())
	require.NoError(t, err)

	assert.Empty(t, s.Sources)
	assert.Empty(t, s.DepthScores)
	assert.Equal(t, 0, s.CurrentDepth)
	assert.Len(t, next.Sources, 1)
}

func TestDuplicateSourceIsNoop(t *testing.T) {
	c := NewController(DefaultMaxDepth, DefaultRules())
	src := Source{URL: "https://a.com", Relevance: 0.5}
	_, _, err := c.AddSource(src, metricsAt(0, 0.5, 0.5))
	require.NoError(t, err)
	s, _, err := c.AddSource(src, metricsAt(0, 0.5, 0.5))
	require.NoError(t, err)
	assert.Len(t, s.Sources, 1)

	src.Relevance = 0.6
	s, _, err = c.AddSource(src, metricsAt(0, 0.6, 0.5))
	require.NoError(t, err)
	assert.Len(t, s.Sources, 2)
}

func TestOptimizeThresholds(t *testing.T) {
	s := NewSession(7)
	s.Sources = []Source{
		{URL: "a", Metrics: &SourceMetrics{RelevanceScore: 1, DepthLevel: 1}},
		{URL: "b", Metrics: &SourceMetrics{RelevanceScore: 0.8, DepthLevel: 1}},
		{URL: "c", Metrics: &SourceMetrics{RelevanceScore: 0.2, DepthLevel: 2}},
	}

	next := OptimizeThresholds(s)
	assert.InDelta(t, 0.9, next.DepthScores[1], 1e-9)
	assert.InDelta(t, 0.2, next.DepthScores[2], 1e-9)
	assert.InDelta(t, 0.55, next.AdaptiveThreshold, 1e-9)
	assert.InDelta(t, 0.45, next.MinRelevanceScore, 1e-9)

	low := NewSession(7)
	low.Sources = []Source{{URL: "a", Metrics: &SourceMetrics{RelevanceScore: 0, DepthLevel: 1}}}
	next = OptimizeThresholds(low)
	assert.Equal(t, 0.5, next.AdaptiveThreshold)
	assert.Equal(t, 0.4, next.MinRelevanceScore)
}

func TestActiveSetCompletesPendingActivities(t *testing.T) {
	s := NewSession(7)
	s, err := Transition(s, ActivityAdded{Activity: Activity{Status: StatusPending, Message: "searching"}}, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Activity[0].Depth)

	s, err = Transition(s, ActiveSet{Active: false}, DefaultRules())
	require.NoError(t, err)
	assert.False(t, s.IsActive)
	assert.Equal(t, StatusComplete, s.Activity[0].Status)
}

func TestMaxDepthIsClamped(t *testing.T) {
	assert.Equal(t, DefaultMaxDepth, NewSession(0).MaxDepth)
	assert.Equal(t, MaxDepthLimit, NewSession(42).MaxDepth)
	assert.Equal(t, 1, NewSession(1).MaxDepth)
}
