package research

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRelevanceScore(t *testing.T) {
	assert.Equal(t, 1.0, RelevanceScore("AI ethics matter.", "AI ethics"))
	assert.Equal(t, 0.0, RelevanceScore("hello world", "xyz"))
	assert.Equal(t, 0.0, RelevanceScore("", "anything"))
	assert.Equal(t, 0.0, RelevanceScore("content", "   "))

	long := strings.Repeat("x", 998) + " go"
	assert.InDelta(t, 1/(1001.0/500)+0.3, RelevanceScore(long, "go"), 1e-9)
}

func TestContentQuality(t *testing.T) {
	assert.Equal(t, 0.0, ContentQuality(""))

	repeated := strings.Repeat("word ", 400)
	assert.InDelta(t, (1+0.2+1.0/400)/3, ContentQuality(repeated), 1e-9)

	structured := strings.Repeat("alpha beta gamma delta\n\n", 5)
	q := ContentQuality(structured)
	assert.Greater(t, q, ContentQuality("alpha beta gamma delta"))
	assert.LessOrEqual(t, q, 1.0)
}

func TestTimeRelevance(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) string { return now.AddDate(0, 0, -d).Format("2006-01-02") }

	assert.Equal(t, 1.0, TimeRelevance(daysAgo(3), now))
	assert.Equal(t, 0.9, TimeRelevance(daysAgo(20), now))
	assert.Equal(t, 0.8, TimeRelevance(daysAgo(60), now))
	assert.Equal(t, 0.6, TimeRelevance(daysAgo(200), now))
	assert.Equal(t, 0.4, TimeRelevance(daysAgo(400), now))
	assert.Equal(t, 0.5, TimeRelevance("", now))
	assert.Equal(t, 0.5, TimeRelevance("sometime last year", now))
	assert.Equal(t, 1.0, TimeRelevance(now.Add(-time.Hour).Format(time.RFC3339), now))
}

func TestSourceAuthority(t *testing.T) {
	cases := map[string]float64{
		"https://mit.edu/research":        0.9,
		"https://www.nasa.gov/missions":   0.9,
		"https://example.org/about":       0.8,
		"https://en.wikipedia.org/wiki/X": 0.8,
		"https://github.com/golang/go":    0.8,
		"https://arxiv.org/abs/1234":      0.8,
		"https://blog.medium.com/post":    0.8,
		"https://example.com/":            0.5,
		"https://notgithub.com/":          0.5,
		"://bad":                          0.5,
		"":                                0.5,
	}
	for raw, want := range cases {
		assert.Equal(t, want, SourceAuthority(raw), raw)
	}
}

func TestScoreAtStartsAtDepthOne(t *testing.T) {
	now := time.Now()
	m := ScoreAt("AI ethics matter.", "AI ethics", "https://stanford.edu", "", now)
	assert.Equal(t, 1, m.DepthLevel)
	assert.Equal(t, 1.0, m.RelevanceScore)
	assert.Equal(t, 0.5, m.TimeRelevance)
	assert.Equal(t, 0.9, m.SourceAuthority)
}
