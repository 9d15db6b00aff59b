package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupSourcesByURLAndRelevance(t *testing.T) {
	same := []Source{
		{URL: "https://a.com", Relevance: 0.5, Title: "first"},
		{URL: "https://a.com", Relevance: 0.5, Title: "second"},
	}
	out := DedupSources(same)
	if assert.Len(t, out, 1) {
		assert.Equal(t, "first", out[0].Title)
	}

	differing := []Source{
		{URL: "https://a.com", Relevance: 0.5},
		{URL: "https://a.com", Relevance: 0.6},
	}
	assert.Len(t, DedupSources(differing), 2)
}

func TestDedupActivities(t *testing.T) {
	activities := []Activity{
		{Timestamp: 1, Message: "search", Depth: 1},
		{Timestamp: 1, Message: "search", Depth: 1, Status: StatusComplete},
		{Timestamp: 1, Message: "search", Depth: 2},
		{Timestamp: 2, Message: "search", Depth: 1},
	}
	assert.Len(t, DedupActivities(activities), 3)
}
