package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.InitSchema())
	return c
}

func TestInsertAndGetTurnHistory(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	base := time.UnixMilli(1700000000000)
	require.NoError(t, c.InsertTurn(ctx, &models.TurnRecord{
		ID: "t1", ChatID: "c1", UserID: "u1", Model: "openai:gpt-4o-mini",
		QueryText: "first", Response: "answer", FinishReason: "stop",
		PromptTokens: 10, CompletionTokens: 5, DepthReached: 1, SearchUsed: true,
		CreatedAt: base,
		Sources: []models.TurnSource{
			{URL: "https://a.example", Title: "A", Relevance: 0.4, CompositeScore: 0.5},
			{URL: "https://b.example", Title: "B", Relevance: 0.9, CompositeScore: 0.8},
		},
	}))
	require.NoError(t, c.InsertTurn(ctx, &models.TurnRecord{
		ID: "t2", ChatID: "c1", UserID: "u1", Model: "openai:gpt-4o-mini",
		QueryText: "second", FinishReason: "error", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, c.InsertTurn(ctx, &models.TurnRecord{
		ID: "t3", ChatID: "c2", UserID: "u2", Model: "m", QueryText: "other", FinishReason: "stop", CreatedAt: base,
	}))

	history, err := c.GetTurnHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "t2", history[0].ID)
	assert.Empty(t, history[0].Sources)

	first := history[1]
	assert.Equal(t, "first", first.QueryText)
	assert.True(t, first.SearchUsed)
	assert.Equal(t, base, first.CreatedAt)
	require.Len(t, first.Sources, 2)
	assert.Equal(t, "https://b.example", first.Sources[0].URL)

	limited, err := c.GetTurnHistory(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInsertTurnDuplicateRollsBack(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	rec := &models.TurnRecord{ID: "t1", ChatID: "c1", UserID: "u1", Model: "m", QueryText: "q", FinishReason: "stop", CreatedAt: time.Now()}
	require.NoError(t, c.InsertTurn(ctx, rec))

	rec.Sources = []models.TurnSource{{URL: "https://a.example"}}
	require.Error(t, c.InsertTurn(ctx, rec))

	history, err := c.GetTurnHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Sources)
}
