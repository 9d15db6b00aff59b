package research

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/storage/memory"
)

func TestStoreLoadsIdleSessionForUnknownChat(t *testing.T) {
	s := NewStore(memory.NewStore(), 5)

	session, err := s.Load(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.False(t, session.IsActive)
	assert.False(t, session.IsCleared)
	assert.Equal(t, 0, session.CurrentDepth)
	assert.Equal(t, 5, session.MaxDepth)
	assert.Empty(t, session.Sources)
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewStore(), DefaultMaxDepth)

	loaded, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)

	c := RestoreController(loaded, DefaultRules())
	_, err = c.Dispatch(ActivityAdded{Activity: Activity{Type: ActivitySearch, Status: StatusComplete, Message: "first", Timestamp: 1}})
	require.NoError(t, err)
	_, err = c.Dispatch(ActivityAdded{Activity: Activity{Type: ActivityExtract, Status: StatusComplete, Message: "second", Timestamp: 2}})
	require.NoError(t, err)
	_, _, err = c.AddSource(Source{URL: "https://a.com", Relevance: 0.7}, metricsAt(0, 0.7, 0.5))
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "chat-1", loaded, c.Snapshot()))

	reloaded, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, reloaded.IsActive)
	assert.Equal(t, 1, reloaded.CurrentDepth)
	require.Len(t, reloaded.Activity, 2)
	assert.Equal(t, "first", reloaded.Activity[0].Message)
	assert.Equal(t, "second", reloaded.Activity[1].Message)
	require.Len(t, reloaded.Sources, 1)
	require.NotNil(t, reloaded.Sources[0].Metrics)
	assert.Equal(t, 1, reloaded.Sources[0].Metrics.DepthLevel)
	assert.InDelta(t, 0.7, reloaded.DepthScores[1], 1e-9)

	// A second turn only appends what it added.
	c = RestoreController(reloaded, DefaultRules())
	_, err = c.Dispatch(ActivityAdded{Activity: Activity{Message: "third", Timestamp: 3}})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "chat-1", reloaded, c.Snapshot()))

	again, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, again.Activity, 3)
	assert.Len(t, again.Sources, 1)
}

func seedSession(t *testing.T, s *Store, chatID string, sources int) Session {
	t.Helper()
	ctx := context.Background()

	loaded, err := s.Load(ctx, chatID)
	require.NoError(t, err)
	c := RestoreController(loaded, DefaultRules())
	_, err = c.Dispatch(ActivityAdded{Activity: Activity{Type: ActivitySearch, Status: StatusComplete, Message: "a", Timestamp: 1}})
	require.NoError(t, err)
	for i := 0; i < sources; i++ {
		_, _, err = c.AddSource(Source{URL: fmt.Sprintf("https://a.com/%d", i), Relevance: 0.9}, metricsAt(0, 0.9, 0.8))
		require.NoError(t, err)
	}
	require.NoError(t, s.Save(ctx, chatID, loaded, c.Snapshot()))

	stored, err := s.Load(ctx, chatID)
	require.NoError(t, err)
	return stored
}

func TestStoreClearAndReactivate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewStore(), DefaultMaxDepth)
	seedSession(t, s, "chat-1", 1)

	cleared, err := s.SetCleared(ctx, "chat-1", true)
	require.NoError(t, err)
	assert.True(t, cleared.IsCleared)
	assert.NotEmpty(t, cleared.ClearedAt)

	session, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, session.IsCleared)
	assert.Empty(t, session.Activity)
	assert.Empty(t, session.Sources)
	assert.ErrorIs(t, s.Save(ctx, "chat-1", session, session), ErrSessionCleared)

	reactivated, err := s.SetCleared(ctx, "chat-1", false)
	require.NoError(t, err)
	assert.False(t, reactivated.IsCleared)
	assert.Empty(t, reactivated.ClearedAt)

	session, err = s.Load(ctx, "chat-1")
	require.NoError(t, err)
	c := RestoreController(session, DefaultRules())
	_, err = c.Dispatch(ActivityAdded{Activity: Activity{Message: "b", Timestamp: 2}})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "chat-1", session, c.Snapshot()))

	session, err = s.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, session.IsCleared)
	require.Len(t, session.Activity, 1)
	assert.Equal(t, "b", session.Activity[0].Message)
}

func TestReactivatingLiveSessionKeepsDepth(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewStore(), DefaultMaxDepth)
	before := seedSession(t, s, "chat-1", 5)
	require.True(t, before.IsActive)
	require.GreaterOrEqual(t, before.CurrentDepth, 2)

	got, err := s.SetCleared(ctx, "chat-1", false)
	require.NoError(t, err)
	assert.Equal(t, before.CurrentDepth, got.CurrentDepth)
	assert.True(t, got.IsActive)
	assert.Len(t, got.Sources, 5)

	after, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, before.CurrentDepth, after.CurrentDepth)
	assert.Equal(t, before.CompletedSteps, after.CompletedSteps)
	assert.Equal(t, before.DepthScores, after.DepthScores)
	assert.True(t, after.IsActive)
	assert.Len(t, after.Sources, 5)
}

func TestSaveRefusesSessionClearedMidTurn(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewStore(), DefaultMaxDepth)

	loaded, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	c := RestoreController(loaded, DefaultRules())
	_, _, err = c.AddSource(Source{URL: "https://a.com", Relevance: 0.7}, metricsAt(0, 0.7, 0.5))
	require.NoError(t, err)

	_, err = s.SetCleared(ctx, "chat-1", true)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Save(ctx, "chat-1", loaded, c.Snapshot()), ErrSessionCleared)

	after, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, after.IsCleared)
	assert.False(t, after.IsActive)
	assert.Equal(t, 0, after.CurrentDepth)
	assert.Empty(t, after.Sources)

	sources, err := s.kv.LRange(ctx, SourcesKey("chat-1"), 0, -1)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestViewDeduplicates(t *testing.T) {
	s := NewSession(7)
	s.Sources = []Source{{URL: "u", Relevance: 0.5}, {URL: "u", Relevance: 0.5}, {URL: "u", Relevance: 0.6}}
	s.Activity = []Activity{{Timestamp: 1, Message: "m"}, {Timestamp: 1, Message: "m"}}

	v := NewView(s)
	assert.Len(t, v.Sources, 2)
	assert.Len(t, v.Activity, 1)
}
