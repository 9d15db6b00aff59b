package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/storage/memory"
)

func newRepo() (*Repository, *memory.Store) {
	store := memory.NewStore()
	r := NewRepository(store, "chart_data")
	tick := time.Unix(1700000000, 0)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return r, store
}

func TestSaveGetList(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo()

	first := &Chat{ID: "c1", Title: "first", UserID: "u1", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	second := &Chat{ID: "c2", Title: "second", UserID: "u1"}
	require.NoError(t, r.Save(ctx, first))
	require.NoError(t, r.Save(ctx, second))

	got, err := r.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
	assert.Equal(t, "/search/c1", got.Path)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, got.Messages)
	assert.False(t, got.CreatedAt.IsZero())

	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
	assert.Equal(t, "c1", list[1].ID)

	empty, err := r.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTearsDownResearch(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo()
	rs := research.NewStore(store, 7)

	require.NoError(t, r.Save(ctx, &Chat{ID: "c1", UserID: "u1"}))
	loaded, err := rs.Load(ctx, "c1")
	require.NoError(t, err)
	current, err := research.Transition(loaded, research.ActivityAdded{Activity: research.Activity{Message: "searching"}}, research.DefaultRules())
	require.NoError(t, err)
	require.NoError(t, rs.Save(ctx, "c1", loaded, current))

	require.NoError(t, r.Delete(ctx, "u1", "c1"))

	_, err = r.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	s, err := rs.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, s.Activity)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo()
	require.NoError(t, r.Save(ctx, &Chat{ID: "a", UserID: "u1"}))
	require.NoError(t, r.Save(ctx, &Chat{ID: "b", UserID: "u1"}))
	require.NoError(t, r.Save(ctx, &Chat{ID: "c", UserID: "u2"}))

	n, err := r.ClearAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = r.List(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetLiftsEmbeddedCharts(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo()

	content := `Intro <chart_data>{"type":"bar","labels":["A"],"datasets":[{"label":"x","data":[1]}]}</chart_data> outro`
	require.NoError(t, r.Save(ctx, &Chat{ID: "c1", Messages: []llm.Message{{Role: llm.RoleAssistant, Content: content}}}))

	got, err := r.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Intro  outro", got.Messages[0].Content)
	require.Len(t, got.Messages[0].Annotations, 1)
	assert.Contains(t, string(got.Messages[0].Annotations[0]), `"type":"chart"`)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "question", Title([]llm.Message{{Role: llm.RoleAssistant, Content: "x"}, {Role: llm.RoleUser, Content: " question "}}))
	assert.Equal(t, "Untitled", Title(nil))
}
