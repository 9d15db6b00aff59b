package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/storage/kv"
)

func TestListsBehaveLikeRedis(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.LPush(ctx, "l", "a", "b"))
	require.NoError(t, s.LPush(ctx, "l", "c"))

	all, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, all)

	tail, err := s.LRange(ctx, "l", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, tail)

	empty, err := s.LRange(ctx, "missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHashMissingIsNotFound(t *testing.T) {
	_, err := NewStore().HGetAll(context.Background(), "nope")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestSortedSetOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.ZAdd(ctx, "z", 3, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "b"))

	asc, err := s.ZRange(ctx, "z", 0, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, asc)

	desc, err := s.ZRange(ctx, "z", 0, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, desc)

	require.NoError(t, s.ZRem(ctx, "z", "b"))
	asc, err = s.ZRange(ctx, "z", 0, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, asc)
}

func TestPipelineIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.Pipeline(ctx, func(p kv.Pipe) error {
		p.HSet("h", map[string]string{"k": "v"})
		return errors.New("abort")
	})
	require.Error(t, err)
	_, err = s.HGetAll(ctx, "h")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Pipeline(ctx, func(p kv.Pipe) error {
		p.HSet("h", map[string]string{"k": "v"})
		p.ZAdd("z", 1, "h")
		return nil
	}))
	h, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "v", h["k"])
}
