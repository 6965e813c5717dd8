package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThreadContext_MinimalSnapshot(t *testing.T) {
	registry := NewMasterRegistry()
	s := InitMinimal(1)
	registry.AddToMaster(s)

	ctx, err := NewThreadContext(registry, &ThreadHandle{ID: 1, Name: "w1"}, ThreadContextOptions{})
	require.NoError(t, err)
	assert.Same(t, s, ctx.Snapshot)
	assert.EqualValues(t, 1, s.RefCount())
	assert.Nil(t, ctx.MatchQueue, "minimal snapshots skip scratch allocation")

	ctx.Destroy()
	assert.EqualValues(t, 0, s.RefCount())
}

func TestNewThreadContext_FullSnapshotSizesScratch(t *testing.T) {
	registry := NewMasterRegistry()
	s, err := Init(1, BuildOptions{MPMMatcher: MatcherDefault})
	require.NoError(t, err)
	s.Signatures = []CompiledSignature{{ID: 1}, {ID: 2}, {ID: 3}}
	registry.AddToMaster(s)

	ctx, err := NewThreadContext(registry, &ThreadHandle{ID: 1, Name: "w1"}, ThreadContextOptions{MaxLocalID: 4})
	require.NoError(t, err)
	assert.Len(t, ctx.MatchQueue, 3)
	assert.Len(t, ctx.DeState, 3)
	assert.Len(t, ctx.MatchArray, 3)
	assert.Len(t, ctx.ByteExtractVals, 5)
	assert.False(t, ctx.Adopted())

	ctx.MarkAdopted()
	assert.True(t, ctx.Adopted())

	ctx.Destroy()
	assert.EqualValues(t, 0, s.RefCount())
}

func TestNewThreadContext_NoSnapshotAvailable(t *testing.T) {
	registry := NewMasterRegistry()
	_, err := NewThreadContext(registry, &ThreadHandle{ID: 1}, ThreadContextOptions{})
	assert.ErrorIs(t, err, ErrNoSnapshotForThread)
}

func TestNewThreadContext_UnitTestFallback(t *testing.T) {
	registry := NewMasterRegistry()
	s := InitMinimal(9)

	ctx, err := NewThreadContext(registry, &ThreadHandle{ID: 1}, ThreadContextOptions{
		Snapshot:       s,
		UnitTestRunner: true,
	})
	require.NoError(t, err)
	assert.Same(t, s, ctx.Snapshot)
	assert.EqualValues(t, 1, s.RefCount())
}

func TestNewThreadContext_KeywordInitFailureCleansUp(t *testing.T) {
	registry := NewMasterRegistry()
	s, err := Init(1, BuildOptions{MPMMatcher: MatcherDefault})
	require.NoError(t, err)

	var freed []string
	s.Keywords.Register("good", dummyInit, "x", func(any) { freed = append(freed, "good") }, KeywordModeSingle)
	s.Keywords.Register("bad", failingInit, "y", func(any) { freed = append(freed, "bad") }, KeywordModeSingle)
	registry.AddToMaster(s)

	_, err = NewThreadContext(registry, &ThreadHandle{ID: 1}, ThreadContextOptions{})
	assert.ErrorIs(t, err, ErrKeywordInitFailed)
	assert.Equal(t, []string{"good"}, freed, "already-initialized sub-contexts must be unwound")
	assert.EqualValues(t, 0, s.RefCount(), "failed init releases the snapshot reference")
}

func TestThreadContext_KeywordSubContextLifecycle(t *testing.T) {
	registry := NewMasterRegistry()
	s, err := Init(1, BuildOptions{MPMMatcher: MatcherDefault})
	require.NoError(t, err)

	var freed bool
	id := s.Keywords.Register("tracked", func(data any) (any, error) {
		return data, nil
	}, "payload", func(any) { freed = true }, KeywordModeSingle)
	registry.AddToMaster(s)

	ctx, err := NewThreadContext(registry, &ThreadHandle{ID: 1}, ThreadContextOptions{})
	require.NoError(t, err)
	assert.Equal(t, "payload", Get(ctx, id))

	ctx.Destroy()
	assert.True(t, freed)
}
