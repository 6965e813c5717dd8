package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLatch_RequestReload(t *testing.T) {
	l := NewSyncLatch()

	require.NoError(t, l.RequestReload())
	assert.True(t, l.IsReloadRequested())

	err := l.RequestReload()
	assert.ErrorIs(t, err, ErrLatchNotIdle)
	assert.True(t, l.IsReloadRequested(), "failed transition must not mutate state")
}

func TestSyncLatch_FullCycle(t *testing.T) {
	l := NewSyncLatch()

	require.NoError(t, l.RequestReload())
	l.MarkDone()
	assert.False(t, l.IsReloadRequested())

	assert.True(t, l.ConsumeDone())
	assert.Equal(t, LatchIdle, l.State())

	// ConsumeDone is true exactly once per Done episode.
	assert.False(t, l.ConsumeDone())
}

func TestSyncLatch_MarkDoneUnconditional(t *testing.T) {
	l := NewSyncLatch()
	l.MarkDone()
	assert.Equal(t, LatchDone, l.State())
}

func TestSyncLatch_ConsumeDoneFalseWhenNotDone(t *testing.T) {
	l := NewSyncLatch()
	assert.False(t, l.ConsumeDone())
	require.NoError(t, l.RequestReload())
	assert.False(t, l.ConsumeDone())
}
