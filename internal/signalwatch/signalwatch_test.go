package signalwatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheewill/detectengine/internal/detect"
)

type recordingMetrics struct {
	calls []string
}

func (r *recordingMetrics) RecordReloadAttempt(source, status string) {
	r.calls = append(r.calls, source+":"+status)
}

func TestWatcher_HandleRequestsReload(t *testing.T) {
	latch := detect.NewSyncLatch()
	m := &recordingMetrics{}
	w := New(latch, time.Hour, nil, m)

	w.handle()

	assert.True(t, latch.IsReloadRequested())
	assert.Equal(t, []string{"sighup:requested"}, m.calls)
}

func TestWatcher_HandleDebounces(t *testing.T) {
	latch := detect.NewSyncLatch()
	m := &recordingMetrics{}
	w := New(latch, time.Hour, nil, m)

	w.handle()
	latch.MarkDone()
	require.True(t, latch.ConsumeDone())

	w.handle() // within debounce window, should not request again
	assert.Equal(t, []string{"sighup:requested"}, m.calls)
}

func TestWatcher_StartStop(t *testing.T) {
	latch := detect.NewSyncLatch()
	w := New(latch, time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Stop()
}
