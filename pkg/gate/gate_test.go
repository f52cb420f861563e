package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	g := New(1)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	g := New(1)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.Error(t, err, "second acquire at capacity 1 should block until ctx deadline")

	release()
}

func TestResizeGrowsCapacity(t *testing.T) {
	g := New(1)
	releaseFirst, err := g.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, g.Resize(context.Background(), 2))

	release2, err := g.Acquire(context.Background())
	require.NoError(t, err, "after resizing to 2, a second concurrent holder should be admitted")
	release2()
	releaseFirst()
}

func TestResizeDoesNotRevokeInFlightHolders(t *testing.T) {
	g := New(2)
	releaseA, err := g.Acquire(context.Background())
	require.NoError(t, err)
	releaseB, err := g.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, g.Resize(context.Background(), 1))

	// Both pre-resize holders release cleanly against the retired
	// semaphore even though the live one now has capacity 1.
	releaseA()
	releaseB()
}

func TestResizeShrinkThenGrowRespectsNewCapacity(t *testing.T) {
	g := New(4)
	require.NoError(t, g.Resize(context.Background(), 1))

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.Error(t, err, "shrunk gate should only admit one concurrent holder")

	release()
}

func TestConcurrentAcquireReleaseUnderResize(t *testing.T) {
	g := New(2)
	var wg sync.WaitGroup
	var completed int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if err != nil {
				return
			}
			atomic.AddInt64(&completed, 1)
			release()
		}()
	}

	require.NoError(t, g.Resize(context.Background(), 5))
	wg.Wait()
	assert.Equal(t, int64(20), atomic.LoadInt64(&completed))
}
