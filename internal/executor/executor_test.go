package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBounded_ConcurrencyHighWaterMark(t *testing.T) {
	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}

	var inFlight, highWater int64
	var mu sync.Mutex
	results := RunBounded(context.Background(), items, 3, func(ctx context.Context, _ int, item int) (int, error) {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > highWater {
			highWater = n
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return item * 2, nil
	})

	assert.LessOrEqual(t, highWater, int64(3))
	assert.Greater(t, highWater, int64(0))
	require.Len(t, results, len(items))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i*2, r.Value)
	}
}

func TestRunBounded_IndexAlignedDespiteCompletionOrder(t *testing.T) {
	items := []time.Duration{30 * time.Millisecond, 0, 10 * time.Millisecond}
	results := RunBounded(context.Background(), items, 0, func(ctx context.Context, i int, d time.Duration) (int, error) {
		time.Sleep(d)
		if i == 1 {
			return 0, errors.New("boom")
		}
		return i, nil
	})

	assert.Equal(t, 0, results[0].Value)
	assert.EqualError(t, results[1].Err, "boom")
	assert.Equal(t, 2, results[2].Value)
}

func TestRunBounded_CancelledContextSkipsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran int64
	results := RunBounded(ctx, []int{1, 2, 3, 4, 5, 6}, 1, func(ctx context.Context, i int, _ int) (int, error) {
		atomic.AddInt64(&ran, 1)
		if i == 1 {
			cancel()
		}
		return i, nil
	})

	assert.Equal(t, int64(2), atomic.LoadInt64(&ran))
	for _, r := range results[2:] {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}

	idx, err := FirstError(results)
	assert.Equal(t, 2, idx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFirstError_PrefersRealFailure(t *testing.T) {
	results := []Result[int]{{Err: context.Canceled}, {}, {Err: errors.New("disk full")}}
	idx, err := FirstError(results)
	assert.Equal(t, 2, idx)
	assert.EqualError(t, err, "disk full")

	idx, err = FirstError([]Result[int]{{}, {}})
	assert.Equal(t, -1, idx)
	assert.NoError(t, err)
}
