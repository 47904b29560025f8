package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapBounded_EmptyInput(t *testing.T) {
	called := false
	out, err := MapBounded(context.Background(), []int{}, 3, func(ctx context.Context, i int, in int) (int, error) {
		called = true
		return in, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, called)
}

func TestMapBounded_PreservesInputOrder(t *testing.T) {
	inputs := []int{5, 1, 4, 2, 3}
	out, err := MapBounded(context.Background(), inputs, 2, func(ctx context.Context, i int, in int) (int, error) {
		// 让较大的值更晚完成，打乱完成顺序。
		time.Sleep(time.Duration(in) * time.Millisecond)
		return in * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 10, 40, 20, 30}, out)
}

func TestMapBounded_RespectsLimit(t *testing.T) {
	var inFlight, peak int32
	inputs := make([]int, 20)

	_, err := MapBounded(context.Background(), inputs, 3, func(ctx context.Context, i int, in int) (int, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return i, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int32(3))
	assert.Greater(t, peak, int32(0))
}

func TestMapBounded_NonPositiveLimitRunsSerially(t *testing.T) {
	out, err := MapBounded(context.Background(), []string{"a", "b"}, 0, func(ctx context.Context, i int, in string) (string, error) {
		return in + in, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb"}, out)
}

func TestMapBounded_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	out, err := MapBounded(context.Background(), []int{1, 2, 3}, 1, func(ctx context.Context, i int, in int) (int, error) {
		if in == 2 {
			return 0, boom
		}
		return in, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)
}

func TestForEachBounded(t *testing.T) {
	var sum int64
	err := ForEachBounded(context.Background(), []int64{1, 2, 3, 4}, 2, func(ctx context.Context, i int, in int64) error {
		atomic.AddInt64(&sum, in)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum)
}
