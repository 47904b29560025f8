package embeddings

import (
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	mu    sync.Mutex
	calls int32
	fn    func(text string) ([]float32, error)
	seen  []string
}

func (m *fakeModel) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	m.seen = append(m.seen, text)
	m.mu.Unlock()
	return m.fn(text)
}

func newTestClient(m *fakeModel) *Client {
	return NewClient(m, logger.Discard(), WithRetry(3, 0))
}

func TestEmbed_BlankTextSkipsCall(t *testing.T) {
	m := &fakeModel{fn: func(string) ([]float32, error) { return []float32{1}, nil }}
	c := newTestClient(m)

	assert.Nil(t, c.Embed(context.Background(), "   \n\t"))
	assert.Zero(t, atomic.LoadInt32(&m.calls))
}

func TestEmbed_RetriesThenSucceeds(t *testing.T) {
	var n int32
	m := &fakeModel{fn: func(string) ([]float32, error) {
		if atomic.AddInt32(&n, 1) < 3 {
			return nil, errors.New("transient")
		}
		return []float32{0.1, 0.2}, nil
	}}
	c := newTestClient(m)

	assert.Equal(t, []float32{0.1, 0.2}, c.Embed(context.Background(), "hello"))
	assert.EqualValues(t, 3, atomic.LoadInt32(&m.calls))
}

func TestEmbed_GivesUpAfterMaxAttempts(t *testing.T) {
	m := &fakeModel{fn: func(string) ([]float32, error) { return nil, errors.New("down") }}
	c := newTestClient(m)

	assert.Nil(t, c.Embed(context.Background(), "hello"))
	assert.EqualValues(t, 3, atomic.LoadInt32(&m.calls))
}

func TestEmbed_BackoffHonoursCancellation(t *testing.T) {
	m := &fakeModel{fn: func(string) ([]float32, error) { return nil, errors.New("down") }}
	c := NewClient(m, logger.Discard(), WithRetry(3, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.Nil(t, c.Embed(ctx, "hello"))
	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&m.calls))
}

func TestEmbed_CallTimeoutCountsAsFailure(t *testing.T) {
	m := &fakeModel{}
	c := NewClient(m, logger.Discard(), WithRetry(2, 0), WithCallTimeout(10*time.Millisecond))
	m.fn = func(string) ([]float32, error) { return nil, context.DeadlineExceeded }

	assert.Nil(t, c.Embed(context.Background(), "x"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&m.calls))
}

func TestEmbedLarge_ShortTextEmbeddedDirectly(t *testing.T) {
	m := &fakeModel{fn: func(string) ([]float32, error) { return []float32{1, 1}, nil }}
	c := newTestClient(m)

	assert.Equal(t, []float32{1, 1}, c.EmbedLarge(context.Background(), "short", 100, 3))
	assert.Equal(t, []string{"short"}, m.seen)
}

func TestEmbedLarge_AveragesSurvivingSlices(t *testing.T) {
	m := &fakeModel{fn: func(text string) ([]float32, error) {
		switch {
		case strings.HasPrefix(text, "a"):
			return []float32{1, 0}, nil
		case strings.HasPrefix(text, "b"):
			return []float32{0, 1}, nil
		default:
			return nil, errors.New("bad slice")
		}
	}}
	c := newTestClient(m)

	text := strings.Repeat("a", 4) + strings.Repeat("b", 4) + strings.Repeat("c", 4)
	vec := c.EmbedLarge(context.Background(), text, 4, 3)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.5, vec[0], 1e-6)
	assert.InDelta(t, 0.5, vec[1], 1e-6)
}

func TestEmbedLarge_SlicesByRunes(t *testing.T) {
	m := &fakeModel{fn: func(string) ([]float32, error) { return []float32{1}, nil }}
	c := newTestClient(m)

	c.EmbedLarge(context.Background(), "肾小球滤过率", 4, 1)
	assert.ElementsMatch(t, []string{"肾小球滤", "过率"}, m.seen)
}

func TestEmbedLarge_AllSlicesFailReturnsNil(t *testing.T) {
	m := &fakeModel{fn: func(string) ([]float32, error) { return nil, errors.New("down") }}
	c := newTestClient(m)

	assert.Nil(t, c.EmbedLarge(context.Background(), strings.Repeat("x", 20), 5, 3))
}

func TestMean(t *testing.T) {
	assert.Nil(t, Mean(nil))
	assert.Nil(t, Mean([][]float32{nil, {}}))
	assert.Equal(t, []float32{2, 3}, Mean([][]float32{{1, 2}, nil, {3, 4}, {9}}))
}
