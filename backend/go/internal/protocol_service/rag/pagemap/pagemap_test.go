package pagemap

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pages(lengths ...int) []schema.Page {
	out := make([]schema.Page, len(lengths))
	for i, n := range lengths {
		out[i] = schema.Page{Number: i + 1, Text: strings.Repeat("x", n)}
	}
	return out
}

func TestResolve_PlainCumulativeSum(t *testing.T) {
	m := New(pages(100, 50, 25), 0)

	tests := []struct {
		offset int
		want   int
	}{
		{0, 1}, {99, 1}, {100, 2}, {149, 2}, {150, 3}, {174, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Resolve(tt.offset), "offset %d", tt.offset)
	}
}

func TestResolve_SeparatorBelongsToPrecedingPage(t *testing.T) {
	m := New(pages(10, 10), 2)

	assert.Equal(t, 1, m.Resolve(11))
	assert.Equal(t, 2, m.Resolve(12))
	assert.Equal(t, []schema.PageSpan{{Page: 1, Start: 0, End: 12}, {Page: 2, Start: 12, End: 22}}, m.Spans())
}

func TestLookup_Unresolved(t *testing.T) {
	m := New(pages(10), 0)

	_, ok := m.Lookup(10)
	assert.False(t, ok)
	_, ok = m.Lookup(-1)
	assert.False(t, ok)
	assert.Equal(t, DefaultPage, m.Resolve(500))

	empty := New(nil, 2)
	assert.Equal(t, 0, empty.PageCount())
	assert.Equal(t, DefaultPage, empty.Resolve(0))
}

func TestResolve_SkipsEmptyPages(t *testing.T) {
	m := New(pages(5, 0, 5), 0)
	assert.Equal(t, 3, m.Resolve(5))
}

func TestResolve_AlwaysWithinPageCount(t *testing.T) {
	m := New(pages(7, 3, 11, 1), 2)
	for off := -5; off < 40; off++ {
		p := m.Resolve(off)
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, m.PageCount())
	}
}

func TestNew_CountsRunes(t *testing.T) {
	m := New([]schema.Page{{Number: 1, Text: "肾功能"}, {Number: 2, Text: "ab"}}, 0)
	assert.Equal(t, 2, m.Resolve(3))
}

func TestNew_FillsMissingPageNumbers(t *testing.T) {
	m := New([]schema.Page{{Text: "aa"}, {Text: "bb"}}, 0)
	assert.Equal(t, 2, m.Resolve(2))
}
