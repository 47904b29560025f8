package rerankers

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vecWithCosine returns a unit vector whose cosine with (1,0) is c.
func vecWithCosine(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

type stubEmbedder struct {
	texts []string
	vec   []float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) []float32 {
	s.texts = append(s.texts, text)
	return s.vec
}

var query = []float32{1, 0}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{0, 0}))
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b c", Excerpt("  a \n\n b\tc ", 10))
	assert.Equal(t, "abcd…", Excerpt("abcdefgh", 4))
	assert.Equal(t, "肾小…", Excerpt("肾小球滤过", 2))
}

func TestRank_SectionBoostScenario(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "https://ckd.example.org")
	candidates := []schema.Chunk{
		{Index: 0, Text: "first", PageNumber: 1, SectionTitle: "A", Embedding: vecWithCosine(0.9)},
		{Index: 1, Text: "second", PageNumber: 2, SectionTitle: "B", Embedding: vecWithCosine(0.85)},
	}
	sections := []schema.Section{
		{Title: "A", Embedding: vecWithCosine(0.1)},
		{Title: "B", Embedding: vecWithCosine(0.2)},
	}

	items := r.Rank(context.Background(), query, candidates, sections)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].ChunkIndex)
	assert.InDelta(t, 1.05, items[0].BlendedScore, 1e-6)
	assert.InDelta(t, 1.0, items[1].BlendedScore, 1e-6)
	assert.Equal(t, "https://ckd.example.org/viewer?page=2", items[0].Link)
	for _, it := range items {
		assert.Equal(t, it.ContentScore+1.0*it.SectionScore, it.BlendedScore)
	}
}

func TestRank_TieBrokenByContentScore(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	// Swapped content and section vectors give exactly equal blended scores.
	candidates := []schema.Chunk{
		{Index: 0, SectionTitle: "A", Embedding: vecWithCosine(0.6)},
		{Index: 1, SectionTitle: "B", Embedding: vecWithCosine(0.8)},
	}
	sections := []schema.Section{
		{Title: "A", Embedding: vecWithCosine(0.8)},
		{Title: "B", Embedding: vecWithCosine(0.6)},
	}

	items := r.Rank(context.Background(), query, candidates, sections)
	require.Len(t, items, 2)
	assert.Equal(t, items[0].BlendedScore, items[1].BlendedScore)
	assert.Equal(t, 1, items[0].ChunkIndex)
	assert.Greater(t, items[0].ContentScore, items[1].ContentScore)
}

func TestRank_FallsBackToBestSectionAnywhere(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	candidates := []schema.Chunk{{Index: 0, SectionTitle: "Unlabelled", Embedding: vecWithCosine(0.5)}}
	sections := []schema.Section{
		{Title: "X", Embedding: vecWithCosine(0.3)},
		{Title: "Y", Embedding: vecWithCosine(0.7)},
		{Title: "Z"},
	}

	items := r.Rank(context.Background(), query, candidates, sections)
	require.Len(t, items, 1)
	assert.InDelta(t, 0.7, items[0].SectionScore, 1e-6)
}

func TestRank_NoSectionEmbeddingsScoresZero(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	items := r.Rank(context.Background(), query, []schema.Chunk{{Embedding: vecWithCosine(0.4)}}, []schema.Section{{Title: "A"}})
	require.Len(t, items, 1)
	assert.Equal(t, 0.0, items[0].SectionScore)
	assert.InDelta(t, 0.4, items[0].BlendedScore, 1e-6)
}

func TestRank_RecomputesMissingChunkVectorFromExcerpt(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	r := NewSectionBoostRanker(emb, 1.0, 8, 5, "")

	items := r.Rank(context.Background(), query, []schema.Chunk{{Text: strings.Repeat("k", 50)}}, nil)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"kkkkk"}, emb.texts)
	assert.InDelta(t, 1.0, items[0].ContentScore, 1e-6)
}

func TestRank_MissingVectorWithoutEmbedderScoresZero(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	items := r.Rank(context.Background(), query, []schema.Chunk{{Text: "no vector"}}, nil)
	require.Len(t, items, 1)
	assert.Equal(t, 0.0, items[0].ContentScore)
}

func TestRank_TopKAndOrdering(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 3, 0, "")
	var candidates []schema.Chunk
	for i, c := range []float64{0.1, 0.9, 0.5, 0.7, 0.3} {
		candidates = append(candidates, schema.Chunk{Index: i, Embedding: vecWithCosine(c)})
	}

	items := r.Rank(context.Background(), query, candidates, nil)
	require.Len(t, items, 3)
	assert.Equal(t, []int{1, 3, 2}, []int{items[0].ChunkIndex, items[1].ChunkIndex, items[2].ChunkIndex})
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].BlendedScore, items[i].BlendedScore)
	}
}

func TestRank_Empty(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	assert.Empty(t, r.Rank(context.Background(), query, nil, nil))
}

func TestRank_RepeatedSectionTitleResolvedByOffset(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	candidates := []schema.Chunk{
		{Index: 3, StartOffset: 6400, SectionTitle: "Dosing", Embedding: vecWithCosine(0.5)},
		{Index: 0, StartOffset: 100, SectionTitle: "Dosing", Embedding: vecWithCosine(0.5)},
	}
	// Deliberately unsorted: the later "Dosing" section matches the query.
	sections := []schema.Section{
		{Title: "Dosing", StartOffset: 5000, Embedding: []float32{1, 0}},
		{Title: "Dosing", StartOffset: 0, Embedding: []float32{0, 1}},
	}

	items := r.Rank(context.Background(), query, candidates, sections)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].ChunkIndex)
	assert.InDelta(t, 1.0, items[0].SectionScore, 1e-6)
	assert.Equal(t, 0, items[1].ChunkIndex)
	assert.InDelta(t, 0.0, items[1].SectionScore, 1e-6)
}

func TestRank_OffsetInOtherSectionFallsBackToTitle(t *testing.T) {
	r := NewSectionBoostRanker(nil, 1.0, 8, 0, "")
	candidates := []schema.Chunk{{StartOffset: 900, SectionTitle: "Staging", Embedding: vecWithCosine(0.5)}}
	sections := []schema.Section{
		{Title: "Staging", StartOffset: 0, Embedding: vecWithCosine(0.3)},
		{Title: "Treatment", StartOffset: 800, Embedding: vecWithCosine(0.9)},
	}

	items := r.Rank(context.Background(), query, candidates, sections)
	require.Len(t, items, 1)
	assert.InDelta(t, 0.3, items[0].SectionScore, 1e-6)
}
