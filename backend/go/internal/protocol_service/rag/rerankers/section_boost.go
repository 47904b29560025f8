package rerankers

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/citations"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/splitters"
	"ckd-decision-support/backend/go/pkg/util"
	"context"
	"sort"
)

const (
	DefaultTopK          = 8
	DefaultSectionWeight = 1.0
	DefaultExcerptLength = 600
	recomputeConcurrency = 3
)

// TextEmbedder is the part of the embedding client the ranker needs to fill in
// missing chunk vectors. A nil result means no vector is available.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) []float32
}

// SectionBoostRanker scores candidates by content similarity plus a weighted
// similarity of the section they belong to.
type SectionBoostRanker struct {
	embedder      TextEmbedder
	weight        float64
	topK          int
	excerptLength int
	viewerBase    string
}

// NewSectionBoostRanker creates a ranker. Non-positive topK or excerptLength select
// the defaults; weight is used as given.
func NewSectionBoostRanker(embedder TextEmbedder, weight float64, topK, excerptLength int, viewerBase string) *SectionBoostRanker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if excerptLength <= 0 {
		excerptLength = DefaultExcerptLength
	}
	return &SectionBoostRanker{
		embedder:      embedder,
		weight:        weight,
		topK:          topK,
		excerptLength: excerptLength,
		viewerBase:    viewerBase,
	}
}

// Rank returns at most topK evidence items ordered by descending blended score,
// ties broken by descending content score.
func (r *SectionBoostRanker) Rank(ctx context.Context, query []float32, candidates []schema.Chunk, sections []schema.Section) []schema.EvidenceItem {
	if len(candidates) == 0 {
		return nil
	}
	vectors := r.chunkVectors(ctx, candidates)

	sorted := make([]schema.Section, len(sections))
	copy(sorted, sections)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartOffset < sorted[j].StartOffset })

	byTitle := make(map[string][]float32, len(sorted))
	bestAny := 0.0
	anyEmbedded := false
	for _, s := range sorted {
		if len(s.Embedding) == 0 {
			continue
		}
		if _, seen := byTitle[s.Title]; !seen {
			byTitle[s.Title] = s.Embedding
		}
		score := Cosine(query, s.Embedding)
		if !anyEmbedded || score > bestAny {
			bestAny = score
			anyEmbedded = true
		}
	}

	items := make([]schema.EvidenceItem, len(candidates))
	for i, c := range candidates {
		content := Cosine(query, vectors[i])
		section := bestAny
		if vec := sectionVector(sorted, byTitle, c); vec != nil {
			section = Cosine(query, vec)
		}
		items[i] = schema.EvidenceItem{
			Chunk:        c,
			ChunkIndex:   c.Index,
			Page:         c.PageNumber,
			Section:      c.SectionTitle,
			ContentScore: content,
			SectionScore: section,
			BlendedScore: content + r.weight*section,
			Excerpt:      Excerpt(c.Text, r.excerptLength),
			Link:         citations.ViewerURL(r.viewerBase, c.PageNumber),
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].BlendedScore != items[j].BlendedScore {
			return items[i].BlendedScore > items[j].BlendedScore
		}
		return items[i].ContentScore > items[j].ContentScore
	})
	if len(items) > r.topK {
		items = items[:r.topK]
	}
	return items
}

// sectionVector finds the embedding of the section containing c. The section is
// located by the chunk's offset so repeated titles resolve to the right one; the
// title alone is used when the offset points at a differently titled or
// unembedded section.
func sectionVector(sorted []schema.Section, byTitle map[string][]float32, c schema.Chunk) []float32 {
	if i := splitters.SectionIndexAt(sorted, c.StartOffset); i >= 0 {
		s := sorted[i]
		if s.Title == c.SectionTitle && len(s.Embedding) > 0 {
			return s.Embedding
		}
	}
	return byTitle[c.SectionTitle]
}

// chunkVectors returns each candidate's embedding, recomputing missing ones from a
// bounded excerpt of the chunk text.
func (r *SectionBoostRanker) chunkVectors(ctx context.Context, candidates []schema.Chunk) [][]float32 {
	vectors, _ := util.MapBounded(ctx, candidates, recomputeConcurrency, func(ctx context.Context, _ int, c schema.Chunk) ([]float32, error) {
		if len(c.Embedding) > 0 || r.embedder == nil {
			return c.Embedding, nil
		}
		return r.embedder.Embed(ctx, truncateRunes(c.Text, r.excerptLength)), nil
	})
	if vectors == nil {
		vectors = make([][]float32, len(candidates))
	}
	return vectors
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
