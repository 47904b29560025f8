package pipeline

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/embeddings"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/splitters"
	"ckd-decision-support/backend/go/pkg/logger"
	"ckd-decision-support/backend/go/pkg/util"
	"context"
	"fmt"
	"sort"
	"strings"
)

const defaultEmbedConcurrency = 3

// Embedder fills in section and chunk vectors with bounded parallelism.
type Embedder struct {
	client      *embeddings.Client
	docs        interfaces.DocStore
	log         *logger.Logger
	sliceSize   int
	concurrency int
}

// NewEmbedder creates an Embedder. sliceSize is the EmbedLarge slice length in runes.
func NewEmbedder(client *embeddings.Client, docs interfaces.DocStore, sliceSize, concurrency int, log *logger.Logger) *Embedder {
	if concurrency < 1 {
		concurrency = defaultEmbedConcurrency
	}
	return &Embedder{client: client, docs: docs, log: log, sliceSize: sliceSize, concurrency: concurrency}
}

// EmbedText embeds text of any length.
func (e *Embedder) EmbedText(ctx context.Context, text string) []float32 {
	return e.client.EmbedLarge(ctx, text, e.sliceSize, e.concurrency)
}

// EmbedSections returns a copy of sections, sorted by offset, with each section's
// extent embedded. Sections whose extent could not be embedded keep a nil vector.
func (e *Embedder) EmbedSections(ctx context.Context, text string, sections []schema.Section) []schema.Section {
	sorted := append([]schema.Section(nil), sections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartOffset < sorted[j].StartOffset })
	runes := []rune(text)

	out, _ := util.MapBounded(ctx, sorted, e.concurrency, func(ctx context.Context, i int, s schema.Section) (schema.Section, error) {
		s.Embedding = e.EmbedText(ctx, splitters.SectionExtent(runes, sorted, i))
		return s, nil
	})
	if out == nil {
		return sorted
	}
	return out
}

// EmbedChunks returns a copy of chunks with each chunk's own text embedded.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []schema.Chunk) []schema.Chunk {
	out, _ := util.MapBounded(ctx, chunks, e.concurrency, func(ctx context.Context, _ int, c schema.Chunk) (schema.Chunk, error) {
		c.Embedding = e.EmbedText(ctx, c.Text)
		return c, nil
	})
	if out == nil {
		return append([]schema.Chunk(nil), chunks...)
	}
	return out
}

// HealSections recomputes the embeddings of sections that lack one and persists
// them. The full text is not stored, so a section's extent is rebuilt from the
// stored chunks that overlap it.
func (e *Embedder) HealSections(ctx context.Context, documentID string, sections []schema.Section) []schema.Section {
	missing := 0
	for _, s := range sections {
		if len(s.Embedding) == 0 {
			missing++
		}
	}
	if missing == 0 || documentID == "" {
		return sections
	}

	chunks, err := e.docs.Chunks(ctx, documentID, 0)
	if err != nil {
		e.log.WithError(models.NewErrorInfo("store_error", err)).
			WithPayload(map[string]interface{}{"document_id": documentID}).
			Warn("could not load chunks to heal section embeddings")
		return sections
	}

	sorted := append([]schema.Section(nil), sections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartOffset < sorted[j].StartOffset })
	healed, _ := util.MapBounded(ctx, sorted, e.concurrency, func(ctx context.Context, i int, s schema.Section) (schema.Section, error) {
		if len(s.Embedding) > 0 {
			return s, nil
		}
		end := -1
		if i+1 < len(sorted) {
			end = sorted[i+1].StartOffset
		}
		s.Embedding = e.EmbedText(ctx, extentFromChunks(chunks, s.StartOffset, end))
		return s, nil
	})
	if healed == nil {
		return sections
	}

	var updated []schema.Section
	for i, s := range healed {
		if len(sorted[i].Embedding) == 0 && len(s.Embedding) > 0 {
			updated = append(updated, s)
		}
	}
	if len(updated) > 0 {
		if err := e.docs.UpdateSectionEmbeddings(ctx, documentID, updated); err != nil {
			e.log.WithError(models.NewErrorInfo("store_error", err)).
				WithPayload(map[string]interface{}{"document_id": documentID}).
				Warn("failed to persist healed section embeddings")
		} else {
			e.log.Info(fmt.Sprintf("healed %d of %d missing section embeddings for %s", len(updated), missing, documentID))
		}
	}
	return healed
}

// extentFromChunks joins the text of chunks overlapping [start, end); end < 0 means
// end of document.
func extentFromChunks(chunks []schema.Chunk, start, end int) string {
	var parts []string
	for _, c := range chunks {
		if c.EndOffset <= start {
			continue
		}
		if end >= 0 && c.StartOffset >= end {
			continue
		}
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}
