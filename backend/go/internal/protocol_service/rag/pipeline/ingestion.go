package pipeline

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/citations"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/hashcache"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pagemap"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/sectionizer"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/splitters"
	"ckd-decision-support/backend/go/pkg/logger"
	"ckd-decision-support/backend/go/pkg/util"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrExtractionFailed wraps any failure of the extraction collaborator.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrEmptyDocument is returned when extraction produced no text at all.
	ErrEmptyDocument = errors.New("document has no extractable text")
)

// Event types published on the audit topic.
const (
	EventIngested       = "protocol.ingested"
	EventDeleted        = "protocol.deleted"
	EventRecommendation = "recommendation.generated"
)

const summarySeparator = "\n\n---\n\n"

type ingestState string

const (
	stateReceived          ingestState = "received"
	stateExtracted         ingestState = "extracted"
	stateCacheChecked      ingestState = "cache-checked"
	stateSectioned         ingestState = "sectioned"
	stateChunked           ingestState = "chunked"
	stateChunkSummarized   ingestState = "chunk-summarized"
	stateFinalSummarized   ingestState = "final-summarized"
	stateStored            ingestState = "stored"
	stateEmbedded          ingestState = "embedded"
	stateCitationExtracted ingestState = "citation-extracted"
	statePersisted         ingestState = "persisted"
	stateDone              ingestState = "done"
)

// IngestRequest is one upload.
type IngestRequest struct {
	Name     string
	Version  string
	Filename string
	Data     []byte
}

// IngestResult is what the caller sees after an upload.
type IngestResult struct {
	DocumentID string            `json:"document_id"`
	Summary    string            `json:"summary"`
	Citations  []schema.Citation `json:"citations"`
	Cached     bool              `json:"cached"`
	ChunkCount int               `json:"chunk_count"`
	PageCount  int               `json:"page_count"`
	OCRUsed    bool              `json:"ocr_used"`
}

// IngestionConfig holds the tunables of an ingestion run.
type IngestionConfig struct {
	SummaryConcurrency int
	SeparatorLength    int
	// FallbackSummaryLength bounds the concatenated summary used when the final call fails.
	FallbackSummaryLength int
	ChunkSummaryMaxTokens int
	FinalSummaryMaxTokens int
	ViewerBase            string
}

func (c *IngestionConfig) applyDefaults() {
	if c.SummaryConcurrency < 1 {
		c.SummaryConcurrency = 6
	}
	if c.FallbackSummaryLength <= 0 {
		c.FallbackSummaryLength = 4000
	}
	if c.ChunkSummaryMaxTokens <= 0 {
		c.ChunkSummaryMaxTokens = 400
	}
	if c.FinalSummaryMaxTokens <= 0 {
		c.FinalSummaryMaxTokens = 1500
	}
}

// IngestionDeps are the collaborators of the ingestion pipeline. Blobs, Vectors
// and Events are optional.
type IngestionDeps struct {
	Extractor   interfaces.Extractor
	Completer   interfaces.Completer
	Sectionizer *sectionizer.Sectionizer
	Splitter    *splitters.FixedSplitter
	Embedder    *Embedder
	Docs        interfaces.DocStore
	Cache       interfaces.SummaryCache
	Vectors     interfaces.VectorStore
	Blobs       interfaces.BlobStore
	Events      interfaces.EventPublisher
}

// IngestionPipeline turns an uploaded protocol into stored, embedded chunks and a summary.
type IngestionPipeline struct {
	IngestionDeps
	cfg IngestionConfig
	log *logger.Logger
	now func() time.Time
}

// NewIngestionPipeline creates an IngestionPipeline.
func NewIngestionPipeline(deps IngestionDeps, cfg IngestionConfig, log *logger.Logger) *IngestionPipeline {
	cfg.applyDefaults()
	return &IngestionPipeline{IngestionDeps: deps, cfg: cfg, log: log, now: time.Now}
}

// run carries the state of one ingestion.
type run struct {
	req       IngestRequest
	log       *logger.Logger
	started   time.Time
	doc       schema.Document
	ext       *schema.Extraction
	sections  []schema.Section
	chunks    []schema.Chunk
	summary   string
	cached    bool
	citations []schema.Citation
	metric    schema.Metric
}

func (r *run) enter(s ingestState) {
	r.log.WithField("state", string(s)).Info("ingestion state " + string(s))
}

// Ingest runs the whole pipeline for one upload. Only extraction failures, empty
// documents and failures to write the document or its chunks are returned as errors.
// When the chunks cannot be written, everything already stored for the document is removed.
func (p *IngestionPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	r := &run{req: req, started: p.now()}
	r.doc = schema.Document{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(req.Name),
		OriginalFilename: filepath.Base(req.Filename),
		Version:          strings.TrimSpace(req.Version),
	}
	if r.doc.Name == "" {
		r.doc.Name = strings.TrimSuffix(r.doc.OriginalFilename, filepath.Ext(r.doc.OriginalFilename))
	}
	r.log = p.log.WithField("document_id", r.doc.ID)
	r.metric.DocumentID = r.doc.ID
	r.enter(stateReceived)

	ext, err := p.Extractor.Extract(ctx, req.Data, req.Filename)
	if err != nil {
		r.log.WithError(models.NewErrorInfo("extraction_error", err)).Error("extraction failed, nothing stored")
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if strings.TrimSpace(ext.FullText) == "" {
		return nil, ErrEmptyDocument
	}
	r.ext = ext
	r.doc.FullText = ext.FullText
	r.doc.PageCount = max(ext.PageCount, len(ext.Pages))
	r.doc.OCRUsed = ext.OCRUsed
	r.doc.ContentHash = hashcache.Hash(ext.FullText)
	r.metric.ExtractionMillis = p.now().Sub(r.started).Milliseconds()
	r.enter(stateExtracted)

	cached, hit := p.lookupCache(ctx, r)
	if hit {
		if res, ok := p.existingResult(ctx, r, cached); ok {
			r.enter(stateDone)
			return res, nil
		}
	}
	r.enter(stateCacheChecked)

	mapper := pagemap.New(ext.Pages, p.cfg.SeparatorLength)
	if hit {
		// The summary is known but its document was deleted: rebuild the
		// retrievable chunks without calling the completion service again.
		r.cached = true
		r.summary = cached
		r.chunks = p.Splitter.Split(r.doc.ID, ext.FullText, mapper)
		r.enter(stateChunked)
	} else {
		r.sections = p.Sectionizer.Sectionize(ctx, ext.FullText, mapper)
		r.enter(stateSectioned)

		r.chunks = p.Splitter.Split(r.doc.ID, ext.FullText, mapper)
		splitters.AssignSections(r.chunks, r.sections)
		r.enter(stateChunked)

		summarizeStart := p.now()
		p.summarizeChunks(ctx, r)
		r.enter(stateChunkSummarized)

		r.summary = p.finalSummary(ctx, r)
		r.metric.SummarizingMillis = p.now().Sub(summarizeStart).Milliseconds()
		r.enter(stateFinalSummarized)
	}

	if n := unresolvedPages(r.chunks); n > 0 {
		r.log.WithPayload(map[string]interface{}{"chunks": n}).
			Warn("chunk offsets fall outside every recorded page; page 1 assumed")
	}

	if err := p.store(ctx, r); err != nil {
		return nil, err
	}
	r.enter(stateStored)

	embedStart := p.now()
	if err := p.embed(ctx, r); err != nil {
		p.rollback(ctx, r)
		return nil, err
	}
	r.metric.EmbeddingMillis = p.now().Sub(embedStart).Milliseconds()
	r.enter(stateEmbedded)

	for _, c := range r.chunks {
		r.citations = append(r.citations, citations.Extract(c.Summary, c.Index)...)
	}
	r.enter(stateCitationExtracted)

	p.persist(ctx, r)
	r.enter(statePersisted)

	return &IngestResult{
		DocumentID: r.doc.ID,
		Summary:    r.summary,
		Citations:  nonNilCitations(r.citations),
		Cached:     r.cached,
		ChunkCount: len(r.chunks),
		PageCount:  r.doc.PageCount,
		OCRUsed:    r.doc.OCRUsed,
	}, nil
}

// lookupCache reports whether the content hash already has a summary. Cache
// errors count as a miss.
func (p *IngestionPipeline) lookupCache(ctx context.Context, r *run) (string, bool) {
	summary, ok, err := p.Cache.Get(ctx, r.doc.ContentHash)
	if err != nil {
		r.log.WithError(models.NewErrorInfo("cache_error", err)).Warn("summary cache lookup failed, treating as a miss")
		return "", false
	}
	return summary, ok
}

// existingResult builds the cache-hit response from the document already stored
// for the same content. It reports false when no such document exists.
func (p *IngestionPipeline) existingResult(ctx context.Context, r *run, summary string) (*IngestResult, bool) {
	existing, err := p.Docs.FindDocumentByHash(ctx, r.doc.ContentHash)
	if err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Warn("could not look up the document behind a cache hit")
		return nil, false
	}
	if existing == nil {
		return nil, false
	}

	res := &IngestResult{
		DocumentID: existing.ID,
		Summary:    summary,
		Cached:     true,
		Citations:  []schema.Citation{},
		PageCount:  existing.PageCount,
		OCRUsed:    existing.OCRUsed,
	}
	if stored, err := p.Docs.Summary(ctx, existing.ID); err == nil {
		res.Citations = nonNilCitations(stored.Citations)
	}
	if chunks, err := p.Docs.Chunks(ctx, existing.ID, 0); err == nil {
		res.ChunkCount = len(chunks)
	}
	r.log.WithPayload(map[string]interface{}{"content_hash": r.doc.ContentHash, "existing_document": existing.ID}).
		Info("summary cache hit, skipping summarization")
	return res, true
}

func (p *IngestionPipeline) summarizeChunks(ctx context.Context, r *run) {
	summaries, _ := util.MapBounded(ctx, r.chunks, p.cfg.SummaryConcurrency, func(ctx context.Context, _ int, c schema.Chunk) (string, error) {
		if strings.TrimSpace(c.Text) == "" {
			return "", nil
		}
		user := fmt.Sprintf("Page: %d\nSection: %s\n\nExcerpt:\n%s", c.PageNumber, c.SectionTitle, c.Text)
		reply, err := p.Completer.Complete(ctx, []schema.Message{
			{Role: schema.RoleSystem, Content: chunkSummaryPrompt},
			{Role: schema.RoleUser, Content: user},
		}, schema.GenerationParams{Temperature: schema.Temperature(0.2), MaxTokens: p.cfg.ChunkSummaryMaxTokens})
		if err != nil {
			r.log.WithError(models.NewErrorInfo("completion_error", err)).
				WithPayload(map[string]interface{}{"chunk_index": c.Index, "stage": string(stateChunkSummarized)}).
				Warn("chunk summary failed, continuing with an empty summary")
			return "", nil
		}
		return citations.Normalize(strings.TrimSpace(reply), c.PageNumber, p.cfg.ViewerBase), nil
	})

	for i := range r.chunks {
		if summaries != nil {
			r.chunks[i].Summary = summaries[i]
		}
		if r.chunks[i].Summary == "" && strings.TrimSpace(r.chunks[i].Text) != "" {
			r.metric.FailedSummaries++
		}
	}
}

func (p *IngestionPipeline) finalSummary(ctx context.Context, r *run) string {
	var parts []string
	for _, c := range r.chunks {
		if c.Summary != "" {
			parts = append(parts, c.Summary)
		}
	}
	joined := strings.Join(parts, summarySeparator)
	fallback := truncateRunes(joined, p.cfg.FallbackSummaryLength)
	if joined == "" {
		r.log.WithPayload(map[string]interface{}{"chunks": len(r.chunks)}).
			Warn("no chunk summaries available, using the document opening as summary")
		return truncateRunes(strings.TrimSpace(r.ext.FullText), p.cfg.FallbackSummaryLength)
	}

	header := fmt.Sprintf("Protocol: %s\nPages: %d\n\nExcerpt summaries:\n\n", r.doc.Name, r.doc.PageCount)
	reply, err := p.Completer.Complete(ctx, []schema.Message{
		{Role: schema.RoleSystem, Content: finalSummaryPrompt},
		{Role: schema.RoleUser, Content: header + joined},
	}, schema.GenerationParams{Temperature: schema.Temperature(0.2), MaxTokens: p.cfg.FinalSummaryMaxTokens})
	if err != nil || strings.TrimSpace(reply) == "" {
		r.log.WithError(models.NewErrorInfo("completion_error", err)).
			WithPayload(map[string]interface{}{"stage": string(stateFinalSummarized)}).
			Warn("final summary failed, falling back to concatenated chunk summaries")
		return fallback
	}
	return strings.TrimSpace(reply)
}

// store uploads the original file and inserts the document row.
func (p *IngestionPipeline) store(ctx context.Context, r *run) error {
	if p.Blobs != nil {
		key := fmt.Sprintf("protocols/%s/%s", r.doc.ID, r.doc.OriginalFilename)
		if err := p.Blobs.Put(ctx, key, r.req.Data, "application/pdf"); err != nil {
			r.log.WithError(models.NewErrorInfo("blob_error", err)).Warn("original file upload failed, continuing without it")
		} else {
			r.doc.BlobKey = key
		}
	}
	if err := p.Docs.CreateDocument(ctx, &r.doc); err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Error("failed to insert document")
		if r.doc.BlobKey != "" {
			if derr := p.Blobs.Delete(context.WithoutCancel(ctx), r.doc.BlobKey); derr != nil {
				r.log.WithError(models.NewErrorInfo("blob_error", derr)).Warn("failed to remove original file of unstored document")
			}
		}
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// rollback removes a document whose ingestion failed after its row was inserted,
// so a failed upload never stays listed. It runs even when ctx is already cancelled.
func (p *IngestionPipeline) rollback(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if err := purgeDocument(ctx, p.Docs, p.Vectors, p.Blobs, &r.doc, r.log); err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Error("failed to roll back partially stored document")
		return
	}
	r.log.Warn("partially stored document rolled back")
}

// embed computes document, section and chunk vectors and writes them out.
func (p *IngestionPipeline) embed(ctx context.Context, r *run) error {
	docVec := p.Embedder.EmbedText(ctx, r.ext.FullText)
	if docVec == nil {
		r.log.Warn("full-text embedding failed, embedding the final summary instead")
		docVec = p.Embedder.EmbedText(ctx, r.summary)
	}
	if docVec != nil {
		if err := p.Docs.UpdateDocumentEmbedding(ctx, r.doc.ID, docVec); err != nil {
			r.log.WithError(models.NewErrorInfo("store_error", err)).Warn("failed to store document embedding")
		}
	}

	var (
		sections []schema.Section
		chunks   []schema.Chunk
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		sections = p.Embedder.EmbedSections(egCtx, r.ext.FullText, r.sections)
		return nil
	})
	eg.Go(func() error {
		chunks = p.Embedder.EmbedChunks(egCtx, r.chunks)
		return nil
	})
	_ = eg.Wait()
	r.sections, r.chunks = sections, chunks

	for _, c := range r.chunks {
		if len(c.Embedding) == 0 && strings.TrimSpace(c.Text) != "" {
			r.metric.FailedEmbeddings++
		}
	}

	if err := p.Docs.SaveSections(ctx, r.doc.ID, r.sections); err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Warn("failed to store sections, chunks stay labelled")
	}
	if err := p.Docs.SaveChunks(ctx, r.chunks); err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Error("failed to store chunks")
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	if p.Vectors != nil {
		if err := p.Vectors.Upsert(ctx, r.chunks); err != nil {
			r.log.WithError(models.NewErrorInfo("vector_store_error", err)).
				Warn("vector index update failed, retrieval will use the local fallback scan")
		}
	}
	return nil
}

// persist writes the summary, cache entry, metric and event. None of these fail the upload.
func (p *IngestionPipeline) persist(ctx context.Context, r *run) {
	err := p.Docs.SaveSummary(ctx, schema.StoredSummary{
		DocumentID:  r.doc.ID,
		ContentHash: r.doc.ContentHash,
		Summary:     r.summary,
		Citations:   r.citations,
		Cached:      r.cached,
	})
	if err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Error("failed to store summary")
	}
	if !r.cached {
		if err := p.Cache.Put(ctx, r.doc.ContentHash, r.summary); err != nil {
			r.log.WithError(models.NewErrorInfo("cache_error", err)).Warn("failed to write summary cache")
		}
	}

	if active, err := p.Docs.ActiveDocument(ctx); err == nil && active == nil {
		if err := p.Docs.SetActive(ctx, r.doc.ID); err != nil {
			r.log.WithError(models.NewErrorInfo("store_error", err)).Warn("failed to activate first protocol")
		}
	}

	r.metric.ChunkCount = len(r.chunks)
	r.metric.SectionCount = len(r.sections)
	r.metric.CitationCount = len(r.citations)
	r.metric.DurationMillis = p.now().Sub(r.started).Milliseconds()
	if err := p.Docs.SaveMetric(ctx, r.metric); err != nil {
		r.log.WithError(models.NewErrorInfo("store_error", err)).Warn("failed to store ingestion metric")
	}

	publish(ctx, p.Events, r.log, r.doc.ID, EventIngested, map[string]interface{}{
		"document_id":       r.doc.ID,
		"name":              r.doc.Name,
		"page_count":        r.doc.PageCount,
		"chunk_count":       r.metric.ChunkCount,
		"section_count":     r.metric.SectionCount,
		"citation_count":    r.metric.CitationCount,
		"failed_summaries":  r.metric.FailedSummaries,
		"failed_embeddings": r.metric.FailedEmbeddings,
		"duration_ms":       r.metric.DurationMillis,
	})
}

func publish(ctx context.Context, events interfaces.EventPublisher, log *logger.Logger, key, eventType string, payload map[string]interface{}) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, key, eventType, payload); err != nil {
		log.WithError(models.NewErrorInfo("event_error", err)).
			WithPayload(map[string]interface{}{"event": eventType}).
			Warn("failed to publish event")
	}
}

func nonNilCitations(c []schema.Citation) []schema.Citation {
	if c == nil {
		return []schema.Citation{}
	}
	return c
}

func unresolvedPages(chunks []schema.Chunk) int {
	n := 0
	for _, c := range chunks {
		if !c.PageResolved {
			n++
		}
	}
	return n
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
