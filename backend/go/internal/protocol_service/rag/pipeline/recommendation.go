package pipeline

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/citations"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/embeddings"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/hashcache"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/llms"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/rerankers"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxSummaryInPrompt = 1500

var pageDigits = regexp.MustCompile(`\d+`)

// EvidenceRef is one evidence entry of a recommendation, bound to an offered page.
type EvidenceRef struct {
	Page    int    `json:"page"`
	Link    string `json:"link"`
	Section string `json:"section"`
	Quote   string `json:"quote"`
}

// Recommendation is always well-shaped: on any retrieval or model problem the text
// fields are empty, the lists are empty and Degraded is set. Offered still lists
// the evidence that was found.
type Recommendation struct {
	DocumentID     string                `json:"document_id"`
	Query          string                `json:"query"`
	Recommendation string                `json:"recommendation"`
	Investigations []string              `json:"investigations"`
	Treatment      []string              `json:"treatment"`
	Rationale      string                `json:"rationale"`
	Evidence       []EvidenceRef         `json:"evidence"`
	Offered        []schema.EvidenceItem `json:"offered_evidence"`
	Dropped        int                   `json:"dropped_evidence"`
	Degraded       bool                  `json:"degraded"`
}

// modelOutput is what the completion service is asked to return. Page is loose
// because models emit numbers, strings and "p.12" alike.
type modelOutput struct {
	Recommendation string   `json:"recommendation"`
	Investigations []string `json:"investigations"`
	Treatment      []string `json:"treatment"`
	Rationale      string   `json:"rationale"`
	Evidence       []struct {
		Page    interface{} `json:"page"`
		Link    string      `json:"link"`
		Section string      `json:"section"`
		Quote   string      `json:"quote"`
	} `json:"evidence"`
}

// RecommendationConfig holds the retrieval and prompt tunables.
type RecommendationConfig struct {
	Threshold     float64
	CandidatePool int
	ContextCap    int
	MaxTokens     int
	ViewerBase    string
}

func (c *RecommendationConfig) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.72
	}
	if c.CandidatePool <= 0 {
		c.CandidatePool = 12
	}
	if c.ContextCap <= 0 {
		c.ContextCap = 2500
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
}

// RecommendationDeps are the collaborators of the recommendation pipeline.
// Vectors and Events are optional.
type RecommendationDeps struct {
	Embeddings *embeddings.Client
	Embedder   *Embedder
	Ranker     *rerankers.SectionBoostRanker
	Completer  interfaces.Completer
	Docs       interfaces.DocStore
	Vectors    interfaces.VectorStore
	Events     interfaces.EventPublisher
}

// RecommendationPipeline grounds a recommendation in the stored protocol chunks.
type RecommendationPipeline struct {
	RecommendationDeps
	cfg RecommendationConfig
	log *logger.Logger
}

// NewRecommendationPipeline creates a RecommendationPipeline.
func NewRecommendationPipeline(deps RecommendationDeps, cfg RecommendationConfig, log *logger.Logger) *RecommendationPipeline {
	cfg.applyDefaults()
	return &RecommendationPipeline{RecommendationDeps: deps, cfg: cfg, log: log}
}

// Recommend returns an error only for invalid features or an unknown document id.
// Retrieval and model failures produce a degraded, well-shaped result.
func (p *RecommendationPipeline) Recommend(ctx context.Context, f PatientFeatures) (*Recommendation, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	scope, err := p.scope(ctx, f.DocumentID)
	if err != nil {
		return nil, err
	}

	query := BuildQuery(f)
	log := p.log.WithField("document_id", scope)
	rec := &Recommendation{DocumentID: scope, Query: query}

	qvec := p.Embeddings.Embed(ctx, query)
	if qvec == nil {
		log.Warn("query embedding unavailable, returning ranked evidence without a recommendation")
		rec.Degraded = true
	}

	candidates := p.candidates(ctx, log, qvec, scope)
	if scope == "" && len(candidates) > 0 {
		scope = candidates[0].DocumentID
		rec.DocumentID = scope
	}

	var sections []schema.Section
	if scope != "" {
		sections, err = p.Docs.Sections(ctx, scope)
		if err != nil {
			log.WithError(models.NewErrorInfo("store_error", err)).Warn("could not load sections, ranking by content only")
		}
		sections = p.Embedder.HealSections(ctx, scope, sections)
	}

	evidence := p.Ranker.Rank(ctx, qvec, candidates, sections)
	contextText, offered := BuildContext(evidence, p.cfg.ContextCap)
	rec.Offered = offered

	summary := ""
	if scope != "" {
		if s, err := p.Docs.Summary(ctx, scope); err == nil {
			summary = s.Summary
		}
	}

	reply := ""
	switch {
	case len(offered) == 0:
		log.Warn("no evidence retrieved, returning an empty recommendation")
		rec.Degraded = true
	case rec.Degraded:
		// Evidence without a query vector is unranked; the model is not asked.
	default:
		reply = p.generate(ctx, log, query, summary, contextText, offered, rec)
	}
	rec.normalize()

	p.audit(ctx, log, summary, contextText, query, reply, rec)
	return rec, nil
}

// scope resolves the document a recommendation is restricted to: the requested
// one, else the active one, else none.
func (p *RecommendationPipeline) scope(ctx context.Context, documentID string) (string, error) {
	if documentID != "" {
		if _, err := p.Docs.GetDocument(ctx, documentID); err != nil {
			return "", err
		}
		return documentID, nil
	}
	active, err := p.Docs.ActiveDocument(ctx)
	if err != nil {
		p.log.WithError(models.NewErrorInfo("store_error", err)).Warn("could not load the active protocol, searching all documents")
		return "", nil
	}
	if active == nil {
		return "", nil
	}
	return active.ID, nil
}

// candidates queries the vector store and falls back to the first chunks of the
// scoped document when it yields nothing.
func (p *RecommendationPipeline) candidates(ctx context.Context, log *logger.Logger, qvec []float32, scope string) []schema.Chunk {
	var out []schema.Chunk
	if p.Vectors != nil && qvec != nil {
		refs, err := p.Vectors.Query(ctx, qvec, p.cfg.Threshold, p.cfg.CandidatePool, scope)
		if err != nil {
			log.WithError(models.NewErrorInfo("vector_store_error", err)).Warn("nearest-neighbour query failed, using local fallback")
		}
		out = p.hydrate(ctx, log, refs)
	}
	if len(out) > 0 || scope == "" {
		return out
	}

	chunks, err := p.Docs.Chunks(ctx, scope, p.cfg.CandidatePool)
	if err != nil {
		log.WithError(models.NewErrorInfo("store_error", err)).Warn("local fallback scan failed")
		return nil
	}
	log.WithPayload(map[string]interface{}{"candidates": len(chunks)}).Info("using local fallback candidates")
	return chunks
}

// hydrate loads the chunk bodies behind nearest-neighbour hits, keeping hit order.
func (p *RecommendationPipeline) hydrate(ctx context.Context, log *logger.Logger, refs []schema.ScoredChunkRef) []schema.Chunk {
	byDoc := make(map[string][]int)
	var order []string
	for _, r := range refs {
		if _, ok := byDoc[r.DocumentID]; !ok {
			order = append(order, r.DocumentID)
		}
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r.ChunkIndex)
	}

	type key struct {
		doc   string
		index int
	}
	loaded := make(map[key]schema.Chunk)
	for _, doc := range order {
		chunks, err := p.Docs.ChunksByIndex(ctx, doc, byDoc[doc])
		if err != nil {
			log.WithError(models.NewErrorInfo("store_error", err)).Warn("failed to load candidate chunks")
			continue
		}
		for _, c := range chunks {
			loaded[key{c.DocumentID, c.Index}] = c
		}
	}

	out := make([]schema.Chunk, 0, len(refs))
	for _, r := range refs {
		if c, ok := loaded[key{r.DocumentID, r.ChunkIndex}]; ok {
			out = append(out, c)
		}
	}
	return out
}

// BuildContext renders evidence as "[section] (p.N)\nexcerpt" blocks until the next
// block would exceed limit runes. It returns the text and the evidence it contains.
// When even the first block is too long it is cut to fit.
func BuildContext(evidence []schema.EvidenceItem, limit int) (string, []schema.EvidenceItem) {
	var (
		sb      strings.Builder
		used    int
		offered []schema.EvidenceItem
	)
	for i, e := range evidence {
		block := fmt.Sprintf("[%s] (p.%d)\n%s", e.Section, e.Page, e.Excerpt)
		sep := 0
		if i > 0 {
			sep = 2
		}
		n := len([]rune(block))
		if used+sep+n > limit {
			if i == 0 && limit > 0 {
				sb.WriteString(truncateRunes(block, limit))
				offered = append(offered, e)
			}
			break
		}
		if sep > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(block)
		used += sep + n
		offered = append(offered, e)
	}
	return sb.String(), offered
}

func (p *RecommendationPipeline) generate(ctx context.Context, log *logger.Logger, query, summary, contextText string, offered []schema.EvidenceItem, rec *Recommendation) string {
	pages := make([]string, 0, len(offered))
	seen := make(map[int]bool)
	for _, e := range offered {
		if !seen[e.Page] {
			seen[e.Page] = true
			pages = append(pages, strconv.Itoa(e.Page))
		}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Patient: %s\n\n", query)
	if summary != "" {
		fmt.Fprintf(&user, "Protocol summary:\n%s\n\n", truncateRunes(summary, maxSummaryInPrompt))
	}
	fmt.Fprintf(&user, "Protocol context:\n%s\n\n", contextText)
	fmt.Fprintf(&user, "Pages you may cite: %s. Link for page %d: %s", strings.Join(pages, ", "), offered[0].Page, citations.ViewerURL(p.cfg.ViewerBase, offered[0].Page))

	reply, err := p.Completer.Complete(ctx, []schema.Message{
		{Role: schema.RoleSystem, Content: recommendationPrompt},
		{Role: schema.RoleUser, Content: user.String()},
	}, schema.GenerationParams{Temperature: schema.Temperature(0.1), MaxTokens: p.cfg.MaxTokens, JSON: true})
	if err != nil {
		log.WithError(models.NewErrorInfo("completion_error", err)).Warn("recommendation call failed, returning an empty recommendation")
		rec.Degraded = true
		return ""
	}

	var out modelOutput
	if err := llms.DecodeJSON(reply, &out); err != nil {
		log.WithError(models.NewErrorInfo("parse_error", err)).Warn("recommendation reply was not JSON, returning an empty recommendation")
		rec.Degraded = true
		return reply
	}

	rec.Recommendation = strings.TrimSpace(out.Recommendation)
	rec.Investigations = cleanList(out.Investigations)
	rec.Treatment = cleanList(out.Treatment)
	rec.Rationale = strings.TrimSpace(out.Rationale)

	cites := make([]schema.Citation, 0, len(out.Evidence))
	for _, e := range out.Evidence {
		page, ok := pageNumber(e.Page)
		if !ok {
			rec.Dropped++
			continue
		}
		cites = append(cites, schema.Citation{Page: page, Snippet: strings.TrimSpace(e.Quote)})
	}
	valid, invalid := citations.Validate(cites, offered)
	rec.Dropped += len(invalid)
	for _, c := range valid {
		rec.Evidence = append(rec.Evidence, EvidenceRef{
			Page:    c.Page,
			Link:    citations.ViewerURL(p.cfg.ViewerBase, c.Page),
			Section: sectionForPage(offered, c.Page),
			Quote:   c.Snippet,
		})
	}
	if rec.Dropped > 0 {
		log.WithPayload(map[string]interface{}{"dropped": rec.Dropped}).Warn("dropped evidence citing pages that were not offered")
	}
	return reply
}

// audit records successful responses with what was offered. It is never read
// back. The event is published for degraded responses too.
func (p *RecommendationPipeline) audit(ctx context.Context, log *logger.Logger, summary, contextText, query, reply string, rec *Recommendation) {
	key := hashcache.HashParts(summary, contextText, query)
	if !rec.Degraded {
		p.saveAudit(ctx, log, key, contextText, query, rec)
	}

	publish(ctx, p.Events, log, key, EventRecommendation, map[string]interface{}{
		"document_id":    rec.DocumentID,
		"audit_key":      key,
		"offered":        len(rec.Offered),
		"cited":          len(rec.Evidence),
		"dropped":        rec.Dropped,
		"degraded":       rec.Degraded,
		"raw_reply_size": len(reply),
	})
}

func (p *RecommendationPipeline) saveAudit(ctx context.Context, log *logger.Logger, key, contextText, query string, rec *Recommendation) {
	response, err := json.Marshal(rec)
	if err != nil {
		response = nil
	}
	err = p.Docs.SaveAudit(ctx, schema.Audit{
		CacheKey:   key,
		DocumentID: rec.DocumentID,
		Query:      query,
		Context:    contextText,
		Response:   response,
		Evidence:   rec.Offered,
		Degraded:   rec.Degraded,
	})
	if err != nil {
		log.WithError(models.NewErrorInfo("store_error", err)).Warn("failed to write recommendation audit")
	}
}

// normalize replaces nil slices so the JSON shape never changes.
func (r *Recommendation) normalize() {
	if r.Investigations == nil {
		r.Investigations = []string{}
	}
	if r.Treatment == nil {
		r.Treatment = []string{}
	}
	if r.Evidence == nil {
		r.Evidence = []EvidenceRef{}
	}
	if r.Offered == nil {
		r.Offered = []schema.EvidenceItem{}
	}
}

func pageNumber(v interface{}) (int, bool) {
	switch p := v.(type) {
	case float64:
		if p >= 1 && p == float64(int(p)) {
			return int(p), true
		}
	case string:
		if m := pageDigits.FindString(p); m != "" {
			n, err := strconv.Atoi(m)
			return n, err == nil && n >= 1
		}
	}
	return 0, false
}

func sectionForPage(offered []schema.EvidenceItem, page int) string {
	for _, e := range offered {
		if e.Page == page {
			return e.Section
		}
	}
	return ""
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsNotFound reports whether err means an unknown document.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
