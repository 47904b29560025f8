package docstore

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-process DocStore for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	docs      map[string]*schema.Document
	sections  map[string][]schema.Section
	chunks    map[string]map[int]schema.Chunk
	summaries map[string][]schema.StoredSummary
	metrics   map[string][]schema.Metric
	audits    []schema.Audit
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		docs:      make(map[string]*schema.Document),
		sections:  make(map[string][]schema.Section),
		chunks:    make(map[string]map[int]schema.Chunk),
		summaries: make(map[string][]schema.StoredSummary),
		metrics:   make(map[string][]schema.Metric),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *schema.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := s.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	cp := *doc
	cp.FullText = ""
	cp.Embedding = cloneVector(doc.Embedding)
	s.docs[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateDocumentEmbedding(_ context.Context, documentID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[documentID]; ok {
		d.Embedding = cloneVector(embedding)
		d.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (*schema.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[documentID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]schema.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Document, 0, len(s.docs))
	for _, d := range s.docs {
		cp := *d
		cp.Embedding = nil
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) FindDocumentByHash(_ context.Context, contentHash string) (*schema.Document, error) {
	return s.newest(func(d *schema.Document) bool { return d.ContentHash == contentHash }), nil
}

func (s *MemoryStore) ActiveDocument(_ context.Context) (*schema.Document, error) {
	return s.newest(func(d *schema.Document) bool { return d.Active }), nil
}

func (s *MemoryStore) newest(match func(*schema.Document) bool) *schema.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *schema.Document
	for _, d := range s.docs {
		if !match(d) {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (s *MemoryStore) SetActive(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; !ok {
		return interfaces.ErrNotFound
	}
	for id, d := range s.docs {
		d.Active = id == documentID
	}
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

func (s *MemoryStore) SaveSections(_ context.Context, documentID string, sections []schema.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sec := range sections {
		sec.Embedding = cloneVector(sec.Embedding)
		s.sections[documentID] = append(s.sections[documentID], sec)
	}
	sort.SliceStable(s.sections[documentID], func(i, j int) bool {
		return s.sections[documentID][i].StartOffset < s.sections[documentID][j].StartOffset
	})
	return nil
}

func (s *MemoryStore) Sections(_ context.Context, documentID string) ([]schema.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.sections[documentID]
	out := make([]schema.Section, len(src))
	for i, sec := range src {
		sec.Embedding = cloneVector(sec.Embedding)
		out[i] = sec
	}
	return out, nil
}

func (s *MemoryStore) UpdateSectionEmbeddings(_ context.Context, documentID string, sections []schema.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.sections[documentID]
	for _, upd := range sections {
		if len(upd.Embedding) == 0 {
			continue
		}
		for i := range stored {
			if stored[i].StartOffset == upd.StartOffset && stored[i].Title == upd.Title {
				stored[i].Embedding = cloneVector(upd.Embedding)
			}
		}
	}
	return nil
}

func (s *MemoryStore) DeleteSections(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sections, documentID)
	return nil
}

func (s *MemoryStore) SaveChunks(_ context.Context, chunks []schema.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		byIndex, ok := s.chunks[c.DocumentID]
		if !ok {
			byIndex = make(map[int]schema.Chunk)
			s.chunks[c.DocumentID] = byIndex
		}
		c.Embedding = cloneVector(c.Embedding)
		byIndex[c.Index] = c
	}
	return nil
}

func (s *MemoryStore) Chunks(_ context.Context, documentID string, limit int) ([]schema.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.sortedChunks(documentID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ChunksByIndex(_ context.Context, documentID string, indexes []int) ([]schema.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		want[i] = true
	}
	var out []schema.Chunk
	for _, c := range s.sortedChunks(documentID) {
		if want[c.Index] {
			out = append(out, c)
		}
	}
	return out, nil
}

// sortedChunks assumes the caller holds the lock.
func (s *MemoryStore) sortedChunks(documentID string) []schema.Chunk {
	byIndex := s.chunks[documentID]
	out := make([]schema.Chunk, 0, len(byIndex))
	for _, c := range byIndex {
		c.Embedding = cloneVector(c.Embedding)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (s *MemoryStore) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, summary schema.StoredSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary.CreatedAt = s.now()
	summary.Citations = append([]schema.Citation(nil), summary.Citations...)
	s.summaries[summary.DocumentID] = append(s.summaries[summary.DocumentID], summary)
	return nil
}

func (s *MemoryStore) Summary(_ context.Context, documentID string) (*schema.StoredSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.summaries[documentID]
	if len(all) == 0 {
		return nil, interfaces.ErrNotFound
	}
	out := all[len(all)-1]
	return &out, nil
}

func (s *MemoryStore) DeleteSummaries(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, documentID)
	return nil
}

func (s *MemoryStore) SaveMetric(_ context.Context, metric schema.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[metric.DocumentID] = append(s.metrics[metric.DocumentID], metric)
	return nil
}

// Metrics returns the recorded ingestion metrics of a document.
func (s *MemoryStore) Metrics(documentID string) []schema.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Metric(nil), s.metrics[documentID]...)
}

func (s *MemoryStore) DeleteMetrics(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, documentID)
	return nil
}

func (s *MemoryStore) SaveAudit(_ context.Context, audit schema.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, audit)
	return nil
}

// Audits returns every audit record written so far.
func (s *MemoryStore) Audits() []schema.Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Audit(nil), s.audits...)
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}

// compile-time check to ensure MemoryStore implements the DocStore interface
var _ interfaces.DocStore = (*MemoryStore)(nil)
