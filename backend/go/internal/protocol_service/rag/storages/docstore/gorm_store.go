package docstore

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const chunkBatchSize = 100

// GormStore is the relational DocStore backed by the protocol_* tables.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore. The tables are created by mysql.GetDB when
// auto-migration is enabled.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateDocument(ctx context.Context, doc *schema.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	row := documentToRow(doc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	doc.CreatedAt, doc.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *GormStore) UpdateDocumentEmbedding(ctx context.Context, documentID string, embedding []float32) error {
	err := s.db.WithContext(ctx).Model(&models.ProtocolDocument{}).
		Where("id = ?", documentID).
		Update("embedding", encodeVector(embedding)).Error
	if err != nil {
		return fmt.Errorf("failed to update document embedding: %w", err)
	}
	return nil
}

func (s *GormStore) GetDocument(ctx context.Context, documentID string) (*schema.Document, error) {
	var row models.ProtocolDocument
	err := s.db.WithContext(ctx).Where("id = ?", documentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	doc := documentFromRow(row)
	return &doc, nil
}

func (s *GormStore) ListDocuments(ctx context.Context) ([]schema.Document, error) {
	var rows []models.ProtocolDocument
	// Listings never need the vector.
	err := s.db.WithContext(ctx).Omit("embedding").Order("created_at desc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	docs := make([]schema.Document, len(rows))
	for i, r := range rows {
		docs[i] = documentFromRow(r)
	}
	return docs, nil
}

func (s *GormStore) FindDocumentByHash(ctx context.Context, contentHash string) (*schema.Document, error) {
	return s.findOne(ctx, s.db.WithContext(ctx).Where("content_hash = ?", contentHash).Order("created_at desc"))
}

func (s *GormStore) ActiveDocument(ctx context.Context) (*schema.Document, error) {
	return s.findOne(ctx, s.db.WithContext(ctx).Where("active = ?", true).Order("updated_at desc"))
}

func (s *GormStore) findOne(_ context.Context, q *gorm.DB) (*schema.Document, error) {
	var row models.ProtocolDocument
	err := q.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	doc := documentFromRow(row)
	return &doc, nil
}

// SetActive makes documentID the only active document.
func (s *GormStore) SetActive(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ProtocolDocument{}).Where("id = ?", documentID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}
		if count == 0 {
			return interfaces.ErrNotFound
		}
		if err := tx.Model(&models.ProtocolDocument{}).Where("active = ? AND id <> ?", true, documentID).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate documents: %w", err)
		}
		if err := tx.Model(&models.ProtocolDocument{}).Where("id = ?", documentID).
			Update("active", true).Error; err != nil {
			return fmt.Errorf("failed to activate document: %w", err)
		}
		return nil
	})
}

func (s *GormStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", documentID).Delete(&models.ProtocolDocument{}).Error; err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *GormStore) SaveSections(ctx context.Context, documentID string, sections []schema.Section) error {
	if len(sections) == 0 {
		return nil
	}
	rows := make([]models.ProtocolSection, len(sections))
	for i, sec := range sections {
		rows[i] = models.ProtocolSection{
			DocumentID:  documentID,
			Position:    i,
			Title:       sec.Title,
			StartOffset: sec.StartOffset,
			PageNumber:  max(sec.PageNumber, 1),
			Embedding:   encodeVector(sec.Embedding),
		}
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save sections: %w", err)
	}
	return nil
}

func (s *GormStore) Sections(ctx context.Context, documentID string) ([]schema.Section, error) {
	var rows []models.ProtocolSection
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).
		Order("start_offset asc").Order("position asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}
	out := make([]schema.Section, len(rows))
	for i, r := range rows {
		out[i] = sectionFromRow(r)
	}
	return out, nil
}

// UpdateSectionEmbeddings stores the embeddings of sections matched by start offset and title.
func (s *GormStore) UpdateSectionEmbeddings(ctx context.Context, documentID string, sections []schema.Section) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sec := range sections {
			if len(sec.Embedding) == 0 {
				continue
			}
			err := tx.Model(&models.ProtocolSection{}).
				Where("document_id = ? AND start_offset = ? AND title = ?", documentID, sec.StartOffset, sec.Title).
				Update("embedding", encodeVector(sec.Embedding)).Error
			if err != nil {
				return fmt.Errorf("failed to update section %q: %w", sec.Title, err)
			}
		}
		return nil
	})
}

func (s *GormStore) DeleteSections(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ProtocolSection{}).Error; err != nil {
		return fmt.Errorf("failed to delete sections: %w", err)
	}
	return nil
}

// SaveChunks upserts chunks on (document_id, chunk_index).
func (s *GormStore) SaveChunks(ctx context.Context, chunks []schema.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]models.ProtocolChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkToRow(c)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content", "start_offset", "end_offset", "page_number", "page_resolved",
				"section_title", "summary", "embedding",
			}),
		}).
		CreateInBatches(&rows, chunkBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}
	return nil
}

// Chunks returns the document's chunks in index order; limit <= 0 means all.
func (s *GormStore) Chunks(ctx context.Context, documentID string, limit int) ([]schema.Chunk, error) {
	q := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.findChunks(q)
}

func (s *GormStore) ChunksByIndex(ctx context.Context, documentID string, indexes []int) ([]schema.Chunk, error) {
	if len(indexes) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).
		Where("document_id = ? AND chunk_index IN ?", documentID, indexes).
		Order("chunk_index asc")
	return s.findChunks(q)
}

func (s *GormStore) findChunks(q *gorm.DB) ([]schema.Chunk, error) {
	var rows []models.ProtocolChunk
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	out := make([]schema.Chunk, len(rows))
	for i, r := range rows {
		out[i] = chunkFromModel(r)
	}
	return out, nil
}

func (s *GormStore) DeleteChunks(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ProtocolChunk{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *GormStore) SaveSummary(ctx context.Context, summary schema.StoredSummary) error {
	row := models.ProtocolSummary{
		DocumentID:  summary.DocumentID,
		ContentHash: summary.ContentHash,
		Summary:     summary.Summary,
		Citations:   marshalJSON(summary.Citations),
		Cached:      summary.Cached,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// Summary returns the most recent summary of the document.
func (s *GormStore) Summary(ctx context.Context, documentID string) (*schema.StoredSummary, error) {
	var row models.ProtocolSummary
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id desc").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	out := summaryFromRow(row)
	return &out, nil
}

func (s *GormStore) DeleteSummaries(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ProtocolSummary{}).Error; err != nil {
		return fmt.Errorf("failed to delete summaries: %w", err)
	}
	return nil
}

func (s *GormStore) SaveMetric(ctx context.Context, m schema.Metric) error {
	row := models.ProtocolMetric{
		DocumentID:        m.DocumentID,
		ChunkCount:        m.ChunkCount,
		SectionCount:      m.SectionCount,
		FailedSummaries:   m.FailedSummaries,
		FailedEmbeddings:  m.FailedEmbeddings,
		CitationCount:     m.CitationCount,
		DurationMillis:    m.DurationMillis,
		ExtractionMillis:  m.ExtractionMillis,
		SummarizingMillis: m.SummarizingMillis,
		EmbeddingMillis:   m.EmbeddingMillis,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save metric: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteMetrics(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ProtocolMetric{}).Error; err != nil {
		return fmt.Errorf("failed to delete metrics: %w", err)
	}
	return nil
}

func (s *GormStore) SaveAudit(ctx context.Context, a schema.Audit) error {
	row := models.RecommendationAudit{
		CacheKey:   a.CacheKey,
		DocumentID: a.DocumentID,
		Query:      a.Query,
		Context:    a.Context,
		Evidence:   marshalJSON(a.Evidence),
		Degraded:   a.Degraded,
	}
	if len(a.Response) > 0 {
		row.Response = append(row.Response, a.Response...)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save audit: %w", err)
	}
	return nil
}

// compile-time check to ensure GormStore implements the DocStore interface
var _ interfaces.DocStore = (*GormStore)(nil)
