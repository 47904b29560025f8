package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProtocolDocument is one uploaded clinical protocol.
// Only derived fields (page count, embedding, active flag) are stored; the full text is not.
type ProtocolDocument struct {
	ID               string         `gorm:"primaryKey;size:36"`
	Name             string         `gorm:"not null;size:255"`
	OriginalFilename string         `gorm:"size:255"`
	Version          string         `gorm:"size:64"`
	PageCount        int            `gorm:"not null;default:0"`
	OCRUsed          bool           `gorm:"not null;default:false"`
	Active           bool           `gorm:"index;not null;default:false"`
	ContentHash      string         `gorm:"index;size:64"`
	BlobKey          string         `gorm:"size:512"`
	Embedding        datatypes.JSON `gorm:"type:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProtocolSection is a titled region of a document outline.
type ProtocolSection struct {
	ID          uint           `gorm:"primaryKey"`
	DocumentID  string         `gorm:"index:idx_section_doc_offset;not null;size:36"`
	Position    int            `gorm:"not null"`
	Title       string         `gorm:"not null;size:512"`
	StartOffset int            `gorm:"index:idx_section_doc_offset;not null"`
	PageNumber  int            `gorm:"not null;default:1"`
	Embedding   datatypes.JSON `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProtocolChunk is a fixed-size slice of a document's text.
// The (document_id, chunk_index) pair is unique.
type ProtocolChunk struct {
	ID           uint           `gorm:"primaryKey"`
	DocumentID   string         `gorm:"uniqueIndex:idx_chunk_doc_index;not null;size:36"`
	ChunkIndex   int            `gorm:"uniqueIndex:idx_chunk_doc_index;not null"`
	Content      string         `gorm:"type:longtext;not null"`
	StartOffset  int            `gorm:"not null"`
	EndOffset    int            `gorm:"not null"`
	PageNumber   int            `gorm:"not null;default:1"`
	PageResolved bool           `gorm:"not null;default:true"`
	SectionTitle string         `gorm:"size:512"`
	Summary      string         `gorm:"type:text"`
	Embedding    datatypes.JSON `gorm:"type:json"`
	CreatedAt    time.Time
}

// ProtocolSummary holds the final summary and the citations extracted from chunk summaries.
type ProtocolSummary struct {
	ID          uint           `gorm:"primaryKey"`
	DocumentID  string         `gorm:"index;not null;size:36"`
	ContentHash string         `gorm:"size:64"`
	Summary     string         `gorm:"type:longtext"`
	Citations   datatypes.JSON `gorm:"type:json"`
	Cached      bool           `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

// SummaryCacheEntry maps a content hash to a summary. Written once per hash.
type SummaryCacheEntry struct {
	ContentHash string `gorm:"primaryKey;size:64"`
	Summary     string `gorm:"type:longtext;not null"`
	CreatedAt   time.Time
}

// TableName keeps the cache table name stable across model renames.
func (SummaryCacheEntry) TableName() string {
	return "summary_cache"
}

// RecommendationAudit records what evidence was offered and what came back.
// It is written for traceability only and never read to skip a computation.
type RecommendationAudit struct {
	ID         uint           `gorm:"primaryKey"`
	CacheKey   string         `gorm:"index;size:64;not null"`
	DocumentID string         `gorm:"index;size:36"`
	Query      string         `gorm:"type:text"`
	Context    string         `gorm:"type:text"`
	Response   datatypes.JSON `gorm:"type:json"`
	Evidence   datatypes.JSON `gorm:"type:json"`
	Degraded   bool           `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

// ProtocolMetric records per-ingestion counters for dashboards.
type ProtocolMetric struct {
	ID                uint   `gorm:"primaryKey"`
	DocumentID        string `gorm:"index;not null;size:36"`
	ChunkCount        int
	SectionCount      int
	FailedSummaries   int
	FailedEmbeddings  int
	CitationCount     int
	DurationMillis    int64
	ExtractionMillis  int64
	SummarizingMillis int64
	EmbeddingMillis   int64
	CreatedAt         time.Time
}

// AllProtocolModels lists every table owned by the protocol service, for AutoMigrate.
func AllProtocolModels() []interface{} {
	return []interface{}{
		&ProtocolDocument{},
		&ProtocolSection{},
		&ProtocolChunk{},
		&ProtocolSummary{},
		&SummaryCacheEntry{},
		&RecommendationAudit{},
		&ProtocolMetric{},
	}
}
