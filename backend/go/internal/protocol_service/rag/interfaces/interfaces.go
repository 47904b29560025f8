package interfaces

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Extractor turns raw document bytes into full text and per-page text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (*schema.Extraction, error)
}

// Completer sends role/content messages to a completion service and returns its text.
type Completer interface {
	Complete(ctx context.Context, messages []schema.Message, params schema.GenerationParams) (string, error)
}

// EmbeddingModel returns a vector for a single text.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore indexes chunk vectors and answers thresholded nearest-neighbour queries.
// An empty documentID in Query searches across all documents.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []schema.Chunk) error
	Query(ctx context.Context, vector []float32, threshold float64, limit int, documentID string) ([]schema.ScoredChunkRef, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// DocStore persists documents and everything derived from them.
// GetDocument and Summary return ErrNotFound for unknown ids; FindDocumentByHash
// and ActiveDocument return (nil, nil) when nothing matches.
type DocStore interface {
	CreateDocument(ctx context.Context, doc *schema.Document) error
	UpdateDocumentEmbedding(ctx context.Context, documentID string, embedding []float32) error
	GetDocument(ctx context.Context, documentID string) (*schema.Document, error)
	ListDocuments(ctx context.Context) ([]schema.Document, error)
	FindDocumentByHash(ctx context.Context, contentHash string) (*schema.Document, error)
	SetActive(ctx context.Context, documentID string) error
	ActiveDocument(ctx context.Context) (*schema.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error

	SaveSections(ctx context.Context, documentID string, sections []schema.Section) error
	Sections(ctx context.Context, documentID string) ([]schema.Section, error)
	UpdateSectionEmbeddings(ctx context.Context, documentID string, sections []schema.Section) error
	DeleteSections(ctx context.Context, documentID string) error

	SaveChunks(ctx context.Context, chunks []schema.Chunk) error
	Chunks(ctx context.Context, documentID string, limit int) ([]schema.Chunk, error)
	ChunksByIndex(ctx context.Context, documentID string, indexes []int) ([]schema.Chunk, error)
	DeleteChunks(ctx context.Context, documentID string) error

	SaveSummary(ctx context.Context, summary schema.StoredSummary) error
	Summary(ctx context.Context, documentID string) (*schema.StoredSummary, error)
	DeleteSummaries(ctx context.Context, documentID string) error

	SaveMetric(ctx context.Context, metric schema.Metric) error
	DeleteMetrics(ctx context.Context, documentID string) error

	SaveAudit(ctx context.Context, audit schema.Audit) error
}

// SummaryCache is the content-addressed summary cache. Put never overwrites.
type SummaryCache interface {
	Get(ctx context.Context, digest string) (string, bool, error)
	Put(ctx context.Context, digest, summary string) error
}

// BlobStore keeps the original uploaded bytes. Get returns ErrNotFound for unknown keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// EventPublisher emits best-effort audit events.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload map[string]interface{}) error
}
