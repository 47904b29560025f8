package schema

import "time"

// UncategorizedSection is the label given to chunks when a document has no outline.
const UncategorizedSection = "Uncategorized"

// Document is one uploaded protocol. FullText lives only for the duration of an
// ingestion run; only derived fields are persisted.
type Document struct {
	ID               string
	Name             string
	OriginalFilename string
	Version          string
	FullText         string
	PageCount        int
	OCRUsed          bool
	Active           bool
	ContentHash      string
	BlobKey          string
	Embedding        []float32
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Page is the text of one page as returned by the extractor. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Extraction is the result of running a document through the extractor.
type Extraction struct {
	FullText  string
	Pages     []Page
	PageCount int
	OCRUsed   bool
}

// PageSpan is the half-open character range [Start, End) covered by a page.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

// Section is a titled region of a document. Its extent runs from StartOffset to
// the next section's StartOffset, or to the end of the text for the last one.
type Section struct {
	Title       string
	StartOffset int
	PageNumber  int
	Embedding   []float32
}

// Chunk is a fixed-size slice of a document's text. StartOffset refers to the
// untrimmed source; Text is trimmed.
type Chunk struct {
	DocumentID   string
	Index        int
	Text         string
	StartOffset  int
	EndOffset    int
	PageNumber   int
	PageResolved bool
	SectionTitle string
	Summary      string
	Embedding    []float32
}

// ScoredChunkRef is a nearest-neighbour hit; the chunk body is loaded separately.
type ScoredChunkRef struct {
	DocumentID string
	ChunkIndex int
	Score      float64
}

// EvidenceItem is a ranked chunk offered to the generation step.
type EvidenceItem struct {
	Chunk        Chunk   `json:"-"`
	ChunkIndex   int     `json:"chunk_index"`
	Page         int     `json:"page"`
	Section      string  `json:"section"`
	ContentScore float64 `json:"content_score"`
	SectionScore float64 `json:"section_score"`
	BlendedScore float64 `json:"blended_score"`
	Excerpt      string  `json:"excerpt"`
	Link         string  `json:"link"`
}

// Citation is a page reference the generation step actually emitted.
type Citation struct {
	Page       int    `json:"page"`
	URL        string `json:"url"`
	ChunkIndex int    `json:"chunk_index"`
	Snippet    string `json:"snippet"`
}

// CacheEntry maps a content hash to a previously computed summary.
type CacheEntry struct {
	ContentHash string
	Summary     string
	CreatedAt   time.Time
}

// Message is one role/content pair sent to the completion service.
type Message struct {
	Role    string
	Content string
}

// Message roles understood by every completer.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// GenerationParams tunes a completion call. Zero values mean provider defaults.
type GenerationParams struct {
	Temperature *float32
	MaxTokens   int
	JSON        bool
}

// Temperature is a helper for building GenerationParams literals.
func Temperature(t float32) *float32 {
	return &t
}

// Metric records counters and durations for one ingestion run.
type Metric struct {
	DocumentID        string
	ChunkCount        int
	SectionCount      int
	FailedSummaries   int
	FailedEmbeddings  int
	CitationCount     int
	DurationMillis    int64
	ExtractionMillis  int64
	SummarizingMillis int64
	EmbeddingMillis   int64
}

// StoredSummary is the persisted outcome of summarizing a document.
type StoredSummary struct {
	DocumentID  string
	ContentHash string
	Summary     string
	Citations   []Citation
	Cached      bool
	CreatedAt   time.Time
}

// Audit is the traceability record written after a recommendation.
type Audit struct {
	CacheKey   string
	DocumentID string
	Query      string
	Context    string
	Response   []byte
	Evidence   []EvidenceItem
	Degraded   bool
}
