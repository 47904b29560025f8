package vectorstore

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
)

const (
	metaDocumentID = "document_id"
	metaChunkIndex = "chunk_index"
	metaPage       = "page_number"
)

var errNoEmbeddingFunc = errors.New("chromem store only accepts precomputed embeddings")

// ChromemStore is an embedded vector index for single-node deployments.
type ChromemStore struct {
	col *chromem.Collection
}

// OpenChromem opens a persistent database under path, or an in-memory one when path is empty.
func OpenChromem(path string) (*chromem.DB, error) {
	if path == "" {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database at %s: %w", path, err)
	}
	return db, nil
}

// NewChromemStore creates (or reopens) the named cosine collection.
func NewChromemStore(db *chromem.DB, collection string) (*ChromemStore, error) {
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	col, err := db.GetOrCreateCollection(collection, map[string]string{"hnsw:space": "cosine"}, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem collection %s: %w", collection, err)
	}
	return &ChromemStore{col: col}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	var (
		ids      []string
		vectors  [][]float32
		metas    []map[string]string
		contents []string
	)
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		ids = append(ids, ChunkID(c.DocumentID, c.Index))
		vectors = append(vectors, append([]float32(nil), c.Embedding...))
		metas = append(metas, map[string]string{
			metaDocumentID: c.DocumentID,
			metaChunkIndex: strconv.Itoa(c.Index),
			metaPage:       strconv.Itoa(max(c.PageNumber, 1)),
		})
		contents = append(contents, "")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Add(ctx, ids, vectors, metas, contents); err != nil {
		return fmt.Errorf("failed to add vectors to chromem: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, threshold float64, limit int, documentID string) ([]schema.ScoredChunkRef, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection.
	n := min(limit, s.col.Count())
	if n == 0 {
		return nil, nil
	}
	var where map[string]string
	if documentID != "" {
		where = map[string]string{metaDocumentID: documentID}
	}
	results, err := s.col.QueryEmbedding(ctx, append([]float32(nil), vector...), n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromem: %w", err)
	}

	refs := make([]schema.ScoredChunkRef, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < threshold {
			continue
		}
		idx, err := strconv.Atoi(r.Metadata[metaChunkIndex])
		if err != nil {
			continue
		}
		refs = append(refs, schema.ScoredChunkRef{DocumentID: r.Metadata[metaDocumentID], ChunkIndex: idx, Score: score})
	}
	return refs, nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return nil
	}
	if err := s.col.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("failed to delete vectors from chromem: %w", err)
	}
	return nil
}

// compile-time check to ensure ChromemStore implements the VectorStore interface
var _ interfaces.VectorStore = (*ChromemStore)(nil)
