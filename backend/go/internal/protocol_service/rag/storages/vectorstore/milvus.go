package vectorstore

import (
	"ckd-decision-support/backend/go/internal/database/milvus"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const defaultNProbe = 16

// MilvusStore indexes chunk vectors in a Milvus collection. Only references
// (document id, chunk index, page) are stored; chunk text lives in the DocStore.
type MilvusStore struct {
	log        *logger.Logger
	client     client.Client
	collection string
	nprobe     int
}

// NewMilvusStore creates a MilvusStore on top of the shared Milvus connection.
func NewMilvusStore(milvusClient *milvus.MilvusClient, log *logger.Logger) (*MilvusStore, error) {
	if milvusClient == nil || milvusClient.Client == nil {
		return nil, fmt.Errorf("milvus client is not initialized")
	}
	return &MilvusStore{
		log:        log,
		client:     milvusClient.Client,
		collection: milvusClient.Config.Schema.CollectionName,
		nprobe:     defaultNProbe,
	}, nil
}

// ChunkID is the primary key of a chunk vector.
func ChunkID(documentID string, index int) string {
	return documentID + ":" + strconv.Itoa(index)
}

// Upsert writes the vectors of chunks that have one; chunks without an embedding are skipped.
func (s *MilvusStore) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	var (
		ids, docIDs   []string
		indexes, page []int64
		vectors       [][]float32
		dim           int
	)
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %d has dimension %d, expected %d", c.Index, len(c.Embedding), dim)
		}
		ids = append(ids, ChunkID(c.DocumentID, c.Index))
		docIDs = append(docIDs, c.DocumentID)
		indexes = append(indexes, int64(c.Index))
		page = append(page, int64(max(c.PageNumber, 1)))
		vectors = append(vectors, c.Embedding)
	}
	if len(ids) == 0 {
		return nil
	}

	s.log.Info(fmt.Sprintf("Upserting %d chunk vectors into Milvus collection: %s", len(ids), s.collection))
	_, err := s.client.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvus.FieldChunkID, ids),
		entity.NewColumnVarChar(milvus.FieldDocumentID, docIDs),
		entity.NewColumnInt64(milvus.FieldChunkIndex, indexes),
		entity.NewColumnInt64(milvus.FieldPage, page),
		entity.NewColumnFloatVector(milvus.FieldEmbedding, dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert data into Milvus: %w", err)
	}
	return nil
}

// Query runs a COSINE search and keeps hits whose similarity reaches threshold.
func (s *MilvusStore) Query(ctx context.Context, vector []float32, threshold float64, limit int, documentID string) ([]schema.ScoredChunkRef, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	sp, err := entity.NewIndexIvfFlatSearchParam(s.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}
	expr := documentFilter(documentID)

	results, err := s.client.Search(
		ctx, s.collection, []string{}, expr,
		[]string{milvus.FieldDocumentID, milvus.FieldChunkIndex},
		[]entity.Vector{entity.FloatVector(vector)},
		milvus.FieldEmbedding, entity.COSINE, limit, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Milvus: %w", err)
	}

	var refs []schema.ScoredChunkRef
	for _, res := range results {
		docCol, ok := findColumn(res.Fields, milvus.FieldDocumentID).(*entity.ColumnVarChar)
		if !ok {
			s.log.Warn("Search result is missing document_id field, skipping.")
			continue
		}
		idxCol, ok := findColumn(res.Fields, milvus.FieldChunkIndex).(*entity.ColumnInt64)
		if !ok {
			s.log.Warn("Search result is missing chunk_index field, skipping.")
			continue
		}
		docs, idxs := docCol.Data(), idxCol.Data()
		for i := 0; i < res.ResultCount && i < len(res.Scores) && i < len(docs) && i < len(idxs); i++ {
			score := float64(res.Scores[i])
			if score < threshold {
				continue
			}
			refs = append(refs, schema.ScoredChunkRef{DocumentID: docs[i], ChunkIndex: int(idxs[i]), Score: score})
		}
	}
	return refs, nil
}

// DeleteDocument removes every vector that belongs to documentID.
func (s *MilvusStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.client.Delete(ctx, s.collection, "", documentFilter(documentID)); err != nil {
		return fmt.Errorf("failed to delete vectors from Milvus: %w", err)
	}
	return nil
}

func findColumn(fields []entity.Column, name string) entity.Column {
	for _, field := range fields {
		if field.Name() == name {
			return field
		}
	}
	return nil
}

func documentFilter(documentID string) string {
	if documentID == "" {
		return ""
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(documentID)
	return fmt.Sprintf(`%s == "%s"`, milvus.FieldDocumentID, escaped)
}

// compile-time check to ensure MilvusStore implements the VectorStore interface
var _ interfaces.VectorStore = (*MilvusStore)(nil)
