package pipeline

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DeletionPipeline removes a document and everything derived from it, children first.
type DeletionPipeline struct {
	docs    interfaces.DocStore
	vectors interfaces.VectorStore
	blobs   interfaces.BlobStore
	events  interfaces.EventPublisher
	log     *logger.Logger
}

// NewDeletionPipeline creates a DeletionPipeline. vectors, blobs and events may be nil.
func NewDeletionPipeline(docs interfaces.DocStore, vectors interfaces.VectorStore, blobs interfaces.BlobStore, events interfaces.EventPublisher, log *logger.Logger) *DeletionPipeline {
	return &DeletionPipeline{docs: docs, vectors: vectors, blobs: blobs, events: events, log: log}
}

// Delete removes the document and publishes a deletion event.
func (p *DeletionPipeline) Delete(ctx context.Context, documentID string) error {
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	log := p.log.WithField("document_id", documentID)

	if err := purgeDocument(ctx, p.docs, p.vectors, p.blobs, doc, log); err != nil {
		return err
	}
	log.Info("protocol deleted")

	publish(ctx, p.events, log, documentID, EventDeleted, map[string]interface{}{
		"document_id": documentID,
		"name":        doc.Name,
	})
	return nil
}

// purgeDocument removes the blob, then the dependent rows and vectors concurrently,
// and only when all of those succeeded the document row itself.
func purgeDocument(ctx context.Context, docs interfaces.DocStore, vectors interfaces.VectorStore, blobs interfaces.BlobStore, doc *schema.Document, log *logger.Logger) error {
	if blobs != nil && doc.BlobKey != "" {
		if err := blobs.Delete(ctx, doc.BlobKey); err != nil {
			log.WithError(models.NewErrorInfo("blob_error", err)).Error("failed to delete original file")
			return fmt.Errorf("failed to delete original file: %w", err)
		}
	}

	// No shared context: one failing child must not cancel the others.
	var eg errgroup.Group
	eg.Go(func() error { return docs.DeleteChunks(ctx, doc.ID) })
	eg.Go(func() error { return docs.DeleteSections(ctx, doc.ID) })
	eg.Go(func() error { return docs.DeleteSummaries(ctx, doc.ID) })
	eg.Go(func() error { return docs.DeleteMetrics(ctx, doc.ID) })
	if vectors != nil {
		eg.Go(func() error { return vectors.DeleteDocument(ctx, doc.ID) })
	}
	if err := eg.Wait(); err != nil {
		log.WithError(models.NewErrorInfo("store_error", err)).Error("failed to delete dependent records, document kept")
		return fmt.Errorf("failed to delete dependent records: %w", err)
	}

	if err := docs.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
