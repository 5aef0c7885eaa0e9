package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/service"
)

const (
	// DefaultBatchSize caps how many pending documents one poll picks up
	DefaultBatchSize = 100
)

// PendingLister lists documents waiting to be ingested
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]*domain.Document, error)
}

// Ingester runs the ingestion pipeline for a single document
type Ingester interface {
	Ingest(ctx context.Context, ownerID, documentID string) (*service.IngestResult, error)
}

// IngestWorker drains pending documents through the ingestion pipeline.
// Each document is processed independently; a failure is recorded on the
// document itself and never aborts the rest of the batch.
type IngestWorker struct {
	docs      PendingLister
	ingester  Ingester
	batchSize int
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(docs PendingLister, ingester Ingester) *IngestWorker {
	return &IngestWorker{
		docs:      docs,
		ingester:  ingester,
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize overrides the per-poll document cap
func (w *IngestWorker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	docs, err := w.docs.ListPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending documents: %w", err)
	}

	if len(docs) == 0 {
		return nil
	}

	log.Printf("Ingesting %d pending documents", len(docs))

	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := w.ingester.Ingest(ctx, doc.OwnerID, doc.ID)
		if err != nil {
			log.Printf("Ingestion failed for document %s: %v", doc.ID, err)
			continue
		}
		log.Printf("Document %s ingested: %d chunks", doc.ID, result.ChunkCount)
	}

	return nil
}
