package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/pagination"
	"github.com/readstack/librarian/internal/telemetry"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// StorageClient archives raw document uploads to object storage.
type StorageClient interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// Indexer is the slice of RetrievalService the document lifecycle
// needs. Deletion goes through it so the row removal and the index
// removal happen under the per-document ingest lock.
type Indexer interface {
	RemoveDocument(ctx context.Context, ownerID, documentID string) error
}

// DocumentService handles the document lifecycle around ingestion.
// Chunk rows ride along with the document via the schema's cascade, so
// deletion only has to drop the row and the index entries.
type DocumentService struct {
	docRepo DocumentRepositoryInterface
	indexer Indexer
	storage StorageClient
	uuidGen UUIDGenerator
}

func NewDocumentService(docRepo DocumentRepositoryInterface, indexer Indexer) *DocumentService {
	return &DocumentService{
		docRepo: docRepo,
		indexer: indexer,
		uuidGen: &DefaultUUIDGenerator{},
	}
}

// NewDocumentServiceWithStorage additionally archives raw uploads.
func NewDocumentServiceWithStorage(
	docRepo DocumentRepositoryInterface,
	indexer Indexer,
	storage StorageClient,
) *DocumentService {
	svc := NewDocumentService(docRepo, indexer)
	svc.storage = storage
	return svc
}

// SetUUIDGenerator overrides the ID source (for testing).
func (s *DocumentService) SetUUIDGenerator(gen UUIDGenerator) {
	s.uuidGen = gen
}

// CreateInput represents the input for registering a document
type CreateInput struct {
	OwnerID  string
	Filename string
	Content  string
}

// Create registers a new document in PENDING state. Content is
// normalized before storage so chunking sees clean text.
func (s *DocumentService) Create(ctx context.Context, input CreateInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Create", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "create",
	})
	defer span.End()

	content := CleanText(input.Content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}

	doc := domain.NewDocument(s.uuidGen.NewString(), input.OwnerID, input.Filename, content, time.Now().UTC())
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	if s.storage != nil {
		if err := s.storage.PutObject(ctx, storageKey(doc), []byte(input.Content), "text/plain"); err != nil {
			// archival is best effort, ingestion does not depend on it
			telemetry.CaptureError(ctx, err)
		}
	}

	return doc, nil
}

func (s *DocumentService) GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	return s.docRepo.GetByID(ctx, ownerID, id)
}

// DownloadRaw returns the archived upload as it arrived, before text
// normalization. Falls back to the stored content when no object store
// is configured or the archived copy is gone.
func (s *DocumentService) DownloadRaw(ctx context.Context, ownerID, id string) ([]byte, string, error) {
	doc, err := s.docRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, "", err
	}

	if s.storage != nil {
		data, err := s.storage.GetObject(ctx, storageKey(doc))
		if err == nil {
			return data, doc.Filename, nil
		}
		telemetry.CaptureError(ctx, err)
	}

	return []byte(doc.Content), doc.Filename, nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListByOwner returns one page of the owner's documents with an opaque
// cursor for the next page.
func (s *DocumentService) ListByOwner(ctx context.Context, ownerID string, limit int, cursor string) (*pagination.PageResult[*domain.Document], error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	after, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
	}

	docs, err := s.docRepo.ListByOwner(ctx, ownerID, limit, after)
	if err != nil {
		return nil, err
	}

	next := pagination.CreateNextCursor(docs, limit,
		func(d *domain.Document) string { return d.ID },
		func(d *domain.Document) time.Time { return d.CreatedAt },
	)

	return &pagination.PageResult[*domain.Document]{
		Items:   docs,
		Cursor:  next,
		HasMore: next != "",
	}, nil
}

// Delete removes a document and all derived state: persisted chunks go
// with the row (cascade), the index entry is dropped, and the archived
// upload is deleted when storage is configured.
func (s *DocumentService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Delete", telemetry.SpanAttributes{
		OwnerID:    ownerID,
		DocumentID: id,
		Operation:  "delete",
	})
	defer span.End()

	doc, err := s.docRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.indexer.RemoveDocument(ctx, ownerID, id); err != nil {
		return err
	}

	if s.storage != nil {
		if err := s.storage.DeleteObject(ctx, storageKey(doc)); err != nil {
			telemetry.CaptureError(ctx, err)
		}
	}

	return nil
}

func storageKey(doc *domain.Document) string {
	return doc.OwnerID + "/" + doc.ID + "/" + doc.Filename
}
