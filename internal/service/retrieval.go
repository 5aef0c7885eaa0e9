package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/readstack/librarian/internal/chunker"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/index"
	"github.com/readstack/librarian/internal/pagination"
	"github.com/readstack/librarian/internal/telemetry"
)

// EmbeddingClient defines the interface for generating embeddings.
// Implementations must return one vector per input text, in input order.
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentRepositoryInterface defines the repository interface for document persistence
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit int, after *pagination.Cursor) ([]*domain.Document, error)
	ListPending(ctx context.Context, limit int) ([]*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, ingestError string) error
	Delete(ctx context.Context, ownerID, id string) error
}

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	LoadAll(ctx context.Context) ([]domain.Chunk, error)
}

// VectorIndex defines the in-memory search index operations used during
// ingestion and query.
type VectorIndex interface {
	Upsert(ownerID, documentID string, entries []index.Entry) error
	Remove(ownerID, documentID string)
	Search(ownerID string, query []float32, k int) ([]index.Hit, error)
}

const (
	defaultEmbedTimeout = 30 * time.Second
	// two retries after the initial attempt
	embedMaxRetries = 2
)

// IngestResult reports the outcome of ingesting a single document.
type IngestResult struct {
	DocumentID string
	Status     domain.IngestionStatus
	ChunkCount int
	Error      string
}

// RetrievalService orchestrates ingestion (chunk, embed, upsert) and
// query (embed, search, rank) over the vector index.
type RetrievalService struct {
	embedder  EmbeddingClient
	index     VectorIndex
	docRepo   DocumentRepositoryInterface
	chunkRepo ChunkRepositoryInterface
	txRunner  TxRunner

	chunkCfg     chunker.Config
	embedTimeout time.Duration
	newBackoff   func() backoff.BackOff

	mu       sync.Mutex
	docLocks map[string]*docLock
}

// docLock serializes work on a single document. The entry is dropped
// from the map once the last holder or waiter releases it.
type docLock struct {
	mu   sync.Mutex
	refs int
}

func NewRetrievalService(
	embedder EmbeddingClient,
	idx VectorIndex,
	docRepo DocumentRepositoryInterface,
	chunkRepo ChunkRepositoryInterface,
	txRunner TxRunner,
) *RetrievalService {
	return &RetrievalService{
		embedder:     embedder,
		index:        idx,
		docRepo:      docRepo,
		chunkRepo:    chunkRepo,
		txRunner:     txRunner,
		chunkCfg:     chunker.DefaultConfig(),
		embedTimeout: defaultEmbedTimeout,
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), embedMaxRetries)
		},
		docLocks: make(map[string]*docLock),
	}
}

// SetChunkConfig overrides the default chunking parameters.
func (s *RetrievalService) SetChunkConfig(cfg chunker.Config) {
	s.chunkCfg = cfg
}

// SetEmbedTimeout overrides the per-attempt embedding deadline.
func (s *RetrievalService) SetEmbedTimeout(d time.Duration) {
	s.embedTimeout = d
}

// SetBackoffFactory overrides the retry policy (used in tests to avoid
// real delays).
func (s *RetrievalService) SetBackoffFactory(fn func() backoff.BackOff) {
	s.newBackoff = fn
}

// Ingest chunks, embeds, and indexes one document, updating its status.
// Concurrent ingests of the same document are serialized; a failure
// leaves the previously indexed state untouched.
func (s *RetrievalService) Ingest(ctx context.Context, ownerID, documentID string) (*IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Ingest", telemetry.SpanAttributes{
		OwnerID:    ownerID,
		DocumentID: documentID,
		Operation:  "ingest",
	})
	defer span.End()

	unlock := s.lockDocument(documentID)
	defer unlock()

	doc, err := s.docRepo.GetByID(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}

	pieces := chunker.Split(doc.Content, s.chunkCfg)
	if len(pieces) == 0 {
		inputErr := domain.NewDomainError(domain.ErrCodeInput, "document content produced no chunks")
		s.markFailed(ctx, documentID, inputErr.Message)
		return &IngestResult{DocumentID: documentID, Status: domain.IngestionStatusFailed, Error: inputErr.Message}, inputErr
	}

	vectors, err := s.embedBatch(ctx, pieces)
	if err != nil {
		span.SetError(err)
		s.markFailed(ctx, documentID, err.Error())
		return &IngestResult{DocumentID: documentID, Status: domain.IngestionStatusFailed, Error: err.Error()}, err
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, len(pieces))
	entries := make([]index.Entry, len(pieces))
	for i, content := range pieces {
		chunks[i] = domain.Chunk{
			DocumentID: documentID,
			OwnerID:    ownerID,
			Seq:        i,
			Content:    content,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
		entries[i] = index.Entry{
			Seq:     i,
			Content: content,
			Vector:  vectors[i],
		}
	}

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().ReplaceChunks(ctx, documentID, chunks); err != nil {
			return err
		}
		return repos.Documents().UpdateStatus(ctx, documentID, domain.IngestionStatusIndexed, "")
	})
	if err != nil {
		span.SetError(err)
		s.markFailed(ctx, documentID, err.Error())
		return &IngestResult{DocumentID: documentID, Status: domain.IngestionStatusFailed, Error: err.Error()}, err
	}

	if err := s.index.Upsert(ownerID, documentID, entries); err != nil {
		span.SetError(err)
		s.markFailed(ctx, documentID, err.Error())
		return &IngestResult{DocumentID: documentID, Status: domain.IngestionStatusFailed, Error: err.Error()}, err
	}

	return &IngestResult{
		DocumentID: documentID,
		Status:     domain.IngestionStatusIndexed,
		ChunkCount: len(chunks),
	}, nil
}

// IngestBatch ingests several documents independently. A failure in one
// document is reported in its result and never aborts the others.
func (s *RetrievalService) IngestBatch(ctx context.Context, ownerID string, documentIDs []string) []IngestResult {
	results := make([]IngestResult, 0, len(documentIDs))
	for _, id := range documentIDs {
		res, err := s.Ingest(ctx, ownerID, id)
		if res == nil {
			res = &IngestResult{DocumentID: id, Status: domain.IngestionStatusFailed, Error: err.Error()}
		}
		results = append(results, *res)
	}
	return results
}

// Query embeds the question and returns the owner's top-k excerpts
// ordered by relevance. An owner with nothing indexed gets an empty
// list, not an error.
func (s *RetrievalService) Query(ctx context.Context, ownerID, question string, k int) ([]domain.Excerpt, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Query", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "query",
	})
	defer span.End()

	if question == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInput, "question is required")
	}

	vectors, err := s.embedBatch(ctx, []string{question})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	hits, err := s.index.Search(ownerID, vectors[0], k)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	filenames := make(map[string]string)
	excerpts := make([]domain.Excerpt, 0, len(hits))
	for _, hit := range hits {
		filename, ok := filenames[hit.DocumentID]
		if !ok {
			doc, err := s.docRepo.GetByID(ctx, ownerID, hit.DocumentID)
			if err != nil {
				if errors.Is(err, domain.ErrDocumentNotFound) {
					// deleted concurrently with the search
					continue
				}
				return nil, err
			}
			filename = doc.Filename
			filenames[hit.DocumentID] = filename
		}
		excerpts = append(excerpts, domain.Excerpt{
			DocumentID: hit.DocumentID,
			Filename:   filename,
			Content:    hit.Content,
			Relevance:  index.Relevance(hit.Distance),
		})
	}

	return excerpts, nil
}

// RemoveDocument deletes the document row and drops its chunks from
// the index, under the same per-document lock as Ingest. An ingest
// racing the delete therefore runs entirely before or entirely after
// it, and can never re-add index entries for a deleted document.
func (s *RetrievalService) RemoveDocument(ctx context.Context, ownerID, documentID string) error {
	unlock := s.lockDocument(documentID)
	defer unlock()

	if err := s.docRepo.Delete(ctx, ownerID, documentID); err != nil {
		return err
	}
	s.index.Remove(ownerID, documentID)
	return nil
}

// LoadIndex rebuilds the in-memory index from persisted chunks. Called
// once on startup, before the server accepts queries.
func (s *RetrievalService) LoadIndex(ctx context.Context) (int, error) {
	chunks, err := s.chunkRepo.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	docs := 0
	for start := 0; start < len(chunks); {
		end := start
		for end < len(chunks) &&
			chunks[end].OwnerID == chunks[start].OwnerID &&
			chunks[end].DocumentID == chunks[start].DocumentID {
			end++
		}

		entries := make([]index.Entry, 0, end-start)
		for _, c := range chunks[start:end] {
			entries = append(entries, index.Entry{Seq: c.Seq, Content: c.Content, Vector: c.Embedding})
		}
		if err := s.index.Upsert(chunks[start].OwnerID, chunks[start].DocumentID, entries); err != nil {
			return docs, err
		}
		docs++
		start = end
	}

	return docs, nil
}

// embedBatch calls the embedding provider with bounded exponential
// backoff. Dimension mismatches are configuration faults and are never
// retried.
func (s *RetrievalService) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()

		v, err := s.embedder.CreateEmbeddings(callCtx, texts)
		if err != nil {
			if errors.Is(err, domain.ErrDimensionMismatch) {
				return backoff.Permanent(domain.NewDomainErrorWithCause(domain.ErrCodeDimensionMismatch, "embedding dimension mismatch", err))
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, "embedding request timed out", err)
			}
			return domain.NewProviderError(err)
		}
		vectors = v
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *RetrievalService) markFailed(ctx context.Context, documentID, message string) {
	// best effort: the original failure is what the caller sees
	_ = s.docRepo.UpdateStatus(ctx, documentID, domain.IngestionStatusFailed, message)
}

// lockDocument acquires the per-document lock and returns its release
// function. Entries are refcounted so the map does not grow without
// bound under document churn.
func (s *RetrievalService) lockDocument(documentID string) func() {
	s.mu.Lock()
	lock, ok := s.docLocks[documentID]
	if !ok {
		lock = &docLock{}
		s.docLocks[documentID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.docLocks, documentID)
		}
		s.mu.Unlock()
	}
}
