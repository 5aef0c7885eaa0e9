package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/readstack/librarian/internal/chunker"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/index"
	"github.com/readstack/librarian/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingClient is a mock for the embedding provider
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func([]string) [][]float32); ok {
		return fn(texts), args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockDocumentRepository is a mock for document persistence
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListByOwner(ctx context.Context, ownerID string, limit int, after *pagination.Cursor) ([]*domain.Document, error) {
	args := m.Called(ctx, ownerID, limit, after)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListPending(ctx context.Context, limit int) ([]*domain.Document, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, ingestError string) error {
	return m.Called(ctx, id, status, ingestError).Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, ownerID, id string) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

// MockChunkRepository is a mock for chunk persistence
type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	return m.Called(ctx, documentID, chunks).Error(0)
}

func (m *MockChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	return m.Called(ctx, documentID).Error(0)
}

func (m *MockChunkRepository) LoadAll(ctx context.Context) ([]domain.Chunk, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

type fakeTxRepos struct {
	docs   DocumentRepositoryInterface
	chunks ChunkRepositoryInterface
}

func (f *fakeTxRepos) Documents() DocumentRepositoryInterface { return f.docs }
func (f *fakeTxRepos) Chunks() ChunkRepositoryInterface       { return f.chunks }

type fakeTxRunner struct {
	repos fakeTxRepos
	// afterTx runs after the transaction body, in the window before the
	// caller continues
	afterTx func()
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	err := fn(&f.repos)
	if f.afterTx != nil {
		f.afterTx()
	}
	return err
}

func newTestService(t *testing.T) (*RetrievalService, *MockEmbeddingClient, *index.Memory, *MockDocumentRepository, *MockChunkRepository) {
	t.Helper()

	embedder := new(MockEmbeddingClient)
	docRepo := new(MockDocumentRepository)
	chunkRepo := new(MockChunkRepository)
	idx := index.NewMemory()

	svc := NewRetrievalService(embedder, idx, docRepo, chunkRepo, &fakeTxRunner{
		repos: fakeTxRepos{docs: docRepo, chunks: chunkRepo},
	})
	svc.SetBackoffFactory(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(0), embedMaxRetries)
	})
	svc.SetEmbedTimeout(time.Second)

	return svc, embedder, idx, docRepo, chunkRepo
}

func testDoc(ownerID, id, content string) *domain.Document {
	now := time.Now().UTC()
	return &domain.Document{
		ID:        id,
		OwnerID:   ownerID,
		Filename:  "notes.txt",
		Content:   content,
		Status:    domain.IngestionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func vectorsFor(texts []string, base float32) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{base + float32(i), 0, 0}
	}
	return out
}

func TestRetrievalService_Ingest_Success(t *testing.T) {
	svc, embedder, idx, docRepo, chunkRepo := newTestService(t)
	ctx := context.Background()

	doc := testDoc("owner-a", "doc-1", "Sentence one. Sentence two. Sentence three.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(func(texts []string) [][]float32 { return vectorsFor(texts, 1) }, nil)
	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-1", mock.Anything).Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusIndexed, "").Return(nil)

	result, err := svc.Ingest(ctx, "owner-a", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, domain.IngestionStatusIndexed, result.Status)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 1, idx.Count("owner-a"))
	docRepo.AssertExpectations(t)
	chunkRepo.AssertExpectations(t)
}

func TestRetrievalService_Ingest_RetriesThenSucceeds(t *testing.T) {
	// provider fails twice, succeeds on the third attempt
	svc, embedder, idx, docRepo, chunkRepo := newTestService(t)
	ctx := context.Background()

	doc := testDoc("owner-a", "doc-1", "Short note.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)

	providerErr := errors.New("rate limited")
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(nil, providerErr).Twice()
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0, 0}}, nil).Once()

	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-1", mock.Anything).Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusIndexed, "").Return(nil)

	result, err := svc.Ingest(ctx, "owner-a", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, domain.IngestionStatusIndexed, result.Status)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 1, idx.Count("owner-a"))
	embedder.AssertNumberOfCalls(t, "CreateEmbeddings", 3)
}

func TestRetrievalService_Ingest_RetriesExhausted(t *testing.T) {
	// provider never recovers; the document ends FAILED and the prior
	// indexed content stays searchable
	svc, embedder, idx, docRepo, chunkRepo := newTestService(t)
	ctx := context.Background()

	oldDoc := testDoc("owner-a", "doc-1", "Old content about archives.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(oldDoc, nil).Once()
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0, 0}}, nil).Once()
	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-1", mock.Anything).Return(nil).Once()
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusIndexed, "").Return(nil).Once()

	_, err := svc.Ingest(ctx, "owner-a", "doc-1")
	require.NoError(t, err)

	newDoc := testDoc("owner-a", "doc-1", "New content that will not index.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(newDoc, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusFailed, mock.Anything).Return(nil)

	result, err := svc.Ingest(ctx, "owner-a", "doc-1")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeProvider), "expected provider error, got %v", err)
	assert.Equal(t, domain.IngestionStatusFailed, result.Status)

	// prior good index state untouched
	hits, searchErr := idx.Search("owner-a", []float32{1, 0, 0}, 5)
	require.NoError(t, searchErr)
	require.Len(t, hits, 1)
	assert.Equal(t, "Old content about archives.", hits[0].Content)
}

func TestRetrievalService_Ingest_NoChunks(t *testing.T) {
	svc, embedder, idx, docRepo, chunkRepo := newTestService(t)
	ctx := context.Background()

	doc := testDoc("owner-a", "doc-1", "   \n\t  ")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusFailed, mock.Anything).Return(nil)

	result, err := svc.Ingest(ctx, "owner-a", "doc-1")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeInput))
	assert.Equal(t, domain.IngestionStatusFailed, result.Status)
	assert.Zero(t, idx.Count("owner-a"))
	embedder.AssertNotCalled(t, "CreateEmbeddings")
	chunkRepo.AssertNotCalled(t, "ReplaceChunks")
}

func TestRetrievalService_Ingest_DimensionMismatchNotRetried(t *testing.T) {
	svc, embedder, _, docRepo, _ := newTestService(t)
	ctx := context.Background()

	doc := testDoc("owner-a", "doc-1", "Some content.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(nil, domain.ErrDimensionMismatch)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusFailed, mock.Anything).Return(nil)

	_, err := svc.Ingest(ctx, "owner-a", "doc-1")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeDimensionMismatch), "got %v", err)
	embedder.AssertNumberOfCalls(t, "CreateEmbeddings", 1)
}

func TestRetrievalService_Ingest_DocumentNotFound(t *testing.T) {
	svc, _, _, docRepo, _ := newTestService(t)

	docRepo.On("GetByID", mock.Anything, "owner-a", "missing").Return(nil, domain.ErrDocumentNotFound)

	_, err := svc.Ingest(context.Background(), "owner-a", "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestRetrievalService_IngestBatch_IndependentOutcomes(t *testing.T) {
	svc, embedder, _, docRepo, chunkRepo := newTestService(t)
	ctx := context.Background()

	good := testDoc("owner-a", "doc-good", "Fine content.")
	bad := testDoc("owner-a", "doc-bad", "  ")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-good").Return(good, nil)
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-bad").Return(bad, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0, 0}}, nil)
	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-good", mock.Anything).Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-good", domain.IngestionStatusIndexed, "").Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-bad", domain.IngestionStatusFailed, mock.Anything).Return(nil)

	results := svc.IngestBatch(ctx, "owner-a", []string{"doc-good", "doc-bad"})

	require.Len(t, results, 2)
	assert.Equal(t, domain.IngestionStatusIndexed, results[0].Status)
	assert.Equal(t, domain.IngestionStatusFailed, results[1].Status)
	assert.NotEmpty(t, results[1].Error)
}

func TestRetrievalService_RemoveDocument(t *testing.T) {
	svc, _, idx, docRepo, _ := newTestService(t)

	require.NoError(t, idx.Upsert("owner-a", "doc-1", []index.Entry{
		{Seq: 0, Content: "chunk", Vector: []float32{1, 0, 0}},
	}))
	docRepo.On("Delete", mock.Anything, "owner-a", "doc-1").Return(nil)

	require.NoError(t, svc.RemoveDocument(context.Background(), "owner-a", "doc-1"))

	assert.Zero(t, idx.Count("owner-a"))
	docRepo.AssertExpectations(t)
}

func TestRetrievalService_RemoveDocument_RowDeleteFails(t *testing.T) {
	svc, _, idx, docRepo, _ := newTestService(t)

	require.NoError(t, idx.Upsert("owner-a", "doc-1", []index.Entry{
		{Seq: 0, Content: "chunk", Vector: []float32{1, 0, 0}},
	}))
	docRepo.On("Delete", mock.Anything, "owner-a", "missing").Return(domain.ErrDocumentNotFound)

	err := svc.RemoveDocument(context.Background(), "owner-a", "missing")

	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	// the indexed document is untouched
	assert.Equal(t, 1, idx.Count("owner-a"))
}

func TestRetrievalService_DeleteDuringIngest_LeavesNoOrphans(t *testing.T) {
	// a delete issued while an ingest sits between its committed
	// transaction and its index upsert must not leave the deleted
	// document searchable
	embedder := new(MockEmbeddingClient)
	docRepo := new(MockDocumentRepository)
	chunkRepo := new(MockChunkRepository)
	idx := index.NewMemory()
	runner := &fakeTxRunner{repos: fakeTxRepos{docs: docRepo, chunks: chunkRepo}}

	svc := NewRetrievalService(embedder, idx, docRepo, chunkRepo, runner)
	svc.SetBackoffFactory(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(0), embedMaxRetries)
	})

	doc := testDoc("owner-a", "doc-1", "Sentence one. Sentence two.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(func(texts []string) [][]float32 { return vectorsFor(texts, 1) }, nil)
	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-1", mock.Anything).Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusIndexed, "").Return(nil)
	docRepo.On("Delete", mock.Anything, "owner-a", "doc-1").Return(nil)

	removed := make(chan error, 1)
	runner.afterTx = func() {
		// the ingest still holds the document lock here, so the delete
		// has to wait for the upsert to land before it can run
		go func() {
			removed <- svc.RemoveDocument(context.Background(), "owner-a", "doc-1")
		}()
	}

	_, err := svc.Ingest(context.Background(), "owner-a", "doc-1")
	require.NoError(t, err)

	require.NoError(t, <-removed)
	assert.Zero(t, idx.Count("owner-a"))

	hits, err := idx.Search("owner-a", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrievalService_DocumentLocksDrainAfterUse(t *testing.T) {
	svc, embedder, _, docRepo, chunkRepo := newTestService(t)
	ctx := context.Background()

	doc := testDoc("owner-a", "doc-1", "Some content.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(func(texts []string) [][]float32 { return vectorsFor(texts, 1) }, nil)
	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-1", mock.Anything).Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusIndexed, "").Return(nil)
	docRepo.On("Delete", mock.Anything, "owner-a", "doc-1").Return(nil)

	_, err := svc.Ingest(ctx, "owner-a", "doc-1")
	require.NoError(t, err)
	require.NoError(t, svc.RemoveDocument(ctx, "owner-a", "doc-1"))

	svc.mu.Lock()
	remaining := len(svc.docLocks)
	svc.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestRetrievalService_Query_ReturnsRankedExcerpts(t *testing.T) {
	svc, embedder, idx, docRepo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert("owner-a", "doc-1", []index.Entry{
		{Seq: 0, Content: "closest chunk", Vector: []float32{1, 0, 0}},
		{Seq: 1, Content: "farther chunk", Vector: []float32{5, 0, 0}},
	}))

	embedder.On("CreateEmbeddings", mock.Anything, []string{"where is it"}).
		Return([][]float32{{1, 0, 0}}, nil)
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").
		Return(testDoc("owner-a", "doc-1", "irrelevant"), nil).Once()

	excerpts, err := svc.Query(ctx, "owner-a", "where is it", 5)

	require.NoError(t, err)
	require.Len(t, excerpts, 2)
	assert.Equal(t, "closest chunk", excerpts[0].Content)
	assert.Equal(t, "notes.txt", excerpts[0].Filename)
	assert.Equal(t, 1.0, excerpts[0].Relevance)
	assert.Greater(t, excerpts[0].Relevance, excerpts[1].Relevance)
	// filename is looked up once per document
	docRepo.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestRetrievalService_Query_EmptyQuestion(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.Query(context.Background(), "owner-a", "", 5)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeInput))
}

func TestRetrievalService_Query_UnknownOwnerIsEmpty(t *testing.T) {
	svc, embedder, _, _, _ := newTestService(t)

	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0, 0}}, nil)

	excerpts, err := svc.Query(context.Background(), "nobody", "anything", 5)

	require.NoError(t, err)
	assert.Empty(t, excerpts)
}

func TestRetrievalService_LoadIndex(t *testing.T) {
	svc, _, idx, _, chunkRepo := newTestService(t)
	ctx := context.Background()

	chunkRepo.On("LoadAll", mock.Anything).Return([]domain.Chunk{
		{DocumentID: "doc-1", OwnerID: "owner-a", Seq: 0, Content: "a0", Embedding: []float32{1, 0}},
		{DocumentID: "doc-1", OwnerID: "owner-a", Seq: 1, Content: "a1", Embedding: []float32{2, 0}},
		{DocumentID: "doc-2", OwnerID: "owner-b", Seq: 0, Content: "b0", Embedding: []float32{3, 0}},
	}, nil)

	docs, err := svc.LoadIndex(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	assert.Equal(t, 2, idx.Count("owner-a"))
	assert.Equal(t, 1, idx.Count("owner-b"))
}

func TestRetrievalService_Ingest_ChunkConfigRespected(t *testing.T) {
	svc, embedder, idx, docRepo, chunkRepo := newTestService(t)
	svc.SetChunkConfig(chunker.Config{ChunkSize: 20, Overlap: 5})
	ctx := context.Background()

	doc := testDoc("owner-a", "doc-1", "Sentence one. Sentence two. Sentence three.")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	embedder.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(func(texts []string) [][]float32 { return vectorsFor(texts, 1) }, nil)
	chunkRepo.On("ReplaceChunks", mock.Anything, "doc-1", mock.Anything).Return(nil)
	docRepo.On("UpdateStatus", mock.Anything, "doc-1", domain.IngestionStatusIndexed, "").Return(nil)

	result, err := svc.Ingest(ctx, "owner-a", "doc-1")

	require.NoError(t, err)
	assert.Greater(t, result.ChunkCount, 1)
	assert.Equal(t, result.ChunkCount, idx.Count("owner-a"))
}
