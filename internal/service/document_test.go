package service

import (
	"context"
	"testing"
	"time"

	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorageClient is a mock for object storage archival
type MockStorageClient struct {
	mock.Mock
}

func (m *MockStorageClient) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	return m.Called(ctx, key, body, contentType).Error(0)
}

func (m *MockStorageClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageClient) DeleteObject(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type fakeIndexer struct {
	removed [][2]string
	err     error
}

func (f *fakeIndexer) RemoveDocument(ctx context.Context, ownerID, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, [2]string{ownerID, documentID})
	return nil
}

func TestDocumentService_Create(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	svc := NewDocumentService(docRepo, &fakeIndexer{})
	svc.SetUUIDGenerator(&stubUUIDGen{id: "doc-1"})

	docRepo.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
		return d.ID == "doc-1" &&
			d.OwnerID == "owner-a" &&
			d.Status == domain.IngestionStatusPending &&
			d.Content == "Raw text with junk."
	})).Return(nil)

	doc, err := svc.Create(context.Background(), CreateInput{
		OwnerID:  "owner-a",
		Filename: "notes.txt",
		Content:  "  Raw text\x00 with junk.  ",
	})

	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, domain.IngestionStatusPending, doc.Status)
	docRepo.AssertExpectations(t)
}

func TestDocumentService_Create_EmptyAfterCleaning(t *testing.T) {
	svc := NewDocumentService(new(MockDocumentRepository), &fakeIndexer{})

	_, err := svc.Create(context.Background(), CreateInput{
		OwnerID:  "owner-a",
		Filename: "blank.txt",
		Content:  " \x00 \t\n ",
	})

	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestDocumentService_Create_ArchivesRawUpload(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	storage := new(MockStorageClient)
	svc := NewDocumentServiceWithStorage(docRepo, &fakeIndexer{}, storage)
	svc.SetUUIDGenerator(&stubUUIDGen{id: "doc-1"})

	docRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	storage.On("PutObject", mock.Anything, "owner-a/doc-1/notes.txt", []byte("content here"), "text/plain").Return(nil)

	_, err := svc.Create(context.Background(), CreateInput{
		OwnerID:  "owner-a",
		Filename: "notes.txt",
		Content:  "content here",
	})

	require.NoError(t, err)
	storage.AssertExpectations(t)
}

func TestDocumentService_DownloadRaw_FromStorage(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	storage := new(MockStorageClient)
	svc := NewDocumentServiceWithStorage(docRepo, &fakeIndexer{}, storage)

	doc := testDoc("owner-a", "doc-1", "normalized content")
	doc.Filename = "notes.txt"
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)
	storage.On("GetObject", mock.Anything, "owner-a/doc-1/notes.txt").
		Return([]byte("raw bytes"), nil)

	data, filename, err := svc.DownloadRaw(context.Background(), "owner-a", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), data)
	assert.Equal(t, "notes.txt", filename)
}

func TestDocumentService_DownloadRaw_FallsBackToContent(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	svc := NewDocumentService(docRepo, &fakeIndexer{})

	doc := testDoc("owner-a", "doc-1", "stored content")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)

	data, _, err := svc.DownloadRaw(context.Background(), "owner-a", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, []byte("stored content"), data)
}

func TestDocumentService_ListByOwner_FullPageGetsCursor(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	svc := NewDocumentService(docRepo, &fakeIndexer{})

	now := time.Now().UTC()
	docs := []*domain.Document{
		{ID: "doc-2", OwnerID: "owner-a", CreatedAt: now},
		{ID: "doc-1", OwnerID: "owner-a", CreatedAt: now.Add(-time.Minute)},
	}
	docRepo.On("ListByOwner", mock.Anything, "owner-a", 2, (*pagination.Cursor)(nil)).Return(docs, nil)

	page, err := svc.ListByOwner(context.Background(), "owner-a", 2, "")

	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	// the cursor points at the last item of the page
	decoded, err := pagination.DecodeCursor(page.Cursor)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", decoded.LastID)
}

func TestDocumentService_ListByOwner_ShortPageEndsPagination(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	svc := NewDocumentService(docRepo, &fakeIndexer{})

	docs := []*domain.Document{{ID: "doc-1", OwnerID: "owner-a", CreatedAt: time.Now().UTC()}}
	docRepo.On("ListByOwner", mock.Anything, "owner-a", 50, (*pagination.Cursor)(nil)).Return(docs, nil)

	page, err := svc.ListByOwner(context.Background(), "owner-a", 0, "")

	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Cursor)
}

func TestDocumentService_ListByOwner_InvalidCursor(t *testing.T) {
	svc := NewDocumentService(new(MockDocumentRepository), &fakeIndexer{})

	_, err := svc.ListByOwner(context.Background(), "owner-a", 10, "not-base64!!")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))
}

func TestDocumentService_Delete_RemovesFromIndex(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	indexer := &fakeIndexer{}
	svc := NewDocumentService(docRepo, indexer)

	doc := testDoc("owner-a", "doc-1", "content")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)

	require.NoError(t, svc.Delete(context.Background(), "owner-a", "doc-1"))

	require.Len(t, indexer.removed, 1)
	assert.Equal(t, [2]string{"owner-a", "doc-1"}, indexer.removed[0])
	// row deletion happens inside RemoveDocument, never directly
	docRepo.AssertNotCalled(t, "Delete")
}

func TestDocumentService_Delete_RemoveFailureSurfaces(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	indexer := &fakeIndexer{err: domain.ErrDocumentNotFound}
	svc := NewDocumentService(docRepo, indexer)

	doc := testDoc("owner-a", "doc-1", "content")
	docRepo.On("GetByID", mock.Anything, "owner-a", "doc-1").Return(doc, nil)

	err := svc.Delete(context.Background(), "owner-a", "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentService_Delete_NotFound(t *testing.T) {
	docRepo := new(MockDocumentRepository)
	indexer := &fakeIndexer{}
	svc := NewDocumentService(docRepo, indexer)

	docRepo.On("GetByID", mock.Anything, "owner-a", "missing").Return(nil, domain.ErrDocumentNotFound)

	err := svc.Delete(context.Background(), "owner-a", "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.Empty(t, indexer.removed)
}
