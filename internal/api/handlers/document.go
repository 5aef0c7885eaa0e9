package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/readstack/librarian/internal/api"
	"github.com/readstack/librarian/internal/api/middleware"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/pagination"
	"github.com/readstack/librarian/internal/service"
)

// maxUploadBytes caps the multipart memory buffer for file uploads
const maxUploadBytes = 4 * 1024 * 1024

type DocumentService interface {
	Create(ctx context.Context, input service.CreateInput) (*domain.Document, error)
	GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit int, cursor string) (*pagination.PageResult[*domain.Document], error)
	DownloadRaw(ctx context.Context, ownerID, id string) ([]byte, string, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type IngestService interface {
	Ingest(ctx context.Context, ownerID, documentID string) (*service.IngestResult, error)
	IngestBatch(ctx context.Context, ownerID string, documentIDs []string) []service.IngestResult
}

type DocumentHandler struct {
	svc      DocumentService
	ingester IngestService
}

func NewDocumentHandler(svc DocumentService, ingester IngestService) *DocumentHandler {
	return &DocumentHandler{svc: svc, ingester: ingester}
}

type CreateDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type DocumentResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	IngestError string `json:"ingest_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Filename:    d.Filename,
		Status:      string(d.Status),
		IngestError: d.IngestError,
		CreatedAt:   d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:   d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

type IngestResultResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

func ingestResultToResponse(r *service.IngestResult) *IngestResultResponse {
	return &IngestResultResponse{
		DocumentID: r.DocumentID,
		Status:     string(r.Status),
		ChunkCount: r.ChunkCount,
		Error:      r.Error,
	}
}

func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Filename == "" {
		api.Error(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	doc, err := h.svc.Create(r.Context(), service.CreateInput{
		OwnerID:  ownerID,
		Filename: req.Filename,
		Content:  req.Content,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc))
}

// Upload registers a document from a multipart file upload. The file
// part is named "file"; the stored filename defaults to the upload's.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return
	}

	filename := r.FormValue("filename")
	if filename == "" {
		filename = header.Filename
	}
	if filename == "" {
		api.Error(w, http.StatusBadRequest, "filename is required")
		return
	}

	doc, err := h.svc.Create(r.Context(), service.CreateInput{
		OwnerID:  ownerID,
		Filename: filename,
		Content:  string(content),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.svc.GetByID(r.Context(), ownerID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.svc.ListByOwner(r.Context(), ownerID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, len(page.Items))
	for i, d := range page.Items {
		items[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

// Download streams the original upload back to the caller.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	data, filename, err := h.svc.DownloadRaw(r.Context(), ownerID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), ownerID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
}

// Ingest runs the ingestion pipeline for one document synchronously.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	result, err := h.ingester.Ingest(r.Context(), ownerID, id)
	if err != nil {
		// a failed pipeline still reports the document's final state
		if result != nil {
			api.JSON(w, api.DomainErrorToHTTP(err), api.SuccessResponse{Data: ingestResultToResponse(result)})
			return
		}
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ingestResultToResponse(result))
}

type IngestBatchRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

type IngestBatchResponse struct {
	Results []*IngestResultResponse `json:"results"`
}

// IngestBatch runs the pipeline for several documents. Outcomes are
// independent, so the response always carries one result per document.
func (h *DocumentHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.DocumentIDs) == 0 {
		api.Error(w, http.StatusBadRequest, "document_ids is required")
		return
	}

	results := h.ingester.IngestBatch(r.Context(), ownerID, req.DocumentIDs)

	items := make([]*IngestResultResponse, len(results))
	for i := range results {
		items[i] = ingestResultToResponse(&results[i])
	}

	api.Success(w, http.StatusOK, IngestBatchResponse{Results: items})
}
