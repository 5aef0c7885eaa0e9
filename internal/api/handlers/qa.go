package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/readstack/librarian/internal/api"
	"github.com/readstack/librarian/internal/api/middleware"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, ownerID, question string, k int) ([]domain.Excerpt, error)
}

type AskService interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskOutput, error)
}

type QAHandler struct {
	searcher SearchService
	asker    AskService
}

func NewQAHandler(searcher SearchService, asker AskService) *QAHandler {
	return &QAHandler{searcher: searcher, asker: asker}
}

type SearchRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type ExcerptResponse struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Relevance  float64 `json:"relevance"`
}

func excerptToResponse(e domain.Excerpt) ExcerptResponse {
	return ExcerptResponse{
		DocumentID: e.DocumentID,
		Filename:   e.Filename,
		Content:    e.Content,
		Relevance:  e.Relevance,
	}
}

type SearchResponse struct {
	Excerpts []ExcerptResponse `json:"excerpts"`
}

// Search returns ranked excerpts without answer generation.
func (h *QAHandler) Search(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Question == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	excerpts, err := h.searcher.Search(r.Context(), ownerID, req.Question, req.TopK)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]ExcerptResponse, len(excerpts))
	for i, e := range excerpts {
		items[i] = excerptToResponse(e)
	}

	api.Success(w, http.StatusOK, SearchResponse{Excerpts: items})
}

type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
	MaxChars int    `json:"max_chars"`
}

type AskResponse struct {
	Answer     string            `json:"answer"`
	Confidence float64           `json:"confidence"`
	Excerpts   []ExcerptResponse `json:"excerpts"`
}

// Ask retrieves context and generates a grounded answer.
func (h *QAHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Question == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	out, err := h.asker.Ask(r.Context(), service.AskInput{
		OwnerID:  ownerID,
		Question: req.Question,
		TopK:     req.TopK,
		MaxChars: req.MaxChars,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]ExcerptResponse, len(out.Excerpts))
	for i, e := range out.Excerpts {
		items[i] = excerptToResponse(e)
	}

	api.Success(w, http.StatusOK, AskResponse{
		Answer:     out.Answer,
		Confidence: out.Confidence,
		Excerpts:   items,
	})
}
