package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/readstack/librarian/internal/api"
	"github.com/readstack/librarian/internal/domain"
)

type AccountService interface {
	CreateAccount(ctx context.Context, name string) (*domain.Account, string, error)
}

type AccountHandler struct {
	svc AccountService
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type CreateAccountRequest struct {
	Name string `json:"name"`
}

type CreateAccountResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	CreatedAt string `json:"created_at"`
}

// CreateAccount registers an account and returns its API key. The key
// is shown once; only its hash is stored.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	account, token, err := h.svc.CreateAccount(r.Context(), req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, CreateAccountResponse{
		ID:        account.ID,
		Name:      account.Name,
		APIKey:    token,
		CreatedAt: account.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}
