package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/readstack/librarian/internal/api"
	"github.com/readstack/librarian/internal/api/handlers"
	"github.com/readstack/librarian/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator   middleware.AuthValidator
	DocumentHandler *handlers.DocumentHandler
	QAHandler       *handlers.QAHandler
	AccountHandler  *handlers.AccountHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Create)
			r.Get("/", cfg.DocumentHandler.List)
			r.Post("/upload", cfg.DocumentHandler.Upload)
			r.Post("/ingest", cfg.DocumentHandler.IngestBatch)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Get("/{id}/download", cfg.DocumentHandler.Download)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
			r.Post("/{id}/ingest", cfg.DocumentHandler.Ingest)
		})

		r.Post("/search", cfg.QAHandler.Search)
		r.Post("/ask", cfg.QAHandler.Ask)
	})

	r.Post("/accounts", cfg.AccountHandler.CreateAccount)

	return r
}
