package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatvault/internal/embedjobs"
	"chatvault/internal/handlers"
	"chatvault/internal/importer"
	"chatvault/internal/rag"
	"chatvault/internal/search"
	"chatvault/internal/store"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Store       store.Store
	Importer    *importer.Importer
	Scheduler   *embedjobs.Scheduler
	Retriever   *rag.Retriever
	Searcher    *search.Searcher
	Maintenance *importer.Maintenance
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	importHandler := handlers.NewImportHandler(deps.Importer, deps.Scheduler)
	statusHandler := handlers.NewStatusHandler(deps.Scheduler)
	searchHandler := handlers.NewSearchHandler(deps.Searcher)
	contextHandler := handlers.NewContextHandler(deps.Retriever)
	maintenanceHandler := handlers.NewMaintenanceHandler(deps.Maintenance)
	healthHandler := handlers.NewHealthHandler(deps.Store)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/import", importHandler)
		r.Method(http.MethodGet, "/import/status", statusHandler)
		r.Method(http.MethodPost, "/search", searchHandler)
		r.Method(http.MethodPost, "/context", contextHandler)
		r.Post("/maintenance/remove-duplicates", maintenanceHandler.RemoveDuplicates)
		r.Post("/maintenance/remove-imported", maintenanceHandler.RemoveImported)
	})

	r.Method(http.MethodGet, "/healthz", healthHandler)

	return r
}
