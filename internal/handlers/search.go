package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chatvault/internal/contextutil"
	"chatvault/internal/search"
)

// SearchHandler handles semantic conversation search queries.
type SearchHandler struct {
	searcher *search.Searcher
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(searcher *search.Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// SearchRequest represents the HTTP request payload for a search.
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResponse represents the HTTP response payload for a search.
type SearchResponse struct {
	Matches []search.Match `json:"matches"`
}

// ServeHTTP handles HTTP requests for conversation search.
//
// Queries arrive on every keystroke; a request superseded by a newer one
// before its debounce window elapses gets 409 instead of stale results.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	matches, err := h.searcher.Search(ctx, req.Query)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			writeError(w, http.StatusConflict, "Superseded by a newer query")
			return
		}
		logger.ErrorContext(ctx, "search failed", "error", err)
		writeError(w, http.StatusBadGateway, "Search failed")
		return
	}

	if matches == nil {
		matches = []search.Match{}
	}
	writeJSON(w, SearchResponse{Matches: matches})
}
