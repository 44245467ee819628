package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"chatvault/internal/contextutil"
	"chatvault/internal/rag"
)

// ContextHandler handles retrieval of past-conversation context for a prompt.
type ContextHandler struct {
	retriever *rag.Retriever
}

// NewContextHandler creates a new ContextHandler.
func NewContextHandler(retriever *rag.Retriever) *ContextHandler {
	return &ContextHandler{retriever: retriever}
}

// ServeHTTP handles HTTP requests for context retrieval.
func (h *ContextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req rag.ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.retriever.Retrieve(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "context retrieval failed", "error", err)
		if strings.Contains(strings.ToLower(err.Error()), "embed") {
			writeError(w, http.StatusBadGateway, "Embedding service unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to retrieve context")
		return
	}

	if result.Snippets == nil {
		result.Snippets = []rag.Snippet{}
	}
	writeJSON(w, result)
}
