package handlers

import (
	"net/http"

	"chatvault/internal/contextutil"
	"chatvault/internal/importer"
)

// MaintenanceHandler exposes the offline cleanup operations.
type MaintenanceHandler struct {
	maintenance *importer.Maintenance
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(m *importer.Maintenance) *MaintenanceHandler {
	return &MaintenanceHandler{maintenance: m}
}

// DedupeResponse reports a duplicate removal run.
type DedupeResponse struct {
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
}

// RemoveImportedResponse reports an imported-conversation removal run.
type RemoveImportedResponse struct {
	Removed int `json:"removed"`
}

// RemoveDuplicates handles POST /api/maintenance/remove-duplicates.
func (h *MaintenanceHandler) RemoveDuplicates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	removed, kept, err := h.maintenance.RemoveDuplicateConversations(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "duplicate removal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Duplicate removal failed")
		return
	}
	writeJSON(w, DedupeResponse{Removed: removed, Kept: kept})
}

// RemoveImported handles POST /api/maintenance/remove-imported.
func (h *MaintenanceHandler) RemoveImported(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	removed, err := h.maintenance.RemoveAllImported(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "imported-conversation removal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Removal failed")
		return
	}
	writeJSON(w, RemoveImportedResponse{Removed: removed})
}
