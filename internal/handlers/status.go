package handlers

import (
	"net/http"

	"chatvault/internal/embedjobs"
)

// StatusHandler reports the background embedding run's progress.
type StatusHandler struct {
	scheduler *embedjobs.Scheduler
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(scheduler *embedjobs.Scheduler) *StatusHandler {
	return &StatusHandler{scheduler: scheduler}
}

// StatusResponse is the progress snapshot returned after an import.
type StatusResponse struct {
	Active    bool `json:"active"`
	Total     int  `json:"total"`
	Processed int  `json:"processed"`
	Embedded  int  `json:"embedded"`
	Completed bool `json:"completed"`
}

// ServeHTTP handles HTTP requests for embedding status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	progress, active := h.scheduler.Status()
	writeJSON(w, StatusResponse{
		Active:    active,
		Total:     progress.Total,
		Processed: progress.Processed,
		Embedded:  progress.Embedded,
		Completed: progress.Completed,
	})
}
