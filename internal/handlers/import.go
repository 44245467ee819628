package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"chatvault/internal/contextutil"
	"chatvault/internal/embedjobs"
	"chatvault/internal/importer"
)

// maxImportBytes caps the upload size for export archives.
const maxImportBytes = 1 << 30 // 1 GiB

// ImportHandler handles export uploads. A successful import hands the queued
// message ids to the background scheduler before responding; embedding
// continues after the response is written.
type ImportHandler struct {
	importer  *importer.Importer
	scheduler *embedjobs.Scheduler
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(imp *importer.Importer, scheduler *embedjobs.Scheduler) *ImportHandler {
	return &ImportHandler{importer: imp, scheduler: scheduler}
}

// ServeHTTP handles HTTP requests for export imports.
//
// Accepts a multipart upload under the "file" field, or a raw request body.
// A .zip upload (or application/zip body) is treated as a full export
// archive with assets; anything else is parsed as a bare export document.
func (h *ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	data, isArchive, err := h.readUpload(r)
	if err != nil {
		logger.WarnContext(ctx, "invalid import upload", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Empty upload")
		return
	}

	var result *importer.Result
	if isArchive {
		result, err = h.importer.ImportArchive(ctx, bytes.NewReader(data), int64(len(data)), nil)
	} else {
		result, err = h.importer.ImportDocument(ctx, bytes.NewReader(data), nil)
	}
	if err != nil {
		logger.ErrorContext(ctx, "import failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "Import failed: "+err.Error())
		return
	}

	if len(result.QueuedMessageIDs) > 0 {
		// The run outlives this request, so it gets a fresh context; drain
		// its events so the run never blocks on them.
		runCtx := contextutil.WithLogger(context.Background(), logger)
		events := h.scheduler.Start(runCtx, result.QueuedMessageIDs)
		go func() {
			for range events {
			}
		}()
	}

	writeJSON(w, result)
}

// readUpload extracts the export payload from a multipart form or the raw
// body, and reports whether it looks like a zip archive.
func (h *ImportHandler) readUpload(r *http.Request) ([]byte, bool, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, false, err
		}
		defer func() {
			_ = file.Close()
		}()
		data, err := io.ReadAll(io.LimitReader(file, maxImportBytes))
		if err != nil {
			return nil, false, err
		}
		isArchive := strings.HasSuffix(strings.ToLower(header.Filename), ".zip")
		return data, isArchive || looksLikeZip(data), nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		return nil, false, err
	}
	isArchive := strings.Contains(contentType, "zip")
	return data, isArchive || looksLikeZip(data), nil
}

// looksLikeZip checks the local file header magic.
func looksLikeZip(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}
