package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/importer"
	"chatvault/internal/store"
	"chatvault/internal/vectorstore"
)

func TestMaintenanceHandler_RemoveDuplicates(t *testing.T) {
	st, _ := newTestStore(t)

	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 2; i++ {
		conv := &store.ConversationRecord{
			ID:             uuid.New(),
			Title:          "Chat",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			UpdatedAt:      base,
			ImportSourceID: "src-" + string(rune('a'+i)),
		}
		if err := st.Insert(context.Background(), conv); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	handler := NewMaintenanceHandler(importer.NewMaintenance(st, vectorstore.NewNoopIndex()))

	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/remove-duplicates", nil)
	w := httptest.NewRecorder()

	handler.RemoveDuplicates(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp DedupeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Removed != 1 || resp.Kept != 1 {
		t.Errorf("response = %+v, want 1 removed, 1 kept", resp)
	}
}

func TestMaintenanceHandler_RemoveImported(t *testing.T) {
	st, _ := newTestStore(t)

	base := time.Unix(1700000000, 0).UTC()
	conv := &store.ConversationRecord{
		ID: uuid.New(), Title: "Imported", CreatedAt: base, UpdatedAt: base,
		ImportSourceID: "src-1",
	}
	if err := st.Insert(context.Background(), conv); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	handler := NewMaintenanceHandler(importer.NewMaintenance(st, vectorstore.NewNoopIndex()))

	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/remove-imported", nil)
	w := httptest.NewRecorder()

	handler.RemoveImported(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp RemoveImportedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Removed != 1 {
		t.Errorf("removed = %d, want 1", resp.Removed)
	}
}
