package importer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseExport(t *testing.T) {
	doc := `[
		{
			"title": "First chat",
			"create_time": 1700000000.25,
			"update_time": 1700000100,
			"mapping": {
				"n1": {"id": "n1", "parent": null, "children": []}
			}
		}
	]`

	convs, err := ParseExport(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseExport() error = %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("ParseExport() returned %d conversations, want 1", len(convs))
	}
	if convs[0].Title != "First chat" {
		t.Errorf("ParseExport() title = %q, want %q", convs[0].Title, "First chat")
	}
	if convs[0].CreateTime != 1700000000.25 {
		t.Errorf("ParseExport() create_time = %v, want 1700000000.25", convs[0].CreateTime)
	}
	if _, ok := convs[0].Mapping["n1"]; !ok {
		t.Error("ParseExport() mapping missing node n1")
	}
}

func TestParseExport_Malformed(t *testing.T) {
	if _, err := ParseExport(strings.NewReader(`{"not": "an array"`)); err == nil {
		t.Error("ParseExport() accepted malformed input")
	}
}

func TestDecodePart(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantRef  string
	}{
		{
			name:     "plain string part",
			raw:      `"hello world"`,
			wantText: "hello world",
		},
		{
			name:    "asset pointer part",
			raw:     `{"content_type":"image_asset_pointer","asset_pointer":"file-service://file-abc123"}`,
			wantRef: "file-abc123",
		},
		{
			name:    "asset pointer without scheme",
			raw:     `{"asset_pointer":"file-raw"}`,
			wantRef: "file-raw",
		},
		{
			name: "unrecognized object",
			raw:  `{"content_type":"audio_transcription","text_field":"x"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ref := decodePart(context.Background(), json.RawMessage(tt.raw))
			if text != tt.wantText {
				t.Errorf("decodePart() text = %q, want %q", text, tt.wantText)
			}
			if ref != tt.wantRef {
				t.Errorf("decodePart() ref = %q, want %q", ref, tt.wantRef)
			}
		})
	}
}

func TestStripPointerScheme(t *testing.T) {
	if got := stripPointerScheme("sediment://file-1"); got != "file-1" {
		t.Errorf("stripPointerScheme() = %q, want %q", got, "file-1")
	}
	if got := stripPointerScheme("no-scheme"); got != "no-scheme" {
		t.Errorf("stripPointerScheme() = %q, want %q", got, "no-scheme")
	}
}
