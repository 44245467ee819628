package importer

import (
	"errors"
	"testing"

	"chatvault/internal/store"
)

func staticLoader(data []byte) func() ([]byte, error) {
	return func() ([]byte, error) { return data, nil }
}

func TestAssetIndex_Resolve(t *testing.T) {
	idx := NewAssetIndex()
	idx.Add("images/file-abc123.png", staticLoader([]byte("png-bytes")))
	idx.Add("docs/report.pdf", staticLoader([]byte("pdf-bytes")))

	tests := []struct {
		name     string
		ref      string
		wantFile string
		wantOK   bool
	}{
		{name: "exact match", ref: "file-abc123.png", wantFile: "file-abc123.png", wantOK: true},
		{name: "missing extension", ref: "file-abc123", wantFile: "file-abc123.png", wantOK: true},
		{name: "prefix stripped", ref: "abc123", wantFile: "file-abc123.png", wantOK: true},
		{name: "substring fallback", ref: "bc12", wantFile: "file-abc123.png", wantOK: true},
		{name: "non-image asset", ref: "report.pdf", wantFile: "report.pdf", wantOK: true},
		{name: "miss", ref: "file-other", wantOK: false},
		{name: "empty ref", ref: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, ok, err := idx.Resolve(tt.ref)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && asset.Filename != tt.wantFile {
				t.Errorf("Resolve() filename = %q, want %q", asset.Filename, tt.wantFile)
			}
		})
	}
}

func TestAssetIndex_ResolveMIMETypes(t *testing.T) {
	idx := NewAssetIndex()
	idx.Add("file-a.png", staticLoader(nil))
	idx.Add("file-b.JPG", staticLoader(nil))
	idx.Add("file-c.bin", staticLoader(nil))

	tests := []struct {
		ref  string
		want string
	}{
		{ref: "file-a.png", want: "image/png"},
		{ref: "file-b.JPG", want: "image/jpeg"},
		{ref: "file-c.bin", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		asset, ok, err := idx.Resolve(tt.ref)
		if err != nil || !ok {
			t.Fatalf("Resolve(%q) = %v, %v", tt.ref, ok, err)
		}
		if asset.MIMEType != tt.want {
			t.Errorf("Resolve(%q) mime = %q, want %q", tt.ref, asset.MIMEType, tt.want)
		}
	}
}

func TestAssetIndex_FirstFileWins(t *testing.T) {
	idx := NewAssetIndex()
	idx.Add("file-dup.png", staticLoader([]byte("first")))
	idx.Add("nested/file-dup.png", staticLoader([]byte("second")))

	asset, ok, err := idx.Resolve("file-dup.png")
	if err != nil || !ok {
		t.Fatalf("Resolve() = %v, %v", ok, err)
	}
	if string(asset.Data) != "first" {
		t.Errorf("Resolve() data = %q, want the first indexed file", asset.Data)
	}
}

func TestAssetIndex_LoaderError(t *testing.T) {
	idx := NewAssetIndex()
	idx.Add("file-bad.png", func() ([]byte, error) {
		return nil, errors.New("corrupt entry")
	})

	_, ok, err := idx.Resolve("file-bad.png")
	if err == nil {
		t.Error("Resolve() did not surface the loader error")
	}
	if ok {
		t.Error("Resolve() reported ok despite loader error")
	}
}

func TestKindForMIME(t *testing.T) {
	if got := kindForMIME("image/png"); got != store.AttachmentKindImage {
		t.Errorf("kindForMIME(image/png) = %q, want %q", got, store.AttachmentKindImage)
	}
	if got := kindForMIME("application/pdf"); got != store.AttachmentKindDocument {
		t.Errorf("kindForMIME(application/pdf) = %q, want %q", got, store.AttachmentKindDocument)
	}
}
