package importer

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"chatvault/internal/store"
)

// knownAssetPrefix is the external file-id prefix exported archives sometimes
// keep on filenames and sometimes strip.
const knownAssetPrefix = "file-"

// imageExtensions are tried, in order, when a reference has no extension.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"}

var mimeByExtension = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
}

// Asset is a binary file resolved from an archive.
type Asset struct {
	Filename string // original base name inside the archive
	MIMEType string
	Data     []byte
}

// assetEntry is one indexed archive file; bytes load lazily on resolution.
type assetEntry struct {
	filename string
	load     func() ([]byte, error)
}

// AssetIndex maps filename variants to archive files. Each file is indexed
// under its full base name, its name without extension, and, when the name
// carries the known external-id prefix, both of those with the prefix
// stripped. Exported archives are inconsistent about which form a message's
// asset reference uses.
type AssetIndex struct {
	entries map[string]*assetEntry
	keys    []string // sorted, for the deterministic substring fallback
}

// NewAssetIndex creates an empty index.
func NewAssetIndex() *AssetIndex {
	return &AssetIndex{entries: make(map[string]*assetEntry)}
}

// Add indexes one regular file under all its filename variants. The first
// file observed for a variant wins.
func (x *AssetIndex) Add(name string, load func() ([]byte, error)) {
	base := path.Base(name)
	entry := &assetEntry{filename: base, load: load}

	variants := []string{base}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem != base {
		variants = append(variants, stem)
	}
	for _, v := range []string{base, stem} {
		if strings.HasPrefix(v, knownAssetPrefix) {
			variants = append(variants, strings.TrimPrefix(v, knownAssetPrefix))
		}
	}

	for _, key := range variants {
		if key == "" {
			continue
		}
		if _, exists := x.entries[key]; exists {
			continue
		}
		x.entries[key] = entry
		x.keys = append(x.keys, key)
	}
	sort.Strings(x.keys)
}

// Len returns the number of indexed keys.
func (x *AssetIndex) Len() int {
	return len(x.keys)
}

// Resolve locates the file for an image reference, trying strategies in
// order and stopping at the first hit:
//
//  1. exact key match
//  2. reference plus each common image extension
//  3. with the known prefix stripped, repeat 1 and 2
//  4. last resort, a substring scan over all keys
//
// The boolean result is false when no strategy matched; the caller imports
// the message without the attachment and records the miss.
func (x *AssetIndex) Resolve(ref string) (*Asset, bool, error) {
	if ref == "" {
		return nil, false, nil
	}

	candidates := []string{ref}
	if stripped := strings.TrimPrefix(ref, knownAssetPrefix); stripped != ref {
		candidates = append(candidates, stripped)
	}

	for _, candidate := range candidates {
		if entry, ok := x.entries[candidate]; ok {
			return x.materialize(entry)
		}
		for _, ext := range imageExtensions {
			if entry, ok := x.entries[candidate+ext]; ok {
				return x.materialize(entry)
			}
		}
	}

	// Substring fallback over the sorted key list.
	for _, key := range x.keys {
		if strings.Contains(key, ref) || strings.Contains(ref, key) {
			return x.materialize(x.entries[key])
		}
	}

	return nil, false, nil
}

func (x *AssetIndex) materialize(entry *assetEntry) (*Asset, bool, error) {
	data, err := entry.load()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read asset %s: %w", entry.filename, err)
	}
	return &Asset{
		Filename: entry.filename,
		MIMEType: mimeForFilename(entry.filename),
		Data:     data,
	}, true, nil
}

func mimeForFilename(name string) string {
	if mime, ok := mimeByExtension[strings.ToLower(path.Ext(name))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// kindForMIME maps a mime type to an attachment kind.
func kindForMIME(mime string) string {
	if strings.HasPrefix(mime, "image/") {
		return store.AttachmentKindImage
	}
	return store.AttachmentKindDocument
}
