package importer

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
)

// conversationsPath is the fixed location of the export document inside an
// archive.
const conversationsPath = "conversations.json"

// Archive is a decoded export archive: the conversation list plus an index
// over the archive's binary assets.
type Archive struct {
	Conversations []ExportedConversation
	Assets        *AssetIndex
}

// ReadArchive opens a zip export archive, decodes the conversation document
// at its fixed path, and indexes every other regular file as an asset.
// Archives nest files arbitrarily; only the base name matters for asset
// resolution. A missing or malformed conversation document is fatal.
func ReadArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	archive := &Archive{Assets: NewAssetIndex()}
	var docFile *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == conversationsPath {
			docFile = f
			continue
		}
		// Some exporters nest the document one directory down.
		if docFile == nil && path.Base(f.Name) == conversationsPath {
			docFile = f
			continue
		}
		if strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		archive.Assets.Add(f.Name, zipLoader(f))
	}

	if docFile == nil {
		return nil, fmt.Errorf("archive has no %s", conversationsPath)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", docFile.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	archive.Conversations, err = ParseExport(rc)
	if err != nil {
		return nil, err
	}
	return archive, nil
}

func zipLoader(f *zip.File) func() ([]byte, error) {
	return func() ([]byte, error) {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = rc.Close()
		}()
		return io.ReadAll(rc)
	}
}
