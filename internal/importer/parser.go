package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chatvault/internal/contextutil"
)

// ParseExport decodes an export document: a JSON array of conversations.
// A malformed document is fatal to the whole run; nothing is imported.
func ParseExport(r io.Reader) ([]ExportedConversation, error) {
	var convs []ExportedConversation
	if err := json.NewDecoder(r).Decode(&convs); err != nil {
		return nil, fmt.Errorf("failed to parse export document: %w", err)
	}
	return convs, nil
}

// assetPointerPart is the object shape of a non-text message part.
type assetPointerPart struct {
	ContentType  string `json:"content_type"`
	AssetPointer string `json:"asset_pointer"`
}

// decodePart interprets one message part. It returns the part's text, or the
// bare asset file id carried by an asset pointer of the form
// "<scheme>://<file-id>". Unrecognized shapes are skipped and logged.
func decodePart(ctx context.Context, raw json.RawMessage) (text, assetRef string) {
	logger := contextutil.LoggerFromContext(ctx)

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, ""
	}

	var ptr assetPointerPart
	if err := json.Unmarshal(raw, &ptr); err == nil && ptr.AssetPointer != "" {
		return "", stripPointerScheme(ptr.AssetPointer)
	}

	logger.DebugContext(ctx, "skipping unrecognized message part", "part", string(raw))
	return "", ""
}

// stripPointerScheme removes the "<scheme>://" prefix from an asset pointer,
// leaving the bare file id.
func stripPointerScheme(pointer string) string {
	if i := strings.Index(pointer, "://"); i >= 0 {
		return pointer[i+3:]
	}
	return pointer
}
