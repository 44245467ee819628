package importer

import (
	"context"
	"sort"
	"strings"
	"time"
)

// sentinelRootID marks a synthetic root node inserted by the exporting
// client; the real conversation starts at its first child.
const sentinelRootID = "client-created-root"

// ExtractMainBranch linearizes a conversation's node mapping into the main
// branch: starting at the root, it follows the first child at each node.
// Siblings represent abandoned edits or regenerations and are discarded.
//
// At each visited node with a message payload, the message is skipped if it
// is hidden or its role is neither "user" nor "assistant". Text parts are
// newline-joined; a message with blank text and no image references is
// dropped entirely. A dangling child reference ends the branch; it is not an
// error. The traversal is iterative over the id-keyed mapping, so cycles in
// malformed input cannot recurse unboundedly (each id is visited at most
// once).
func ExtractMainBranch(ctx context.Context, mapping map[string]ExportNode) []ExtractedMessage {
	current, ok := findRoot(mapping)
	if !ok {
		return nil
	}

	var extracted []ExtractedMessage
	visited := make(map[string]struct{}, len(mapping))
	for {
		if _, seen := visited[current.ID]; seen {
			break
		}
		visited[current.ID] = struct{}{}

		if msg := extractNodeMessage(ctx, current); msg != nil {
			extracted = append(extracted, *msg)
		}

		if len(current.Children) == 0 {
			break
		}
		next, ok := mapping[current.Children[0]]
		if !ok {
			// Dangling reference: end of branch.
			break
		}
		current = next
	}
	return extracted
}

// findRoot locates the traversal start node. The root is the node whose
// parent is absent; if the sentinel client-created root is present, its first
// child is the start instead. When multiple parentless nodes exist the one
// with the smallest id wins, keeping extraction deterministic.
func findRoot(mapping map[string]ExportNode) (ExportNode, bool) {
	if sentinel, ok := mapping[sentinelRootID]; ok {
		if len(sentinel.Children) == 0 {
			return ExportNode{}, false
		}
		first, ok := mapping[sentinel.Children[0]]
		return first, ok
	}

	var rootIDs []string
	for id, node := range mapping {
		if node.Parent == nil || *node.Parent == "" {
			rootIDs = append(rootIDs, id)
		}
	}
	if len(rootIDs) == 0 {
		return ExportNode{}, false
	}
	sort.Strings(rootIDs)
	return mapping[rootIDs[0]], true
}

// extractNodeMessage filters and flattens one node's message payload.
// Returns nil when the node contributes nothing to the linearized output.
func extractNodeMessage(ctx context.Context, node ExportNode) *ExtractedMessage {
	msg := node.Message
	if msg == nil || msg.Metadata.Hidden {
		return nil
	}
	role := msg.Author.Role
	if role != "user" && role != "assistant" {
		return nil
	}

	var (
		texts     []string
		imageRefs []string
	)
	for _, part := range msg.Content.Parts {
		text, assetRef := decodePart(ctx, part)
		if assetRef != "" {
			imageRefs = append(imageRefs, assetRef)
			continue
		}
		if text != "" {
			texts = append(texts, text)
		}
	}

	text := strings.Join(texts, "\n")
	if strings.TrimSpace(text) == "" && len(imageRefs) == 0 {
		return nil
	}

	extracted := &ExtractedMessage{
		NodeID:    node.ID,
		Role:      role,
		Text:      text,
		ImageRefs: imageRefs,
	}
	if msg.CreateTime != nil {
		t := timeFromUnixSeconds(*msg.CreateTime)
		extracted.CreateTime = &t
	}
	return extracted
}

// timeFromUnixSeconds converts an export timestamp (possibly fractional
// seconds since epoch) to a UTC time.
func timeFromUnixSeconds(secs float64) time.Time {
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}
