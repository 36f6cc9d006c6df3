package retrieval

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/utils"
)

// maxTargetChars truncates relationship targets in formatted context to keep
// prompt size bounded.
const maxTargetChars = 100

// formatTriplets renders a neighborhood subgraph as prompt-ready context:
// the center node's description followed by its relationships grouped by
// type, one line per type with the related nodes' content truncated. Returns
// an empty string when the subgraph has no relationships.
func formatTriplets(center *graph.Node, sub *graph.Subgraph) string {
	if center == nil || sub == nil || len(sub.Relationships) == 0 {
		return ""
	}

	byID := make(map[string]*graph.Node, len(sub.Nodes))
	for _, node := range sub.Nodes {
		byID[node.ID] = node
	}

	grouped := make(map[string][]string)
	var typeOrder []string
	for _, rel := range sub.Relationships {
		otherID := rel.TargetID
		if otherID == center.ID {
			otherID = rel.SourceID
		}
		label := otherID
		if other, ok := byID[otherID]; ok {
			label = truncateContent(other.Content, maxTargetChars)
		}

		if _, ok := grouped[rel.Type]; !ok {
			typeOrder = append(typeOrder, rel.Type)
		}
		grouped[rel.Type] = append(grouped[rel.Type], label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", truncateContent(center.Content, maxTargetChars), center.Type)
	for _, relType := range typeOrder {
		fmt.Fprintf(&b, "  %s: %s\n", relType, strings.Join(grouped[relType], "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateContent(content string, limit int) string {
	return utils.Truncate(strings.TrimSpace(content), limit)
}
