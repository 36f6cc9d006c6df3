package extract

import (
	"context"
	"strings"
)

// Static is a canned extractor for tests and local development. It returns
// the configured entities/relations whose source text actually mentions
// them, and summarizes by truncation.
type Static struct {
	// EntityList is returned from Entities, filtered to names present in
	// the input text.
	EntityList []Entity

	// RelationList is returned from Relations, filtered to pairs present
	// in the given entity set.
	RelationList []Relation

	// SummaryLimit caps the summary length in bytes. Zero means 280.
	SummaryLimit int
}

// Entities implements Extractor.
func (s *Static) Entities(_ context.Context, text string) ([]Entity, error) {
	var out []Entity
	for _, e := range s.EntityList {
		if strings.Contains(text, e.Name) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Relations implements Extractor.
func (s *Static) Relations(_ context.Context, _ string, entities []Entity) ([]Relation, error) {
	if len(entities) < 2 {
		return nil, nil
	}
	names := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		names[e.Name] = struct{}{}
	}
	var out []Relation
	for _, r := range s.RelationList {
		if _, ok := names[r.Source]; !ok {
			continue
		}
		if _, ok := names[r.Target]; !ok {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Summarize implements Extractor.
func (s *Static) Summarize(_ context.Context, texts []string) (string, error) {
	limit := s.SummaryLimit
	if limit <= 0 {
		limit = 280
	}
	summary := strings.Join(texts, " ")
	if len(summary) > limit {
		summary = summary[:limit]
	}
	return summary, nil
}

// Close implements Extractor.
func (s *Static) Close() error { return nil }

var _ Extractor = (*Static)(nil)
