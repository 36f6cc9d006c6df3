// Package extract provides pluggable entity/relationship extraction over a
// generative backend.
//
// Extractors turn free text into candidate graph material: named entities,
// directed relationships between them, and summaries. Output from generative
// models is dynamically shaped, so drivers validate the decoded response at
// the boundary and degrade malformed output to an empty result — extraction
// failure must never abort the surrounding processing pipeline. It reads as
// "no entities found" for that chunk.
package extract

import "context"

// Entity is a candidate entity extracted from text.
type Entity struct {
	// Name is the entity's surface form (e.g. "Paris").
	Name string `json:"name"`

	// Type is a coarse category (e.g. "location", "person", "concept").
	Type string `json:"type"`
}

// Relation is a candidate directed relationship between two extracted
// entities, referenced by name.
type Relation struct {
	Source string `json:"source"`
	Target string `json:"target"`

	// Type is a free-form relationship label (e.g. "capital_of").
	Type string `json:"type"`

	// Weight expresses extraction confidence in [0, 1].
	Weight float64 `json:"weight"`
}

// Extractor turns text into candidate graph material.
type Extractor interface {
	// Entities extracts candidate entities from text. Malformed backend
	// output yields an empty slice, not an error.
	Entities(ctx context.Context, text string) ([]Entity, error)

	// Relations extracts relationships between previously extracted
	// entities. Returns nil when fewer than two entities are given —
	// there is no valid pair to relate.
	Relations(ctx context.Context, text string, entities []Entity) ([]Relation, error)

	// Summarize produces a short summary of the given texts.
	Summarize(ctx context.Context, texts []string) (string, error)

	// Close releases any resources held by the extractor.
	Close() error
}
