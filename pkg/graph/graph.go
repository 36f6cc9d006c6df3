// Package graph defines the core model types for the engram memory graph:
// nodes, relationships, sessions, and raw chunks.
//
// A Node is a unit of memory — a raw chunk, an extracted entity or concept,
// or a generated summary — optionally carrying a fixed-dimension embedding.
// Relationships are directed, weighted, typed edges between nodes. Sessions
// scope retrieval; membership is many-to-many and a node may belong to zero,
// one, or many sessions.
package graph

import (
	"errors"
	"fmt"
	"time"
)

// NodeType tags the kind of memory a node holds.
type NodeType string

const (
	// NodeTypeChunk marks a node created directly from a raw text chunk.
	NodeTypeChunk NodeType = "chunk"

	// NodeTypeEntity marks a node extracted as a named entity.
	NodeTypeEntity NodeType = "entity"

	// NodeTypeConcept marks a node extracted as an abstract concept.
	NodeTypeConcept NodeType = "concept"

	// NodeTypeSummary marks a node holding generated summary text.
	NodeTypeSummary NodeType = "summary"
)

// Relationship types created by the processing pipeline. Extracted
// relationships carry free-form labels; these two are reserved.
const (
	// RelContains links a chunk node to an entity extracted from it.
	RelContains = "contains"

	// RelSimilarTo links two nodes whose embeddings exceed the similarity
	// threshold during post-processing.
	RelSimilarTo = "similar_to"
)

// Metadata keys written by the processing pipeline.
const (
	// MetaSessionID scopes a chunk or node to a session.
	MetaSessionID = "session_id"

	// MetaSourceNodeIDs records, on a summary node, the ids of the nodes
	// the summary was generated from.
	MetaSourceNodeIDs = "source_node_ids"
)

// Node is a stored memory unit.
type Node struct {
	// ID is the unique identifier (UUID string).
	ID string `json:"id"`

	// Content is the node's text.
	Content string `json:"content"`

	// Embedding is the vector representation of Content. Nil until the
	// processing pipeline attaches one.
	Embedding []float32 `json:"embedding,omitempty"`

	// Type tags the kind of memory this node holds.
	Type NodeType `json:"node_type"`

	// Metadata holds arbitrary JSON-serializable annotations.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relationship is a directed, weighted, typed edge between two nodes.
// Relationships are immutable once created.
type Relationship struct {
	ID string `json:"id"`

	// SourceID and TargetID reference node IDs. Self-loops are rejected
	// at creation time.
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`

	// Type is a free-form relationship label (e.g. "capital_of").
	Type string `json:"relationship_type"`

	// Weight expresses extraction confidence in [0, 1].
	Weight float64 `json:"weight"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ErrSelfLoop is returned when a relationship's source and target are the
// same node.
var ErrSelfLoop = errors.New("relationship source and target are the same node")

// Validate checks the structural invariants of a relationship.
func (r *Relationship) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return errors.New("relationship endpoints are required")
	}
	if r.SourceID == r.TargetID {
		return fmt.Errorf("%w: %s", ErrSelfLoop, r.SourceID)
	}
	if r.Weight < 0 || r.Weight > 1 {
		return fmt.Errorf("relationship weight %v outside [0, 1]", r.Weight)
	}
	return nil
}

// ClampWeight forces w into [0, 1]. Extraction backends occasionally emit
// confidences slightly outside the range.
func ClampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// Session is a logical scope grouping related nodes, typically one
// conversation.
type Session struct {
	ID        string         `json:"id"`
	Name      string         `json:"session_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Chunk is a raw text segment awaiting extraction. Chunks are mutated only
// to flip Processed and are never deleted by the engine.
type Chunk struct {
	ID string `json:"id"`

	// Content is the raw chunk text.
	Content string `json:"content"`

	// Index is the chunk's position within its source text.
	Index int `json:"chunk_index"`

	// Source optionally identifies where the text came from.
	Source string `json:"source_identifier,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScoredNode pairs a node with a similarity score, where higher means more
// similar (score = 1 − cosine distance).
type ScoredNode struct {
	Node  *Node   `json:"node"`
	Score float64 `json:"score"`
}

// Path is an ordered traversal result: Nodes has exactly one more element
// than Relationships.
type Path struct {
	Nodes         []*Node         `json:"nodes"`
	Relationships []*Relationship `json:"relationships"`
}

// TotalWeight sums the edge weights along the path. Paths with higher
// cumulative relationship confidence are surfaced first to the LLM.
func (p *Path) TotalWeight() float64 {
	var total float64
	for _, rel := range p.Relationships {
		total += rel.Weight
	}
	return total
}

// Subgraph is a deduplicated set of nodes and relationships, e.g. the result
// of a neighborhood expansion.
type Subgraph struct {
	Nodes         []*Node         `json:"nodes"`
	Relationships []*Relationship `json:"relationships"`
}
