// Package storage defines the persistence contract for the engram memory
// graph.
//
// The Driver is the primary interface for working with pkg/graph — it
// persists nodes, relationships, sessions, and chunks, and answers the two
// query primitives the rest of the engine is built on: vector-similarity
// ranking and graph adjacency. Nearest-neighbor search itself belongs to the
// backend (pgvector, sqlite-vec, or brute force in memory); callers only see
// ranked, score-filtered results.
package storage

import (
	"context"
	"time"

	"github.com/papercomputeco/engram/pkg/graph"
)

// SimilarityQuery parameterizes a vector search.
type SimilarityQuery struct {
	// Embedding is the query vector.
	Embedding []float32

	// Limit caps the number of returned nodes. Non-positive means the
	// driver's default.
	Limit int

	// MinScore drops results scoring below the threshold, where score is
	// 1 − cosine distance.
	MinScore float64

	// NodeTypes restricts results to the given node types. Empty means
	// all types.
	NodeTypes []graph.NodeType
}

// Driver defines the interface for persisting and querying the memory graph.
type Driver interface {
	// CreateNode persists a node. The caller supplies the ID.
	CreateNode(ctx context.Context, node *graph.Node) error

	// GetNode retrieves a node by ID. Returns ErrNotFound if absent.
	GetNode(ctx context.Context, id string) (*graph.Node, error)

	// UpdateNodeEmbedding attaches an embedding to an existing node.
	UpdateNodeEmbedding(ctx context.Context, id string, embedding []float32) error

	// DeleteNodes removes nodes and their touching relationships.
	// Best-effort: unknown IDs are not an error.
	DeleteNodes(ctx context.Context, ids []string) error

	// FindNodeByContentAndType is the deduplication lookup: it returns the
	// node with exactly this content and type, or ErrNotFound.
	FindNodeByContentAndType(ctx context.Context, content string, nodeType graph.NodeType) (*graph.Node, error)

	// SearchSimilar ranks nodes by similarity to the query embedding,
	// descending, truncated to the limit and the score floor.
	SearchSimilar(ctx context.Context, query SimilarityQuery) ([]graph.ScoredNode, error)

	// CreateRelationship persists a directed weighted edge. Self-loops
	// are rejected with graph.ErrSelfLoop.
	CreateRelationship(ctx context.Context, rel *graph.Relationship) error

	// Adjacency returns all relationships touching the node on either
	// end, optionally filtered to the given relationship types.
	Adjacency(ctx context.Context, nodeID string, relTypes []string) ([]*graph.Relationship, error)

	// CreateSession persists a session scope.
	CreateSession(ctx context.Context, session *graph.Session) error

	// GetSession retrieves a session by ID. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (*graph.Session, error)

	// AddNodeToSession records session membership. Idempotent: inserting
	// an existing membership is a no-op, and a missing session row is
	// created lazily rather than failing a foreign-key constraint.
	AddNodeToSession(ctx context.Context, sessionID, nodeID string, addedAt time.Time) error

	// NodesInSession returns all nodes belonging to the session.
	NodesInSession(ctx context.Context, sessionID string) ([]*graph.Node, error)

	// CreateChunks persists raw chunks awaiting processing.
	CreateChunks(ctx context.Context, chunks []*graph.Chunk) error

	// UnprocessedChunks returns chunks not yet processed, in creation
	// order. A non-empty sessionID filters to chunks stamped with that
	// session in their metadata.
	UnprocessedChunks(ctx context.Context, sessionID string) ([]*graph.Chunk, error)

	// MarkChunkProcessed flips the chunk's processed flag.
	MarkChunkProcessed(ctx context.Context, id string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the store and releases any resources.
	Close() error
}
