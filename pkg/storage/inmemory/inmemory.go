// Package inmemory provides an in-process implementation of storage.Driver.
//
// Similarity search is brute-force cosine over every embedded node, which is
// fine for tests and local development. Production deployments use the
// postgres or sqlite drivers, whose backends index embeddings.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
)

// Driver implements storage.Driver using in-process maps.
type Driver struct {
	mu sync.RWMutex

	nodes         map[string]*graph.Node
	relationships map[string]*graph.Relationship
	sessions      map[string]*graph.Session

	// members maps session ID -> node ID -> added-at timestamp.
	members map[string]map[string]time.Time

	chunks     map[string]*graph.Chunk
	chunkOrder []string
}

// NewDriver creates an empty in-memory store.
func NewDriver() *Driver {
	return &Driver{
		nodes:         make(map[string]*graph.Node),
		relationships: make(map[string]*graph.Relationship),
		sessions:      make(map[string]*graph.Session),
		members:       make(map[string]map[string]time.Time),
		chunks:        make(map[string]*graph.Chunk),
	}
}

// CreateNode stores a copy of the node.
func (d *Driver) CreateNode(_ context.Context, node *graph.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[node.ID] = cloneNode(node)
	return nil
}

// GetNode retrieves a node by ID.
func (d *Driver) GetNode(_ context.Context, id string) (*graph.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	node, ok := d.nodes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneNode(node), nil
}

// UpdateNodeEmbedding attaches an embedding to an existing node.
func (d *Driver) UpdateNodeEmbedding(_ context.Context, id string, embedding []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	node, ok := d.nodes[id]
	if !ok {
		return storage.ErrNotFound
	}
	node.Embedding = append([]float32(nil), embedding...)
	node.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteNodes removes nodes and their touching relationships. Unknown IDs
// are skipped.
func (d *Driver) DeleteNodes(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
		delete(d.nodes, id)
		for _, m := range d.members {
			delete(m, id)
		}
	}
	for relID, rel := range d.relationships {
		if _, ok := doomed[rel.SourceID]; ok {
			delete(d.relationships, relID)
			continue
		}
		if _, ok := doomed[rel.TargetID]; ok {
			delete(d.relationships, relID)
		}
	}
	return nil
}

// FindNodeByContentAndType is the deduplication lookup.
func (d *Driver) FindNodeByContentAndType(_ context.Context, content string, nodeType graph.NodeType) (*graph.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, node := range d.nodes {
		if node.Type == nodeType && node.Content == content {
			return cloneNode(node), nil
		}
	}
	return nil, storage.ErrNotFound
}

// SearchSimilar ranks embedded nodes by cosine similarity to the query.
func (d *Driver) SearchSimilar(_ context.Context, query storage.SimilarityQuery) ([]graph.ScoredNode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	typeFilter := make(map[graph.NodeType]struct{}, len(query.NodeTypes))
	for _, t := range query.NodeTypes {
		typeFilter[t] = struct{}{}
	}

	var results []graph.ScoredNode
	for _, node := range d.nodes {
		if node.Embedding == nil {
			continue
		}
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[node.Type]; !ok {
				continue
			}
		}
		score := graph.CosineSimilarity(query.Embedding, node.Embedding)
		if score < query.MinScore {
			continue
		}
		results = append(results, graph.ScoredNode{Node: cloneNode(node), Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// CreateRelationship stores a copy of the relationship after validation.
func (d *Driver) CreateRelationship(_ context.Context, rel *graph.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relationships[rel.ID] = cloneRelationship(rel)
	return nil
}

// Adjacency returns all relationships touching the node on either end.
func (d *Driver) Adjacency(_ context.Context, nodeID string, relTypes []string) ([]*graph.Relationship, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	typeFilter := make(map[string]struct{}, len(relTypes))
	for _, t := range relTypes {
		typeFilter[t] = struct{}{}
	}

	var out []*graph.Relationship
	for _, rel := range d.relationships {
		if rel.SourceID != nodeID && rel.TargetID != nodeID {
			continue
		}
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[rel.Type]; !ok {
				continue
			}
		}
		out = append(out, cloneRelationship(rel))
	}

	// Map iteration order is random; keep adjacency deterministic for
	// callers that compare traversal output.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateSession stores a copy of the session.
func (d *Driver) CreateSession(_ context.Context, session *graph.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession retrieves a session by ID.
func (d *Driver) GetSession(_ context.Context, id string) (*graph.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	session, ok := d.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSession(session), nil
}

// AddNodeToSession records membership, creating the session row lazily.
func (d *Driver) AddNodeToSession(_ context.Context, sessionID, nodeID string, addedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[sessionID]; !ok {
		now := time.Now().UTC()
		d.sessions[sessionID] = &graph.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
	}
	m, ok := d.members[sessionID]
	if !ok {
		m = make(map[string]time.Time)
		d.members[sessionID] = m
	}
	if _, exists := m[nodeID]; exists {
		return nil
	}
	m[nodeID] = addedAt
	return nil
}

// NodesInSession returns all nodes belonging to the session, oldest
// membership first.
func (d *Driver) NodesInSession(_ context.Context, sessionID string) ([]*graph.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m := d.members[sessionID]
	type entry struct {
		node    *graph.Node
		addedAt time.Time
	}
	entries := make([]entry, 0, len(m))
	for nodeID, addedAt := range m {
		if node, ok := d.nodes[nodeID]; ok {
			entries = append(entries, entry{cloneNode(node), addedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].addedAt.Equal(entries[j].addedAt) {
			return entries[i].node.ID < entries[j].node.ID
		}
		return entries[i].addedAt.Before(entries[j].addedAt)
	})

	nodes := make([]*graph.Node, len(entries))
	for i, e := range entries {
		nodes[i] = e.node
	}
	return nodes, nil
}

// CreateChunks persists raw chunks in order.
func (d *Driver) CreateChunks(_ context.Context, chunks []*graph.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, chunk := range chunks {
		if _, exists := d.chunks[chunk.ID]; !exists {
			d.chunkOrder = append(d.chunkOrder, chunk.ID)
		}
		d.chunks[chunk.ID] = cloneChunk(chunk)
	}
	return nil
}

// UnprocessedChunks returns unprocessed chunks in creation order.
func (d *Driver) UnprocessedChunks(_ context.Context, sessionID string) ([]*graph.Chunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*graph.Chunk
	for _, id := range d.chunkOrder {
		chunk, ok := d.chunks[id]
		if !ok || chunk.Processed {
			continue
		}
		if sessionID != "" && chunkSession(chunk) != sessionID {
			continue
		}
		out = append(out, cloneChunk(chunk))
	}
	return out, nil
}

// MarkChunkProcessed flips the chunk's processed flag.
func (d *Driver) MarkChunkProcessed(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chunk, ok := d.chunks[id]
	if !ok {
		return storage.ErrNotFound
	}
	chunk.Processed = true
	return nil
}

// Ping is a no-op for the in-memory driver.
func (d *Driver) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error { return nil }

func chunkSession(chunk *graph.Chunk) string {
	if chunk.Metadata == nil {
		return ""
	}
	if s, ok := chunk.Metadata["session_id"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func cloneNode(n *graph.Node) *graph.Node {
	out := *n
	out.Embedding = append([]float32(nil), n.Embedding...)
	out.Metadata = cloneMeta(n.Metadata)
	return &out
}

func cloneRelationship(r *graph.Relationship) *graph.Relationship {
	out := *r
	out.Metadata = cloneMeta(r.Metadata)
	return &out
}

func cloneSession(s *graph.Session) *graph.Session {
	out := *s
	out.Metadata = cloneMeta(s.Metadata)
	return &out
}

func cloneChunk(c *graph.Chunk) *graph.Chunk {
	out := *c
	out.Metadata = cloneMeta(c.Metadata)
	return &out
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ storage.Driver = (*Driver)(nil)
