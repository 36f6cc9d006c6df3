// Package traverse implements graph traversal over the storage layer's
// adjacency primitive: path finding, neighborhood expansion, and connected-
// component clustering.
//
// The algorithms are pure with respect to storage — they issue adjacency
// and node lookups but never write. Absent node IDs are a valid query
// outcome and yield empty results, never errors.
package traverse

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
)

// Filters prune edges and nodes during expansion. Nil slices disable the
// corresponding filter.
type Filters struct {
	// RelationshipTypes restricts traversal to edges of these types.
	RelationshipTypes []string

	// NodeTypes restricts traversal to nodes of these types. The seed
	// and endpoint nodes of a query are exempt.
	NodeTypes []graph.NodeType
}

func (f Filters) allowsNode(node *graph.Node) bool {
	if len(f.NodeTypes) == 0 {
		return true
	}
	for _, t := range f.NodeTypes {
		if node.Type == t {
			return true
		}
	}
	return false
}

// Traverser runs traversal algorithms against a storage driver.
type Traverser struct {
	store  storage.Driver
	logger *zap.Logger
}

// New creates a Traverser.
func New(store storage.Driver, logger *zap.Logger) *Traverser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traverser{store: store, logger: logger}
}

// nodeCache memoizes node lookups within a single traversal so BFS does not
// refetch shared neighbors.
type nodeCache struct {
	store storage.Driver
	nodes map[string]*graph.Node
}

func newNodeCache(store storage.Driver) *nodeCache {
	return &nodeCache{store: store, nodes: make(map[string]*graph.Node)}
}

// get returns the node or nil when it does not exist.
func (c *nodeCache) get(ctx context.Context, id string) (*graph.Node, error) {
	if node, ok := c.nodes[id]; ok {
		return node, nil
	}
	node, err := c.store.GetNode(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.nodes[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.nodes[id] = node
	return node, nil
}

// frontierEntry is one partial path on the BFS frontier. Each branch owns
// its visited set: it is copied on expansion, not shared, so divergent
// branches can revisit a node reached by a sibling branch without
// false-pruning the search.
type frontierEntry struct {
	nodeIDs []string
	rels    []*graph.Relationship
	depth   int
	visited map[string]struct{}
}

// FindPaths runs a breadth-first search from startID and collects every
// path reaching endID within maxDepth edges. The search runs to exhaustion
// rather than stopping at the first hit, so multiple paths may be returned.
// Results are sorted by descending total edge weight; ties keep discovery
// order. Nonexistent endpoints yield an empty list.
func (t *Traverser) FindPaths(ctx context.Context, startID, endID string, maxDepth int, filters Filters) ([]*graph.Path, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	cache := newNodeCache(t.store)
	start, err := cache.get(ctx, startID)
	if err != nil {
		return nil, err
	}
	end, err := cache.get(ctx, endID)
	if err != nil {
		return nil, err
	}
	if start == nil || end == nil {
		return []*graph.Path{}, nil
	}
	// Degenerate query: start equals end. Tolerated defensively, nothing
	// to find.
	if startID == endID {
		return []*graph.Path{}, nil
	}

	frontier := []frontierEntry{{
		nodeIDs: []string{startID},
		depth:   0,
		visited: map[string]struct{}{startID: {}},
	}}

	var found []*graph.Path
	for len(frontier) > 0 {
		entry := frontier[0]
		frontier = frontier[1:]

		if entry.depth >= maxDepth {
			continue
		}

		currentID := entry.nodeIDs[len(entry.nodeIDs)-1]
		rels, err := t.store.Adjacency(ctx, currentID, filters.RelationshipTypes)
		if err != nil {
			return nil, err
		}

		for _, rel := range rels {
			neighborID := rel.TargetID
			if neighborID == currentID {
				neighborID = rel.SourceID
			}
			// Tolerate malformed edges that slipped past creation checks.
			if neighborID == currentID {
				continue
			}
			if _, seen := entry.visited[neighborID]; seen {
				continue
			}

			neighbor, err := cache.get(ctx, neighborID)
			if err != nil {
				return nil, err
			}
			if neighbor == nil {
				continue
			}
			if neighborID != endID && !filters.allowsNode(neighbor) {
				continue
			}

			nextIDs := append(append([]string{}, entry.nodeIDs...), neighborID)
			nextRels := append(append([]*graph.Relationship{}, entry.rels...), rel)

			if neighborID == endID {
				path, err := t.materializePath(ctx, cache, nextIDs, nextRels)
				if err != nil {
					return nil, err
				}
				found = append(found, path)
				continue
			}

			nextVisited := make(map[string]struct{}, len(entry.visited)+1)
			for id := range entry.visited {
				nextVisited[id] = struct{}{}
			}
			nextVisited[neighborID] = struct{}{}

			frontier = append(frontier, frontierEntry{
				nodeIDs: nextIDs,
				rels:    nextRels,
				depth:   entry.depth + 1,
				visited: nextVisited,
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].TotalWeight() > found[j].TotalWeight()
	})

	t.logger.Debug("path search complete",
		zap.String("start", startID),
		zap.String("end", endID),
		zap.Int("paths", len(found)),
	)
	return found, nil
}

func (t *Traverser) materializePath(ctx context.Context, cache *nodeCache, nodeIDs []string, rels []*graph.Relationship) (*graph.Path, error) {
	nodes := make([]*graph.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		node, err := cache.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return &graph.Path{Nodes: nodes, Relationships: rels}, nil
}

// Neighborhood expands breadth-first from a single seed, bounded by
// maxDepth edges, deduplicating nodes and relationships by ID. The seed is
// always included, even at maxDepth 0. A missing seed yields empty result
// sets.
func (t *Traverser) Neighborhood(ctx context.Context, seedID string, maxDepth int, filters Filters) (*graph.Subgraph, error) {
	if maxDepth < 0 {
		maxDepth = 0
	}

	cache := newNodeCache(t.store)
	seed, err := cache.get(ctx, seedID)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return &graph.Subgraph{Nodes: []*graph.Node{}, Relationships: []*graph.Relationship{}}, nil
	}

	nodeSet := map[string]*graph.Node{seedID: seed}
	relSet := map[string]*graph.Relationship{}
	nodeOrder := []string{seedID}
	var relOrder []string

	type qEntry struct {
		id    string
		depth int
	}
	queue := []qEntry{{seedID, 0}}
	expanded := map[string]struct{}{}

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		if entry.depth >= maxDepth {
			continue
		}
		if _, done := expanded[entry.id]; done {
			continue
		}
		expanded[entry.id] = struct{}{}

		rels, err := t.store.Adjacency(ctx, entry.id, filters.RelationshipTypes)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			neighborID := rel.TargetID
			if neighborID == entry.id {
				neighborID = rel.SourceID
			}
			if neighborID == entry.id {
				continue
			}

			neighbor, err := cache.get(ctx, neighborID)
			if err != nil {
				return nil, err
			}
			if neighbor == nil || !filters.allowsNode(neighbor) {
				continue
			}

			if _, ok := relSet[rel.ID]; !ok {
				relSet[rel.ID] = rel
				relOrder = append(relOrder, rel.ID)
			}
			if _, ok := nodeSet[neighborID]; !ok {
				nodeSet[neighborID] = neighbor
				nodeOrder = append(nodeOrder, neighborID)
			}
			queue = append(queue, qEntry{neighborID, entry.depth + 1})
		}
	}

	result := &graph.Subgraph{
		Nodes:         make([]*graph.Node, 0, len(nodeOrder)),
		Relationships: make([]*graph.Relationship, 0, len(relOrder)),
	}
	for _, id := range nodeOrder {
		result.Nodes = append(result.Nodes, nodeSet[id])
	}
	for _, id := range relOrder {
		result.Relationships = append(result.Relationships, relSet[id])
	}
	return result, nil
}

// Clusters finds connected components among a session's nodes, treating
// relationships as undirected, and returns components of at least minSize
// nodes. The component walk is iterative (explicit stack) so large
// components cannot overflow the call stack. An empty scope yields an
// empty list.
func (t *Traverser) Clusters(ctx context.Context, sessionID string, minSize int, filters Filters) ([][]*graph.Node, error) {
	if minSize < 1 {
		minSize = 1
	}

	scoped, err := t.store.NodesInSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(scoped) == 0 {
		return [][]*graph.Node{}, nil
	}

	inScope := make(map[string]*graph.Node, len(scoped))
	var order []string
	for _, node := range scoped {
		if !filters.allowsNode(node) {
			continue
		}
		inScope[node.ID] = node
		order = append(order, node.ID)
	}

	// Undirected adjacency restricted to in-scope endpoints.
	neighbors := make(map[string][]string, len(inScope))
	for _, id := range order {
		rels, err := t.store.Adjacency(ctx, id, filters.RelationshipTypes)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			otherID := rel.TargetID
			if otherID == id {
				otherID = rel.SourceID
			}
			if otherID == id {
				continue
			}
			if _, ok := inScope[otherID]; !ok {
				continue
			}
			neighbors[id] = append(neighbors[id], otherID)
		}
	}

	var clusters [][]*graph.Node
	assigned := make(map[string]struct{}, len(inScope))
	for _, rootID := range order {
		if _, done := assigned[rootID]; done {
			continue
		}

		var component []*graph.Node
		stack := []string{rootID}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := assigned[id]; done {
				continue
			}
			assigned[id] = struct{}{}
			component = append(component, inScope[id])
			stack = append(stack, neighbors[id]...)
		}

		if len(component) >= minSize {
			clusters = append(clusters, component)
		}
	}

	if clusters == nil {
		clusters = [][]*graph.Node{}
	}
	return clusters, nil
}
