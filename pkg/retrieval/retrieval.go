// Package retrieval turns the memory graph into ranked, LLM-consumable
// results. Five strategies share one entry point: pure vector ranking, three
// graph expansions that attach formatted relationship context to each result,
// and a hybrid mode that merges vector and graph legs.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/traverse"
)

// Strategy selects a retrieval algorithm.
type Strategy string

const (
	// StrategyVector ranks nodes by embedding similarity alone.
	StrategyVector Strategy = "vector"

	// StrategyGraph expands each vector seed's 1-hop neighborhood and
	// attaches triplet context.
	StrategyGraph Strategy = "graph"

	// StrategyCompletion seeds from entity-like nodes and expands two hops
	// for deeper multi-hop context.
	StrategyCompletion Strategy = "completion"

	// StrategySummary seeds from summary nodes and expands the
	// neighborhoods of their recorded source nodes.
	StrategySummary Strategy = "summary"

	// StrategyHybrid runs vector and completion concurrently and merges
	// the legs, vector results first.
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy maps a wire name to a Strategy. Unknown names fall back to
// vector, the cheapest and most predictable mode.
func ParseStrategy(name string) Strategy {
	switch Strategy(name) {
	case StrategyVector, StrategyGraph, StrategyCompletion, StrategySummary, StrategyHybrid:
		return Strategy(name)
	default:
		return StrategyVector
	}
}

// Query parameterizes a retrieval call.
type Query struct {
	// Text is the natural-language query. It is embedded before any
	// strategy runs.
	Text string

	// SessionID scopes results to a session's nodes. Empty means global.
	SessionID string

	// NodeTypes restricts candidate nodes. Strategies with their own
	// seed-type defaults (completion, summary) ignore this for seeding.
	NodeTypes []graph.NodeType

	// Limit caps the result count, applied as the final truncation step
	// after all filtering and merging.
	Limit int

	// MinScore drops vector candidates scoring below the threshold.
	MinScore float64
}

// DefaultLimit caps results when the query does not.
const DefaultLimit = 10

// Result is one retrieval hit. Context is empty for pure vector results and
// carries formatted graph triplets for graph-backed strategies.
type Result struct {
	Node    *graph.Node `json:"node"`
	Score   float64     `json:"score"`
	Context string      `json:"context,omitempty"`
}

// Retriever executes retrieval strategies against the store.
type Retriever struct {
	store    storage.Driver
	embedder embeddings.Embedder
	trav     *traverse.Traverser
	logger   *zap.Logger
}

// New creates a Retriever.
func New(store storage.Driver, embedder embeddings.Embedder, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		trav:     traverse.New(store, logger),
		logger:   logger,
	}
}

// Search runs the given strategy. Strategy-level failures degrade to an
// empty result list rather than an error so chat callers can always fall
// back to "nothing found"; the failure is logged.
func (r *Retriever) Search(ctx context.Context, strategy Strategy, query Query) []Result {
	results, err := r.run(ctx, strategy, query)
	if err != nil {
		r.logger.Warn("search degraded to empty results",
			zap.String("strategy", string(strategy)),
			zap.Error(err),
		)
		return []Result{}
	}
	if results == nil {
		results = []Result{}
	}
	return results
}

func (r *Retriever) run(ctx context.Context, strategy Strategy, query Query) ([]Result, error) {
	if query.Limit <= 0 {
		query.Limit = DefaultLimit
	}
	switch strategy {
	case StrategyVector:
		return r.vector(ctx, query)
	case StrategyGraph:
		return r.graphNeighborhood(ctx, query, 1)
	case StrategyCompletion:
		return r.completion(ctx, query)
	case StrategySummary:
		return r.summary(ctx, query)
	case StrategyHybrid:
		return r.hybrid(ctx, query)
	default:
		return nil, fmt.Errorf("unknown retrieval strategy %q", strategy)
	}
}

// overfetchFactor widens the store query when a session post-filter will
// discard candidates, so the final truncation is not starved.
const overfetchFactor = 4

// vector ranks by similarity, then post-filters to the session by
// intersecting with the session's node set, then truncates to the limit.
func (r *Retriever) vector(ctx context.Context, query Query) ([]Result, error) {
	return r.vectorSeeds(ctx, query, query.NodeTypes)
}

func (r *Retriever) vectorSeeds(ctx context.Context, query Query, nodeTypes []graph.NodeType) ([]Result, error) {
	embedding, err := r.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	storeLimit := query.Limit
	if query.SessionID != "" {
		storeLimit *= overfetchFactor
	}
	scored, err := r.store.SearchSimilar(ctx, storage.SimilarityQuery{
		Embedding: embedding,
		Limit:     storeLimit,
		MinScore:  query.MinScore,
		NodeTypes: nodeTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	if query.SessionID != "" {
		members, err := r.store.NodesInSession(ctx, query.SessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session nodes: %w", err)
		}
		inSession := make(map[string]struct{}, len(members))
		for _, node := range members {
			inSession[node.ID] = struct{}{}
		}
		filtered := scored[:0]
		for _, candidate := range scored {
			if _, ok := inSession[candidate.Node.ID]; ok {
				filtered = append(filtered, candidate)
			}
		}
		scored = filtered
	}

	results := make([]Result, 0, len(scored))
	for _, candidate := range scored {
		results = append(results, Result{Node: candidate.Node, Score: candidate.Score})
	}
	return truncate(results, query.Limit), nil
}

// graphNeighborhood expands each vector seed's neighborhood to the given
// depth and attaches triplet context.
func (r *Retriever) graphNeighborhood(ctx context.Context, query Query, depth int) ([]Result, error) {
	seeds, err := r.vectorSeeds(ctx, query, query.NodeTypes)
	if err != nil {
		return nil, err
	}
	return r.expandSeeds(ctx, seeds, depth, query.Limit)
}

// completion seeds from entity-like nodes and expands two hops.
func (r *Retriever) completion(ctx context.Context, query Query) ([]Result, error) {
	seedTypes := query.NodeTypes
	if len(seedTypes) == 0 {
		seedTypes = []graph.NodeType{graph.NodeTypeEntity, graph.NodeTypeConcept}
	}
	seeds, err := r.vectorSeeds(ctx, query, seedTypes)
	if err != nil {
		return nil, err
	}
	return r.expandSeeds(ctx, seeds, 2, query.Limit)
}

// maxSummarySources bounds fan-out when expanding a summary's recorded
// source nodes.
const maxSummarySources = 3

// summary seeds from summary nodes; each result's context concatenates the
// summary text with triplets from the neighborhoods of up to three of the
// summary's recorded source nodes.
func (r *Retriever) summary(ctx context.Context, query Query) ([]Result, error) {
	seeds, err := r.vectorSeeds(ctx, query, []graph.NodeType{graph.NodeTypeSummary})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(seeds))
	for _, seed := range seeds {
		sections := []string{seed.Node.Content}

		sourceIDs := metadataStrings(seed.Node.Metadata, graph.MetaSourceNodeIDs)
		if len(sourceIDs) > maxSummarySources {
			sourceIDs = sourceIDs[:maxSummarySources]
		}
		for _, sourceID := range sourceIDs {
			sub, err := r.trav.Neighborhood(ctx, sourceID, 1, traverse.Filters{})
			if err != nil {
				return nil, fmt.Errorf("expanding summary source %s: %w", sourceID, err)
			}
			if len(sub.Nodes) == 0 {
				continue
			}
			if section := formatTriplets(sub.Nodes[0], sub); section != "" {
				sections = append(sections, section)
			}
		}

		results = append(results, Result{
			Node:    seed.Node,
			Score:   seed.Score,
			Context: strings.Join(sections, "\n\n"),
		})
	}
	return truncate(results, query.Limit), nil
}

// hybrid runs the vector and completion legs concurrently and merges them,
// deduplicating by node id. Vector results keep their ordering and come
// first; graph-only results are appended. A failed leg contributes nothing
// rather than failing the merge.
func (r *Retriever) hybrid(ctx context.Context, query Query) ([]Result, error) {
	var (
		wg          sync.WaitGroup
		vectorLeg   []Result
		graphLeg    []Result
		vectorErr   error
		completeErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorLeg, vectorErr = r.vector(ctx, query)
	}()
	go func() {
		defer wg.Done()
		graphLeg, completeErr = r.completion(ctx, query)
	}()
	wg.Wait()

	if vectorErr != nil {
		r.logger.Warn("hybrid vector leg failed", zap.Error(vectorErr))
		vectorLeg = nil
	}
	if completeErr != nil {
		r.logger.Warn("hybrid graph leg failed", zap.Error(completeErr))
		graphLeg = nil
	}
	if vectorErr != nil && completeErr != nil {
		return nil, fmt.Errorf("both hybrid legs failed: %w", vectorErr)
	}

	seen := make(map[string]struct{}, len(vectorLeg)+len(graphLeg))
	merged := make([]Result, 0, len(vectorLeg)+len(graphLeg))
	for _, result := range vectorLeg {
		if _, dup := seen[result.Node.ID]; dup {
			continue
		}
		seen[result.Node.ID] = struct{}{}
		merged = append(merged, result)
	}
	for _, result := range graphLeg {
		if _, dup := seen[result.Node.ID]; dup {
			continue
		}
		seen[result.Node.ID] = struct{}{}
		merged = append(merged, result)
	}
	return truncate(merged, query.Limit), nil
}

func (r *Retriever) expandSeeds(ctx context.Context, seeds []Result, depth, limit int) ([]Result, error) {
	results := make([]Result, 0, len(seeds))
	for _, seed := range seeds {
		sub, err := r.trav.Neighborhood(ctx, seed.Node.ID, depth, traverse.Filters{})
		if err != nil {
			return nil, fmt.Errorf("expanding neighborhood of %s: %w", seed.Node.ID, err)
		}
		results = append(results, Result{
			Node:    seed.Node,
			Score:   seed.Score,
			Context: formatTriplets(seed.Node, sub),
		})
	}
	return truncate(results, limit), nil
}

func truncate(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// metadataStrings coerces a metadata value into a string slice. JSON
// round-trips turn []string into []any, so both shapes are accepted.
func metadataStrings(metadata map[string]any, key string) []string {
	if metadata == nil {
		return nil
	}
	switch value := metadata[key].(type) {
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
