// Package engine orchestrates the memory pipeline: ingestion, batched
// extraction and embedding, graph maintenance, and the query surface.
//
// Ingestion (Add) is cheap — it only chunks and persists raw text. The
// expensive transform (ProcessAll) runs later, either explicitly or through
// the per-engine debounce scheduler, turning unprocessed chunks into an
// embedded, deduplicated graph of chunk, entity, and summary nodes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/chunker"
	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/traverse"
)

const (
	// similarityThreshold is the minimum cosine similarity for the
	// post-processing pass to link two session nodes with a similar_to
	// edge.
	similarityThreshold = 0.8

	// DefaultDebounceInterval is how long the scheduler waits after the
	// last Add before processing pending chunks.
	DefaultDebounceInterval = 5 * time.Second

	// DefaultBatchSize is the unprocessed-chunk count that triggers
	// immediate processing without waiting for the debounce.
	DefaultBatchSize = 20
)

// Config holds engine settings.
type Config struct {
	// Dimensions is the expected embedding vector length. The provider's
	// actual output length is validated against this once, on first use.
	Dimensions int

	// AutoProcess enables the debounce scheduler: each Add schedules a
	// background batch.
	AutoProcess bool

	// DebounceInterval is the quiet period before a scheduled batch runs.
	DebounceInterval time.Duration

	// BatchSize triggers immediate background processing when that many
	// unprocessed chunks have accumulated.
	BatchSize int

	// Project tags emitted events with an owning project name.
	Project string
}

func (c *Config) applyDefaults() {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Params collects the engine's dependencies. Store, Embedder, and Extractor
// are required; the rest default to sensible implementations.
type Params struct {
	Store     storage.Driver
	Embedder  embeddings.Embedder
	Extractor extract.Extractor

	// Chunker splits ingested text. Defaults to the fixed-window strategy.
	Chunker chunker.Strategy

	// Events receives batch lifecycle events. Defaults to the no-op
	// publisher.
	Events eventstream.Publisher

	// Timers creates debounce timers. Defaults to real wall-clock timers;
	// tests inject a manual factory.
	Timers TimerFactory

	Logger *zap.Logger
}

// Engine is the orchestrator and public surface of the memory store.
type Engine struct {
	store     storage.Driver
	embedder  embeddings.Embedder
	extractor extract.Extractor
	chunks    chunker.Strategy
	retriever *retrieval.Retriever
	trav      *traverse.Traverser
	events    eventstream.Publisher
	logger    *zap.Logger
	config    Config

	dimOnce sync.Once
	dimErr  error

	sched *scheduler
	bg    sync.WaitGroup
}

// New creates an Engine.
func New(params Params, config Config) (*Engine, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("storage driver is required")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if params.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if params.Chunker == nil {
		params.Chunker = chunker.NewFixed(chunker.Config{})
	}
	if params.Events == nil {
		params.Events = nop.NewPublisher()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	config.applyDefaults()

	e := &Engine{
		store:     params.Store,
		embedder:  params.Embedder,
		extractor: params.Extractor,
		chunks:    params.Chunker,
		retriever: retrieval.New(params.Store, params.Embedder, params.Logger),
		trav:      traverse.New(params.Store, params.Logger),
		events:    params.Events,
		logger:    params.Logger,
		config:    config,
	}
	e.sched = newScheduler(config.DebounceInterval, params.Timers, e.processInBackground)
	return e, nil
}

// AddOptions parameterizes ingestion.
type AddOptions struct {
	// SessionID scopes the ingested chunks to a session.
	SessionID string

	// Source identifies where the text came from.
	Source string

	// Metadata is stamped onto every created chunk.
	Metadata map[string]any
}

// Add chunks the text and persists the chunks unprocessed, returning their
// ids. No embedding or extraction happens here; when auto-processing is
// enabled a background batch is scheduled (or triggered immediately once
// enough chunks have accumulated).
func (e *Engine) Add(ctx context.Context, text string, opts AddOptions) ([]string, error) {
	pieces := e.chunks.Chunk(text)
	if len(pieces) == 0 {
		return []string{}, nil
	}

	now := time.Now().UTC()
	chunks := make([]*graph.Chunk, 0, len(pieces))
	ids := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		metadata := make(map[string]any, len(opts.Metadata)+1)
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
		if opts.SessionID != "" {
			metadata[graph.MetaSessionID] = opts.SessionID
		}
		if len(metadata) == 0 {
			metadata = nil
		}

		chunk := &graph.Chunk{
			ID:        uuid.NewString(),
			Content:   piece,
			Index:     i,
			Source:    opts.Source,
			Metadata:  metadata,
			CreatedAt: now,
		}
		chunks = append(chunks, chunk)
		ids = append(ids, chunk.ID)
	}

	if err := e.store.CreateChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("persisting chunks: %w", err)
	}
	e.logger.Debug("added chunks",
		zap.Int("count", len(chunks)),
		zap.String("session_id", opts.SessionID),
	)

	if e.config.AutoProcess {
		e.maybeSchedule(ctx, opts.SessionID)
	}
	return ids, nil
}

// maybeSchedule arms the debounce timer, or fires immediately when the
// unprocessed backlog has reached the batch size.
func (e *Engine) maybeSchedule(ctx context.Context, sessionID string) {
	pending, err := e.store.UnprocessedChunks(ctx, sessionID)
	if err != nil {
		e.logger.Warn("could not count unprocessed chunks; falling back to debounce", zap.Error(err))
		e.sched.Schedule()
		return
	}
	if len(pending) >= e.config.BatchSize {
		e.sched.Cancel()
		e.processInBackground()
		return
	}
	e.sched.Schedule()
}

// processInBackground runs a batch in a goroutine. Failures are logged and
// published, never propagated to the caller that triggered the schedule.
func (e *Engine) processInBackground() {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if _, err := e.processBatch(context.Background(), ProcessOptions{}, "debounce"); err != nil {
			e.logger.Error("background batch failed", zap.Error(err))
		}
	}()
}

// ProcessOptions parameterizes a processing batch.
type ProcessOptions struct {
	// SessionID restricts the batch to chunks stamped with this session.
	SessionID string
}

// ProcessResult summarizes a completed batch.
type ProcessResult struct {
	ChunksProcessed      int `json:"chunks_processed"`
	NodesCreated         int `json:"nodes_created"`
	RelationshipsCreated int `json:"relationships_created"`
}

// ProcessAll runs the transform pipeline over every unprocessed chunk in
// scope: embed, create the chunk node, extract entities with dedup-on-write,
// extract relationships, attach a summary, mark processed. Afterwards a
// per-session pass links embedded nodes above the similarity threshold with
// similar_to edges.
func (e *Engine) ProcessAll(ctx context.Context, opts ProcessOptions) (*ProcessResult, error) {
	return e.processBatch(ctx, opts, "manual")
}

// ForceProcessing cancels any pending debounce and processes all unprocessed
// chunks synchronously, for callers that need completion before reading
// results.
func (e *Engine) ForceProcessing(ctx context.Context) (*ProcessResult, error) {
	e.sched.Cancel()
	return e.processBatch(ctx, ProcessOptions{}, "force")
}

// Search runs the given retrieval strategy. Strategy failures degrade to an
// empty result list.
func (e *Engine) Search(ctx context.Context, strategy retrieval.Strategy, query retrieval.Query) []retrieval.Result {
	return e.retriever.Search(ctx, strategy, query)
}

// SearchGraph runs graph retrieval and flattens the hits into one formatted
// context string plus the source nodes, ready for prompt assembly.
func (e *Engine) SearchGraph(ctx context.Context, query retrieval.Query) (string, []*graph.Node) {
	return flattenResults(e.retriever.Search(ctx, retrieval.StrategyGraph, query))
}

// SearchHybrid runs hybrid retrieval and flattens the hits like SearchGraph.
func (e *Engine) SearchHybrid(ctx context.Context, query retrieval.Query) (string, []*graph.Node) {
	return flattenResults(e.retriever.Search(ctx, retrieval.StrategyHybrid, query))
}

func flattenResults(results []retrieval.Result) (string, []*graph.Node) {
	var sections []string
	sources := make([]*graph.Node, 0, len(results))
	for _, result := range results {
		sources = append(sources, result.Node)
		if result.Context != "" {
			sections = append(sections, result.Context)
		} else {
			sections = append(sections, result.Node.Content)
		}
	}
	return strings.Join(sections, "\n\n"), sources
}

// FindPaths searches for relationship paths between two nodes.
func (e *Engine) FindPaths(ctx context.Context, startID, endID string, maxDepth int, filters traverse.Filters) ([]*graph.Path, error) {
	return e.trav.FindPaths(ctx, startID, endID, maxDepth, filters)
}

// Neighborhood expands a node's surroundings to the given depth.
func (e *Engine) Neighborhood(ctx context.Context, nodeID string, maxDepth int, filters traverse.Filters) (*graph.Subgraph, error) {
	return e.trav.Neighborhood(ctx, nodeID, maxDepth, filters)
}

// Clusters finds connected components of at least minSize among a session's
// nodes.
func (e *Engine) Clusters(ctx context.Context, sessionID string, minSize int, filters traverse.Filters) ([][]*graph.Node, error) {
	return e.trav.Clusters(ctx, sessionID, minSize, filters)
}

// GetNode retrieves a node by id.
func (e *Engine) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	return e.store.GetNode(ctx, id)
}

// DeleteNodes removes nodes and their relationships. Unknown ids are not an
// error.
func (e *Engine) DeleteNodes(ctx context.Context, ids []string) error {
	return e.store.DeleteNodes(ctx, ids)
}

// CreateSession creates a session scope.
func (e *Engine) CreateSession(ctx context.Context, name string, metadata map[string]any) (*graph.Session, error) {
	now := time.Now().UTC()
	session := &graph.Session{
		ID:        uuid.NewString(),
		Name:      name,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by id.
func (e *Engine) GetSession(ctx context.Context, id string) (*graph.Session, error) {
	return e.store.GetSession(ctx, id)
}

// HealthCheck verifies the storage backend is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Close stops the scheduler, waits for in-flight background batches, and
// releases all held resources.
func (e *Engine) Close() error {
	e.sched.Stop()
	e.bg.Wait()
	return errors.Join(
		e.events.Close(),
		e.extractor.Close(),
		e.embedder.Close(),
		e.store.Close(),
	)
}

// checkDimensions validates the provider's vector length against the
// configured dimension exactly once per engine lifetime. A mismatch is
// sticky: every subsequent embedding use fails with the same error.
func (e *Engine) checkDimensions(vec []float32) error {
	e.dimOnce.Do(func() {
		if e.config.Dimensions > 0 && len(vec) != e.config.Dimensions {
			e.dimErr = fmt.Errorf("%w: provider returned %d dimensions, configured %d",
				ErrDimensionMismatch, len(vec), e.config.Dimensions)
		}
	})
	return e.dimErr
}
