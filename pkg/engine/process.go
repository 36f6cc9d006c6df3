package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
)

// processBatch is the transform pipeline shared by ProcessAll,
// ForceProcessing, and scheduler-fired background batches. Provider failures
// (extraction, per-chunk embedding trouble short of a dimension mismatch)
// degrade per chunk; store failures and dimension mismatches abort the batch.
func (e *Engine) processBatch(ctx context.Context, opts ProcessOptions, trigger string) (*ProcessResult, error) {
	started := time.Now().UTC()

	chunks, err := e.store.UnprocessedChunks(ctx, opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("fetching unprocessed chunks: %w", err)
	}
	if len(chunks) == 0 {
		return &ProcessResult{}, nil
	}

	result := &ProcessResult{}
	sessions := make(map[string]struct{})
	for _, chunk := range chunks {
		processed, err := e.processChunk(ctx, chunk, result)
		if err != nil {
			e.publishBatchEvent(opts, trigger, started, result, err)
			return nil, fmt.Errorf("processing chunk %s: %w", chunk.ID, err)
		}
		if !processed {
			continue
		}
		result.ChunksProcessed++
		if sessionID := chunkSession(chunk); sessionID != "" {
			sessions[sessionID] = struct{}{}
		}
	}

	for sessionID := range sessions {
		if err := e.linkSimilarNodes(ctx, sessionID, result); err != nil {
			e.publishBatchEvent(opts, trigger, started, result, err)
			return nil, fmt.Errorf("similarity pass for session %s: %w", sessionID, err)
		}
	}

	e.logger.Info("batch processed",
		zap.String("trigger", trigger),
		zap.Int("chunks", result.ChunksProcessed),
		zap.Int("nodes", result.NodesCreated),
		zap.Int("relationships", result.RelationshipsCreated),
	)
	e.publishBatchEvent(opts, trigger, started, result, nil)
	return result, nil
}

func chunkSession(chunk *graph.Chunk) string {
	if chunk.Metadata == nil {
		return ""
	}
	sessionID, _ := chunk.Metadata[graph.MetaSessionID].(string)
	return sessionID
}

// processChunk turns one raw chunk into graph material: a chunk node,
// deduplicated entity nodes with contains edges, extracted relationships,
// and a summary node. Returns false when the chunk was skipped and remains
// unprocessed.
func (e *Engine) processChunk(ctx context.Context, chunk *graph.Chunk, result *ProcessResult) (bool, error) {
	sessionID := chunkSession(chunk)
	now := time.Now().UTC()

	embedding, err := e.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		// Provider trouble for one chunk is local; the chunk stays
		// unprocessed and will be retried by a later batch.
		e.logger.Warn("embedding failed; skipping chunk",
			zap.String("chunk_id", chunk.ID), zap.Error(err))
		return false, nil
	}
	if err := e.checkDimensions(embedding); err != nil {
		return false, err
	}

	chunkNode := &graph.Node{
		ID:        uuid.NewString(),
		Content:   chunk.Content,
		Embedding: embedding,
		Type:      graph.NodeTypeChunk,
		Metadata:  chunk.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateNode(ctx, chunkNode); err != nil {
		return false, fmt.Errorf("creating chunk node: %w", err)
	}
	result.NodesCreated++
	if err := e.addToSession(ctx, sessionID, chunkNode.ID, now); err != nil {
		return false, err
	}

	entities, entityIDs, err := e.extractEntities(ctx, chunk, chunkNode, sessionID, result)
	if err != nil {
		return false, err
	}
	if err := e.extractRelations(ctx, chunk, entities, entityIDs, result); err != nil {
		return false, err
	}
	if err := e.attachSummary(ctx, chunk, chunkNode, sessionID, result); err != nil {
		return false, err
	}

	if err := e.store.MarkChunkProcessed(ctx, chunk.ID); err != nil {
		return false, fmt.Errorf("marking chunk processed: %w", err)
	}
	return true, nil
}

// extractEntities runs entity extraction with dedup-on-write: each entity is
// looked up by (content, type) before insert and reused when found, but the
// contains edge from the chunk node is created either way. Returns the
// extracted entities plus the name → node-id resolution map for the
// relationship pass.
func (e *Engine) extractEntities(ctx context.Context, chunk *graph.Chunk, chunkNode *graph.Node, sessionID string, result *ProcessResult) ([]extract.Entity, map[string]string, error) {
	entities, err := e.extractor.Entities(ctx, chunk.Content)
	if err != nil {
		e.logger.Warn("entity extraction failed; treating as empty",
			zap.String("chunk_id", chunk.ID), zap.Error(err))
		entities = nil
	}

	entityIDs := make(map[string]string, len(entities))
	now := time.Now().UTC()
	for _, entity := range entities {
		name := strings.TrimSpace(entity.Name)
		if name == "" {
			continue
		}
		nodeType := entityNodeType(entity.Type)

		node, err := e.store.FindNodeByContentAndType(ctx, name, nodeType)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			embedding, embErr := e.embedder.Embed(ctx, name)
			if embErr != nil {
				e.logger.Warn("entity embedding failed; storing without vector",
					zap.String("entity", name), zap.Error(embErr))
				embedding = nil
			} else if dimErr := e.checkDimensions(embedding); dimErr != nil {
				return nil, nil, dimErr
			}

			node = &graph.Node{
				ID:        uuid.NewString(),
				Content:   name,
				Embedding: embedding,
				Type:      nodeType,
				Metadata:  map[string]any{"entity_type": entity.Type},
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.store.CreateNode(ctx, node); err != nil {
				return nil, nil, fmt.Errorf("creating entity node: %w", err)
			}
			result.NodesCreated++
		case err != nil:
			return nil, nil, fmt.Errorf("dedup lookup for %q: %w", name, err)
		}

		entityIDs[name] = node.ID

		rel := &graph.Relationship{
			ID:        uuid.NewString(),
			SourceID:  chunkNode.ID,
			TargetID:  node.ID,
			Type:      graph.RelContains,
			Weight:    1,
			CreatedAt: now,
		}
		if err := e.store.CreateRelationship(ctx, rel); err != nil {
			return nil, nil, fmt.Errorf("linking chunk to entity %q: %w", name, err)
		}
		result.RelationshipsCreated++

		if err := e.addToSession(ctx, sessionID, node.ID, now); err != nil {
			return nil, nil, err
		}
	}
	return entities, entityIDs, nil
}

// extractRelations creates edges between the chunk's resolved entity nodes.
// Pairs that cannot be resolved back to created nodes are skipped.
func (e *Engine) extractRelations(ctx context.Context, chunk *graph.Chunk, entities []extract.Entity, entityIDs map[string]string, result *ProcessResult) error {
	if len(entityIDs) < 2 {
		return nil
	}

	relations, err := e.extractor.Relations(ctx, chunk.Content, entities)
	if err != nil {
		e.logger.Warn("relationship extraction failed; treating as empty",
			zap.String("chunk_id", chunk.ID), zap.Error(err))
		return nil
	}

	now := time.Now().UTC()
	for _, relation := range relations {
		sourceID, okSource := entityIDs[relation.Source]
		targetID, okTarget := entityIDs[relation.Target]
		if !okSource || !okTarget || sourceID == targetID {
			continue
		}

		rel := &graph.Relationship{
			ID:        uuid.NewString(),
			SourceID:  sourceID,
			TargetID:  targetID,
			Type:      relation.Type,
			Weight:    graph.ClampWeight(relation.Weight),
			CreatedAt: now,
		}
		if err := e.store.CreateRelationship(ctx, rel); err != nil {
			return fmt.Errorf("creating extracted relationship: %w", err)
		}
		result.RelationshipsCreated++
	}
	return nil
}

// attachSummary creates a summary node for the chunk and links it via a
// summarizes edge. The summary records the chunk node as its source so
// summary retrieval can expand back into the graph.
func (e *Engine) attachSummary(ctx context.Context, chunk *graph.Chunk, chunkNode *graph.Node, sessionID string, result *ProcessResult) error {
	summary, err := e.extractor.Summarize(ctx, []string{chunk.Content})
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			e.logger.Warn("summarization failed; skipping summary node",
				zap.String("chunk_id", chunk.ID), zap.Error(err))
		}
		return nil
	}

	embedding, err := e.embedder.Embed(ctx, summary)
	if err != nil {
		e.logger.Warn("summary embedding failed; storing without vector",
			zap.String("chunk_id", chunk.ID), zap.Error(err))
		embedding = nil
	} else if dimErr := e.checkDimensions(embedding); dimErr != nil {
		return dimErr
	}

	now := time.Now().UTC()
	node := &graph.Node{
		ID:        uuid.NewString(),
		Content:   summary,
		Embedding: embedding,
		Type:      graph.NodeTypeSummary,
		Metadata:  map[string]any{graph.MetaSourceNodeIDs: []string{chunkNode.ID}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateNode(ctx, node); err != nil {
		return fmt.Errorf("creating summary node: %w", err)
	}
	result.NodesCreated++

	rel := &graph.Relationship{
		ID:        uuid.NewString(),
		SourceID:  node.ID,
		TargetID:  chunkNode.ID,
		Type:      "summarizes",
		Weight:    1,
		CreatedAt: now,
	}
	if err := e.store.CreateRelationship(ctx, rel); err != nil {
		return fmt.Errorf("linking summary to chunk: %w", err)
	}
	result.RelationshipsCreated++

	return e.addToSession(ctx, sessionID, node.ID, now)
}

// linkSimilarNodes is the post-processing pass: pairwise cosine similarity
// over a session's embedded nodes, creating similar_to edges above the
// threshold. O(n²), bounded by session size. Pairs already linked are
// skipped so repeated batches stay idempotent.
func (e *Engine) linkSimilarNodes(ctx context.Context, sessionID string, result *ProcessResult) error {
	nodes, err := e.store.NodesInSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session nodes: %w", err)
	}

	embedded := nodes[:0]
	for _, node := range nodes {
		if len(node.Embedding) > 0 {
			embedded = append(embedded, node)
		}
	}

	linked := make(map[string]struct{})
	for _, node := range embedded {
		rels, err := e.store.Adjacency(ctx, node.ID, []string{graph.RelSimilarTo})
		if err != nil {
			return fmt.Errorf("loading existing similarity edges: %w", err)
		}
		for _, rel := range rels {
			linked[pairKey(rel.SourceID, rel.TargetID)] = struct{}{}
		}
	}

	now := time.Now().UTC()
	for i := 0; i < len(embedded); i++ {
		for j := i + 1; j < len(embedded); j++ {
			a, b := embedded[i], embedded[j]
			if _, done := linked[pairKey(a.ID, b.ID)]; done {
				continue
			}

			similarity := graph.CosineSimilarity(a.Embedding, b.Embedding)
			if similarity < similarityThreshold {
				continue
			}

			rel := &graph.Relationship{
				ID:        uuid.NewString(),
				SourceID:  a.ID,
				TargetID:  b.ID,
				Type:      graph.RelSimilarTo,
				Weight:    graph.ClampWeight(similarity),
				CreatedAt: now,
			}
			if err := e.store.CreateRelationship(ctx, rel); err != nil {
				return fmt.Errorf("creating similarity edge: %w", err)
			}
			linked[pairKey(a.ID, b.ID)] = struct{}{}
			result.RelationshipsCreated++
		}
	}
	return nil
}

// pairKey builds an order-independent key for an undirected node pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func (e *Engine) addToSession(ctx context.Context, sessionID, nodeID string, addedAt time.Time) error {
	if sessionID == "" {
		return nil
	}
	if err := e.store.AddNodeToSession(ctx, sessionID, nodeID, addedAt); err != nil {
		return fmt.Errorf("adding node to session %s: %w", sessionID, err)
	}
	return nil
}

// publishBatchEvent emits the batch outcome to the event stream. Publishing
// is best-effort; a failing publisher is logged, never surfaced.
func (e *Engine) publishBatchEvent(opts ProcessOptions, trigger string, started time.Time, result *ProcessResult, batchErr error) {
	completed := time.Now().UTC()
	event := &eventstream.BatchProcessedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeBatchProcessed,
		EventID:       uuid.NewString(),
		EmittedAt:     completed,
		Source: eventstream.EventSource{
			Project:   e.config.Project,
			SessionID: opts.SessionID,
		},
		Batch: eventstream.BatchMeta{
			ChunksProcessed:      result.ChunksProcessed,
			NodesCreated:         result.NodesCreated,
			RelationshipsCreated: result.RelationshipsCreated,
			StartedAt:            started,
			CompletedAt:          completed,
			DurationMs:           completed.Sub(started).Milliseconds(),
			Triggered:            trigger,
		},
	}
	if batchErr != nil {
		event.Error = batchErr.Error()
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.events.PublishBatch(publishCtx, event); err != nil {
		e.logger.Warn("publishing batch event failed", zap.Error(err))
	}
}

func entityNodeType(entityType string) graph.NodeType {
	if strings.EqualFold(entityType, "concept") {
		return graph.NodeTypeConcept
	}
	return graph.NodeTypeEntity
}
