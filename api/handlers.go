package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/traverse"
)

// AddMemoryRequest is the body for POST /v1/memory.
type AddMemoryRequest struct {
	Text      string         `json:"text"`
	SessionID string         `json:"session_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AddMemoryResponse reports the chunks created by an ingest.
type AddMemoryResponse struct {
	ChunkIDs []string `json:"chunk_ids"`
	Count    int      `json:"count"`
}

// ProcessRequest is the body for POST /v1/process.
type ProcessRequest struct {
	SessionID string `json:"session_id,omitempty"`

	// Force flushes any pending debounce and processes synchronously.
	Force bool `json:"force,omitempty"`
}

// SearchResponse wraps retrieval hits for GET /v1/search.
type SearchResponse struct {
	Strategy string             `json:"strategy"`
	Results  []retrieval.Result `json:"results"`
	Count    int                `json:"count"`
}

// CreateSessionRequest is the body for POST /v1/sessions.
type CreateSessionRequest struct {
	Name     string         `json:"session_name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	if err := s.engine.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "storage unavailable"})
	}
	return c.JSON("pong")
}

// handleAddMemory ingests text as unprocessed chunks.
func (s *Server) handleAddMemory(c *fiber.Ctx) error {
	var req AddMemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "text is required"})
	}

	ids, err := s.engine.Add(c.Context(), req.Text, engine.AddOptions{
		SessionID: req.SessionID,
		Source:    req.Source,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.logger.Error("add memory failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to add memory"})
	}

	return c.Status(fiber.StatusCreated).JSON(AddMemoryResponse{ChunkIDs: ids, Count: len(ids)})
}

// handleProcess runs the extraction pipeline over unprocessed chunks.
func (s *Server) handleProcess(c *fiber.Ctx) error {
	var req ProcessRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	var (
		result *engine.ProcessResult
		err    error
	)
	if req.Force {
		result, err = s.engine.ForceProcessing(c.Context())
	} else {
		result, err = s.engine.ProcessAll(c.Context(), engine.ProcessOptions{SessionID: req.SessionID})
	}
	if err != nil {
		s.logger.Error("processing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(result)
}

// handleSearch runs a retrieval strategy over the graph.
// Query parameters:
//   - query (required): the search query text
//   - strategy (optional, default vector): vector, graph, completion, summary, or hybrid
//   - session_id (optional): scope results to a session
//   - node_types (optional): comma-separated node type filter
//   - limit (optional): maximum result count
//   - min_score (optional): minimum similarity score for vector candidates
func (s *Server) handleSearch(c *fiber.Ctx) error {
	text := c.Query("query")
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query parameter is required"})
	}

	query := retrieval.Query{
		Text:      text,
		SessionID: c.Query("session_id"),
		NodeTypes: parseNodeTypes(c.Query("node_types")),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		query.Limit = limit
	}
	if scoreStr := c.Query("min_score"); scoreStr != "" {
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "min_score must be a number"})
		}
		query.MinScore = score
	}

	strategy := retrieval.ParseStrategy(c.Query("strategy"))
	results := s.engine.Search(c.Context(), strategy, query)

	return c.JSON(SearchResponse{
		Strategy: string(strategy),
		Results:  results,
		Count:    len(results),
	})
}

// handleFindPaths finds weighted paths between two nodes.
// Query parameters:
//   - start (required), end (required): endpoint node ids
//   - max_depth (optional, default 3)
//   - relationship_types, node_types (optional): comma-separated filters
func (s *Server) handleFindPaths(c *fiber.Ctx) error {
	startID := c.Query("start")
	endID := c.Query("end")
	if startID == "" || endID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "start and end parameters are required"})
	}

	maxDepth, ok := parseDepth(c.Query("max_depth"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "max_depth must be a positive integer"})
	}

	paths, err := s.engine.FindPaths(c.Context(), startID, endID, maxDepth, traverseFilters(c))
	if err != nil {
		s.logger.Error("path search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "path search failed"})
	}

	return c.JSON(map[string]any{
		"paths": paths,
		"count": len(paths),
	})
}

// handleNeighborhood expands the subgraph around a node.
func (s *Server) handleNeighborhood(c *fiber.Ctx) error {
	nodeID := c.Params("id")

	maxDepth, ok := parseDepth(c.Query("depth"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "depth must be a positive integer"})
	}

	sub, err := s.engine.Neighborhood(c.Context(), nodeID, maxDepth, traverseFilters(c))
	if err != nil {
		s.logger.Error("neighborhood expansion failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "neighborhood expansion failed"})
	}

	return c.JSON(sub)
}

// handleClusters returns connected components within a session.
// Query parameters:
//   - session_id (required)
//   - min_size (optional, default 2): smallest component to report
func (s *Server) handleClusters(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "session_id parameter is required"})
	}

	minSize := 2
	if minStr := c.Query("min_size"); minStr != "" {
		parsed, err := strconv.Atoi(minStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "min_size must be a positive integer"})
		}
		minSize = parsed
	}

	clusters, err := s.engine.Clusters(c.Context(), sessionID, minSize, traverseFilters(c))
	if err != nil {
		s.logger.Error("cluster detection failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "cluster detection failed"})
	}

	return c.JSON(map[string]any{
		"clusters": clusters,
		"count":    len(clusters),
	})
}

// handleGetNode returns a single node by its id.
func (s *Server) handleGetNode(c *fiber.Ctx) error {
	node, err := s.engine.GetNode(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "node not found"})
		}
		s.logger.Error("node lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "node lookup failed"})
	}
	return c.JSON(node)
}

// handleDeleteNode removes a node and its relationships.
func (s *Server) handleDeleteNode(c *fiber.Ctx) error {
	if err := s.engine.DeleteNodes(c.Context(), []string{c.Params("id")}); err != nil {
		s.logger.Error("node deletion failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "node deletion failed"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleCreateSession creates a named session.
func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	session, err := s.engine.CreateSession(c.Context(), req.Name, req.Metadata)
	if err != nil {
		s.logger.Error("session creation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "session creation failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

// handleGetSession returns a session by its id.
func (s *Server) handleGetSession(c *fiber.Ctx) error {
	session, err := s.engine.GetSession(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "session not found"})
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "session lookup failed"})
	}
	return c.JSON(session)
}

// parseDepth parses an optional positive depth parameter. Empty means
// "use the traverser's default".
func parseDepth(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func parseNodeTypes(raw string) []graph.NodeType {
	if raw == "" {
		return nil
	}
	var types []graph.NodeType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, graph.NodeType(part))
		}
	}
	return types
}

func parseStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func traverseFilters(c *fiber.Ctx) traverse.Filters {
	return traverse.Filters{
		RelationshipTypes: parseStrings(c.Query("relationship_types")),
		NodeTypes:         parseNodeTypes(c.Query("node_types")),
	}
}
