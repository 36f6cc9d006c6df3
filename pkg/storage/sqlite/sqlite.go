// Package sqlite provides a SQLite-backed storage driver using sqlite-vec
// for vector similarity.
//
// vec0 virtual tables are keyed by integer rowids, so the nodes table acts
// as the mapping from string node IDs to rowids; embeddings live in a
// parallel vec0 table declared with a cosine distance metric.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
)

// Driver implements storage.Driver using SQLite with sqlite-vec.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the SQLite driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver creates a new SQLite storage driver backed by sqlite-vec.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if err := createSchema(db, c.Dimensions); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite storage driver initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Driver{db: db, logger: logger}, nil
}

func createSchema(db *sql.DB, dimensions uint) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			node_type TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_content_type ON nodes(content, node_type)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relationship_type TEXT NOT NULL,
			weight REAL NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			CHECK (source_id <> target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_name TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_nodes (
			session_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			added_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			source_identifier TEXT,
			metadata TEXT,
			processed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_processed ON chunks(processed)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS node_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		return fmt.Errorf("creating vec0 table: %w", err)
	}
	return nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func marshalMeta(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMeta(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

// CreateNode persists a node, including its embedding when present.
func (d *Driver) CreateNode(ctx context.Context, node *graph.Node) error {
	meta, err := marshalMeta(node.Metadata)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, content, node_type, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID, node.Content, string(node.Type), meta, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting node %s: %w", node.ID, err)
	}

	if len(node.Embedding) > 0 {
		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting rowid for node %s: %w", node.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_embeddings(rowid, embedding) VALUES (?, ?)`,
			rowID, serializeFloat32(node.Embedding),
		); err != nil {
			return fmt.Errorf("inserting embedding for node %s: %w", node.ID, err)
		}
	}

	return tx.Commit()
}

const nodeColumns = `n.id, n.content, n.node_type, n.metadata, n.created_at, n.updated_at, ne.embedding`

const nodeJoin = `FROM nodes n LEFT JOIN node_embeddings ne ON ne.rowid = n.rowid`

func scanNode(scanner interface{ Scan(...any) error }) (*graph.Node, error) {
	var node graph.Node
	var nodeType string
	var meta sql.NullString
	var embBlob []byte
	if err := scanner.Scan(&node.ID, &node.Content, &nodeType, &meta, &node.CreatedAt, &node.UpdatedAt, &embBlob); err != nil {
		return nil, err
	}
	node.Type = graph.NodeType(nodeType)
	node.Metadata = unmarshalMeta(meta)
	if len(embBlob) > 0 {
		emb, err := deserializeFloat32(embBlob)
		if err != nil {
			return nil, err
		}
		node.Embedding = emb
	}
	return &node, nil
}

// GetNode retrieves a node by ID.
func (d *Driver) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` `+nodeJoin+` WHERE n.id = ?`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying node %s: %w", id, err)
	}
	return node, nil
}

// UpdateNodeEmbedding attaches an embedding to an existing node.
// vec0 does not support UPDATE, so the row is replaced.
func (d *Driver) UpdateNodeEmbedding(ctx context.Context, id string, embedding []float32) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRowContext(ctx, `SELECT rowid FROM nodes WHERE id = ?`, id).Scan(&rowID)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up node %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM node_embeddings WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("deleting old embedding for node %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO node_embeddings(rowid, embedding) VALUES (?, ?)`,
		rowID, serializeFloat32(embedding)); err != nil {
		return fmt.Errorf("inserting embedding for node %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET updated_at = ? WHERE rowid = ?`,
		time.Now().UTC(), rowID); err != nil {
		return fmt.Errorf("touching node %s: %w", id, err)
	}

	return tx.Commit()
}

// DeleteNodes removes nodes, their embeddings, memberships, and touching
// relationships. Unknown IDs are skipped.
func (d *Driver) DeleteNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid FROM nodes WHERE id IN (%s)`, inClause), args...)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM node_embeddings WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}

	deletes := []string{
		`DELETE FROM relationships WHERE source_id IN (%s) OR target_id IN (%s)`,
		`DELETE FROM session_nodes WHERE node_id IN (%s)`,
		`DELETE FROM nodes WHERE id IN (%s)`,
	}
	relArgs := append(append([]any{}, args...), args...)
	for i, stmt := range deletes {
		query := stmt
		queryArgs := args
		if i == 0 {
			query = fmt.Sprintf(stmt, inClause, inClause)
			queryArgs = relArgs
		} else {
			query = fmt.Sprintf(stmt, inClause)
		}
		if _, err := tx.ExecContext(ctx, query, queryArgs...); err != nil {
			return fmt.Errorf("deleting nodes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("deleted nodes", zap.Int("count", len(ids)))
	return nil
}

// FindNodeByContentAndType is the deduplication lookup.
func (d *Driver) FindNodeByContentAndType(ctx context.Context, content string, nodeType graph.NodeType) (*graph.Node, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` `+nodeJoin+` WHERE n.content = ? AND n.node_type = ? LIMIT 1`,
		content, string(nodeType))
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	return node, nil
}

// SearchSimilar runs a KNN query via vec0 MATCH and joins back to nodes.
// Type filtering happens after the KNN pass, so the query over-fetches to
// avoid starving filtered results.
func (d *Driver) SearchSimilar(ctx context.Context, query storage.SimilarityQuery) ([]graph.ScoredNode, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	k := limit
	if len(query.NodeTypes) > 0 {
		k = limit * 4
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT
			n.id, n.content, n.node_type, n.metadata, n.created_at, n.updated_at,
			ne.embedding, ne.distance
		FROM node_embeddings ne
		INNER JOIN nodes n ON n.rowid = ne.rowid
		WHERE ne.embedding MATCH ?
			AND ne.k = ?
		ORDER BY ne.distance
	`, serializeFloat32(query.Embedding), k)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	typeFilter := make(map[graph.NodeType]struct{}, len(query.NodeTypes))
	for _, t := range query.NodeTypes {
		typeFilter[t] = struct{}{}
	}

	var results []graph.ScoredNode
	for rows.Next() {
		var node graph.Node
		var nodeType string
		var meta sql.NullString
		var embBlob []byte
		var distance float64
		if err := rows.Scan(&node.ID, &node.Content, &nodeType, &meta,
			&node.CreatedAt, &node.UpdatedAt, &embBlob, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		node.Type = graph.NodeType(nodeType)
		node.Metadata = unmarshalMeta(meta)
		if len(embBlob) > 0 {
			if emb, err := deserializeFloat32(embBlob); err == nil {
				node.Embedding = emb
			}
		}

		if len(typeFilter) > 0 {
			if _, ok := typeFilter[node.Type]; !ok {
				continue
			}
		}

		score := 1.0 - distance
		if score < query.MinScore {
			continue
		}
		results = append(results, graph.ScoredNode{Node: &node, Score: score})
		if len(results) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	d.logger.Debug("similarity search", zap.Int("results", len(results)))
	return results, nil
}

// CreateRelationship persists a directed weighted edge.
func (d *Driver) CreateRelationship(ctx context.Context, rel *graph.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	meta, err := marshalMeta(rel.Metadata)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO relationships (id, source_id, target_id, relationship_type, weight, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.SourceID, rel.TargetID, rel.Type, rel.Weight, meta, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting relationship %s: %w", rel.ID, err)
	}
	return nil
}

// Adjacency returns all relationships touching the node on either end.
func (d *Driver) Adjacency(ctx context.Context, nodeID string, relTypes []string) ([]*graph.Relationship, error) {
	query := `SELECT id, source_id, target_id, relationship_type, weight, metadata, created_at
		FROM relationships WHERE (source_id = ? OR target_id = ?)`
	args := []any{nodeID, nodeID}
	if len(relTypes) > 0 {
		placeholders := make([]string, len(relTypes))
		for i, t := range relTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(` AND relationship_type IN (%s)`, strings.Join(placeholders, ","))
	}
	query += ` ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying adjacency for %s: %w", nodeID, err)
	}
	defer rows.Close()

	var rels []*graph.Relationship
	for rows.Next() {
		var rel graph.Relationship
		var meta sql.NullString
		if err := rows.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &rel.Type,
			&rel.Weight, &meta, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		rel.Metadata = unmarshalMeta(meta)
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// CreateSession persists a session scope.
func (d *Driver) CreateSession(ctx context.Context, session *graph.Session) error {
	meta, err := marshalMeta(session.Metadata)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, session_name, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Name, meta, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (d *Driver) GetSession(ctx context.Context, id string) (*graph.Session, error) {
	var session graph.Session
	var name sql.NullString
	var meta sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, session_name, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &name, &meta, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	session.Name = name.String
	session.Metadata = unmarshalMeta(meta)
	return &session, nil
}

// AddNodeToSession records membership idempotently, creating the session
// row lazily.
func (d *Driver) AddNodeToSession(ctx context.Context, sessionID, nodeID string, addedAt time.Time) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
		sessionID, now, now); err != nil {
		return fmt.Errorf("ensuring session %s: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_nodes (session_id, node_id, added_at) VALUES (?, ?, ?)`,
		sessionID, nodeID, addedAt); err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}

	return tx.Commit()
}

// NodesInSession returns all nodes belonging to the session.
func (d *Driver) NodesInSession(ctx context.Context, sessionID string) ([]*graph.Node, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` `+nodeJoin+`
		 INNER JOIN session_nodes sn ON sn.node_id = n.id
		 WHERE sn.session_id = ?
		 ORDER BY sn.added_at, n.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying session nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// CreateChunks persists raw chunks.
func (d *Driver) CreateChunks(ctx context.Context, chunks []*graph.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, chunk := range chunks {
		meta, err := marshalMeta(chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, content, chunk_index, source_identifier, metadata, processed, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chunk.ID, chunk.Content, chunk.Index, chunk.Source, meta, chunk.Processed, chunk.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// UnprocessedChunks returns unprocessed chunks in creation order. A
// non-empty sessionID matches against the session_id metadata key.
func (d *Driver) UnprocessedChunks(ctx context.Context, sessionID string) ([]*graph.Chunk, error) {
	query := `SELECT id, content, chunk_index, source_identifier, metadata, processed, created_at
		FROM chunks WHERE processed = 0`
	args := []any{}
	if sessionID != "" {
		query += ` AND json_extract(metadata, '$.session_id') = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at, chunk_index`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*graph.Chunk
	for rows.Next() {
		var chunk graph.Chunk
		var source sql.NullString
		var meta sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Content, &chunk.Index, &source,
			&meta, &chunk.Processed, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunk.Source = source.String
		chunk.Metadata = unmarshalMeta(meta)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// MarkChunkProcessed flips the chunk's processed flag.
func (d *Driver) MarkChunkProcessed(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE chunks SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking chunk %s processed: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Ping verifies the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

var _ storage.Driver = (*Driver)(nil)
