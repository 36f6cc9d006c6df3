package sqlite_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/sqlite"
)

var _ = Describe("Driver", func() {
	var (
		driver *sqlite.Driver
		ctx    context.Context
	)

	newNode := func(id, content string, nodeType graph.NodeType, embedding []float32) *graph.Node {
		now := time.Now().UTC()
		return &graph.Node{
			ID: id, Content: content, Type: nodeType, Embedding: embedding,
			CreatedAt: now, UpdatedAt: now,
		}
	}

	BeforeEach(func() {
		var err error
		driver, err = sqlite.NewDriver(sqlite.Config{
			DBPath:     ":memory:",
			Dimensions: 4,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
	})

	Describe("NewDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlite.NewDriver(sqlite.Config{Dimensions: 4}, zap.NewNop())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlite.NewDriver(sqlite.Config{DBPath: ":memory:"}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Nodes", func() {
		It("should round-trip a node with its embedding", func() {
			node := newNode("n1", "Paris", graph.NodeTypeEntity, []float32{0.1, 0.2, 0.3, 0.4})
			node.Metadata = map[string]any{"lang": "fr"}
			Expect(driver.CreateNode(ctx, node)).To(Succeed())

			got, err := driver.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("Paris"))
			Expect(got.Embedding).To(HaveLen(4))
			Expect(got.Metadata).To(HaveKeyWithValue("lang", "fr"))
		})

		It("should return ErrNotFound for missing nodes", func() {
			_, err := driver.GetNode(ctx, "ghost")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("should attach an embedding after creation", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "text", graph.NodeTypeChunk, nil))).To(Succeed())
			Expect(driver.UpdateNodeEmbedding(ctx, "n1", []float32{1, 0, 0, 0})).To(Succeed())

			got, err := driver.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal([]float32{1, 0, 0, 0}))
		})

		It("should support the dedup lookup", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "Paris", graph.NodeTypeEntity, nil))).To(Succeed())

			got, err := driver.FindNodeByContentAndType(ctx, "Paris", graph.NodeTypeEntity)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("n1"))

			_, err = driver.FindNodeByContentAndType(ctx, "Paris", graph.NodeTypeChunk)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("SearchSimilar", func() {
		BeforeEach(func() {
			Expect(driver.CreateNode(ctx, newNode("x", "x", graph.NodeTypeChunk, []float32{1, 0, 0, 0}))).To(Succeed())
			Expect(driver.CreateNode(ctx, newNode("y", "y", graph.NodeTypeChunk, []float32{0, 1, 0, 0}))).To(Succeed())
			Expect(driver.CreateNode(ctx, newNode("near", "near x", graph.NodeTypeEntity, []float32{0.9, 0.1, 0, 0}))).To(Succeed())
		})

		It("should rank results by descending similarity", func() {
			results, err := driver.SearchSimilar(ctx, storage.SimilarityQuery{
				Embedding: []float32{1, 0, 0, 0},
				Limit:     3,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).NotTo(BeEmpty())
			Expect(results[0].Node.ID).To(Equal("x"))
			for i := 1; i < len(results); i++ {
				Expect(results[i].Score).To(BeNumerically("<=", results[i-1].Score))
			}
		})

		It("should filter by node type", func() {
			results, err := driver.SearchSimilar(ctx, storage.SimilarityQuery{
				Embedding: []float32{1, 0, 0, 0},
				Limit:     3,
				NodeTypes: []graph.NodeType{graph.NodeTypeEntity},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Node.ID).To(Equal("near"))
		})
	})

	Describe("Relationships", func() {
		It("should reject self-loops before reaching the database", func() {
			err := driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r1", SourceID: "a", TargetID: "a", Type: "loop", Weight: 0.3,
			})
			Expect(err).To(MatchError(graph.ErrSelfLoop))
		})

		It("should answer adjacency from either end with type filters", func() {
			Expect(driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r1", SourceID: "a", TargetID: "b", Type: "knows", Weight: 0.9, CreatedAt: time.Now().UTC(),
			})).To(Succeed())
			Expect(driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r2", SourceID: "c", TargetID: "a", Type: "likes", Weight: 0.5, CreatedAt: time.Now().UTC(),
			})).To(Succeed())

			all, err := driver.Adjacency(ctx, "a", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			likes, err := driver.Adjacency(ctx, "a", []string{"likes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(likes).To(HaveLen(1))
			Expect(likes[0].ID).To(Equal("r2"))
		})
	})

	Describe("Sessions", func() {
		It("should create the session lazily and dedupe membership", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "text", graph.NodeTypeChunk, nil))).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s1", "n1", time.Now().UTC())).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s1", "n1", time.Now().UTC())).To(Succeed())

			session, err := driver.GetSession(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.ID).To(Equal("s1"))

			nodes, err := driver.NodesInSession(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(1))
		})
	})

	Describe("Chunks", func() {
		It("should filter unprocessed chunks by session metadata", func() {
			now := time.Now().UTC()
			Expect(driver.CreateChunks(ctx, []*graph.Chunk{
				{ID: "c1", Content: "one", Index: 0, Metadata: map[string]any{"session_id": "s1"}, CreatedAt: now},
				{ID: "c2", Content: "two", Index: 1, Metadata: map[string]any{"session_id": "s2"}, CreatedAt: now},
				{ID: "c3", Content: "three", Index: 2, CreatedAt: now},
			})).To(Succeed())

			all, err := driver.UnprocessedChunks(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))

			scoped, err := driver.UnprocessedChunks(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(scoped).To(HaveLen(1))
			Expect(scoped[0].ID).To(Equal("c1"))

			Expect(driver.MarkChunkProcessed(ctx, "c1")).To(Succeed())
			scoped, err = driver.UnprocessedChunks(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(scoped).To(BeEmpty())
		})

		It("should report ErrNotFound when marking an unknown chunk", func() {
			Expect(driver.MarkChunkProcessed(ctx, "ghost")).To(MatchError(storage.ErrNotFound))
		})
	})
})
