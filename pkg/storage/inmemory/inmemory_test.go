package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		driver *inmemory.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		ctx = context.Background()
	})

	newNode := func(id, content string, nodeType graph.NodeType, embedding []float32) *graph.Node {
		return &graph.Node{
			ID:        id,
			Content:   content,
			Type:      nodeType,
			Embedding: embedding,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
	}

	Describe("Interface compliance", func() {
		It("should implement storage.Driver", func() {
			var _ storage.Driver = (*inmemory.Driver)(nil)
		})
	})

	Describe("Nodes", func() {
		It("should round-trip a node", func() {
			node := newNode("n1", "Paris", graph.NodeTypeEntity, nil)
			Expect(driver.CreateNode(ctx, node)).To(Succeed())

			got, err := driver.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("Paris"))
			Expect(got.Type).To(Equal(graph.NodeTypeEntity))
		})

		It("should return ErrNotFound for a missing node", func() {
			_, err := driver.GetNode(ctx, "missing")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("should attach an embedding to an existing node", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "text", graph.NodeTypeChunk, nil))).To(Succeed())
			Expect(driver.UpdateNodeEmbedding(ctx, "n1", []float32{1, 0, 0})).To(Succeed())

			got, err := driver.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal([]float32{1, 0, 0}))
		})

		It("should find a node by content and type for deduplication", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "Paris", graph.NodeTypeEntity, nil))).To(Succeed())

			got, err := driver.FindNodeByContentAndType(ctx, "Paris", graph.NodeTypeEntity)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("n1"))

			_, err = driver.FindNodeByContentAndType(ctx, "Paris", graph.NodeTypeSummary)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("should tolerate deleting unknown ids", func() {
			Expect(driver.DeleteNodes(ctx, []string{"ghost"})).To(Succeed())
		})

		It("should delete touching relationships with the node", func() {
			Expect(driver.CreateNode(ctx, newNode("a", "a", graph.NodeTypeEntity, nil))).To(Succeed())
			Expect(driver.CreateNode(ctx, newNode("b", "b", graph.NodeTypeEntity, nil))).To(Succeed())
			Expect(driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r1", SourceID: "a", TargetID: "b", Type: "related_to", Weight: 0.5,
			})).To(Succeed())

			Expect(driver.DeleteNodes(ctx, []string{"a"})).To(Succeed())

			rels, err := driver.Adjacency(ctx, "b", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(BeEmpty())
		})
	})

	Describe("SearchSimilar", func() {
		BeforeEach(func() {
			Expect(driver.CreateNode(ctx, newNode("x", "x axis", graph.NodeTypeChunk, []float32{1, 0, 0}))).To(Succeed())
			Expect(driver.CreateNode(ctx, newNode("y", "y axis", graph.NodeTypeChunk, []float32{0, 1, 0}))).To(Succeed())
			Expect(driver.CreateNode(ctx, newNode("xy", "diagonal", graph.NodeTypeEntity, []float32{1, 1, 0}))).To(Succeed())
			Expect(driver.CreateNode(ctx, newNode("bare", "no embedding", graph.NodeTypeEntity, nil))).To(Succeed())
		})

		It("should rank by descending cosine similarity", func() {
			results, err := driver.SearchSimilar(ctx, storage.SimilarityQuery{
				Embedding: []float32{1, 0, 0},
				Limit:     10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].Node.ID).To(Equal("x"))
			for i := 1; i < len(results); i++ {
				Expect(results[i].Score).To(BeNumerically("<=", results[i-1].Score))
			}
		})

		It("should honor the score floor", func() {
			results, err := driver.SearchSimilar(ctx, storage.SimilarityQuery{
				Embedding: []float32{1, 0, 0},
				Limit:     10,
				MinScore:  0.99,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Node.ID).To(Equal("x"))
		})

		It("should filter by node type", func() {
			results, err := driver.SearchSimilar(ctx, storage.SimilarityQuery{
				Embedding: []float32{1, 0, 0},
				Limit:     10,
				NodeTypes: []graph.NodeType{graph.NodeTypeEntity},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Node.ID).To(Equal("xy"))
		})

		It("should honor the limit", func() {
			results, err := driver.SearchSimilar(ctx, storage.SimilarityQuery{
				Embedding: []float32{1, 1, 0},
				Limit:     1,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})
	})

	Describe("Relationships", func() {
		It("should reject self-loops", func() {
			err := driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r1", SourceID: "a", TargetID: "a", Type: "loop", Weight: 0.5,
			})
			Expect(err).To(MatchError(graph.ErrSelfLoop))
		})

		It("should answer adjacency from either end", func() {
			Expect(driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r1", SourceID: "a", TargetID: "b", Type: "knows", Weight: 0.9,
			})).To(Succeed())

			fromSource, err := driver.Adjacency(ctx, "a", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(fromSource).To(HaveLen(1))

			fromTarget, err := driver.Adjacency(ctx, "b", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(fromTarget).To(HaveLen(1))
		})

		It("should filter adjacency by relationship type", func() {
			Expect(driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r1", SourceID: "a", TargetID: "b", Type: "knows", Weight: 0.9,
			})).To(Succeed())
			Expect(driver.CreateRelationship(ctx, &graph.Relationship{
				ID: "r2", SourceID: "a", TargetID: "c", Type: "likes", Weight: 0.4,
			})).To(Succeed())

			rels, err := driver.Adjacency(ctx, "a", []string{"likes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(HaveLen(1))
			Expect(rels[0].Type).To(Equal("likes"))
		})
	})

	Describe("Sessions", func() {
		It("should create the session lazily on membership insert", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "text", graph.NodeTypeChunk, nil))).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s1", "n1", time.Now())).To(Succeed())

			session, err := driver.GetSession(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.ID).To(Equal("s1"))
		})

		It("should treat duplicate membership inserts as no-ops", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "text", graph.NodeTypeChunk, nil))).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s1", "n1", time.Now())).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s1", "n1", time.Now())).To(Succeed())

			nodes, err := driver.NodesInSession(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(1))
		})

		It("should allow a node in many sessions", func() {
			Expect(driver.CreateNode(ctx, newNode("n1", "text", graph.NodeTypeChunk, nil))).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s1", "n1", time.Now())).To(Succeed())
			Expect(driver.AddNodeToSession(ctx, "s2", "n1", time.Now())).To(Succeed())

			for _, sessionID := range []string{"s1", "s2"} {
				nodes, err := driver.NodesInSession(ctx, sessionID)
				Expect(err).NotTo(HaveOccurred())
				Expect(nodes).To(HaveLen(1))
			}
		})
	})

	Describe("Chunks", func() {
		newChunk := func(id, content, sessionID string) *graph.Chunk {
			chunk := &graph.Chunk{ID: id, Content: content, CreatedAt: time.Now().UTC()}
			if sessionID != "" {
				chunk.Metadata = map[string]any{"session_id": sessionID}
			}
			return chunk
		}

		It("should list unprocessed chunks in creation order", func() {
			Expect(driver.CreateChunks(ctx, []*graph.Chunk{
				newChunk("c1", "one", ""),
				newChunk("c2", "two", ""),
			})).To(Succeed())

			chunks, err := driver.UnprocessedChunks(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[0].ID).To(Equal("c1"))
			Expect(chunks[1].ID).To(Equal("c2"))
		})

		It("should filter unprocessed chunks by session", func() {
			Expect(driver.CreateChunks(ctx, []*graph.Chunk{
				newChunk("c1", "one", "s1"),
				newChunk("c2", "two", "s2"),
			})).To(Succeed())

			chunks, err := driver.UnprocessedChunks(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].ID).To(Equal("c1"))
		})

		It("should exclude processed chunks", func() {
			Expect(driver.CreateChunks(ctx, []*graph.Chunk{newChunk("c1", "one", "")})).To(Succeed())
			Expect(driver.MarkChunkProcessed(ctx, "c1")).To(Succeed())

			chunks, err := driver.UnprocessedChunks(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(BeEmpty())
		})
	})
})
