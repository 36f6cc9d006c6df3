package engine_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/traverse"
)

// testEmbedder returns canned vectors keyed by exact text, with a shared
// default so similarity between unrelated texts is total.
type testEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dims    int
}

func newTestEmbedder(dims int) *testEmbedder {
	return &testEmbedder{vectors: map[string][]float32{}, dims: dims}
}

func (t *testEmbedder) set(text string, vec []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vectors[text] = vec
}

func (t *testEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, t.dims)
	v[t.dims-1] = 1
	return v, nil
}

func (t *testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := t.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *testEmbedder) Dimensions() int { return t.dims }
func (t *testEmbedder) Close() error    { return nil }

// capturePublisher records emitted batch events.
type capturePublisher struct {
	mu     sync.Mutex
	events []*eventstream.BatchProcessedEvent
}

func (c *capturePublisher) PublishBatch(_ context.Context, event *eventstream.BatchProcessedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) all() []*eventstream.BatchProcessedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*eventstream.BatchProcessedEvent{}, c.events...)
}

// manualTimers is a TimerFactory that never fires on its own; tests fire the
// armed callback explicitly.
type manualTimers struct {
	mu      sync.Mutex
	armed   []func()
	stopped int
}

type manualTimer struct {
	owner *manualTimers
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.owner.stopped++
	return true
}

func (m *manualTimers) factory(_ time.Duration, fn func()) engine.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = append(m.armed, fn)
	return &manualTimer{owner: m}
}

func (m *manualTimers) armedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

func (m *manualTimers) fireLast() {
	m.mu.Lock()
	fn := m.armed[len(m.armed)-1]
	m.mu.Unlock()
	fn()
}

var _ = Describe("Engine", func() {
	var (
		ctx       context.Context
		store     *inmemory.Driver
		embedder  *testEmbedder
		extractor *extract.Static
		events    *capturePublisher
		timers    *manualTimers
	)

	newEngine := func(config engine.Config) *engine.Engine {
		e, err := engine.New(engine.Params{
			Store:     store,
			Embedder:  embedder,
			Extractor: extractor,
			Events:    events,
			Timers:    timers.factory,
		}, config)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		embedder = newTestEmbedder(3)
		extractor = &extract.Static{}
		events = &capturePublisher{}
		timers = &manualTimers{}
	})

	Describe("New", func() {
		It("should require store, embedder, and extractor", func() {
			_, err := engine.New(engine.Params{Embedder: embedder, Extractor: extractor}, engine.Config{})
			Expect(err).To(HaveOccurred())
			_, err = engine.New(engine.Params{Store: store, Extractor: extractor}, engine.Config{})
			Expect(err).To(HaveOccurred())
			_, err = engine.New(engine.Params{Store: store, Embedder: embedder}, engine.Config{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Add", func() {
		It("should persist chunks without processing them", func() {
			e := newEngine(engine.Config{Dimensions: 3})

			ids, err := e.Add(ctx, "some text to remember", engine.AddOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).NotTo(BeEmpty())

			chunks, err := store.UnprocessedChunks(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(len(ids)))
			// Ingestion is chunking only; no graph material yet.
			nodes, err := store.NodesInSession(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(BeEmpty())
		})

		It("should return no ids for empty text", func() {
			e := newEngine(engine.Config{Dimensions: 3})

			ids, err := e.Add(ctx, "", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})
	})

	Describe("ProcessAll", func() {
		It("should round-trip add → process → vector search", func() {
			e := newEngine(engine.Config{Dimensions: 3})
			embedder.set("the mission codename is BLUEBIRD", []float32{1, 0, 0})
			embedder.set("BLUEBIRD", []float32{1, 0, 0})

			_, err := e.Add(ctx, "the mission codename is BLUEBIRD", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())

			result, err := e.ProcessAll(ctx, engine.ProcessOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ChunksProcessed).To(Equal(1))

			hits := e.Search(ctx, retrieval.StrategyVector, retrieval.Query{Text: "BLUEBIRD", Limit: 5})
			Expect(hits).NotTo(BeEmpty())
			Expect(hits[0].Node.Content).To(ContainSubstring("BLUEBIRD"))
		})

		It("should deduplicate entities across chunks and connect both", func() {
			extractor.EntityList = []extract.Entity{{Name: "Paris", Type: "location"}}
			e := newEngine(engine.Config{Dimensions: 3})

			_, err := e.Add(ctx, "Paris has excellent museums.", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Add(ctx, "Paris hosted the olympics.", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.ProcessAll(ctx, engine.ProcessOptions{})
			Expect(err).NotTo(HaveOccurred())

			paris, err := store.FindNodeByContentAndType(ctx, "Paris", graph.NodeTypeEntity)
			Expect(err).NotTo(HaveOccurred())

			rels, err := store.Adjacency(ctx, paris.ID, []string{graph.RelContains})
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(HaveLen(2), "one Paris node should be contained by both chunks")
		})

		It("should scope processing to the requested session", func() {
			e := newEngine(engine.Config{Dimensions: 3})

			_, err := e.Add(ctx, "first session text", engine.AddOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Add(ctx, "second session text", engine.AddOptions{SessionID: "s2"})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.ProcessAll(ctx, engine.ProcessOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())

			remaining, err := store.UnprocessedChunks(ctx, "s2")
			Expect(err).NotTo(HaveOccurred())
			Expect(remaining).To(HaveLen(1), "the other session's chunk must stay untouched")
		})

		It("should create similar_to edges within a session above the threshold", func() {
			e := newEngine(engine.Config{Dimensions: 3})
			embedder.set("alpha memo one", []float32{1, 0, 0})
			embedder.set("alpha memo two", []float32{0.95, 0.05, 0})

			_, err := e.Add(ctx, "alpha memo one", engine.AddOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Add(ctx, "alpha memo two", engine.AddOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.ProcessAll(ctx, engine.ProcessOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())

			chunkNode, err := store.FindNodeByContentAndType(ctx, "alpha memo one", graph.NodeTypeChunk)
			Expect(err).NotTo(HaveOccurred())

			rels, err := store.Adjacency(ctx, chunkNode.ID, []string{graph.RelSimilarTo})
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).NotTo(BeEmpty())
			for _, rel := range rels {
				Expect(rel.Weight).To(BeNumerically(">=", 0.8))
			}
		})

		It("should not duplicate similar_to edges across repeated batches", func() {
			e := newEngine(engine.Config{Dimensions: 3})
			embedder.set("alpha memo one", []float32{1, 0, 0})
			embedder.set("alpha memo two", []float32{0.95, 0.05, 0})

			_, err := e.Add(ctx, "alpha memo one", engine.AddOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.ProcessAll(ctx, engine.ProcessOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Add(ctx, "alpha memo two", engine.AddOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.ProcessAll(ctx, engine.ProcessOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())

			chunkNode, err := store.FindNodeByContentAndType(ctx, "alpha memo one", graph.NodeTypeChunk)
			Expect(err).NotTo(HaveOccurred())
			before, err := store.Adjacency(ctx, chunkNode.ID, []string{graph.RelSimilarTo})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.ProcessAll(ctx, engine.ProcessOptions{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			after, err := store.Adjacency(ctx, chunkNode.ID, []string{graph.RelSimilarTo})
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(HaveLen(len(before)))
		})

		It("should publish a batch event with counts", func() {
			e := newEngine(engine.Config{Dimensions: 3, Project: "engram-test"})

			_, err := e.Add(ctx, "observable text", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.ProcessAll(ctx, engine.ProcessOptions{})
			Expect(err).NotTo(HaveOccurred())

			published := events.all()
			Expect(published).To(HaveLen(1))
			Expect(published[0].EventType).To(Equal(eventstream.EventTypeBatchProcessed))
			Expect(published[0].Source.Project).To(Equal("engram-test"))
			Expect(published[0].Batch.ChunksProcessed).To(Equal(1))
			Expect(published[0].Batch.Triggered).To(Equal("manual"))
			Expect(published[0].Error).To(BeEmpty())
		})
	})

	Describe("dimension validation", func() {
		It("should raise the mismatch on first embedding use, not before", func() {
			e := newEngine(engine.Config{Dimensions: 1536})

			// Construction and ingestion never touch the provider.
			_, err := e.Add(ctx, "text that will expose the mismatch", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.ProcessAll(ctx, engine.ProcessOptions{})
			Expect(err).To(MatchError(engine.ErrDimensionMismatch))

			// Sticky: the second use fails identically.
			_, err = e.ProcessAll(ctx, engine.ProcessOptions{})
			Expect(err).To(MatchError(engine.ErrDimensionMismatch))
		})
	})

	Describe("graph scenario", func() {
		It("should connect Paris to Europe within two hops", func() {
			extractor.EntityList = []extract.Entity{
				{Name: "Paris", Type: "location"},
				{Name: "France", Type: "location"},
				{Name: "Europe", Type: "location"},
			}
			extractor.RelationList = []extract.Relation{
				{Source: "Paris", Target: "France", Type: "capital_of", Weight: 0.9},
				{Source: "France", Target: "Europe", Type: "located_in", Weight: 0.9},
			}
			e := newEngine(engine.Config{Dimensions: 3})

			_, err := e.Add(ctx, "Paris is the capital of France.", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Add(ctx, "France is in Europe.", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.ProcessAll(ctx, engine.ProcessOptions{})
			Expect(err).NotTo(HaveOccurred())

			paris, err := store.FindNodeByContentAndType(ctx, "Paris", graph.NodeTypeEntity)
			Expect(err).NotTo(HaveOccurred())
			europe, err := store.FindNodeByContentAndType(ctx, "Europe", graph.NodeTypeEntity)
			Expect(err).NotTo(HaveOccurred())

			paths, err := e.FindPaths(ctx, paris.ID, europe.ID, 3, traverse.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(paths).NotTo(BeEmpty())
			Expect(len(paths[0].Relationships)).To(BeNumerically("<=", 2))
		})
	})

	Describe("auto-processing", func() {
		It("should debounce: each Add re-arms the timer", func() {
			e := newEngine(engine.Config{Dimensions: 3, AutoProcess: true, BatchSize: 100})

			_, err := e.Add(ctx, "first", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(timers.armedCount()).To(Equal(1))

			_, err = e.Add(ctx, "second", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(timers.armedCount()).To(Equal(2))

			timers.fireLast()
			Eventually(func() ([]*graph.Chunk, error) {
				return store.UnprocessedChunks(ctx, "")
			}).Should(BeEmpty())

			published := events.all()
			Expect(published).NotTo(BeEmpty())
			Expect(published[len(published)-1].Batch.Triggered).To(Equal("debounce"))
		})

		It("should bypass the debounce once the batch size is reached", func() {
			e := newEngine(engine.Config{Dimensions: 3, AutoProcess: true, BatchSize: 2})

			_, err := e.Add(ctx, "first", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Add(ctx, "second", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())

			// No timer fired; the backlog alone triggers processing.
			Eventually(func() ([]*graph.Chunk, error) {
				return store.UnprocessedChunks(ctx, "")
			}).Should(BeEmpty())
		})

		It("should process synchronously on ForceProcessing", func() {
			e := newEngine(engine.Config{Dimensions: 3, AutoProcess: true, BatchSize: 100})

			_, err := e.Add(ctx, "pending text", engine.AddOptions{})
			Expect(err).NotTo(HaveOccurred())

			result, err := e.ForceProcessing(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ChunksProcessed).To(Equal(1))

			remaining, err := store.UnprocessedChunks(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(remaining).To(BeEmpty())
		})
	})

	Describe("sessions and lifecycle", func() {
		It("should create and fetch sessions", func() {
			e := newEngine(engine.Config{Dimensions: 3})

			session, err := e.CreateSession(ctx, "my conversation", map[string]any{"user": "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(session.ID).NotTo(BeEmpty())

			got, err := e.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal("my conversation"))
		})

		It("should pass health checks against a live store", func() {
			e := newEngine(engine.Config{Dimensions: 3})
			Expect(e.HealthCheck(ctx)).To(Succeed())
		})

		It("should delete nodes best-effort", func() {
			e := newEngine(engine.Config{Dimensions: 3})
			Expect(e.DeleteNodes(ctx, []string{"no-such-node"})).To(Succeed())
		})
	})
})
