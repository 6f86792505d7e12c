package reindex_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine/memory"
	"github.com/utafrali/gally-search/internal/install"
	"github.com/utafrali/gally-search/internal/job"
	jobmemory "github.com/utafrali/gally-search/internal/job/memory"
	"github.com/utafrali/gally-search/internal/queue"
	"github.com/utafrali/gally-search/internal/reindex"
	"github.com/utafrali/gally-search/internal/source"
)

type harness struct {
	broker    *queue.Broker
	engine    *memory.Engine
	store     *jobmemory.Store
	source    *source.Static
	sources   *source.Registry
	processor *reindex.Processor
}

func products(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		id := "p" + strconv.Itoa(i+1)
		docs[i] = domain.Document{"id": id, "name": "Product " + id}
	}
	return docs
}

func newHarness(t *testing.T, gran func(*source.Registry) reindex.Granularizer, tweak ...func(*reindex.ProcessorConfig)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		broker:  queue.NewBroker(),
		engine:  memory.New(),
		store:   jobmemory.NewStore(),
		source:  source.NewStatic(products(5)...),
		sources: source.NewRegistry(),
	}
	h.sources.Register("product", h.source)

	catalogs := reindex.Catalogs{1: {"b2c_en", "b2c_fr"}}
	tracker := install.NewTracker(h.engine, logger)
	cfg := reindex.ProcessorConfig{
		Passes:       reindex.NewIndexRegistry(h.engine, catalogs, logger),
		Granularizer: gran(h.sources),
		Indexer:      reindex.NewIndexer(h.engine, h.sources, catalogs, logger),
		Runner:       job.NewRunner(h.store, h.broker, logger),
		Producer:     h.broker,
		Installer:    tracker,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}
	h.processor = reindex.NewProcessor(cfg, logger)

	h.broker.Subscribe(reindex.TopicReindex, h.processor)
	h.broker.Subscribe(reindex.TopicReindexFinished, tracker)
	return h
}

// fixedChunks always emits n chunks of the whole catalog.
func fixedChunks(n int) func(*source.Registry) reindex.Granularizer {
	return func(*source.Registry) reindex.Granularizer {
		return reindex.GranularizerFunc(func(_ context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error) {
			chunks := make([]domain.ReindexRequest, n)
			for i := range chunks {
				chunks[i] = domain.ReindexRequest{
					EntityType: req.EntityType,
					Context:    domain.ReindexContext{WebsiteIDs: []int{1}},
				}
			}
			return chunks, nil
		})
	}
}

// paged splits full reindexes into pages of size entities.
func paged(size int) func(*source.Registry) reindex.Granularizer {
	return func(reg *source.Registry) reindex.Granularizer {
		return &reindex.ChunkGranularizer{
			ChunkSize: size,
			Websites:  []int{1},
			Counter:   reindex.SourceCounter{Sources: reg},
		}
	}
}

func message(t *testing.T, id string, req domain.ReindexRequest) *queue.Message {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return &queue.Message{ID: id, Topic: reindex.TopicReindex, Body: body}
}

func (h *harness) liveCount(t *testing.T, catalog string) int {
	t.Helper()
	idx, err := h.engine.GetIndexByName(context.Background(), "product", catalog)
	require.NoError(t, err)
	return h.engine.Count(idx.Name)
}

func fullReindex() domain.ReindexRequest {
	return domain.ReindexRequest{EntityType: "product", Granulize: true}
}

// ---------------------------------------------------------------------------
// Cardinality of the granularization
// ---------------------------------------------------------------------------

func TestProcess_ZeroChunksDoesNothing(t *testing.T) {
	h := newHarness(t, fixedChunks(0))

	status := h.processor.Process(context.Background(), message(t, "msg-1", fullReindex()))

	assert.Equal(t, queue.ACK, status)
	assert.Empty(t, h.engine.Indices())
	assert.Empty(t, h.broker.Sent(reindex.TopicReindex))
	_, err := h.store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestProcess_SingleChunkRunsInlineAndInstalls(t *testing.T) {
	h := newHarness(t, fixedChunks(1))

	status := h.processor.Process(context.Background(), message(t, "msg-1", fullReindex()))

	assert.Equal(t, queue.ACK, status)
	assert.Empty(t, h.broker.Sent(reindex.TopicReindex))
	assert.Empty(t, h.broker.Sent(reindex.TopicReindexFinished))
	assert.Equal(t, 5, h.liveCount(t, "b2c_en"))
	assert.Equal(t, 5, h.liveCount(t, "b2c_fr"))
	_, err := h.store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestProcess_ManyChunksFanOut(t *testing.T) {
	h := newHarness(t, fixedChunks(2))
	ctx := context.Background()

	status := h.processor.Process(ctx, message(t, "msg-1", fullReindex()))
	require.Equal(t, queue.ACK, status)

	chunks := h.broker.Sent(reindex.TopicReindex)
	require.Len(t, chunks, 2)
	for _, m := range chunks {
		var chunk domain.ReindexRequest
		require.NoError(t, json.Unmarshal(m.Body, &chunk))
		assert.True(t, chunk.IsChunk())
		assert.Equal(t, []string{"b2c_en", "b2c_fr"}, chunk.IndicesByLocale.Locales())
	}

	root, err := h.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, 2, root.Pending)
	assert.Empty(t, h.broker.Sent(reindex.TopicReindexFinished))

	deps, err := h.store.Dependents(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, reindex.TopicReindexFinished, deps[0].Topic)
}

// orderingStore records the job graph calls that shape a fan-out.
type orderingStore struct {
	*jobmemory.Store
	mu    sync.Mutex
	calls []string
}

func (s *orderingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *orderingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *orderingStore) SaveDependents(ctx context.Context, rootID int64, deps []job.Dependent) error {
	s.record("save_dependents")
	return s.Store.SaveDependents(ctx, rootID, deps)
}

func (s *orderingStore) CreateChild(ctx context.Context, rootID int64, name string) (*job.Job, error) {
	s.record("create_child")
	return s.Store.CreateChild(ctx, rootID, name)
}

func withOrderingStore(store *orderingStore) func(*reindex.ProcessorConfig) {
	return func(cfg *reindex.ProcessorConfig) {
		cfg.Runner = job.NewRunner(store, cfg.Producer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}
}

func TestProcess_FinishJobRegisteredBeforeChildren(t *testing.T) {
	store := &orderingStore{Store: jobmemory.NewStore()}
	h := newHarness(t, fixedChunks(3), withOrderingStore(store))

	require.Equal(t, queue.ACK, h.processor.Process(context.Background(), message(t, "msg-1", fullReindex())))

	assert.Equal(t, []string{"save_dependents", "create_child", "create_child", "create_child"}, store.Calls())
	assert.Len(t, h.broker.Sent(reindex.TopicReindex), 3)
}

func TestReindex_ThreeChunksTwoLocalesFinishOnce(t *testing.T) {
	store := &orderingStore{Store: jobmemory.NewStore()}
	h := newHarness(t, fixedChunks(3), withOrderingStore(store))
	ctx := context.Background()

	require.NoError(t, h.broker.Send(ctx, reindex.TopicReindex, fullReindex()))
	_, err := h.broker.Drain(ctx)
	require.NoError(t, err)

	calls := store.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "save_dependents", calls[0])
	assert.Equal(t, 3, countOf(calls, "create_child"))
	assert.Equal(t, 1, countOf(calls, "save_dependents"))

	// One request plus three chunks.
	assert.Len(t, h.broker.Sent(reindex.TopicReindex), 4)

	finished := h.broker.Sent(reindex.TopicReindexFinished)
	require.Len(t, finished, 1)
	var finish domain.FinishMessage
	require.NoError(t, json.Unmarshal(finished[0].Body, &finish))
	assert.True(t, finish.IsFullReindex)
	assert.Equal(t, []string{"b2c_en", "b2c_fr"}, finish.IndicesByLocale.Locales())

	root, err := store.Get(ctx, finish.RootJobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, root.Status)
	assert.Zero(t, root.Pending)

	assert.Equal(t, 5, h.liveCount(t, "b2c_en"))
	assert.Equal(t, 5, h.liveCount(t, "b2c_fr"))
	assert.Empty(t, h.broker.DeadLetters())
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func TestProcess_SameMessageIDFansOutOnce(t *testing.T) {
	h := newHarness(t, fixedChunks(2))
	ctx := context.Background()

	require.Equal(t, queue.ACK, h.processor.Process(ctx, message(t, "msg-1", fullReindex())))
	require.Equal(t, queue.ACK, h.processor.Process(ctx, message(t, "msg-1", fullReindex())))

	assert.Len(t, h.broker.Sent(reindex.TopicReindex), 2)
	// Only the first delivery opened a pass: one index per catalog.
	assert.Len(t, h.engine.Indices(), 2)
}

func TestProcess_NotGranulizedRunsDirectly(t *testing.T) {
	h := newHarness(t, fixedChunks(5))
	ctx := context.Background()

	req := fullReindex()
	req.Granulize = false
	require.Equal(t, queue.ACK, h.processor.Process(ctx, message(t, "msg-1", req)))
	assert.Equal(t, 5, h.liveCount(t, "b2c_en"))
	assert.Empty(t, h.broker.Sent(reindex.TopicReindex))
}

func TestProcess_PartialReindexWritesLiveIndex(t *testing.T) {
	h := newHarness(t, fixedChunks(1))
	ctx := context.Background()
	require.Equal(t, queue.ACK, h.processor.Process(ctx, message(t, "msg-1", fullReindex())))

	h.source.Put(domain.Document{"id": "p1", "name": "Renamed"})
	h.source.Remove("p2")

	partial := domain.ReindexRequest{
		EntityType: "product",
		Context:    domain.ReindexContext{EntityIDs: []string{"p1", "p2"}},
	}
	require.Equal(t, queue.ACK, h.processor.Process(ctx, message(t, "msg-2", partial)))

	assert.Equal(t, 4, h.liveCount(t, "b2c_en"))
	assert.Equal(t, 4, h.liveCount(t, "b2c_fr"))
	assert.Len(t, h.engine.Indices(), 2)
}

func TestProcess_PartialReindexWithoutLiveIndexRejects(t *testing.T) {
	h := newHarness(t, fixedChunks(1))

	partial := domain.ReindexRequest{
		EntityType: "product",
		Context:    domain.ReindexContext{EntityIDs: []string{"p1"}},
	}
	assert.Equal(t, queue.REJECT, h.processor.Process(context.Background(), message(t, "msg-1", partial)))
}

func TestProcess_InvalidMessagesAreRejected(t *testing.T) {
	h := newHarness(t, fixedChunks(1))
	ctx := context.Background()

	assert.Equal(t, queue.REJECT, h.processor.Process(ctx, &queue.Message{ID: "m", Body: []byte(`{`)}))
	assert.Equal(t, queue.REJECT, h.processor.Process(ctx, message(t, "m", domain.ReindexRequest{Granulize: true})))
}

func TestProcess_UnknownChunkJobIsRejected(t *testing.T) {
	h := newHarness(t, fixedChunks(1))

	chunk := domain.ReindexRequest{EntityType: "product", JobID: 42}
	assert.Equal(t, queue.REJECT, h.processor.Process(context.Background(), message(t, "m", chunk)))
}

func TestProcess_GranularizationMismatchUsesSecondResult(t *testing.T) {
	calls := 0
	gran := func(*source.Registry) reindex.Granularizer {
		return reindex.GranularizerFunc(func(_ context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error) {
			calls++
			n := 2
			if calls > 1 {
				n = 3
			}
			return make([]domain.ReindexRequest, n), nil
		})
	}
	h := newHarness(t, gran, func(cfg *reindex.ProcessorConfig) { cfg.DisableGranularizationCache = true })

	require.Equal(t, queue.ACK, h.processor.Process(context.Background(), message(t, "msg-1", fullReindex())))
	assert.Equal(t, 2, calls)
	assert.Len(t, h.broker.Sent(reindex.TopicReindex), 3)
}

func TestProcess_GranularizationCachedByDefault(t *testing.T) {
	calls := 0
	gran := func(*source.Registry) reindex.Granularizer {
		return reindex.GranularizerFunc(func(_ context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error) {
			calls++
			return make([]domain.ReindexRequest, 2), nil
		})
	}
	h := newHarness(t, gran)

	require.Equal(t, queue.ACK, h.processor.Process(context.Background(), message(t, "msg-1", fullReindex())))
	assert.Equal(t, 1, calls)
}

// ---------------------------------------------------------------------------
// End to end through the broker
// ---------------------------------------------------------------------------

func TestReindex_GranulizedFullPassInstallsOnce(t *testing.T) {
	h := newHarness(t, paged(2))
	ctx := context.Background()

	require.NoError(t, h.broker.Send(ctx, reindex.TopicReindex, fullReindex()))
	_, err := h.broker.Drain(ctx)
	require.NoError(t, err)

	// One request plus three page chunks.
	assert.Len(t, h.broker.Sent(reindex.TopicReindex), 4)

	finished := h.broker.Sent(reindex.TopicReindexFinished)
	require.Len(t, finished, 1)
	var finish domain.FinishMessage
	require.NoError(t, json.Unmarshal(finished[0].Body, &finish))
	assert.True(t, finish.IsFullReindex)
	assert.Equal(t, []string{"b2c_en", "b2c_fr"}, finish.IndicesByLocale.Locales())

	enIndex, ok := finish.IndicesByLocale.Get("b2c_en")
	require.True(t, ok)
	live, err := h.engine.GetIndexByName(ctx, "product", "b2c_en")
	require.NoError(t, err)
	assert.Equal(t, enIndex, live.Name)
	assert.Equal(t, domain.IndexStatusLive, live.Status)
	assert.Equal(t, 5, h.liveCount(t, "b2c_en"))
	assert.Equal(t, 5, h.liveCount(t, "b2c_fr"))

	root, err := h.store.Get(ctx, finish.RootJobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, root.Status)
	assert.Empty(t, h.broker.DeadLetters())
}

func TestReindex_RedeliveredChunkKeepsInstall(t *testing.T) {
	h := newHarness(t, paged(2))
	ctx := context.Background()

	require.NoError(t, h.broker.Send(ctx, reindex.TopicReindex, fullReindex()))
	_, err := h.broker.Drain(ctx)
	require.NoError(t, err)
	live, err := h.engine.GetIndexByName(ctx, "product", "b2c_en")
	require.NoError(t, err)

	chunks := h.broker.Sent(reindex.TopicReindex)
	h.broker.Redeliver(chunks[len(chunks)-1])
	_, err = h.broker.Drain(ctx)
	require.NoError(t, err)

	again, err := h.engine.GetIndexByName(ctx, "product", "b2c_en")
	require.NoError(t, err)
	assert.Equal(t, live.Name, again.Name)
	assert.Equal(t, 5, h.liveCount(t, "b2c_en"))
	assert.Empty(t, h.broker.DeadLetters())
}

func TestReindex_GranulizedPartialPassSkipsInstall(t *testing.T) {
	h := newHarness(t, paged(2))
	ctx := context.Background()

	require.NoError(t, h.broker.Send(ctx, reindex.TopicReindex, domain.ReindexRequest{EntityType: "product", Granulize: false}))
	_, err := h.broker.Drain(ctx)
	require.NoError(t, err)

	partial := domain.ReindexRequest{
		EntityType: "product",
		Granulize:  true,
		Context:    domain.ReindexContext{EntityIDs: []string{"p1", "p2", "p3"}},
	}
	require.NoError(t, h.broker.Send(ctx, reindex.TopicReindex, partial))
	_, err = h.broker.Drain(ctx)
	require.NoError(t, err)

	finished := h.broker.Sent(reindex.TopicReindexFinished)
	require.Len(t, finished, 1)
	var finish domain.FinishMessage
	require.NoError(t, json.Unmarshal(finished[0].Body, &finish))
	assert.False(t, finish.IsFullReindex)
	assert.Len(t, h.engine.Indices(), 2)
	assert.Empty(t, h.broker.DeadLetters())
}
