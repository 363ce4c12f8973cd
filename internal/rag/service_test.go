package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/internal/vector/milvus"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeIndex struct {
	docHits     []milvus.DocHit
	exampleHits []milvus.ExampleHit
	err         error
}

func (f *fakeIndex) SearchDocs(ctx context.Context, collection string, embedding []float32, topK int) ([]milvus.DocHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docHits, nil
}

func (f *fakeIndex) SearchExamples(ctx context.Context, embedding []float32, topK int) ([]milvus.ExampleHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.exampleHits, nil
}

func (f *fakeIndex) SchemaCollection() string { return "schema_docs" }
func (f *fakeIndex) MetricCollection() string { return "metric_docs" }

type fakeCache struct {
	entries map[string][]float32
	hits    int
	misses  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]float32)}
}

func (f *fakeCache) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	if e, ok := f.entries[textHash]; ok {
		f.hits++
		return e, true, nil
	}
	f.misses++
	return nil, false, nil
}

func (f *fakeCache) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	f.entries[textHash] = embedding
	return nil
}

func imorSpec() models.QuerySpec {
	return models.QuerySpec{Metric: "imor", Banks: []string{"INVEX"}}
}

func newTestService(embedder Embedder, index Index, cache EmbeddingCache) *Service {
	return NewService(catalog.New("monthly_kpis"), embedder, index, cache, Config{
		TopK:         4,
		ScoreFloor:   0.7,
		LearnedBoost: 0.2,
	})
}

func TestRetrieveBuildsContext(t *testing.T) {
	index := &fakeIndex{
		docHits: []milvus.DocHit{
			{ID: "schema:imor", Text: "imor REAL, monthly ratio", Score: 0.9},
			{ID: "schema:roe", Text: "roe REAL", Score: 0.4},
		},
		exampleHits: []milvus.ExampleHit{
			{ID: "static:1", Question: "imor de invex", SQL: "SELECT 1", Score: 0.8},
		},
	}
	svc := newTestService(&fakeEmbedder{}, index, nil)

	ragCtx := svc.Retrieve(context.Background(), imorSpec(), "imor de invex")

	if ragCtx.Degraded {
		t.Fatal("unexpected degraded context")
	}
	if len(ragCtx.SchemaDocs) != 1 {
		t.Errorf("schema docs = %d, want 1 after the score floor", len(ragCtx.SchemaDocs))
	}
	if len(ragCtx.Examples) != 1 {
		t.Errorf("examples = %d, want 1", len(ragCtx.Examples))
	}
}

func TestRetrieveScoreFloorFiltersWeakHits(t *testing.T) {
	index := &fakeIndex{
		exampleHits: []milvus.ExampleHit{
			{ID: "weak", Question: "q", SQL: "s", Score: 0.3},
		},
	}
	svc := newTestService(&fakeEmbedder{}, index, nil)

	ragCtx := svc.Retrieve(context.Background(), imorSpec(), "imor")

	if len(ragCtx.Examples) != 0 {
		t.Errorf("examples = %v, want none under the floor", ragCtx.Examples)
	}
}

func TestRetrieveLearnedBoostReorders(t *testing.T) {
	index := &fakeIndex{
		exampleHits: []milvus.ExampleHit{
			{ID: "static:a", Question: "a", SQL: "s", Score: 0.80, Learned: false},
			{ID: "learned:b", Question: "b", SQL: "s", Score: 0.75, Learned: true},
		},
	}
	svc := newTestService(&fakeEmbedder{}, index, nil)

	ragCtx := svc.Retrieve(context.Background(), imorSpec(), "imor")

	if len(ragCtx.Examples) != 2 {
		t.Fatalf("examples = %d, want 2", len(ragCtx.Examples))
	}
	// 0.75 * 1.2 = 0.90 outranks the static 0.80.
	if ragCtx.Examples[0].ID != "learned:b" {
		t.Errorf("first example = %s, want the boosted learned one", ragCtx.Examples[0].ID)
	}
}

func TestRetrieveDegradesWithColumnsIntact(t *testing.T) {
	index := &fakeIndex{err: errors.New("index down")}
	svc := newTestService(&fakeEmbedder{}, index, nil)

	ragCtx := svc.Retrieve(context.Background(), imorSpec(), "imor de invex")

	if !ragCtx.Degraded {
		t.Fatal("expected degraded context")
	}
	if len(ragCtx.AvailableColumns) == 0 {
		t.Fatal("degraded retrieval must still carry the column whitelist")
	}
	assertColumns(t, ragCtx.AvailableColumns, []string{"bank", "date", "imor"})
}

func TestRetrieveEmbedderFailureDegrades(t *testing.T) {
	svc := newTestService(&fakeEmbedder{err: errors.New("no embeddings")}, &fakeIndex{}, nil)

	ragCtx := svc.Retrieve(context.Background(), imorSpec(), "imor")

	if !ragCtx.Degraded {
		t.Error("expected degraded context when embedding fails")
	}
}

func TestAvailableColumnsNarrowedToMetric(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeIndex{}, nil)

	ragCtx := svc.Retrieve(context.Background(), imorSpec(), "imor")
	assertColumns(t, ragCtx.AvailableColumns, []string{"bank", "date", "imor"})
}

func TestAvailableColumnsFullWhitelistWithoutMetric(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeIndex{}, nil)

	spec := models.QuerySpec{MetricCandidates: []string{"cartera_total", "cartera_consumo"}}
	ragCtx := svc.Retrieve(context.Background(), spec, "cartera")

	set := make(map[string]bool)
	for _, col := range ragCtx.AvailableColumns {
		set[col] = true
	}
	if !set["bank"] || !set["date"] {
		t.Error("key columns missing from whitelist")
	}
	if set["roa"] {
		t.Error("empty metric column must never appear in the whitelist")
	}
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	cache := newFakeCache()
	embedder := &fakeEmbedder{}
	svc := newTestService(embedder, &fakeIndex{}, cache)

	svc.Retrieve(context.Background(), imorSpec(), "imor de invex")
	firstCalls := embedder.calls
	if firstCalls == 0 {
		t.Fatal("expected embedder usage on a cold cache")
	}

	svc.Retrieve(context.Background(), imorSpec(), "imor de invex")
	if embedder.calls != firstCalls {
		t.Errorf("embedder calls grew from %d to %d, want cache hits on repeat", firstCalls, embedder.calls)
	}
	if cache.hits == 0 {
		t.Error("expected cache hits on the second retrieval")
	}
}

func assertColumns(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("columns = %v, want %v", got, want)
		}
	}
}
