package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/metrics"
	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/internal/vector/milvus"
	"github.com/cnbv-agent/backend/pkg/logger"
	"github.com/cnbv-agent/backend/pkg/utils"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	SearchDocs(ctx context.Context, collection string, embedding []float32, topK int) ([]milvus.DocHit, error)
	SearchExamples(ctx context.Context, embedding []float32, topK int) ([]milvus.ExampleHit, error)
	SchemaCollection() string
	MetricCollection() string
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Config struct {
	TopK         int
	ScoreFloor   float64
	LearnedBoost float64
	CacheTTL     time.Duration
}

// Service runs the three similarity searches that enrich SQL generation.
// Retrieval can add context but never widens what generation is permitted to
// reference: AvailableColumns is always intersected with the catalog.
type Service struct {
	catalog  *catalog.Catalog
	embedder Embedder
	index    Index
	cache    EmbeddingCache
	cfg      Config
}

func NewService(cat *catalog.Catalog, embedder Embedder, index Index, cache EmbeddingCache, cfg Config) *Service {
	if cfg.TopK == 0 {
		cfg.TopK = 4
	}
	if cfg.ScoreFloor == 0 {
		cfg.ScoreFloor = 0.7
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{catalog: cat, embedder: embedder, index: index, cache: cache, cfg: cfg}
}

// Retrieve builds the RagContext for a parsed spec. Index or embedder
// failures degrade to an empty context with the catalog-derived column
// whitelist intact, so template generation proceeds unaffected.
func (s *Service) Retrieve(ctx context.Context, spec models.QuerySpec, originalText string) models.RagContext {
	ragCtx := models.RagContext{}

	schemaQuery, metricQuery := s.searchStrings(spec)

	if schemaHits, err := s.searchDocs(ctx, s.index.SchemaCollection(), schemaQuery); err != nil {
		logger.Warn("Schema retrieval degraded", zap.Error(err))
		ragCtx.Degraded = true
	} else {
		for _, h := range schemaHits {
			ragCtx.SchemaDocs = append(ragCtx.SchemaDocs, models.RagSnippet{Text: h.Text, Score: float64(h.Score)})
		}
	}

	if metricHits, err := s.searchDocs(ctx, s.index.MetricCollection(), metricQuery); err != nil {
		logger.Warn("Metric retrieval degraded", zap.Error(err))
		ragCtx.Degraded = true
	} else {
		for _, h := range metricHits {
			ragCtx.MetricDocs = append(ragCtx.MetricDocs, models.RagSnippet{Text: h.Text, Score: float64(h.Score)})
		}
	}

	if examples, err := s.searchExamples(ctx, originalText); err != nil {
		logger.Warn("Example retrieval degraded", zap.Error(err))
		ragCtx.Degraded = true
	} else {
		ragCtx.Examples = examples
	}

	ragCtx.AvailableColumns = s.availableColumns(spec)

	logger.Debug("Retrieval context built",
		zap.Int("schema_docs", len(ragCtx.SchemaDocs)),
		zap.Int("metric_docs", len(ragCtx.MetricDocs)),
		zap.Int("examples", len(ragCtx.Examples)),
		zap.Bool("degraded", ragCtx.Degraded),
	)

	return ragCtx
}

// searchStrings derives the schema-oriented and metric-oriented queries from
// the spec; the example search uses the verbatim user text.
func (s *Service) searchStrings(spec models.QuerySpec) (string, string) {
	metric := spec.Metric
	if metric == "" && len(spec.MetricCandidates) > 0 {
		metric = strings.Join(spec.MetricCandidates, " ")
	}

	schemaQuery := fmt.Sprintf("columns of table %s for %s", s.catalog.Table(), metric)
	metricQuery := metric
	if def, ok := s.catalog.ResolveMetric(spec.Metric); ok {
		metricQuery = fmt.Sprintf("%s %s", def.Canonical, def.Description)
	}

	return schemaQuery, metricQuery
}

func (s *Service) searchDocs(ctx context.Context, collection, query string) ([]milvus.DocHit, error) {
	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.SearchDocs(ctx, collection, embedding, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	var kept []milvus.DocHit
	for _, h := range hits {
		if float64(h.Score) >= s.cfg.ScoreFloor {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

func (s *Service) searchExamples(ctx context.Context, text string) ([]models.RagExample, error) {
	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.SearchExamples(ctx, embedding, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	var examples []models.RagExample
	for _, h := range hits {
		score := float64(h.Score)
		if score < s.cfg.ScoreFloor {
			continue
		}
		// Learned examples come from validated real traffic; bias toward
		// them over the static seeds.
		if h.Learned {
			score *= 1 + s.cfg.LearnedBoost
		}
		examples = append(examples, models.RagExample{
			ID:       h.ID,
			Question: h.Question,
			SQL:      h.SQL,
			Metric:   h.Metric,
			Bank:     h.Bank,
			Learned:  h.Learned,
			Score:    score,
		})
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Score > examples[j].Score })
	return examples, nil
}

// availableColumns narrows the catalog whitelist to what this request needs;
// it can never return a column outside the whitelist.
func (s *Service) availableColumns(spec models.QuerySpec) []string {
	whitelist := make(map[string]bool)
	for _, col := range s.catalog.ListAvailableColumns() {
		whitelist[col] = true
	}

	if spec.Metric == "" {
		return s.catalog.ListAvailableColumns()
	}

	columns := []string{"bank", "date"}
	if def, ok := s.catalog.ResolveMetric(spec.Metric); ok && whitelist[def.Column] {
		columns = append(columns, def.Column)
	}
	sort.Strings(columns)
	return columns
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	hash := utils.HashString(text)

	if s.cache != nil {
		if embedding, ok, err := s.cache.GetEmbedding(ctx, hash); err == nil && ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return embedding, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEmbedding(ctx, hash, embedding, s.cfg.CacheTTL); err != nil {
			logger.Debug("Embedding cache write failed", zap.Error(err))
		}
	}

	return embedding, nil
}
