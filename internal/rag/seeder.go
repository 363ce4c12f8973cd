package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/vector/milvus"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type SeedIndex interface {
	EnsureCollections(ctx context.Context) error
	InsertDocs(ctx context.Context, collection string, docs []milvus.Doc) error
	UpsertExample(ctx context.Context, ex milvus.Example) error
	SchemaCollection() string
	MetricCollection() string
}

// Seeder populates the three collections from the catalog and the static
// example set. Everything is keyed, so re-running at startup is idempotent.
type Seeder struct {
	catalog  *catalog.Catalog
	embedder Embedder
	index    SeedIndex
}

func NewSeeder(cat *catalog.Catalog, embedder Embedder, index SeedIndex) *Seeder {
	return &Seeder{catalog: cat, embedder: embedder, index: index}
}

func (s *Seeder) Seed(ctx context.Context) error {
	if err := s.index.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("failed to ensure collections: %w", err)
	}

	if err := s.seedSchemaDocs(ctx); err != nil {
		return err
	}
	if err := s.seedMetricDocs(ctx); err != nil {
		return err
	}
	if err := s.seedStaticExamples(ctx); err != nil {
		return err
	}

	logger.Info("Retrieval collections seeded")
	return nil
}

func (s *Seeder) seedSchemaDocs(ctx context.Context) error {
	var docs []milvus.Doc
	for _, col := range s.catalog.ListAvailableColumns() {
		text := fmt.Sprintf("Table %s, column %s.", s.catalog.Table(), col)
		if def, ok := s.catalog.ResolveMetric(col); ok {
			text = fmt.Sprintf("Table %s, column %s: %s", s.catalog.Table(), col, def.Description)
		}

		embedding, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to embed schema doc for %s: %w", col, err)
		}

		docs = append(docs, milvus.Doc{ID: "schema:" + col, Embedding: embedding, Text: text})
	}

	return s.index.InsertDocs(ctx, s.index.SchemaCollection(), docs)
}

func (s *Seeder) seedMetricDocs(ctx context.Context) error {
	var docs []milvus.Doc
	for _, def := range s.catalog.Metrics() {
		text := fmt.Sprintf("%s (%s): %s Estado de datos: %s.",
			def.Canonical, def.Column, def.Description, def.Status)

		embedding, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to embed metric doc for %s: %w", def.Canonical, err)
		}

		docs = append(docs, milvus.Doc{ID: "metric:" + def.Canonical, Embedding: embedding, Text: text})
	}

	return s.index.InsertDocs(ctx, s.index.MetricCollection(), docs)
}

func (s *Seeder) seedStaticExamples(ctx context.Context) error {
	table := s.catalog.Table()
	examples := []milvus.Example{
		{
			ID:       "static:imor-bank-window",
			Question: "IMOR de INVEX últimos 6 meses",
			SQL:      fmt.Sprintf("SELECT bank, date, imor FROM %s WHERE bank = 'INVEX' AND date >= date('now', '-6 months') ORDER BY date", table),
			Metric:   "imor",
			Bank:     "INVEX",
		},
		{
			ID:       "static:icap-ranking",
			Question: "Top 5 bancos por ICAP en 2024",
			SQL:      fmt.Sprintf("SELECT bank, AVG(icap) AS value FROM %s WHERE strftime('%%Y', date) = '2024' GROUP BY bank ORDER BY value DESC LIMIT 5", table),
			Metric:   "icap",
		},
		{
			ID:       "static:cartera-comparison",
			Question: "Comparar cartera total de BBVA vs BANORTE en 2023",
			SQL:      fmt.Sprintf("SELECT bank, date, cartera_total FROM %s WHERE bank IN ('BBVA', 'BANORTE') AND strftime('%%Y', date) = '2023' ORDER BY date, bank", table),
			Metric:   "cartera_total",
		},
		{
			ID:       "static:captacion-history",
			Question: "Captación total de SANTANDER todo el historial",
			SQL:      fmt.Sprintf("SELECT bank, date, captacion_total FROM %s WHERE bank = 'SANTANDER' ORDER BY date", table),
			Metric:   "captacion_total",
			Bank:     "SANTANDER",
		},
	}

	for _, ex := range examples {
		embedding, err := s.embedder.GenerateEmbedding(ctx, ex.Question)
		if err != nil {
			return fmt.Errorf("failed to embed static example %s: %w", ex.ID, err)
		}
		ex.Embedding = embedding

		if err := s.index.UpsertExample(ctx, ex); err != nil {
			return fmt.Errorf("failed to upsert static example %s: %w", ex.ID, err)
		}
	}

	logger.Debug("Static examples seeded", zap.Int("count", len(examples)))
	return nil
}
