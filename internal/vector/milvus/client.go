package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/pkg/logger"
)

// Client wraps the similarity index holding the three retrieval collections:
// schema snippets, metric definitions and NL->SQL example pairs.
type Client struct {
	client            client.Client
	schemaCollection  string
	metricCollection  string
	exampleCollection string
	vectorDim         int
}

type Doc struct {
	ID        string
	Embedding []float32
	Text      string
}

type Example struct {
	ID        string
	Embedding []float32
	Question  string
	SQL       string
	Metric    string
	Bank      string
	Learned   bool
}

type DocHit struct {
	ID    string
	Text  string
	Score float32
}

type ExampleHit struct {
	ID       string
	Question string
	SQL      string
	Metric   string
	Bank     string
	Learned  bool
	Score    float32
}

func NewClient(endpoint, schemaCol, metricCol, exampleCol string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.Strings("collections", []string{schemaCol, metricCol, exampleCol}),
	)

	return &Client{
		client:            c,
		schemaCollection:  schemaCol,
		metricCollection:  metricCol,
		exampleCollection: exampleCol,
		vectorDim:         vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{m.schemaCollection, m.metricCollection} {
		if err := m.ensureCollection(ctx, docSchema(name, m.vectorDim)); err != nil {
			return err
		}
	}
	return m.ensureCollection(ctx, exampleSchema(m.exampleCollection, m.vectorDim))
}

func (m *Client) ensureCollection(ctx context.Context, schema *entity.Schema) error {
	has, err := m.client.HasCollection(ctx, schema.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", schema.CollectionName, err)
	}

	if !has {
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", schema.CollectionName, err)
		}

		idx, _ := entity.NewIndexIvfFlat(entity.IP, 128)
		if err := m.client.CreateIndex(ctx, schema.CollectionName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", schema.CollectionName, err)
		}

		logger.Info("Collection created", zap.String("collection", schema.CollectionName))
	}

	if err := m.client.LoadCollection(ctx, schema.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", schema.CollectionName, err)
	}

	return nil
}

func docSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Fields: []*entity.Field{
			{
				Name:       "doc_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dim)},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
		},
	}
}

func exampleSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Fields: []*entity.Field{
			{
				Name:       "example_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dim)},
			},
			{
				Name:       "question",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
			{
				Name:       "sql",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
			{
				Name:       "metric",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "bank",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "learned",
				DataType: entity.FieldTypeBool,
			},
		},
	}
}

func (m *Client) InsertDocs(ctx context.Context, collection string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		embeddings[i] = d.Embedding
		texts[i] = d.Text
	}

	_, err := m.client.Upsert(
		ctx,
		collection,
		"",
		entity.NewColumnVarChar("doc_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert docs into %s: %w", collection, err)
	}

	if err := m.client.Flush(ctx, collection, false); err != nil {
		return fmt.Errorf("failed to flush %s: %w", collection, err)
	}

	logger.Info("Docs upserted", zap.String("collection", collection), zap.Int("count", len(docs)))
	return nil
}

// UpsertExample writes one NL->SQL example keyed by its id. Upserting an id
// that already exists replaces it in place, which is what makes promotion
// idempotent.
func (m *Client) UpsertExample(ctx context.Context, ex Example) error {
	_, err := m.client.Upsert(
		ctx,
		m.exampleCollection,
		"",
		entity.NewColumnVarChar("example_id", []string{ex.ID}),
		entity.NewColumnFloatVector("embedding", m.vectorDim, [][]float32{ex.Embedding}),
		entity.NewColumnVarChar("question", []string{ex.Question}),
		entity.NewColumnVarChar("sql", []string{ex.SQL}),
		entity.NewColumnVarChar("metric", []string{ex.Metric}),
		entity.NewColumnVarChar("bank", []string{ex.Bank}),
		entity.NewColumnBool("learned", []bool{ex.Learned}),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert example: %w", err)
	}

	return nil
}

func (m *Client) SearchDocs(ctx context.Context, collection string, embedding []float32, topK int) ([]DocHit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		collection,
		[]string{},
		"",
		[]string{"doc_id", "text"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}

	var hits []DocHit
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("doc_id")
		textCol := sr.Fields.GetColumn("text")
		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			text, _ := textCol.Get(i)
			hits = append(hits, DocHit{
				ID:    id.(string),
				Text:  text.(string),
				Score: sr.Scores[i],
			})
		}
	}

	return hits, nil
}

func (m *Client) SearchExamples(ctx context.Context, embedding []float32, topK int) ([]ExampleHit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.exampleCollection,
		[]string{},
		"",
		[]string{"example_id", "question", "sql", "metric", "bank", "learned"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search examples: %w", err)
	}

	var hits []ExampleHit
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("example_id")
		questionCol := sr.Fields.GetColumn("question")
		sqlCol := sr.Fields.GetColumn("sql")
		metricCol := sr.Fields.GetColumn("metric")
		bankCol := sr.Fields.GetColumn("bank")
		learnedCol := sr.Fields.GetColumn("learned")

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			question, _ := questionCol.Get(i)
			sqlText, _ := sqlCol.Get(i)
			metric, _ := metricCol.Get(i)
			bank, _ := bankCol.Get(i)
			learned, _ := learnedCol.Get(i)

			hits = append(hits, ExampleHit{
				ID:       id.(string),
				Question: question.(string),
				SQL:      sqlText.(string),
				Metric:   metric.(string),
				Bank:     bank.(string),
				Learned:  learned.(bool),
				Score:    sr.Scores[i],
			})
		}
	}

	return hits, nil
}

func (m *Client) SchemaCollection() string  { return m.schemaCollection }
func (m *Client) MetricCollection() string  { return m.metricCollection }
func (m *Client) ExampleCollection() string { return m.exampleCollection }
