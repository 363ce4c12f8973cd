package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/metrics"
	"github.com/cnbv-agent/backend/internal/results"
	"github.com/cnbv-agent/backend/internal/sqlgen"
	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type Parser interface {
	Parse(ctx context.Context, text, metricHint string) models.QuerySpec
}

type Retriever interface {
	Retrieve(ctx context.Context, spec models.QuerySpec, originalText string) models.RagContext
}

type Generator interface {
	Generate(ctx context.Context, spec models.QuerySpec, ragCtx models.RagContext, originalText string) sqlgen.Result
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) ([]string, [][]interface{}, error)
}

type OutcomeLogger interface {
	LogOutcome(queryID, queryText, sqlText, metric, bank string, latencyMS int, success bool)
}

type Request struct {
	Text       string
	MetricHint string
}

type Metadata struct {
	Stage      string   `json:"stage"`
	Metric     string   `json:"metric"`
	Banks      []string `json:"banks"`
	TimeRange  string   `json:"time_range"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"warnings,omitempty"`
}

type Response struct {
	ID        string          `json:"id"`
	Metadata  Metadata        `json:"metadata"`
	Payload   results.Payload `json:"payload"`
	LatencyMS int             `json:"latency_ms"`
}

// QueryError is the structured failure surfaced to callers: a taxonomy code,
// a user-safe message and optional clarification options. Raw internal errors
// and model output never leak through it.
type QueryError struct {
	Code          models.ErrorCode `json:"code"`
	Message       string           `json:"message"`
	Options       []string         `json:"options,omitempty"`
	MissingFields []string         `json:"missing_fields,omitempty"`
}

// Engine runs one request through parse, retrieve, generate, validate,
// execute, format and log. Each request is a single sequential task;
// concurrent requests share only read-mostly state.
type Engine struct {
	catalog   *catalog.Catalog
	parser    Parser
	retriever Retriever
	generator Generator
	executor  Executor
	outcomes  OutcomeLogger
}

func NewEngine(cat *catalog.Catalog, parser Parser, retriever Retriever, generator Generator, executor Executor, outcomes OutcomeLogger) *Engine {
	return &Engine{
		catalog:   cat,
		parser:    parser,
		retriever: retriever,
		generator: generator,
		executor:  executor,
		outcomes:  outcomes,
	}
}

func (e *Engine) Process(ctx context.Context, req Request) (*Response, *QueryError) {
	start := time.Now()
	queryID := uuid.New().String()

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("text", req.Text),
	)

	spec := e.parser.Parse(ctx, req.Text, req.MetricHint)

	if spec.RequiresClarification {
		e.logOutcome(queryID, req.Text, "", spec, start, false)
		metrics.QueryTotal.WithLabelValues("clarification").Inc()
		return nil, clarificationError(spec, e.catalog)
	}

	if qerr := e.checkCoverage(spec); qerr != nil {
		e.logOutcome(queryID, req.Text, "", spec, start, false)
		metrics.QueryTotal.WithLabelValues(string(qerr.Code)).Inc()
		return nil, qerr
	}

	ragCtx := e.retriever.Retrieve(ctx, spec, req.Text)

	gen := e.generator.Generate(ctx, spec, ragCtx, req.Text)
	if !gen.Success {
		e.logOutcome(queryID, req.Text, "", spec, start, false)
		metrics.QueryTotal.WithLabelValues(string(gen.ErrorCode)).Inc()
		return nil, &QueryError{
			Code:    gen.ErrorCode,
			Message: "Could not build a query for that question. Try naming one indicator and one bank.",
		}
	}

	columns, rows, err := e.executor.Execute(ctx, gen.SQL)
	if err != nil {
		// A cancelled attempt is still logged; success=false keeps it out
		// of promotion forever.
		e.logOutcome(queryID, req.Text, gen.SQL, spec, start, false)
		metrics.QueryTotal.WithLabelValues(string(models.ErrExecutionError)).Inc()
		logger.Error("Execution failed",
			zap.String("query_id", queryID),
			zap.String("sql", gen.SQL),
			zap.Error(err),
		)
		return nil, &QueryError{
			Code:    models.ErrExecutionError,
			Message: "The data store rejected or timed out on this query. Try a narrower time window.",
		}
	}

	payload := results.Format(spec, columns, rows)
	e.attachCoverageWarnings(spec, &payload)

	latency := int(time.Since(start).Milliseconds())
	e.outcomes.LogOutcome(queryID, req.Text, gen.SQL, spec.Metric, banksLabel(spec), latency, true)

	stage := string(gen.Path.Kind)
	if gen.Path.Kind == sqlgen.PathTemplate {
		stage = gen.Path.Template
		metrics.TemplateHits.WithLabelValues(gen.Path.Template).Inc()
	} else {
		metrics.LLMFallbacks.Inc()
	}
	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	logger.Info("Query processed",
		zap.String("query_id", queryID),
		zap.String("stage", stage),
		zap.Int("rows", len(rows)),
		zap.Int("latency_ms", latency),
	)

	return &Response{
		ID: queryID,
		Metadata: Metadata{
			Stage:      stage,
			Metric:     spec.Metric,
			Banks:      spec.Banks,
			TimeRange:  string(spec.TimeRange.Kind),
			Confidence: spec.Confidence,
			Warnings:   payload.Warnings,
		},
		Payload:   payload,
		LatencyMS: latency,
	}, nil
}

// checkCoverage fails explicitly on metrics whose backing column is known
// empty instead of returning an all-null series.
func (e *Engine) checkCoverage(spec models.QuerySpec) *QueryError {
	def, ok := e.catalog.ResolveMetric(spec.Metric)
	if !ok {
		return &QueryError{
			Code:    models.ErrAmbiguousQuery,
			Message: "Could not match that indicator. Pick one of the supported metrics.",
			Options: e.catalog.MetricCandidates(spec.Metric, 5),
		}
	}

	if def.Status == models.MetricEmpty {
		return &QueryError{
			Code:    models.ErrUnsupportedMetric,
			Message: "That indicator has no reliable data yet.",
		}
	}

	return nil
}

func (e *Engine) attachCoverageWarnings(spec models.QuerySpec, payload *results.Payload) {
	if def, ok := e.catalog.ResolveMetric(spec.Metric); ok && def.Status == models.MetricPartial {
		payload.Warnings = append(payload.Warnings, "partial_coverage")
	}
}

func (e *Engine) logOutcome(queryID, text, sqlText string, spec models.QuerySpec, start time.Time, success bool) {
	e.outcomes.LogOutcome(queryID, text, sqlText, spec.Metric, banksLabel(spec),
		int(time.Since(start).Milliseconds()), success)
}

func clarificationError(spec models.QuerySpec, cat *catalog.Catalog) *QueryError {
	qerr := &QueryError{
		Code:          models.ErrAmbiguousQuery,
		MissingFields: spec.MissingFields,
	}

	switch {
	case len(spec.MetricCandidates) > 0 && spec.Metric == "":
		qerr.Message = "Which indicator did you mean?"
		qerr.Options = spec.MetricCandidates
	case contains(spec.MissingFields, "bank") || contains(spec.MissingFields, "banks"):
		qerr.Code = models.ErrUnsupportedBank
		qerr.Message = "That institution is not in the dataset. Supported banks are listed."
		qerr.Options = cat.SupportedBanks()
	default:
		qerr.Message = "The question is missing details. Name an indicator, and optionally a bank and a time window."
	}

	return qerr
}

func banksLabel(spec models.QuerySpec) string {
	return strings.Join(spec.Banks, ",")
}

func contains(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
