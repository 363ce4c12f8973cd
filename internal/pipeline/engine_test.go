package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/results"
	"github.com/cnbv-agent/backend/internal/sqlgen"
	"github.com/cnbv-agent/backend/internal/storage/models"
)

type fakeParser struct {
	spec models.QuerySpec
}

func (f *fakeParser) Parse(ctx context.Context, text, metricHint string) models.QuerySpec {
	return f.spec
}

type fakeRetriever struct {
	ragCtx models.RagContext
	calls  int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, spec models.QuerySpec, originalText string) models.RagContext {
	f.calls++
	return f.ragCtx
}

type fakeGenerator struct {
	result sqlgen.Result
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, spec models.QuerySpec, ragCtx models.RagContext, originalText string) sqlgen.Result {
	f.calls++
	return f.result
}

type fakeExecutor struct {
	columns []string
	rows    [][]interface{}
	err     error
	lastSQL string
}

func (f *fakeExecutor) Execute(ctx context.Context, sqlText string) ([]string, [][]interface{}, error) {
	f.lastSQL = sqlText
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.columns, f.rows, nil
}

type loggedOutcome struct {
	queryID string
	sql     string
	success bool
}

type fakeOutcomes struct {
	outcomes []loggedOutcome
}

func (f *fakeOutcomes) LogOutcome(queryID, queryText, sqlText, metric, bank string, latencyMS int, success bool) {
	f.outcomes = append(f.outcomes, loggedOutcome{queryID: queryID, sql: sqlText, success: success})
}

func resolvedSpec() models.QuerySpec {
	return models.QuerySpec{
		Metric:     "imor",
		Banks:      []string{"INVEX"},
		TimeRange:  models.TimeRangeSpec{Kind: models.RangeLastMonths, N: 3},
		Confidence: 0.9,
	}
}

func successResult() sqlgen.Result {
	return sqlgen.Result{
		Success: true,
		SQL:     "SELECT bank, date, imor FROM monthly_kpis WHERE bank = 'INVEX' LIMIT 1000",
		Path:    sqlgen.GenerationPath{Kind: sqlgen.PathTemplate, Template: "series"},
	}
}

func v(x float64) interface{} { return x }

func newTestEngine(p *fakeParser, g *fakeGenerator, x *fakeExecutor, o *fakeOutcomes) (*Engine, *fakeRetriever) {
	r := &fakeRetriever{}
	return NewEngine(catalog.New("monthly_kpis"), p, r, g, x, o), r
}

func TestProcessHappyPath(t *testing.T) {
	executor := &fakeExecutor{
		columns: []string{"bank", "date", "imor"},
		rows: [][]interface{}{
			{"INVEX", "2024-01-31", v(2.1)},
			{"INVEX", "2024-02-29", v(2.2)},
		},
	}
	outcomes := &fakeOutcomes{}
	engine, retriever := newTestEngine(
		&fakeParser{spec: resolvedSpec()},
		&fakeGenerator{result: successResult()},
		executor,
		outcomes,
	)

	resp, qerr := engine.Process(context.Background(), Request{Text: "imor de invex ultimos 3 meses"})
	if qerr != nil {
		t.Fatalf("unexpected error: %+v", qerr)
	}

	if resp.ID == "" {
		t.Error("expected a query id")
	}
	if resp.Metadata.Stage != "series" {
		t.Errorf("stage = %s, want series", resp.Metadata.Stage)
	}
	if resp.Payload.Kind != results.KindTimeSeries {
		t.Errorf("payload kind = %s", resp.Payload.Kind)
	}
	if retriever.calls != 1 {
		t.Errorf("retriever calls = %d, want 1", retriever.calls)
	}
	if len(outcomes.outcomes) != 1 || !outcomes.outcomes[0].success {
		t.Errorf("outcomes = %+v, want one success", outcomes.outcomes)
	}
	if outcomes.outcomes[0].sql != successResult().SQL {
		t.Error("logged SQL must be the executed statement")
	}
}

func TestProcessAmbiguityReturnsOptions(t *testing.T) {
	spec := models.QuerySpec{
		MetricCandidates:      []string{"cartera_consumo", "cartera_total"},
		RequiresClarification: true,
		Confidence:            0.5,
	}
	outcomes := &fakeOutcomes{}
	generator := &fakeGenerator{}
	engine, retriever := newTestEngine(&fakeParser{spec: spec}, generator, &fakeExecutor{}, outcomes)

	resp, qerr := engine.Process(context.Background(), Request{Text: "dame la cartera"})
	if resp != nil {
		t.Fatal("expected no response for a clarification")
	}
	if qerr.Code != models.ErrAmbiguousQuery {
		t.Errorf("code = %s, want %s", qerr.Code, models.ErrAmbiguousQuery)
	}
	if len(qerr.Options) != 2 {
		t.Errorf("options = %v, want the two candidates", qerr.Options)
	}
	if retriever.calls != 0 || generator.calls != 0 {
		t.Error("clarification must short-circuit before retrieval and generation")
	}
	if len(outcomes.outcomes) != 1 || outcomes.outcomes[0].success {
		t.Errorf("clarification must be logged as a non-success, got %+v", outcomes.outcomes)
	}
}

func TestProcessUnknownBankListsSupported(t *testing.T) {
	spec := models.QuerySpec{
		Metric:                "imor",
		RequiresClarification: true,
		MissingFields:         []string{"bank"},
	}
	engine, _ := newTestEngine(&fakeParser{spec: spec}, &fakeGenerator{}, &fakeExecutor{}, &fakeOutcomes{})

	_, qerr := engine.Process(context.Background(), Request{Text: "imor del banco fantasma"})
	if qerr == nil {
		t.Fatal("expected an error")
	}
	if qerr.Code != models.ErrUnsupportedBank {
		t.Errorf("code = %s, want %s", qerr.Code, models.ErrUnsupportedBank)
	}
	if len(qerr.Options) == 0 {
		t.Error("expected the supported bank list as options")
	}
}

func TestProcessEmptyMetricRejectedBeforeGeneration(t *testing.T) {
	spec := resolvedSpec()
	spec.Metric = "roa"
	generator := &fakeGenerator{}
	engine, _ := newTestEngine(&fakeParser{spec: spec}, generator, &fakeExecutor{}, &fakeOutcomes{})

	_, qerr := engine.Process(context.Background(), Request{Text: "roa de invex"})
	if qerr == nil {
		t.Fatal("expected an error for a metric with no data")
	}
	if qerr.Code != models.ErrUnsupportedMetric {
		t.Errorf("code = %s, want %s", qerr.Code, models.ErrUnsupportedMetric)
	}
	if generator.calls != 0 {
		t.Error("known-empty metric must not reach generation")
	}
}

func TestProcessGenerationFailure(t *testing.T) {
	generator := &fakeGenerator{result: sqlgen.Result{
		Success:   false,
		ErrorCode: models.ErrGenerationFailed,
	}}
	outcomes := &fakeOutcomes{}
	engine, _ := newTestEngine(&fakeParser{spec: resolvedSpec()}, generator, &fakeExecutor{}, outcomes)

	_, qerr := engine.Process(context.Background(), Request{Text: "imor de invex"})
	if qerr == nil || qerr.Code != models.ErrGenerationFailed {
		t.Fatalf("expected generation failure, got %+v", qerr)
	}
	if len(outcomes.outcomes) != 1 || outcomes.outcomes[0].success {
		t.Error("generation failure must be logged as non-success")
	}
}

func TestProcessExecutionFailure(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("interrupted")}
	outcomes := &fakeOutcomes{}
	engine, _ := newTestEngine(&fakeParser{spec: resolvedSpec()}, &fakeGenerator{result: successResult()}, executor, outcomes)

	_, qerr := engine.Process(context.Background(), Request{Text: "imor de invex"})
	if qerr == nil || qerr.Code != models.ErrExecutionError {
		t.Fatalf("expected execution error, got %+v", qerr)
	}
	if len(outcomes.outcomes) != 1 || outcomes.outcomes[0].success {
		t.Error("failed execution must be logged as non-success")
	}
	if outcomes.outcomes[0].sql == "" {
		t.Error("the attempted SQL should be in the log record")
	}
}

func TestProcessPartialMetricCarriesWarning(t *testing.T) {
	spec := resolvedSpec()
	spec.Metric = "cartera_vivienda"
	executor := &fakeExecutor{
		columns: []string{"bank", "date", "cartera_vivienda"},
		rows:    [][]interface{}{{"INVEX", "2024-01-31", v(120.5)}},
	}
	engine, _ := newTestEngine(&fakeParser{spec: spec}, &fakeGenerator{result: successResult()}, executor, &fakeOutcomes{})

	resp, qerr := engine.Process(context.Background(), Request{Text: "cartera de vivienda de invex"})
	if qerr != nil {
		t.Fatalf("unexpected error: %+v", qerr)
	}
	if !hasWarning(resp.Payload.Warnings, "partial_coverage") {
		t.Errorf("warnings = %v, want partial_coverage", resp.Payload.Warnings)
	}
}

func TestProcessLLMStageReported(t *testing.T) {
	generator := &fakeGenerator{result: sqlgen.Result{
		Success: true,
		SQL:     "SELECT bank, AVG(imor) FROM monthly_kpis GROUP BY bank LIMIT 50",
		Path:    sqlgen.GenerationPath{Kind: sqlgen.PathLLM},
	}}
	executor := &fakeExecutor{columns: []string{"bank", "value"}, rows: [][]interface{}{{"INVEX", v(2.0)}}}
	engine, _ := newTestEngine(&fakeParser{spec: resolvedSpec()}, generator, executor, &fakeOutcomes{})

	resp, qerr := engine.Process(context.Background(), Request{Text: "promedio de imor por banco"})
	if qerr != nil {
		t.Fatalf("unexpected error: %+v", qerr)
	}
	if resp.Metadata.Stage != "llm" {
		t.Errorf("stage = %s, want llm", resp.Metadata.Stage)
	}
}

func hasWarning(warnings []string, w string) bool {
	for _, got := range warnings {
		if got == w {
			return true
		}
	}
	return false
}
