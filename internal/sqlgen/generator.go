package sqlgen

import (
	"context"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/llm"
	"github.com/cnbv-agent/backend/internal/metrics"
	"github.com/cnbv-agent/backend/internal/sqlcheck"
	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Result struct {
	Success      bool
	SQL          string
	Path         GenerationPath
	ErrorCode    models.ErrorCode
	ErrorMessage string
}

// Generator synthesizes SQL template-first with an LLM fallback. Both paths
// go through the validator; there is no trusted bypass.
type Generator struct {
	catalog   *catalog.Catalog
	validator *sqlcheck.Validator
	completer Completer
}

func NewGenerator(cat *catalog.Catalog, validator *sqlcheck.Validator, completer Completer) *Generator {
	return &Generator{catalog: cat, validator: validator, completer: completer}
}

func (g *Generator) Generate(ctx context.Context, spec models.QuerySpec, ragCtx models.RagContext, originalText string) Result {
	def, ok := g.catalog.ResolveMetric(spec.Metric)
	if !ok {
		return failure(models.ErrGenerationFailed, "metric not resolvable")
	}

	allowedTables := []string{g.catalog.Table()}

	if name, matched := matchTemplate(spec); matched {
		sqlText, err := buildTemplate(name, g.catalog.Table(), def.Column, spec)
		if err != nil {
			logger.Error("Template build failed", zap.String("template", name), zap.Error(err))
			return failure(models.ErrGenerationFailed, "template build failed")
		}

		validated := g.validator.Validate(sqlText, allowedTables)
		if !validated.Valid {
			// A template producing invalid SQL is a generator defect, not
			// something to retry with relaxed rules.
			metrics.ValidatorRejections.WithLabelValues("template").Inc()
			logger.Error("Template output rejected by validator",
				zap.String("template", name),
				zap.String("sql", sqlText),
				zap.String("reason", validated.Error),
			)
			return failure(models.ErrInvalidSQL, "generated SQL failed validation")
		}

		return Result{
			Success: true,
			SQL:     validated.SanitizedSQL,
			Path:    GenerationPath{Kind: PathTemplate, Template: name},
		}
	}

	return g.generateWithModel(ctx, spec, ragCtx, originalText, allowedTables)
}

func (g *Generator) generateWithModel(ctx context.Context, spec models.QuerySpec, ragCtx models.RagContext, originalText string, allowedTables []string) Result {
	if g.completer == nil {
		return failure(models.ErrGenerationFailed, "no template matched and model fallback is disabled")
	}

	resp, err := g.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sqlSystemPrompt,
		UserPrompt:   buildPrompt(g.catalog.Table(), spec, ragCtx, originalText),
		Temperature:  0.1,
	})
	if err != nil {
		logger.Warn("Model SQL generation failed", zap.Error(err))
		return failure(models.ErrGenerationFailed, "model call failed")
	}

	statement, ok := extractStatement(resp.Content)
	if !ok {
		logger.Warn("Model response contained no SELECT statement")
		return failure(models.ErrGenerationFailed, "model produced no usable statement")
	}

	validated := g.validator.Validate(statement, allowedTables)
	if !validated.Valid {
		metrics.ValidatorRejections.WithLabelValues("llm").Inc()
		logger.Warn("Model SQL rejected by validator",
			zap.String("reason", validated.Error),
		)
		return failure(models.ErrGenerationFailed, "model produced invalid SQL")
	}

	return Result{
		Success: true,
		SQL:     validated.SanitizedSQL,
		Path:    GenerationPath{Kind: PathLLM},
	}
}

func failure(code models.ErrorCode, msg string) Result {
	return Result{Success: false, ErrorCode: code, ErrorMessage: msg}
}
