package sqlgen

import (
	"fmt"
	"strings"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

// PathKind is the closed set of generation paths. Keeping it a tagged variant
// instead of free-form strings gives template dispatch an exhaustive switch.
type PathKind string

const (
	PathTemplate PathKind = "template"
	PathLLM      PathKind = "llm"
)

type GenerationPath struct {
	Kind     PathKind
	Template string
}

const (
	templateSeries     = "series"
	templateComparison = "comparison"
	templateRanking    = "ranking"
)

// TimePredicate translates a TimeRangeSpec into a deterministic SQLite date
// predicate. RangeAll yields no predicate.
func TimePredicate(tr models.TimeRangeSpec) string {
	switch tr.Kind {
	case models.RangeLastMonths:
		return fmt.Sprintf("date >= date('now', '-%d months')", tr.N)
	case models.RangeLastQuarters:
		return fmt.Sprintf("date >= date('now', '-%d months')", tr.N*3)
	case models.RangeYear:
		return fmt.Sprintf("strftime('%%Y', date) = '%d'", tr.Year)
	case models.RangeBetween:
		return fmt.Sprintf("date BETWEEN '%s' AND '%s'", tr.Start, tr.End)
	case models.RangeAll:
		return ""
	}
	return ""
}

// matchTemplate selects a template for the spec's structural shape, or
// reports that generation must fall back to the model.
func matchTemplate(spec models.QuerySpec) (string, bool) {
	if spec.Metric == "" || spec.RequiresClarification {
		return "", false
	}

	// Aggregated granularities are not template shapes; the model handles
	// them with the retrieved context.
	if spec.Granularity != "" && spec.Granularity != "monthly" {
		return "", false
	}

	switch {
	case spec.RankingMode:
		return templateRanking, true
	case spec.ComparisonMode:
		if len(spec.Banks) < 2 {
			return "", false
		}
		return templateComparison, true
	default:
		return templateSeries, true
	}
}

// buildTemplate renders the chosen template. Every output still passes the
// validator before it is marked successful.
func buildTemplate(name, table, column string, spec models.QuerySpec) (string, error) {
	timePred := TimePredicate(spec.TimeRange)

	switch name {
	case templateSeries:
		conds := []string{}
		if len(spec.Banks) == 1 {
			conds = append(conds, fmt.Sprintf("bank = '%s'", spec.Banks[0]))
		} else if len(spec.Banks) > 1 {
			conds = append(conds, bankInList(spec.Banks))
		}
		if timePred != "" {
			conds = append(conds, timePred)
		}
		return fmt.Sprintf("SELECT bank, date, %s FROM %s%s ORDER BY date, bank",
			column, table, whereClause(conds)), nil

	case templateComparison:
		conds := []string{bankInList(spec.Banks)}
		if timePred != "" {
			conds = append(conds, timePred)
		}
		return fmt.Sprintf("SELECT bank, date, %s FROM %s%s ORDER BY date, bank",
			column, table, whereClause(conds)), nil

	case templateRanking:
		conds := []string{}
		if timePred != "" {
			conds = append(conds, timePred)
		}
		return fmt.Sprintf("SELECT bank, AVG(%s) AS value FROM %s%s GROUP BY bank ORDER BY value DESC LIMIT %d",
			column, table, whereClause(conds), spec.TopN), nil
	}

	return "", fmt.Errorf("unknown template: %s", name)
}

func bankInList(banks []string) string {
	quoted := make([]string, len(banks))
	for i, b := range banks {
		quoted[i] = "'" + b + "'"
	}
	return fmt.Sprintf("bank IN (%s)", strings.Join(quoted, ", "))
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
