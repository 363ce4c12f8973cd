package nlparse

import (
	"regexp"
	"strconv"
	"time"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

var (
	lastMonthsExpr   = regexp.MustCompile(`(?:ultimos?|last|pasados?)\s+(\d{1,3})\s+(?:meses|mes|months?)`)
	lastQuartersExpr = regexp.MustCompile(`(?:ultimos?|last|pasados?)\s+(\d{1,2})\s+(?:trimestres?|quarters?)`)
	singleMonthExpr  = regexp.MustCompile(`(?:ultimo|last|este)\s+(?:mes|month)`)
	singleQuartExpr  = regexp.MustCompile(`(?:ultimo|last|este)\s+(?:trimestre|quarter)`)
	betweenExpr      = regexp.MustCompile(`(?:entre|between)\s+(\d{4}-\d{2}(?:-\d{2})?)\s+(?:y|and)\s+(\d{4}-\d{2}(?:-\d{2})?)`)
	fromToExpr       = regexp.MustCompile(`(?:de|desde|from)\s+(\d{4}-\d{2}(?:-\d{2})?)\s+(?:a|hasta|to)\s+(\d{4}-\d{2}(?:-\d{2})?)`)
	yearExpr         = regexp.MustCompile(`\b(20\d{2})\b`)
	allHistoryExpr   = regexp.MustCompile(`todo el historial|toda la historia|historico completo|all history|full history|desde el inicio|since inception`)
)

// parseTimeRange recognizes relative windows, explicit years, explicit date
// ranges and "all history" from normalized text. The second return value is
// false when the text carries no recognizable time expression.
func parseTimeRange(text string) (models.TimeRangeSpec, bool) {
	if allHistoryExpr.MatchString(text) {
		return models.TimeRangeSpec{Kind: models.RangeAll}, true
	}

	if m := lastMonthsExpr.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return models.TimeRangeSpec{Kind: models.RangeLastMonths, N: n}, true
		}
	}

	if m := lastQuartersExpr.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return models.TimeRangeSpec{Kind: models.RangeLastQuarters, N: n}, true
		}
	}

	if singleMonthExpr.MatchString(text) {
		return models.TimeRangeSpec{Kind: models.RangeLastMonths, N: 1}, true
	}

	if singleQuartExpr.MatchString(text) {
		return models.TimeRangeSpec{Kind: models.RangeLastQuarters, N: 1}, true
	}

	if m := betweenExpr.FindStringSubmatch(text); m != nil {
		return models.TimeRangeSpec{Kind: models.RangeBetween, Start: expandDate(m[1], false), End: expandDate(m[2], true)}, true
	}

	if m := fromToExpr.FindStringSubmatch(text); m != nil {
		return models.TimeRangeSpec{Kind: models.RangeBetween, Start: expandDate(m[1], false), End: expandDate(m[2], true)}, true
	}

	if m := yearExpr.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return models.TimeRangeSpec{Kind: models.RangeYear, Year: y}, true
	}

	return models.TimeRangeSpec{Kind: models.RangeAll}, false
}

// expandDate turns a YYYY-MM bound into a full date, snapping the end bound to
// the actual last day of the month so BETWEEN covers the whole window.
func expandDate(d string, end bool) string {
	if len(d) == 10 {
		return d
	}
	if !end {
		return d + "-01"
	}
	t, err := time.Parse("2006-01", d)
	if err != nil {
		return d + "-01"
	}
	return t.AddDate(0, 1, -1).Format("2006-01-02")
}
