package results

import (
	"strconv"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

type PayloadKind string

const (
	KindTimeSeries       PayloadKind = "time_series"
	KindComparisonSeries PayloadKind = "comparison_series"
	KindRanking          PayloadKind = "ranking"
	KindScalar           PayloadKind = "scalar"
	KindEmpty            PayloadKind = "empty"
)

const WarningNoData = "no_data"

// pointThreshold is how many rows a point-value lookup may return before the
// richer time-series shape wins.
const pointThreshold = 3

type Point struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

type RankingEntry struct {
	Bank  string   `json:"bank"`
	Value *float64 `json:"value"`
}

type Payload struct {
	Kind          PayloadKind        `json:"kind"`
	Series        []Point            `json:"series,omitempty"`
	SeriesByBank  map[string][]Point `json:"series_by_bank,omitempty"`
	Ranking       []RankingEntry     `json:"ranking,omitempty"`
	Scalar        *float64           `json:"scalar,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	LowConfidence bool               `json:"low_confidence,omitempty"`
}

// Format shapes raw rows for charting. Zero rows is an empty result; rows
// that are all zero or all null get a no_data warning instead of a silently
// misleading flat line — whether that gap is a true zero or an upstream
// data-quality artifact is not decidable here.
func Format(spec models.QuerySpec, columns []string, rows [][]interface{}) Payload {
	if len(rows) == 0 {
		return Payload{Kind: KindEmpty}
	}

	bankIdx, dateIdx, valueIdx := columnIndexes(columns)

	payload := Payload{Kind: classify(spec, rows, bankIdx)}

	switch payload.Kind {
	case KindRanking:
		for _, row := range rows {
			payload.Ranking = append(payload.Ranking, RankingEntry{
				Bank:  stringAt(row, bankIdx),
				Value: floatAt(row, valueIdx),
			})
		}

	case KindComparisonSeries:
		payload.SeriesByBank = make(map[string][]Point)
		for _, row := range rows {
			bank := stringAt(row, bankIdx)
			payload.SeriesByBank[bank] = append(payload.SeriesByBank[bank], Point{
				Date:  stringAt(row, dateIdx),
				Value: floatAt(row, valueIdx),
			})
		}

	case KindScalar:
		payload.Scalar = floatAt(rows[0], valueIdx)

	default:
		for _, row := range rows {
			payload.Series = append(payload.Series, Point{
				Date:  stringAt(row, dateIdx),
				Value: floatAt(row, valueIdx),
			})
		}
	}

	if coverageGap(rows, valueIdx) {
		payload.Warnings = append(payload.Warnings, WarningNoData)
		payload.LowConfidence = true
	}

	return payload
}

// classify picks the payload shape. A point-value intent with more rows than
// the threshold evolves into a time series: the richer representation wins
// whenever the data supports it. A query without a bank filter returns every
// bank, so rows spanning several banks must be keyed per bank rather than
// interleaved into one flat series.
func classify(spec models.QuerySpec, rows [][]interface{}, bankIdx int) PayloadKind {
	switch {
	case spec.RankingMode:
		return KindRanking
	case spec.ComparisonMode || len(spec.Banks) > 1:
		return KindComparisonSeries
	}

	if len(spec.Banks) != 1 && distinctBanks(rows, bankIdx) > 1 {
		return KindComparisonSeries
	}

	pointIntent := spec.TimeRange.Kind == models.RangeLastMonths && spec.TimeRange.N == 1
	if pointIntent && len(rows) <= pointThreshold {
		return KindScalar
	}

	return KindTimeSeries
}

func distinctBanks(rows [][]interface{}, bankIdx int) int {
	if bankIdx < 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, row := range rows {
		if bank := stringAt(row, bankIdx); bank != "" {
			seen[bank] = struct{}{}
		}
	}
	return len(seen)
}

// coverageGap reports whether every returned value is null or exactly zero.
func coverageGap(rows [][]interface{}, valueIdx int) bool {
	for _, row := range rows {
		v := floatAt(row, valueIdx)
		if v != nil && *v != 0 {
			return false
		}
	}
	return true
}

func columnIndexes(columns []string) (bank, date, value int) {
	bank, date, value = -1, -1, -1
	for i, col := range columns {
		switch col {
		case "bank":
			bank = i
		case "date":
			date = i
		default:
			value = i
		}
	}
	return bank, date, value
}

func stringAt(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func floatAt(row []interface{}, idx int) *float64 {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return nil
	}
	switch v := row[idx].(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}
