package models

import "time"

type MetricStatus string

const (
	MetricPopulated MetricStatus = "populated"
	MetricPartial   MetricStatus = "partial"
	MetricEmpty     MetricStatus = "empty"
)

type MetricDefinition struct {
	Canonical   string
	Aliases     []string
	Description string
	Column      string
	Status      MetricStatus
	DefaultViz  string
}

type TimeRangeKind string

const (
	RangeLastMonths   TimeRangeKind = "last_n_months"
	RangeLastQuarters TimeRangeKind = "last_n_quarters"
	RangeYear         TimeRangeKind = "year"
	RangeBetween      TimeRangeKind = "between_dates"
	RangeAll          TimeRangeKind = "all"
)

type TimeRangeSpec struct {
	Kind  TimeRangeKind
	N     int
	Year  int
	Start string
	End   string
}

type QuerySpec struct {
	Metric                string
	MetricCandidates      []string
	Banks                 []string
	TimeRange             TimeRangeSpec
	Granularity           string
	Visualization         string
	ComparisonMode        bool
	RankingMode           bool
	TopN                  int
	RequiresClarification bool
	MissingFields         []string
	Confidence            float64
}

type RagExample struct {
	ID       string
	Question string
	SQL      string
	Metric   string
	Bank     string
	Learned  bool
	Score    float64
}

type RagSnippet struct {
	Text  string
	Score float64
}

type RagContext struct {
	MetricDocs       []RagSnippet
	SchemaDocs       []RagSnippet
	Examples         []RagExample
	AvailableColumns []string
	Degraded         bool
}

type QueryLogRecord struct {
	ID          string
	QueryText   string
	SQL         string
	Metric      string
	Bank        string
	LatencyMS   int
	Success     bool
	SeededToRAG bool
	CreatedAt   time.Time
}

type Row struct {
	Bank  string
	Date  string
	Value *float64
}
