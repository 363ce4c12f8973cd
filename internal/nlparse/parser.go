package nlparse

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/pkg/logger"
)

// SpecRefiner is the LLM fallback invoked when the heuristic draft is weak.
// Implementations must honor ctx cancellation; a failing refiner degrades the
// parse to the heuristic draft, never to an error.
type SpecRefiner interface {
	RefineSpec(ctx context.Context, text string, draft RefinerDraft) (*RefinedFields, error)
}

// RefinerDraft is the heuristic state handed to the refiner so the model only
// fills gaps instead of re-deriving everything.
type RefinerDraft struct {
	Metric     string   `json:"metric"`
	Banks      []string `json:"banks"`
	TimeKnown  bool     `json:"time_known"`
	Comparison bool     `json:"comparison"`
	Ranking    bool     `json:"ranking"`
}

// RefinedFields mirrors the fixed structured-output schema the model is
// constrained to. Zero values mean "no opinion" and never overwrite the draft.
type RefinedFields struct {
	Metric        string   `json:"metric"`
	Banks         []string `json:"banks"`
	TimeKind      string   `json:"time_kind"`
	TimeN         int      `json:"time_n"`
	TimeYear      int      `json:"time_year"`
	TimeStart     string   `json:"time_start"`
	TimeEnd       string   `json:"time_end"`
	Comparison    bool     `json:"comparison"`
	Ranking       bool     `json:"ranking"`
	TopN          int      `json:"top_n"`
	Visualization string   `json:"visualization"`
}

type Config struct {
	ConfidenceThreshold float64
	MaxMetricCandidates int
	DefaultTopN         int
}

type Parser struct {
	catalog *catalog.Catalog
	refiner SpecRefiner
	cfg     Config
}

var (
	comparisonExpr  = regexp.MustCompile(`\bvs\b|\bversus\b|\bcomparar\b|\bcompara\b|\bcomparacion\b|\bcompare\b|\bcontra\b`)
	rankingExpr     = regexp.MustCompile(`\btop\s*(\d*)\b|\bmejores\b|\bpeores\b|\branking\b`)
	bankCueExpr     = regexp.MustCompile(`\bbancos?\b|\bbank\b`)
	unknownBankExpr = regexp.MustCompile(`\bbanco\s+([a-z][a-z0-9]+)`)
	barChartExpr    = regexp.MustCompile(`\bbarras?\b|\bbar\b`)
	tableExpr       = regexp.MustCompile(`\btabla\b|\btable\b`)
	accentReplacer  = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")
)

func NewParser(cat *catalog.Catalog, refiner SpecRefiner, cfg Config) *Parser {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.MaxMetricCandidates == 0 {
		cfg.MaxMetricCandidates = 5
	}
	if cfg.DefaultTopN == 0 {
		cfg.DefaultTopN = 5
	}
	return &Parser{catalog: cat, refiner: refiner, cfg: cfg}
}

// Parse turns free text into a QuerySpec. It never fails: the worst outcome
// is a spec with RequiresClarification set and the missing fields listed.
func (p *Parser) Parse(ctx context.Context, text, metricHint string) models.QuerySpec {
	spec := p.heuristicPass(text, metricHint)

	if p.refiner != nil && spec.Confidence < p.cfg.ConfidenceThreshold && len(spec.MetricCandidates) == 0 {
		p.refine(ctx, text, &spec)
	}

	p.finalize(&spec)
	return spec
}

func (p *Parser) heuristicPass(text, metricHint string) models.QuerySpec {
	normalized := normalizeText(text)
	spec := models.QuerySpec{TopN: 0, Confidence: 0.3}

	timeRange, timeKnown := parseTimeRange(normalized)
	spec.TimeRange = timeRange
	if timeKnown {
		spec.Confidence += 0.2
	}

	if comparisonExpr.MatchString(normalized) {
		spec.ComparisonMode = true
	}
	if m := rankingExpr.FindStringSubmatch(normalized); m != nil {
		spec.RankingMode = true
		spec.TopN = p.cfg.DefaultTopN
		if len(m) > 1 && m[1] != "" {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				spec.TopN = n
			}
		}
	}

	p.resolveMetric(normalized, metricHint, &spec)
	p.resolveBanks(normalized, &spec)

	if barChartExpr.MatchString(normalized) {
		spec.Visualization = "bar"
	} else if tableExpr.MatchString(normalized) {
		spec.Visualization = "table"
	}

	if spec.Confidence > 1.0 {
		spec.Confidence = 1.0
	}

	return spec
}

func (p *Parser) resolveMetric(normalized, metricHint string, spec *models.QuerySpec) {
	if metricHint != "" {
		if def, ok := p.catalog.ResolveMetric(metricHint); ok {
			spec.Metric = def.Canonical
			spec.Confidence += 0.25
			return
		}
	}

	if def, ok := p.catalog.ResolveMetric(normalized); ok {
		spec.Metric = def.Canonical
		spec.Confidence += 0.25
		return
	}

	// A bare term hitting several canonical metrics is ambiguity, not a
	// guess: surface the candidates and ask.
	candidates := p.termCandidates(normalized)
	if len(candidates) > 1 {
		spec.MetricCandidates = candidates
		spec.RequiresClarification = true
		return
	}
	if len(candidates) == 1 {
		spec.Metric = candidates[0]
		spec.Confidence += 0.15
		return
	}

	spec.RequiresClarification = true
	spec.MissingFields = append(spec.MissingFields, "metric")
	for _, def := range p.catalog.Metrics() {
		if len(spec.MetricCandidates) >= p.cfg.MaxMetricCandidates {
			break
		}
		spec.MetricCandidates = append(spec.MetricCandidates, def.Canonical)
	}
}

func (p *Parser) termCandidates(normalized string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, token := range tokenize(normalized) {
		if len(token) < 4 || bankCueExpr.MatchString(token) {
			continue
		}
		for _, c := range p.catalog.MetricCandidates(token, p.cfg.MaxMetricCandidates) {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
		if len(out) >= p.cfg.MaxMetricCandidates {
			return out[:p.cfg.MaxMetricCandidates]
		}
	}
	return out
}

func (p *Parser) resolveBanks(normalized string, spec *models.QuerySpec) {
	found := make(map[string]bool)
	for _, name := range p.catalog.SupportedBanks() {
		if containsBank(normalized, name) {
			found[name] = true
		}
	}
	// Alias forms ("bancomer", "banamex") only surface through resolution.
	for _, token := range tokenize(normalized) {
		if code, ok := p.catalog.ResolveBank(token); ok {
			found[code] = true
		}
	}

	for bank := range found {
		spec.Banks = append(spec.Banks, bank)
	}
	sort.Strings(spec.Banks)

	if len(spec.Banks) > 0 {
		spec.Confidence += 0.25
		return
	}

	// "del banco X" with an unrecognized X never falls back to all banks.
	if m := unknownBankExpr.FindStringSubmatch(normalized); m != nil {
		if _, ok := p.catalog.ResolveBank(m[1]); !ok && !isStopword(m[1]) {
			spec.RequiresClarification = true
			spec.MissingFields = append(spec.MissingFields, "bank")
			logger.Debug("Unrecognized bank in query", zap.String("term", m[1]))
			return
		}
	}

	// No bank mentioned at all means the query targets every bank, which is
	// a valid deterministic reading, not a clarification case.
	spec.Confidence += 0.1
}

func (p *Parser) refine(ctx context.Context, text string, spec *models.QuerySpec) {
	draft := RefinerDraft{
		Metric:     spec.Metric,
		Banks:      spec.Banks,
		TimeKnown:  spec.TimeRange.Kind != models.RangeAll,
		Comparison: spec.ComparisonMode,
		Ranking:    spec.RankingMode,
	}

	refined, err := p.refiner.RefineSpec(ctx, text, draft)
	if err != nil {
		logger.Warn("Spec refiner unavailable, keeping heuristic draft", zap.Error(err))
		return
	}
	if refined == nil {
		return
	}

	if spec.Metric == "" && refined.Metric != "" {
		if def, ok := p.catalog.ResolveMetric(refined.Metric); ok {
			spec.Metric = def.Canonical
			spec.RequiresClarification = false
			spec.MissingFields = removeField(spec.MissingFields, "metric")
			spec.MetricCandidates = nil
		}
	}

	if len(spec.Banks) == 0 && len(refined.Banks) > 0 {
		for _, b := range refined.Banks {
			if code, ok := p.catalog.ResolveBank(b); ok {
				spec.Banks = append(spec.Banks, code)
			}
		}
		if len(spec.Banks) > 0 {
			spec.MissingFields = removeField(spec.MissingFields, "bank")
		}
		sort.Strings(spec.Banks)
	}

	if spec.TimeRange.Kind == models.RangeAll && refined.TimeKind != "" {
		if tr, ok := refinedTimeRange(refined); ok {
			spec.TimeRange = tr
		}
	}

	if refined.Comparison {
		spec.ComparisonMode = true
	}
	if refined.Ranking {
		spec.RankingMode = true
		if spec.TopN == 0 {
			spec.TopN = p.cfg.DefaultTopN
		}
		if refined.TopN > 0 {
			spec.TopN = refined.TopN
		}
	}
	if spec.Visualization == "" && refined.Visualization != "" {
		spec.Visualization = refined.Visualization
	}

	spec.Confidence = p.cfg.ConfidenceThreshold
}

func (p *Parser) finalize(spec *models.QuerySpec) {
	if spec.Metric != "" && spec.Visualization == "" {
		if def, ok := p.catalog.ResolveMetric(spec.Metric); ok {
			spec.Visualization = def.DefaultViz
		}
	}

	if spec.RankingMode && spec.TopN == 0 {
		spec.TopN = p.cfg.DefaultTopN
	}

	if spec.ComparisonMode && len(spec.Banks) < 2 && !spec.RequiresClarification {
		spec.RequiresClarification = true
		spec.MissingFields = append(spec.MissingFields, "banks")
	}

	if spec.Metric == "" && !spec.RequiresClarification {
		spec.RequiresClarification = true
		spec.MissingFields = append(spec.MissingFields, "metric")
	}

	if spec.RequiresClarification && spec.Confidence > 0.5 {
		spec.Confidence = 0.5
	}
}

func refinedTimeRange(r *RefinedFields) (models.TimeRangeSpec, bool) {
	switch models.TimeRangeKind(r.TimeKind) {
	case models.RangeLastMonths:
		if r.TimeN > 0 {
			return models.TimeRangeSpec{Kind: models.RangeLastMonths, N: r.TimeN}, true
		}
	case models.RangeLastQuarters:
		if r.TimeN > 0 {
			return models.TimeRangeSpec{Kind: models.RangeLastQuarters, N: r.TimeN}, true
		}
	case models.RangeYear:
		if r.TimeYear >= 2000 && r.TimeYear <= 2100 {
			return models.TimeRangeSpec{Kind: models.RangeYear, Year: r.TimeYear}, true
		}
	case models.RangeBetween:
		if r.TimeStart != "" && r.TimeEnd != "" {
			return models.TimeRangeSpec{Kind: models.RangeBetween, Start: r.TimeStart, End: r.TimeEnd}, true
		}
	case models.RangeAll:
		return models.TimeRangeSpec{Kind: models.RangeAll}, true
	}
	return models.TimeRangeSpec{}, false
}

func normalizeText(text string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(text)))
}

// tokenize splits the query with prose; malformed input falls back to a
// whitespace split so the parser never raises.
func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return strings.Fields(text)
	}

	var tokens []string
	for _, tok := range doc.Tokens() {
		t := strings.TrimSpace(tok.Text)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func containsBank(normalized, bank string) bool {
	b := normalizeText(bank)
	idx := strings.Index(normalized, b)
	for idx >= 0 {
		beforeOK := idx == 0 || !isAlnum(normalized[idx-1])
		end := idx + len(b)
		afterOK := end == len(normalized) || !isAlnum(normalized[end])
		if beforeOK && afterOK {
			return true
		}
		rest := strings.Index(normalized[idx+1:], b)
		if rest < 0 {
			return false
		}
		idx = idx + 1 + rest
	}
	return false
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func isStopword(token string) bool {
	switch token {
	case "de", "del", "que", "con", "para", "los", "las", "una", "uno":
		return true
	}
	return false
}

func removeField(fields []string, field string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != field {
			out = append(out, f)
		}
	}
	return out
}

