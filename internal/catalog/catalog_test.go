package catalog

import (
	"testing"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

func TestResolveMetricLongestAliasWins(t *testing.T) {
	c := New("monthly_kpis")

	def, ok := c.ResolveMetric("cartera comercial sin gobierno de invex")
	if !ok {
		t.Fatal("expected metric to resolve")
	}
	if def.Canonical != "cartera_comercial_sin_gobierno" {
		t.Errorf("expected cartera_comercial_sin_gobierno, got %s", def.Canonical)
	}

	def, ok = c.ResolveMetric("cartera comercial de bbva")
	if !ok {
		t.Fatal("expected metric to resolve")
	}
	if def.Canonical != "cartera_comercial_total" {
		t.Errorf("expected cartera_comercial_total, got %s", def.Canonical)
	}
}

func TestResolveMetricAccentFolding(t *testing.T) {
	c := New("monthly_kpis")

	def, ok := c.ResolveMetric("índice de morosidad")
	if !ok {
		t.Fatal("expected accented alias to resolve")
	}
	if def.Canonical != "imor" {
		t.Errorf("expected imor, got %s", def.Canonical)
	}

	def, ok = c.ResolveMetric("captación")
	if !ok {
		t.Fatal("expected captación to resolve")
	}
	if def.Canonical != "captacion_total" {
		t.Errorf("expected captacion_total, got %s", def.Canonical)
	}
}

func TestResolveMetricWordBoundary(t *testing.T) {
	c := New("monthly_kpis")

	// "roe" must not match inside an unrelated word.
	if _, ok := c.ResolveMetric("errores del sistema"); ok {
		t.Error("expected no metric match inside a longer word")
	}

	if _, ok := c.ResolveMetric("cual es el roe de banorte"); !ok {
		t.Error("expected roe to match as a standalone word")
	}
}

func TestMetricCandidatesAmbiguousTerm(t *testing.T) {
	c := New("monthly_kpis")

	candidates := c.MetricCandidates("cartera", 5)
	if len(candidates) < 2 {
		t.Fatalf("expected 'cartera' to be ambiguous, got %v", candidates)
	}
	for _, name := range candidates {
		if _, ok := c.ResolveMetric(name); !ok {
			t.Errorf("candidate %s is not a resolvable metric", name)
		}
	}
}

func TestMetricCandidatesCapped(t *testing.T) {
	c := New("monthly_kpis")

	candidates := c.MetricCandidates("cartera", 2)
	if len(candidates) > 2 {
		t.Errorf("expected at most 2 candidates, got %d", len(candidates))
	}
}

func TestResolveBank(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"invex", "INVEX"},
		{"Banco Invex", "INVEX"},
		{"bancomer", "BBVA"},
		{"banamex", "CITIBANAMEX"},
		{"banco del bajío", "BANBAJIO"},
	}

	c := New("monthly_kpis")
	for _, tc := range cases {
		got, ok := c.ResolveBank(tc.in)
		if !ok {
			t.Errorf("ResolveBank(%q): expected match", tc.in)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolveBank(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, ok := c.ResolveBank("banco fantasma"); ok {
		t.Error("expected unknown bank to not resolve")
	}
}

func TestListAvailableColumnsExcludesEmptyMetrics(t *testing.T) {
	c := New("monthly_kpis")

	columns := c.ListAvailableColumns()
	set := make(map[string]bool, len(columns))
	for _, col := range columns {
		set[col] = true
	}

	if !set["bank"] || !set["date"] {
		t.Error("expected key columns bank and date to always be present")
	}
	if set["roa"] {
		t.Error("expected empty metric roa to be excluded from available columns")
	}
	if !set["imor"] || !set["cartera_total"] {
		t.Error("expected populated metric columns to be present")
	}
	// Partial metrics stay queryable, the gap is surfaced as a warning later.
	if !set["cartera_vivienda"] {
		t.Error("expected partial metric column to be present")
	}
}

func TestMetricsSortedAndComplete(t *testing.T) {
	c := New("monthly_kpis")

	defs := c.Metrics()
	if len(defs) != 12 {
		t.Fatalf("expected 12 metric definitions, got %d", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Canonical >= defs[i].Canonical {
			t.Fatalf("definitions not sorted: %s before %s", defs[i-1].Canonical, defs[i].Canonical)
		}
	}

	empty := 0
	for _, def := range defs {
		if def.Status == models.MetricEmpty {
			empty++
		}
	}
	if empty != 1 {
		t.Errorf("expected exactly one empty metric, got %d", empty)
	}
}
