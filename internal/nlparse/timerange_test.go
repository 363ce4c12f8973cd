package nlparse

import (
	"testing"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

func TestParseTimeRange(t *testing.T) {
	cases := []struct {
		text  string
		known bool
		want  models.TimeRangeSpec
	}{
		{"imor de invex ultimos 3 meses", true, models.TimeRangeSpec{Kind: models.RangeLastMonths, N: 3}},
		{"icap last 6 months", true, models.TimeRangeSpec{Kind: models.RangeLastMonths, N: 6}},
		{"cartera total ultimos 2 trimestres", true, models.TimeRangeSpec{Kind: models.RangeLastQuarters, N: 2}},
		{"imor del ultimo mes", true, models.TimeRangeSpec{Kind: models.RangeLastMonths, N: 1}},
		{"icap del ultimo trimestre", true, models.TimeRangeSpec{Kind: models.RangeLastQuarters, N: 1}},
		{"imor entre 2023-01 y 2023-06", true, models.TimeRangeSpec{Kind: models.RangeBetween, Start: "2023-01-01", End: "2023-06-30"}},
		{"imor de 2023-01-15 a 2023-06-15", true, models.TimeRangeSpec{Kind: models.RangeBetween, Start: "2023-01-15", End: "2023-06-15"}},
		{"imor de invex en 2024", true, models.TimeRangeSpec{Kind: models.RangeYear, Year: 2024}},
		{"todo el historial de imor", true, models.TimeRangeSpec{Kind: models.RangeAll}},
		{"imor de invex", false, models.TimeRangeSpec{Kind: models.RangeAll}},
	}

	for _, tc := range cases {
		got, known := parseTimeRange(tc.text)
		if known != tc.known {
			t.Errorf("%q: known = %v, want %v", tc.text, known, tc.known)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %+v, want %+v", tc.text, got, tc.want)
		}
	}
}

func TestExpandDate(t *testing.T) {
	if got := expandDate("2023-04", false); got != "2023-04-01" {
		t.Errorf("start bound: got %s", got)
	}
	if got := expandDate("2023-04", true); got != "2023-04-30" {
		t.Errorf("end bound: got %s", got)
	}
	if got := expandDate("2024-02", true); got != "2024-02-29" {
		t.Errorf("leap-year end bound: got %s", got)
	}
	if got := expandDate("2023-12", true); got != "2023-12-31" {
		t.Errorf("december end bound: got %s", got)
	}
	if got := expandDate("2023-04-15", true); got != "2023-04-15" {
		t.Errorf("full date must pass through: got %s", got)
	}
}
