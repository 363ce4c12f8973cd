package catalog

import (
	"sort"
	"strings"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

// Catalog is the authoritative mapping of canonical metrics, aliases,
// supported banks and column availability. It is static per process; every
// downstream stage treats it as the whitelist of what SQL may reference.
type Catalog struct {
	table        string
	metrics      map[string]models.MetricDefinition
	aliasToName  map[string]string
	sortedAlias  []string
	banks        map[string]string
	bankNames    []string
}

func New(table string) *Catalog {
	c := &Catalog{
		table:       table,
		metrics:     make(map[string]models.MetricDefinition),
		aliasToName: make(map[string]string),
		banks:       make(map[string]string),
	}

	for _, def := range metricDefinitions() {
		c.metrics[def.Canonical] = def
		c.aliasToName[def.Canonical] = def.Canonical
		for _, alias := range def.Aliases {
			c.aliasToName[normalize(alias)] = def.Canonical
		}
	}

	for alias := range c.aliasToName {
		c.sortedAlias = append(c.sortedAlias, alias)
	}
	// Longest alias first so "cartera comercial sin gobierno" is matched
	// before the shorter "cartera comercial".
	sort.Slice(c.sortedAlias, func(i, j int) bool {
		if len(c.sortedAlias[i]) != len(c.sortedAlias[j]) {
			return len(c.sortedAlias[i]) > len(c.sortedAlias[j])
		}
		return c.sortedAlias[i] < c.sortedAlias[j]
	})

	for code, aliases := range bankAliases() {
		c.banks[normalize(code)] = code
		for _, alias := range aliases {
			c.banks[normalize(alias)] = code
		}
		c.bankNames = append(c.bankNames, code)
	}
	sort.Strings(c.bankNames)

	return c
}

func (c *Catalog) Table() string {
	return c.table
}

// ResolveMetric maps a name or alias to its metric definition. The longest
// alias present in the text wins, so compound Spanish metric names are not
// shadowed by their prefixes.
func (c *Catalog) ResolveMetric(nameOrAlias string) (models.MetricDefinition, bool) {
	text := normalize(nameOrAlias)

	if canonical, ok := c.aliasToName[text]; ok {
		return c.metrics[canonical], true
	}

	for _, alias := range c.sortedAlias {
		if containsTerm(text, alias) {
			return c.metrics[c.aliasToName[alias]], true
		}
	}

	return models.MetricDefinition{}, false
}

// MetricCandidates returns canonical metrics whose alias set contains the
// bare term, capped at max. More than one hit means the term is ambiguous and
// the caller must ask the user instead of guessing.
func (c *Catalog) MetricCandidates(term string, max int) []string {
	text := normalize(term)
	if text == "" {
		return nil
	}

	seen := make(map[string]bool)
	var candidates []string
	for _, alias := range c.sortedAlias {
		if !strings.Contains(alias, text) && !strings.Contains(text, alias) {
			continue
		}
		canonical := c.aliasToName[alias]
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		candidates = append(candidates, canonical)
		if len(candidates) >= max {
			break
		}
	}

	sort.Strings(candidates)
	return candidates
}

func (c *Catalog) ResolveBank(name string) (string, bool) {
	code, ok := c.banks[normalize(name)]
	return code, ok
}

func (c *Catalog) IsBankSupported(name string) bool {
	_, ok := c.ResolveBank(name)
	return ok
}

func (c *Catalog) SupportedBanks() []string {
	out := make([]string, len(c.bankNames))
	copy(out, c.bankNames)
	return out
}

// ListAvailableColumns returns the column whitelist: key columns plus every
// metric column whose backing data is at least partially populated.
func (c *Catalog) ListAvailableColumns() []string {
	columns := []string{"bank", "date"}
	for _, def := range c.metrics {
		if def.Status == models.MetricEmpty {
			continue
		}
		columns = append(columns, def.Column)
	}
	sort.Strings(columns)
	return columns
}

func (c *Catalog) Metrics() []models.MetricDefinition {
	var defs []models.MetricDefinition
	for _, def := range c.metrics {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Canonical < defs[j].Canonical })
	return defs
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")
	return replacer.Replace(s)
}

// containsTerm reports whether alias occurs in text on word boundaries.
func containsTerm(text, alias string) bool {
	idx := strings.Index(text, alias)
	for idx >= 0 {
		beforeOK := idx == 0 || !isWordChar(text[idx-1])
		end := idx + len(alias)
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(text[idx+1:], alias)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

func metricDefinitions() []models.MetricDefinition {
	return []models.MetricDefinition{
		{
			Canonical:   "imor",
			Aliases:     []string{"indice de morosidad", "morosidad", "npl ratio", "cartera vencida ratio"},
			Description: "Índice de morosidad: cartera vencida / cartera total.",
			Column:      "imor",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "imor_ajustado",
			Aliases:     []string{"imor ajustado", "morosidad ajustada"},
			Description: "IMOR ajustado por castigos de los últimos 12 meses.",
			Column:      "imor_ajustado",
			Status:      models.MetricPartial,
			DefaultViz:  "line",
		},
		{
			Canonical:   "icap",
			Aliases:     []string{"indice de capitalizacion", "capitalizacion", "capital ratio"},
			Description: "Índice de capitalización: capital neto / activos ponderados por riesgo.",
			Column:      "icap",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "cartera_total",
			Aliases:     []string{"cartera total", "cartera de credito", "total loans"},
			Description: "Cartera de crédito total.",
			Column:      "cartera_total",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "cartera_comercial_total",
			Aliases:     []string{"cartera comercial", "cartera comercial total", "credito comercial"},
			Description: "Cartera comercial total, incluye entidades gubernamentales.",
			Column:      "cartera_comercial_total",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "cartera_comercial_sin_gobierno",
			Aliases:     []string{"cartera comercial sin gobierno", "cartera comercial privada"},
			Description: "Cartera comercial excluyendo entidades gubernamentales.",
			Column:      "cartera_comercial_sin_gobierno",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "cartera_consumo",
			Aliases:     []string{"cartera de consumo", "credito al consumo", "consumo"},
			Description: "Cartera de crédito al consumo.",
			Column:      "cartera_consumo",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "cartera_vivienda",
			Aliases:     []string{"cartera de vivienda", "credito hipotecario", "hipotecas", "vivienda"},
			Description: "Cartera de crédito a la vivienda.",
			Column:      "cartera_vivienda",
			Status:      models.MetricPartial,
			DefaultViz:  "line",
		},
		{
			Canonical:   "captacion_total",
			Aliases:     []string{"captacion", "captacion total", "depositos", "total deposits"},
			Description: "Captación total de recursos.",
			Column:      "captacion_total",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "roe",
			Aliases:     []string{"rentabilidad sobre capital", "return on equity"},
			Description: "Resultado neto / capital contable, 12 meses.",
			Column:      "roe",
			Status:      models.MetricPopulated,
			DefaultViz:  "line",
		},
		{
			Canonical:   "roa",
			Aliases:     []string{"rentabilidad sobre activos", "return on assets"},
			Description: "Resultado neto / activo total, 12 meses.",
			Column:      "roa",
			Status:      models.MetricEmpty,
			DefaultViz:  "line",
		},
		{
			Canonical:   "liquidez",
			Aliases:     []string{"coeficiente de liquidez", "ccl", "liquidity coverage"},
			Description: "Coeficiente de cobertura de liquidez.",
			Column:      "liquidez",
			Status:      models.MetricPartial,
			DefaultViz:  "line",
		},
	}
}

func bankAliases() map[string][]string {
	return map[string][]string{
		"INVEX":       {"banco invex"},
		"BBVA":        {"bbva mexico", "bancomer", "bbva bancomer"},
		"SANTANDER":   {"banco santander", "santander mexico"},
		"BANORTE":     {"banco banorte", "banco mercantil del norte"},
		"HSBC":        {"hsbc mexico"},
		"CITIBANAMEX": {"banamex", "citi", "banco nacional de mexico"},
		"SCOTIABANK":  {"scotia", "scotiabank inverlat"},
		"INBURSA":     {"banco inbursa"},
		"BANREGIO":    {"banco regional", "regional"},
		"BANBAJIO":    {"banco del bajio", "bajio"},
		"AZTECA":      {"banco azteca"},
		"MULTIVA":     {"banco multiva"},
		"AFIRME":      {"banca afirme"},
		"MIFEL":       {"banca mifel"},
	}
}
