package sqlgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cnbv-agent/backend/internal/storage/models"
)

const sqlSystemPrompt = `You translate analytical questions about Mexican banking indicators into a single SQLite SELECT statement.
Hard rules, no exceptions:
1. Output exactly one SELECT statement and nothing else. No explanation, no markdown.
2. Query only the table named in the context. Never reference any other table.
3. Use only the listed columns.
4. Always include a LIMIT clause.
5. No comments, no semicolons, no statement stacking, no subqueries over other tables.
6. Dates are TEXT in YYYY-MM-DD form; use date() and strftime() for windows.`

func buildPrompt(table string, spec models.QuerySpec, ragCtx models.RagContext, originalText string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n\n", originalText)
	fmt.Fprintf(&b, "Table: %s\n", table)
	fmt.Fprintf(&b, "Columns: %s\n\n", strings.Join(ragCtx.AvailableColumns, ", "))

	fmt.Fprintf(&b, "Parsed intent: metric=%s banks=%v time=%s", spec.Metric, spec.Banks, spec.TimeRange.Kind)
	if spec.RankingMode {
		fmt.Fprintf(&b, " ranking top_n=%d", spec.TopN)
	}
	if spec.ComparisonMode {
		b.WriteString(" comparison")
	}
	b.WriteString("\n")

	if pred := TimePredicate(spec.TimeRange); pred != "" {
		fmt.Fprintf(&b, "Date predicate to use: %s\n", pred)
	}

	if len(ragCtx.MetricDocs) > 0 {
		b.WriteString("\nMetric reference:\n")
		for _, doc := range ragCtx.MetricDocs {
			fmt.Fprintf(&b, "- %s\n", doc.Text)
		}
	}

	if len(ragCtx.SchemaDocs) > 0 {
		b.WriteString("\nSchema reference:\n")
		for _, doc := range ragCtx.SchemaDocs {
			fmt.Fprintf(&b, "- %s\n", doc.Text)
		}
	}

	if len(ragCtx.Examples) > 0 {
		b.WriteString("\nSimilar answered questions:\n")
		for _, ex := range ragCtx.Examples {
			fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", ex.Question, ex.SQL)
		}
	}

	b.WriteString("\nRespond with the SELECT statement only.")
	return b.String()
}

var (
	selectStmtExpr = regexp.MustCompile(`(?is)\bselect\b.*`)
	limitTailExpr  = regexp.MustCompile(`(?i)\blimit\s+\d+(?:\s+offset\s+\d+)?`)
)

// extractStatement pulls a single SELECT out of a possibly fenced or
// prose-wrapped model response.
func extractStatement(content string) (string, bool) {
	content = strings.TrimSpace(content)

	if start := strings.Index(content, "```"); start >= 0 {
		rest := content[start+3:]
		rest = strings.TrimPrefix(rest, "sql")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end >= 0 {
			content = rest[:end]
		} else {
			content = rest
		}
	}

	m := selectStmtExpr.FindString(content)
	if m == "" {
		return "", false
	}

	// Anything after a terminating semicolon is trailing prose or a second
	// statement; either way it does not belong in the candidate.
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}

	// Without a semicolon the statement ends at its LIMIT clause; a SELECT
	// cannot continue past LIMIT N [OFFSET N], so whatever follows is prose.
	if tails := limitTailExpr.FindAllStringIndex(m, -1); len(tails) > 0 {
		m = m[:tails[len(tails)-1][1]]
	}

	return strings.TrimSpace(strings.ReplaceAll(m, "\n", " ")), true
}
