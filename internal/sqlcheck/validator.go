package sqlcheck

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/pkg/logger"
)

// ValidationResult carries the verdict plus the sanitized statement that must
// be the only thing ever handed to the executor.
type ValidationResult struct {
	Valid        bool
	SanitizedSQL string
	Error        string
}

type Validator struct {
	maxRows int
}

var (
	forbiddenVerbs = regexp.MustCompile(`\b(insert|update|delete|drop|create|alter|truncate|replace|merge|grant|revoke|attach|detach|vacuum|pragma|exec|execute|call)\b`)

	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`union\s+(all\s+)?select`),
		regexp.MustCompile(`\bor\s+\d+\s*=\s*\d+`),
		regexp.MustCompile(`\bor\s+'[^']*'\s*=\s*'[^']*'`),
		regexp.MustCompile(`;\s*\S`),
		regexp.MustCompile(`\binto\s+(outfile|dumpfile)\b`),
		regexp.MustCompile(`\bload_extension\b`),
		regexp.MustCompile(`\bsleep\s*\(`),
		regexp.MustCompile(`\brandomblob\s*\(`),
	}

	blockComment = regexp.MustCompile(`/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	hashComment  = regexp.MustCompile(`#[^\n]*`)
	whitespace   = regexp.MustCompile(`\s+`)
	limitExpr    = regexp.MustCompile(`\blimit\s+(\d+)`)

	// fromClauseExpr captures the whole relation list so comma-joined tables
	// cannot slip past the whitelist check.
	fromClauseExpr = regexp.MustCompile(`\bfrom\s+(.*?)(?:\bwhere\b|\bgroup\b|\border\b|\bhaving\b|\blimit\b|$)`)
	joinSplitExpr  = regexp.MustCompile(`\b(?:natural\s+)?(?:(?:left|right|full|inner|outer|cross)\s+)*join\b`)
	relationExpr   = regexp.MustCompile(`^[a-z_][a-z0-9_.]*`)
)

func NewValidator(maxRows int) *Validator {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Validator{maxRows: maxRows}
}

// Validate gates every generated statement, template or model produced alike.
// It operates on a normalized copy so casing, comments and whitespace tricks
// cannot slip a forbidden construct past the checks.
func (v *Validator) Validate(sqlText string, allowedTables []string) ValidationResult {
	original := strings.TrimSpace(sqlText)
	if original == "" {
		return invalid("empty statement")
	}

	if blockComment.MatchString(original) || lineComment.MatchString(original) || hashComment.MatchString(original) {
		return invalid("comments are not allowed")
	}

	normalized := Normalize(original)

	if !strings.HasPrefix(normalized, "select ") && normalized != "select" {
		return invalid("only SELECT statements are allowed")
	}

	if strings.Count(original, ";") > 1 || (strings.Contains(original, ";") && !strings.HasSuffix(original, ";")) {
		return invalid("statement stacking is not allowed")
	}

	if m := forbiddenVerbs.FindString(normalized); m != "" {
		return invalid(fmt.Sprintf("forbidden keyword: %s", m))
	}

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(normalized) {
			return invalid("statement matches an injection pattern")
		}
	}

	if err := v.checkTables(normalized, allowedTables); err != "" {
		return invalid(err)
	}

	sanitized := strings.TrimSuffix(original, ";")
	sanitized = v.enforceLimit(sanitized)

	return ValidationResult{Valid: true, SanitizedSQL: sanitized}
}

// Normalize strips comments, collapses whitespace and case-folds. Exposed so
// tests can assert obfuscated payloads collapse to detectable shapes.
func Normalize(sqlText string) string {
	s := blockComment.ReplaceAllString(sqlText, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = hashComment.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// checkTables verifies every relation in every FROM clause against the
// whitelist. Each clause is split on JOIN keywords and commas so every member
// of a relation list is checked, not just the first one.
func (v *Validator) checkTables(normalized string, allowedTables []string) string {
	clauses := fromClauseExpr.FindAllStringSubmatch(normalized, -1)
	if len(clauses) == 0 {
		return "no table reference found"
	}

	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = true
	}

	found := false
	for _, clause := range clauses {
		for _, segment := range joinSplitExpr.Split(clause[1], -1) {
			for _, relation := range strings.Split(segment, ",") {
				relation = strings.TrimSpace(relation)
				if relation == "" {
					continue
				}
				table := relationExpr.FindString(relation)
				if table == "" {
					return "unrecognized relation in FROM clause"
				}
				found = true
				if !allowed[table] {
					logger.Warn("Rejected SQL referencing non-whitelisted table", zap.String("table", table))
					return fmt.Sprintf("table not whitelisted: %s", table)
				}
			}
		}
	}

	if !found {
		return "no table reference found"
	}
	return ""
}

// enforceLimit appends a bounded LIMIT to unbounded SELECTs and caps any
// existing LIMIT that exceeds the configured maximum.
func (v *Validator) enforceLimit(sqlText string) string {
	normalized := strings.ToLower(sqlText)
	m := limitExpr.FindStringSubmatchIndex(normalized)
	if m == nil {
		return fmt.Sprintf("%s LIMIT %d", sqlText, v.maxRows)
	}

	n, err := strconv.Atoi(normalized[m[2]:m[3]])
	if err != nil || n > v.maxRows {
		return sqlText[:m[2]] + strconv.Itoa(v.maxRows) + sqlText[m[3]:]
	}

	return sqlText
}

func invalid(reason string) ValidationResult {
	return ValidationResult{Valid: false, Error: reason}
}
