package sqlcheck

import (
	"strings"
	"testing"
)

var allowed = []string{"monthly_kpis"}

func TestValidateAcceptsWellFormedSelect(t *testing.T) {
	v := NewValidator(1000)

	res := v.Validate("SELECT bank, date, imor FROM monthly_kpis WHERE bank = 'INVEX' ORDER BY date ASC", allowed)
	if !res.Valid {
		t.Fatalf("expected valid, got error: %s", res.Error)
	}
	if !strings.Contains(res.SanitizedSQL, "LIMIT 1000") {
		t.Errorf("expected limit enforcement, got: %s", res.SanitizedSQL)
	}
}

func TestValidateRejectsNonSelect(t *testing.T) {
	v := NewValidator(1000)

	cases := []string{
		"DROP TABLE monthly_kpis",
		"DELETE FROM monthly_kpis",
		"UPDATE monthly_kpis SET imor = 0",
		"INSERT INTO monthly_kpis VALUES (1)",
		"PRAGMA table_info(monthly_kpis)",
		"WITH x AS (SELECT 1) SELECT * FROM x",
	}

	for _, sql := range cases {
		if res := v.Validate(sql, allowed); res.Valid {
			t.Errorf("expected rejection for: %s", sql)
		}
	}
}

func TestValidateRejectsInjectionShapes(t *testing.T) {
	v := NewValidator(1000)

	cases := []string{
		"SELECT imor FROM monthly_kpis; DROP TABLE monthly_kpis",
		"SELECT imor FROM monthly_kpis WHERE bank = '' OR 1=1",
		"SELECT imor FROM monthly_kpis WHERE bank = '' OR 'a'='a'",
		"SELECT imor FROM monthly_kpis UNION SELECT sql FROM sqlite_master",
		"SELECT imor FROM monthly_kpis UNION ALL SELECT name FROM sqlite_master",
		"SELECT load_extension('evil') FROM monthly_kpis",
		"SELECT randomblob(100000000) FROM monthly_kpis",
	}

	for _, sql := range cases {
		if res := v.Validate(sql, allowed); res.Valid {
			t.Errorf("expected rejection for: %s", sql)
		}
	}
}

func TestValidateRejectsObfuscation(t *testing.T) {
	v := NewValidator(1000)

	cases := []string{
		"SeLeCt imor FROM monthly_kpis WHERE bank = '' oR 1 = 1",
		"SELECT imor FROM monthly_kpis -- hidden",
		"SELECT/*x*/imor FROM monthly_kpis",
		"SELECT imor FROM monthly_kpis # comment",
		"SELECT imor FROM\n\tmonthly_kpis WHERE bank = '' OR\n1=1",
	}

	for _, sql := range cases {
		if res := v.Validate(sql, allowed); res.Valid {
			t.Errorf("expected rejection for: %s", sql)
		}
	}
}

func TestValidateRejectsNonWhitelistedTable(t *testing.T) {
	v := NewValidator(1000)

	cases := []string{
		"SELECT * FROM sqlite_master",
		"SELECT * FROM users",
		"SELECT a.imor FROM monthly_kpis a JOIN secrets b ON a.bank = b.bank",
		"SELECT a.imor FROM monthly_kpis a LEFT OUTER JOIN secrets b ON a.bank = b.bank",
	}

	for _, sql := range cases {
		res := v.Validate(sql, allowed)
		if res.Valid {
			t.Errorf("expected rejection for: %s", sql)
			continue
		}
		if !strings.Contains(res.Error, "table") && !strings.Contains(res.Error, "whitelisted") {
			t.Errorf("expected table whitelist error, got: %s", res.Error)
		}
	}
}

func TestValidateRejectsCommaJoinedTables(t *testing.T) {
	v := NewValidator(1000)

	// Every member of a comma-separated relation list counts as a referenced
	// table, not just the first one.
	cases := []string{
		"SELECT q.query_text FROM monthly_kpis, query_log q LIMIT 10",
		"SELECT s.sql FROM monthly_kpis, sqlite_master s LIMIT 10",
		"SELECT * FROM monthly_kpis m, monthly_kpis n, secrets x",
	}

	for _, sql := range cases {
		res := v.Validate(sql, allowed)
		if res.Valid {
			t.Errorf("expected rejection for: %s", sql)
			continue
		}
		if !strings.Contains(res.Error, "whitelisted") {
			t.Errorf("expected table whitelist error, got: %s", res.Error)
		}
	}
}

func TestValidateAcceptsSelfCommaJoin(t *testing.T) {
	v := NewValidator(1000)

	res := v.Validate("SELECT a.imor FROM monthly_kpis a, monthly_kpis b WHERE a.bank = b.bank", allowed)
	if !res.Valid {
		t.Errorf("comma list over whitelisted tables must pass, got: %s", res.Error)
	}
}

func TestValidateRejectsSubqueryRelation(t *testing.T) {
	v := NewValidator(1000)

	res := v.Validate("SELECT * FROM (SELECT sql FROM sqlite_master)", allowed)
	if res.Valid {
		t.Error("expected a subquery relation to be rejected")
	}
}

func TestValidateTrailingSemicolonAllowed(t *testing.T) {
	v := NewValidator(1000)

	res := v.Validate("SELECT imor FROM monthly_kpis;", allowed)
	if !res.Valid {
		t.Fatalf("expected trailing semicolon to be tolerated, got: %s", res.Error)
	}
	if strings.Contains(res.SanitizedSQL, ";") {
		t.Errorf("expected semicolon stripped from sanitized SQL: %s", res.SanitizedSQL)
	}
}

func TestEnforceLimitCapsExcessive(t *testing.T) {
	v := NewValidator(100)

	res := v.Validate("SELECT imor FROM monthly_kpis LIMIT 999999", allowed)
	if !res.Valid {
		t.Fatalf("unexpected rejection: %s", res.Error)
	}
	if !strings.Contains(res.SanitizedSQL, "LIMIT 100") {
		t.Errorf("expected limit capped at 100, got: %s", res.SanitizedSQL)
	}
}

func TestEnforceLimitKeepsSmall(t *testing.T) {
	v := NewValidator(100)

	res := v.Validate("SELECT imor FROM monthly_kpis LIMIT 12", allowed)
	if !res.Valid {
		t.Fatalf("unexpected rejection: %s", res.Error)
	}
	if !strings.Contains(res.SanitizedSQL, "LIMIT 12") {
		t.Errorf("expected original limit kept, got: %s", res.SanitizedSQL)
	}
}

func TestValidateEmptyStatement(t *testing.T) {
	v := NewValidator(1000)

	if res := v.Validate("   ", allowed); res.Valid {
		t.Error("expected empty statement to be rejected")
	}
}

func TestNormalizeCollapsesTricks(t *testing.T) {
	got := Normalize("SeLeCt  imor\nFROM\tmonthly_kpis")
	want := "select imor from monthly_kpis"
	if got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}
