package dialect

import (
	"regexp"
	"strings"
)

// SQLite adapts warehouse SQL for the embedded engine. The engine registers
// a date_trunc scalar, so DATE_TRUNC survives as a lowercase call; the
// SUBSTRING ... FROM form and POSITION are mapped onto substr/instr.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

var (
	sqliteDateTruncRe = regexp.MustCompile(`(?i)\bDATE_TRUNC\b`)
	positionRe        = regexp.MustCompile(`(?i)\bposition\s*\(\s*([^()]+?)\s+in\s+([^()]+?)\s*\)`)
	substringFromRe   = regexp.MustCompile(`(?i)\bsubstring\s*\(\s*([\w.]+)\s+from\s+([^()]+?)\s*\)`)
	ilikeRe           = regexp.MustCompile(`(?i)\bilike\b`)
)

func (s SQLite) Rewrite(sqlText string) string {
	out := sqliteDateTruncRe.ReplaceAllString(sqlText, "date_trunc")
	// SUBSTRING(col FROM expr) carries a warehouse-ism; SQLite wants
	// substr(col, expr).
	out = substringFromRe.ReplaceAllString(out, "substr($1, $2)")
	out = positionRe.ReplaceAllString(out, "instr($2, $1)")
	// LIKE is already case-insensitive for ASCII in SQLite.
	out = ilikeRe.ReplaceAllString(out, "LIKE")
	return out
}
