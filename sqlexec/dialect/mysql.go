package dialect

import (
	"regexp"
	"strings"
)

// MySQL adapts warehouse SQL for MySQL: backtick quoting, and DATE_TRUNC
// mapped onto DATE_FORMAT for the granularities the generator emits.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

var mysqlDateTruncRe = regexp.MustCompile(`(?i)\bdate_trunc\s*\(\s*'(\w+)'\s*,\s*([^()]+?)\s*\)`)

var mysqlTruncFormats = map[string]string{
	"year":  "%Y-01-01",
	"month": "%Y-%m-01",
	"day":   "%Y-%m-%d",
	"hour":  "%Y-%m-%d %H:00:00",
}

func (m MySQL) Rewrite(sqlText string) string {
	return mysqlDateTruncRe.ReplaceAllStringFunc(sqlText, func(call string) string {
		parts := mysqlDateTruncRe.FindStringSubmatch(call)
		format, ok := mysqlTruncFormats[strings.ToLower(parts[1])]
		if !ok {
			return call
		}
		return "DATE_FORMAT(" + strings.TrimSpace(parts[2]) + ", '" + format + "')"
	})
}
