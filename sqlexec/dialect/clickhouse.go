package dialect

import (
	"regexp"
	"strings"
)

// ClickHouse adapts generic warehouse SQL for ClickHouse.
//
// Two rewrites matter in practice: ClickHouse refuses SELECT aliases in
// GROUP BY under some settings, so aliases are expanded back to their
// expressions; and lag() is spelled neighbor() with a -1 offset.
type ClickHouse struct{}

func (ClickHouse) Name() string { return "clickhouse" }

func (ClickHouse) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (c ClickHouse) Rewrite(sqlText string) string {
	out := RewriteGroupByAliases(sqlText)
	out = rewriteLag(out)
	out = dateTruncLowerRe.ReplaceAllString(out, "date_trunc")
	return out
}

var (
	lagRe            = regexp.MustCompile(`(?i)\blag\s*\(([^()]*)\)\s*(over\b)`)
	dateTruncLowerRe = regexp.MustCompile(`(?i)\bDATE_TRUNC\b`)
	groupByClauseRe  = regexp.MustCompile(`(?i)\bgroup\s+by\s+(.+?)(\border\s+by\b|\bhaving\b|\blimit\b|;|$)`)
	selectClauseRe   = regexp.MustCompile(`(?is)\bselect\s+(distinct\s+)?(.*?)\bfrom\b`)
	aliasRe          = regexp.MustCompile(`(?is)^(.*?)\s+as\s+([\w]+)\s*$`)
)

// rewriteLag converts `lag(x) OVER (...)` into `neighbor(x, -1) OVER (...)`.
func rewriteLag(sqlText string) string {
	return lagRe.ReplaceAllStringFunc(sqlText, func(m string) string {
		parts := lagRe.FindStringSubmatch(m)
		arg := strings.TrimSpace(parts[1])
		return "neighbor(" + arg + ", -1) " + parts[2]
	})
}

// RewriteGroupByAliases expands SELECT-list aliases referenced in GROUP BY
// back into their source expressions. Only simple `expr AS alias` entries in
// the first SELECT list are considered.
func RewriteGroupByAliases(sqlText string) string {
	sel := selectClauseRe.FindStringSubmatch(sqlText)
	if sel == nil {
		return sqlText
	}
	aliases := collectAliases(sel[2])
	if len(aliases) == 0 {
		return sqlText
	}

	return groupByClauseRe.ReplaceAllStringFunc(sqlText, func(clause string) string {
		m := groupByClauseRe.FindStringSubmatch(clause)
		items := splitTopLevel(m[1])
		for i, item := range items {
			key := strings.ToLower(strings.TrimSpace(item))
			if expr, ok := aliases[key]; ok {
				items[i] = expr
			} else {
				items[i] = strings.TrimSpace(item)
			}
		}
		tail := m[2]
		if tail != "" && tail != ";" {
			tail = " " + tail
		}
		return "GROUP BY " + strings.Join(items, ", ") + tail
	})
}

func collectAliases(selectList string) map[string]string {
	aliases := make(map[string]string)
	for _, item := range splitTopLevel(selectList) {
		m := aliasRe.FindStringSubmatch(strings.TrimSpace(item))
		if m == nil {
			continue
		}
		expr := strings.TrimSpace(m[1])
		alias := strings.ToLower(strings.TrimSpace(m[2]))
		if expr != "" && alias != "" {
			aliases[alias] = expr
		}
	}
	return aliases
}

// splitTopLevel splits a comma-separated list at parenthesis depth zero.
func splitTopLevel(s string) []string {
	var (
		items []string
		depth int
		start int
	)
	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				items = append(items, s[start:i])
				start = i + 1
			}
		}
	}
	items = append(items, s[start:])
	return items
}
