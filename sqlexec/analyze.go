package sqlexec

import (
	"regexp"
	"strings"

	"github.com/insightflow/insightflow/source"
)

// Analysis summarizes the structural features of a query that drive engine
// selection.
type Analysis struct {
	HasJoins           bool `json:"has_joins"`
	HasAggregations    bool `json:"has_aggregations"`
	HasSubqueries      bool `json:"has_subqueries"`
	HasWindowFunctions bool `json:"has_window_functions"`

	// DataSize is the best-effort row count of the underlying source.
	DataSize int64 `json:"data_size"`
}

var (
	joinRe      = regexp.MustCompile(`(?i)\b(inner|left|right|full|cross)?\s*join\b`)
	aggregateRe = regexp.MustCompile(`(?i)\b(sum|avg|count|min|max|median|stddev)\s*\(`)
	groupByRe   = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	windowRe    = regexp.MustCompile(`(?i)\bover\s*\(`)
	subqueryRe  = regexp.MustCompile(`(?i)\(\s*select\b`)
)

// Analyze inspects the query text and the source descriptor. String literals
// are stripped first so quoted data cannot masquerade as SQL structure.
func Analyze(sqlText string, desc *source.Descriptor) Analysis {
	stripped := StripLiterals(sqlText)

	a := Analysis{
		HasJoins:           joinRe.MatchString(stripped),
		HasAggregations:    aggregateRe.MatchString(stripped) || groupByRe.MatchString(stripped),
		HasSubqueries:      subqueryRe.MatchString(stripped),
		HasWindowFunctions: windowRe.MatchString(stripped),
	}
	if desc != nil {
		a.DataSize = desc.RowCount
		if a.DataSize == 0 {
			a.DataSize = desc.Schema.TotalRows()
		}
		if a.DataSize == 0 && len(desc.InlineSample) > 0 {
			a.DataSize = int64(len(desc.InlineSample))
		}
	}
	return a
}

// AggregationHeavy reports whether the query is dominated by grouping and
// aggregation rather than row-level access, which is what a pre-aggregation
// service answers well.
func (a Analysis) AggregationHeavy() bool {
	return a.HasAggregations && !a.HasWindowFunctions && !a.HasSubqueries
}

// StripLiterals blanks out single- and double-quoted string literals while
// preserving text length, so regex checks cannot match inside quoted data.
func StripLiterals(sqlText string) string {
	out := []rune(sqlText)
	var quote rune
	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch {
		case quote != 0:
			if ch == quote {
				// Doubled quotes escape themselves inside literals.
				if i+1 < len(out) && out[i+1] == quote {
					out[i+1] = ' '
					i++
					continue
				}
				quote = 0
			} else {
				out[i] = ' '
			}
		case ch == '\'' || ch == '"':
			quote = ch
		}
	}
	return string(out)
}

var writeKeywordRe = regexp.MustCompile(`(?i)\b(drop|delete|update|insert|alter|create|truncate|grant|revoke)\b`)

// CheckReadOnly rejects statements containing mutating keywords. The match
// runs over literal-stripped text so "delete" inside a quoted value passes.
func CheckReadOnly(sqlText string) error {
	if m := writeKeywordRe.FindString(StripLiterals(sqlText)); m != "" {
		return &Error{
			Class:   ClassPermanent,
			Message: "query rejected: " + strings.ToUpper(m) + " is not allowed in read-only execution",
		}
	}
	return nil
}

// CheckSyntax performs the cheap structural pre-checks shared by the SQL
// generation and validation stages: non-empty, starts with SELECT or WITH,
// balanced parentheses, and a FROM clause.
func CheckSyntax(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &Error{Class: ClassSyntax, Message: "empty SQL statement"}
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return &Error{Class: ClassSyntax, Message: "statement must start with SELECT or WITH"}
	}
	if !hasBalancedParens(StripLiterals(trimmed)) {
		return &Error{Class: ClassSyntax, Message: "unbalanced parentheses"}
	}
	if !regexp.MustCompile(`(?i)\bfrom\b`).MatchString(StripLiterals(trimmed)) {
		return &Error{Class: ClassSyntax, Message: "missing FROM clause"}
	}
	return nil
}

func hasBalancedParens(s string) bool {
	depth := 0
	for _, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
