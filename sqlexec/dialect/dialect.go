// Package dialect rewrites generated SQL for a target engine. Generation
// aims at a generic warehouse dialect; each adapter patches the constructs
// its engine disagrees on and injects the default row limit.
package dialect

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultLimit rows are appended to unlimited non-aggregate queries.
const DefaultLimit = 1000

// Adapter adjusts SQL text for one engine dialect.
type Adapter interface {
	// Name is the dialect identifier ("sqlite", "clickhouse", ...).
	Name() string

	// Rewrite returns the SQL adjusted for the dialect. Rewrites are
	// text-level and idempotent.
	Rewrite(sqlText string) string

	// Quote wraps an identifier in the dialect's quoting style.
	Quote(ident string) string
}

var registry = map[string]Adapter{
	"sqlite":     SQLite{},
	"clickhouse": ClickHouse{},
	"postgres":   Postgres{},
	"mysql":      MySQL{},
}

// Get returns the adapter for name, falling back to the identity-like
// postgres adapter for unknown dialects.
func Get(name string) Adapter {
	if a, ok := registry[strings.ToLower(name)]; ok {
		return a
	}
	return Postgres{}
}

var (
	limitRe     = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	countOnlyRe = regexp.MustCompile(`(?i)^\s*select\s+count\s*\(`)
	trailingRe  = regexp.MustCompile(`[;\s]+$`)
)

// InjectLimit appends "LIMIT n" when the statement has no limit and is not a
// bare COUNT. Trailing semicolons are dropped first so the clause lands at
// the end of the statement.
func InjectLimit(sqlText string, n int) string {
	if n <= 0 {
		n = DefaultLimit
	}
	if limitRe.MatchString(sqlText) || countOnlyRe.MatchString(sqlText) {
		return sqlText
	}
	trimmed := trailingRe.ReplaceAllString(sqlText, "")
	return trimmed + " LIMIT " + strconv.Itoa(n)
}
