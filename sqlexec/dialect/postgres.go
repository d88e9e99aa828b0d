package dialect

import "strings"

// Postgres is close to the generation dialect; no rewrites are needed.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (Postgres) Rewrite(sqlText string) string { return sqlText }
