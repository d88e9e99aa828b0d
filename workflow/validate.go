package workflow

import (
	"context"
	"regexp"
	"strings"

	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
	"github.com/insightflow/insightflow/sqlexec/dialect"
)

var tableRefRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+([\w.]+)`)

// ValidateSQL performs static safety and schema grounding before execution:
// read-only enforcement, syntax sanity, table existence, the file-source
// table rewrite, and limit injection.
func (n *Nodes) ValidateSQL(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 40
	s.ProgressMessage = "Validating SQL"

	if s.SQLQuery == "" {
		return fail(s, StageValidateSQLFailed, "no SQL to validate")
	}
	if err := sqlexec.CheckReadOnly(s.SQLQuery); err != nil {
		return fail(s, StageValidateSQLFailed, err.Error())
	}
	if err := sqlexec.CheckSyntax(s.SQLQuery); err != nil {
		return fail(s, StageValidateSQLFailed, err.Error())
	}

	desc, schema, err := n.describeSource(ctx, s)
	if err != nil {
		// Lookup failures at validation time are connection-class.
		s.CriticalFailure = true
		return fail(s, StageValidateSQLFailed, "data source lookup failed: "+err.Error())
	}

	rewritten, groundErr := groundTables(s.SQLQuery, desc, schema)
	if groundErr != "" {
		return fail(s, StageValidateSQLFailed, groundErr)
	}
	rewritten = dialect.InjectLimit(rewritten, dialect.DefaultLimit)

	s.SQLQuery = rewritten
	s.CurrentStage = StageValidateSQLComplete
	s.Error = ""
	return ok(s)
}

// groundTables checks every referenced table against the declared schema.
// File sources get unrecognized references rewritten to the canonical table
// name; other sources fail with the offending table named. An empty schema
// skips grounding so the database can report the real error.
func groundTables(sqlText string, desc *source.Descriptor, schema source.Schema) (string, string) {
	refs := tableRefRe.FindAllStringSubmatch(sqlexec.StripLiterals(sqlText), -1)
	if len(refs) == 0 {
		return sqlText, ""
	}

	for _, ref := range refs {
		table := ref[1]
		if schema.Empty() {
			continue
		}
		if schema.HasTable(table) {
			continue
		}
		if strings.EqualFold(table, "data") || (desc != nil && strings.EqualFold(table, desc.ID)) {
			continue
		}
		if desc != nil && desc.Kind == source.KindFile {
			sqlText = rewriteTableRef(sqlText, table, "data")
			continue
		}
		return sqlText, "table not found in schema: " + table
	}
	return sqlText, ""
}

// rewriteTableRef replaces a table reference in FROM/JOIN position and in
// column qualifiers. Bare columns sharing the table's name are left alone.
func rewriteTableRef(sqlText, from, to string) string {
	ref := regexp.MustCompile(`(?i)\b(from|join)\s+` + regexp.QuoteMeta(from) + `\b`)
	sqlText = ref.ReplaceAllString(sqlText, "${1} "+to)
	qualifier := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\.`)
	return qualifier.ReplaceAllString(sqlText, to+".")
}
