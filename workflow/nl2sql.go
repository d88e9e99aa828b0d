package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/jsonx"
	"github.com/insightflow/insightflow/model"
	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
	"github.com/insightflow/insightflow/sqlexec/dialect"
)

// nl2sqlResponse is the JSON shape the generation prompt requests.
type nl2sqlResponse struct {
	SQLQuery       string   `json:"sql_query"`
	Dialect        string   `json:"dialect"`
	Explanation    string   `json:"explanation"`
	Confidence     float64  `json:"confidence"`
	ReasoningSteps []string `json:"reasoning_steps"`
	Success        bool     `json:"success"`
}

// NL2SQL generates SQL for the bound dialect, grounded in the declared
// schema, and enforces the post-generation safety rules programmatically:
// placeholder and corruption rejection, sanitization, a syntax pre-check,
// and the ClickHouse GROUP BY alias rewrite.
func (n *Nodes) NL2SQL(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 30
	s.ProgressMessage = "Generating SQL"

	desc, schema, err := n.describeSource(ctx, s)
	if err != nil {
		return fail(s, StageNL2SQLFailed, "data source lookup failed: "+err.Error())
	}

	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildNL2SQLPrompt(s, desc, schema),
		System:      sqlSystemContext,
		MaxTokens:   2000,
		Temperature: 0.2,
	})
	if err != nil {
		return modelFailure(ctx, s, StageNL2SQLFailed, err)
	}

	var parsed nl2sqlResponse
	if err := jsonx.ExtractObject(resp.Content, &parsed); err != nil {
		return fail(s, StageNL2SQLFailed, "could not parse SQL generation response")
	}
	if parsed.SQLQuery == "" {
		return fail(s, StageNL2SQLFailed, "generation returned no SQL")
	}

	cleaned, err := sanitizeSQL(parsed.SQLQuery)
	if err != nil {
		if errors.Is(err, errPlaceholderSQL) {
			return fail(s, StageNL2SQLFailed, "placeholder SQL")
		}
		return fail(s, StageNL2SQLFailed, "corrupted SQL")
	}
	if err := sqlexec.CheckSyntax(cleaned); err != nil {
		return fail(s, StageNL2SQLFailed, "generated SQL failed syntax pre-check: "+err.Error())
	}

	if strings.EqualFold(desc.SubKind, source.SubKindClickHouse) {
		cleaned = dialect.RewriteGroupByAliases(cleaned)
	}

	s.SQLQuery = cleaned
	s.Dialect = dialectName(desc)
	if parsed.Dialect != "" {
		s.Dialect = strings.ToLower(parsed.Dialect)
	}
	s.CurrentStage = StageNL2SQLComplete
	s.Error = ""
	s = s.withMetadata("model", resp.Model)
	s = s.withMetadata("sql_confidence", parsed.Confidence)
	if len(parsed.ReasoningSteps) > 0 {
		s = s.withMetadata("reasoning_steps", parsed.ReasoningSteps)
	}
	n.logger.Debug("sql generated", "conversation_id", s.ConversationID, "dialect", s.Dialect)
	return ok(s)
}
