package workflow

import (
	"context"

	"github.com/insightflow/insightflow/cache"
	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/jsonx"
	"github.com/insightflow/insightflow/model"
	"github.com/insightflow/insightflow/sqlexec"
)

// deepProfileSQL is the broad profile query deep analysis runs instead of
// generating SQL from the question.
const deepProfileSQL = `SELECT * FROM data LIMIT 500`

// DeepFileAnalysis is the deep-mode branch for file sources: it profiles
// the whole file and produces chart and insights directly, bypassing SQL
// generation.
func (n *Nodes) DeepFileAnalysis(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 50
	s.ProgressMessage = "Profiling your file"

	desc, _, err := n.describeSource(ctx, s)
	if err != nil {
		return fail(s, StageExecuteFailed, "data source lookup failed: "+err.Error())
	}

	res, err := n.exec.Execute(ctx, sqlexec.Request{
		SQL:    deepProfileSQL,
		Source: desc,
		Scope:  cache.Scope{OrganizationID: s.OrganizationID, ProjectID: s.ProjectID},
	})
	if err != nil {
		return fail(s, StageExecuteFailed, err.Error())
	}

	s.SQLQuery = deepProfileSQL
	s.QueryResult = res.Data
	s.QueryResultColumns = res.Columns
	s.QueryResultRowCount = res.RowCount
	s.EngineUsed = string(res.Engine)

	s.ProgressPercentage = 90
	s.ProgressMessage = "Analyzing the full file"
	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildUnifiedPrompt(s),
		System:      unifiedSystemContext,
		MaxTokens:   3000,
		Temperature: 0.4,
	})
	if err != nil {
		return modelFailure(ctx, s, StageUnifiedFailed, err)
	}

	var parsed unifiedResponse
	if err := jsonx.ExtractObject(resp.Content, &parsed); err != nil {
		return fail(s, StageUnifiedFailed, "could not parse deep analysis response")
	}
	s = applyUnified(s, parsed)
	if !s.hasChart() && !s.hasInsights() {
		return fail(s, StageUnifiedFailed, "deep analysis produced neither chart nor insights")
	}

	s = n.ensureSummary(ctx, s)
	s = s.withMetadata("generation_method", "deep_file_analysis")
	return done(complete(s))
}
