package workflow

import (
	"context"
	"fmt"

	"github.com/insightflow/insightflow/cache"
	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/sqlexec"
)

// ExecuteQuery dispatches the validated SQL through the multi-engine
// executor. Transient failures surface as NodeResult.Err so the node policy
// retries them with backoff; permanent failures latch critical_failure;
// syntax and availability failures flow to error recovery through the
// edges.
func (n *Nodes) ExecuteQuery(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 60
	s.ProgressMessage = "Running your query"

	if s.SQLQuery == "" {
		return fail(s, StageExecuteFailed, "no SQL to execute")
	}

	desc, _, err := n.describeSource(ctx, s)
	if err != nil {
		s.CriticalFailure = true
		return fail(s, StageExecuteFailed, "data source lookup failed: "+err.Error())
	}

	res, err := n.exec.Execute(ctx, sqlexec.Request{
		SQL:     s.SQLQuery,
		Source:  desc,
		Dialect: s.Dialect,
		Scope:   cache.Scope{OrganizationID: s.OrganizationID, ProjectID: s.ProjectID},
	})
	if err != nil {
		s.QueryExecutionError = err.Error()
		switch sqlexec.ClassOf(err) {
		case sqlexec.ClassTransient:
			return graph.NodeResult[State]{Delta: s, Err: err}
		case sqlexec.ClassPermanent:
			s.CriticalFailure = true
			return fail(s, StageExecuteFailed, err.Error())
		default:
			return fail(s, StageExecuteFailed, err.Error())
		}
	}

	s.QueryResult = res.Data
	s.QueryResultColumns = res.Columns
	s.QueryResultRowCount = res.RowCount
	s.ResultSampled = res.Sampled
	s.EngineUsed = string(res.Engine)
	s.QueryExecutionError = ""
	s.Error = ""
	s.CurrentStage = StageExecuteComplete
	s = s.withMetadata("engine_used", string(res.Engine))
	s = s.withMetadata("execution_time_ms", res.ExecutionTimeMS)
	s = s.withMetadata("result_cached", res.Cached)
	n.logger.Debug("query executed",
		"conversation_id", s.ConversationID,
		"engine", res.Engine,
		"rows", res.RowCount,
		"cached", res.Cached)
	return ok(s)
}

// ValidateResults verifies the result set is non-empty and shape-consistent.
// Empty results loop back to execution under the retry cap; the edges read
// the stage marker this node leaves behind.
func (n *Nodes) ValidateResults(_ context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 70
	s.ProgressMessage = "Checking results"

	if s.SQLQuery == "" {
		return fail(s, StageResultsEmpty, "no SQL was generated")
	}

	if len(s.QueryResult) == 0 {
		if s.QueryExecutionRetryCount < MaxRetries {
			s.QueryExecutionRetryCount++
			s.CurrentStage = StageRetryExecution
			s.ProgressMessage = fmt.Sprintf("No rows yet, retrying (%d/%d)", s.QueryExecutionRetryCount, MaxRetries)
			return ok(s)
		}
		return fail(s, StageResultsEmpty, "Query executed but returned no results after retries")
	}

	if len(s.QueryResultColumns) == 0 {
		return fail(s, StageResultsEmpty, "result set reported no columns")
	}
	if msg := inconsistentShape(s.QueryResult, s.QueryResultColumns); msg != "" {
		return fail(s, StageResultsEmpty, msg)
	}

	s.CurrentStage = StageResultsValid
	s.Error = ""
	return ok(s)
}

// inconsistentShape checks a sampled prefix of rows for key drift.
func inconsistentShape(rows []map[string]any, columns []string) string {
	limit := len(rows)
	if limit > 25 {
		limit = 25
	}
	for i := 0; i < limit; i++ {
		if len(rows[i]) != len(columns) {
			return fmt.Sprintf("row %d has %d fields, expected %d", i, len(rows[i]), len(columns))
		}
		for _, col := range columns {
			if _, ok := rows[i][col]; !ok {
				return fmt.Sprintf("row %d is missing column %q", i, col)
			}
		}
	}
	return ""
}
