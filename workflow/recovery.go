package workflow

import (
	"context"

	"github.com/insightflow/insightflow/graph"
)

// ErrorRecovery makes the bounded, branch-aware recovery decision. It
// increments only its own counter, never re-runs classification, and leaves
// progress untouched so the percentage never regresses below the failing
// node's entry value.
func (n *Nodes) ErrorRecovery(_ context.Context, s State) graph.NodeResult[State] {
	s.ProgressMessage = "Recovering from an error"

	switch {
	case s.DataSourceID == "":
		s.CurrentStage = StageRecoverConversational

	case s.ErrorRecoveryCount >= MaxRetries:
		s.CurrentStage = StageRecoverCritical

	case s.hasResults():
		// Partial results beat a hard failure; finish with what we have.
		s.ErrorRecoveryCount++
		s.CurrentStage = StageRecoverPartial

	case s.Query != "" && s.RetryCount < MaxRetries:
		s.ErrorRecoveryCount++
		s.RetryCount++
		s.CurrentStage = StageRecoverRegenerate
		s.QueryExecutionError = s.Error
		s.Error = ""

	default:
		s.CurrentStage = StageRecoverCritical
	}

	n.logger.Debug("recovery decision",
		"conversation_id", s.ConversationID,
		"decision", s.CurrentStage,
		"recovery_count", s.ErrorRecoveryCount,
		"retry_count", s.RetryCount)
	return ok(s)
}
