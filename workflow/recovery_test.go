package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorRecovery(t *testing.T) {
	n := NewNodes(nil, nil, nil, nil)
	run := func(s State) State {
		return n.ErrorRecovery(context.Background(), s).Delta
	}

	t.Run("no data source goes conversational", func(t *testing.T) {
		got := run(State{Query: "hello", Error: "boom"})
		assert.Equal(t, StageRecoverConversational, got.CurrentStage)
		assert.Zero(t, got.ErrorRecoveryCount)
	})

	t.Run("exhausted recovery budget is critical", func(t *testing.T) {
		got := run(State{Query: "q", DataSourceID: "src", ErrorRecoveryCount: MaxRetries})
		assert.Equal(t, StageRecoverCritical, got.CurrentStage)
		assert.Equal(t, MaxRetries, got.ErrorRecoveryCount, "counter never exceeds the cap")
	})

	t.Run("partial results finish with insights", func(t *testing.T) {
		got := run(State{
			Query:        "q",
			DataSourceID: "src",
			QueryResult:  []map[string]any{{"a": 1}},
		})
		assert.Equal(t, StageRecoverPartial, got.CurrentStage)
		assert.Equal(t, 1, got.ErrorRecoveryCount)
	})

	t.Run("failed generation regenerates under the retry cap", func(t *testing.T) {
		got := run(State{
			Query:        "q",
			DataSourceID: "src",
			Error:        "generated SQL failed syntax pre-check",
		})
		assert.Equal(t, StageRecoverRegenerate, got.CurrentStage)
		assert.Equal(t, 1, got.RetryCount)
		assert.Equal(t, 1, got.ErrorRecoveryCount)
		assert.Equal(t, "generated SQL failed syntax pre-check", got.QueryExecutionError, "failure context is preserved for the next prompt")
		assert.Empty(t, got.Error)
	})

	t.Run("retry cap reached without results is critical", func(t *testing.T) {
		got := run(State{Query: "q", DataSourceID: "src", RetryCount: MaxRetries})
		assert.Equal(t, StageRecoverCritical, got.CurrentStage)
	})

	t.Run("no query and no results is critical", func(t *testing.T) {
		got := run(State{DataSourceID: "src"})
		assert.Equal(t, StageRecoverCritical, got.CurrentStage)
	})
}
