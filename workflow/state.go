// Package workflow implements the analytics pipeline: routing, SQL
// generation, validation, execution through the multi-engine executor,
// result validation, chart and insight generation, and bounded error
// recovery, all driven by the state-graph engine.
package workflow

import (
	"time"
)

// StateVersion tags the state schema. Runs carrying an unknown version are
// rejected before the graph starts.
const StateVersion = "3.0"

// Analysis modes.
const (
	ModeStandard = "standard"
	ModeDeep     = "deep"
)

// Stage markers nodes leave behind for the conditional edges.
const (
	StageRoutedNL2SQL          = "routed_to_nl2sql"
	StageRoutedChart           = "routed_to_chart"
	StageRoutedInsights        = "routed_to_insights"
	StageRoutedDeep            = "routed_to_deep_file_analysis"
	StageConversationalDone    = "supervisor_conversational_complete"
	StageNL2SQLComplete        = "nl2sql_complete"
	StageNL2SQLFailed          = "nl2sql_failed"
	StageValidateSQLComplete   = "validate_sql_complete"
	StageValidateSQLFailed     = "validate_sql_failed"
	StageExecuteComplete       = "execute_query_complete"
	StageExecuteFailed         = "execute_query_failed"
	StageResultsValid          = "validate_results_complete"
	StageRetryExecution        = "retry_execution"
	StageResultsEmpty          = "results_empty"
	StageUnifiedComplete       = "unified_chart_insights_complete"
	StageUnifiedMissingChart   = "unified_missing_chart"
	StageUnifiedMissingInsight = "unified_missing_insights"
	StageUnifiedFailed         = "unified_failed"
	StageRecoverRegenerate     = "recovery_regenerate_sql"
	StageRecoverPartial        = "recovery_continue_partial"
	StageRecoverConversational = "recovery_conversational"
	StageRecoverCritical       = "recovery_critical"
	StageComplete              = "complete"
)

// Counter caps. Exceeding any individual cap routes to critical failure.
const MaxRetries = 2

// Insight is one narrative finding over the result set.
type Insight struct {
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Impact      string  `json:"impact"`
}

// Recommendation is one suggested action.
type Recommendation struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority,omitempty"`
	Effort      string  `json:"effort,omitempty"`
	Impact      string  `json:"impact,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// HistoryEntry is one conversation turn loaded for context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NodeRecord tracks one node execution in the run's history.
type NodeRecord struct {
	Node       string    `json:"node"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
}

// State is the single record threaded through every node.
type State struct {
	StateVersion   string `json:"state_version"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	Query        string `json:"query"`
	DataSourceID string `json:"data_source_id,omitempty"`
	AnalysisMode string `json:"analysis_mode,omitempty"`
	Model        string `json:"model,omitempty"`

	SQLQuery            string `json:"sql_query,omitempty"`
	Dialect             string `json:"dialect,omitempty"`
	QueryExecutionError string `json:"query_execution_error,omitempty"`

	QueryResult         []map[string]any `json:"query_result,omitempty"`
	QueryResultColumns  []string         `json:"query_result_columns,omitempty"`
	QueryResultRowCount int              `json:"query_result_row_count"`
	ResultSampled       bool             `json:"result_sampled,omitempty"`
	EngineUsed          string           `json:"engine_used,omitempty"`

	EchartsConfig map[string]any `json:"echarts_config,omitempty"`
	ChartType     string         `json:"chart_type,omitempty"`
	ChartTitle    string         `json:"chart_title,omitempty"`

	Insights         []Insight        `json:"insights,omitempty"`
	Recommendations  []Recommendation `json:"recommendations,omitempty"`
	ExecutiveSummary string           `json:"executive_summary,omitempty"`

	// Conversational branch output.
	Message   string `json:"message,omitempty"`
	Narration string `json:"narration,omitempty"`
	Analysis  string `json:"analysis,omitempty"`

	CurrentStage             string       `json:"current_stage,omitempty"`
	RetryCount               int          `json:"retry_count"`
	ErrorRecoveryCount       int          `json:"error_recovery_count"`
	QueryExecutionRetryCount int          `json:"query_execution_retry_count"`
	NodeHistory              []NodeRecord `json:"node_history,omitempty"`
	CriticalFailure          bool         `json:"critical_failure"`
	WorkflowComplete         bool         `json:"workflow_complete"`

	ProgressPercentage float64 `json:"progress_percentage"`
	ProgressMessage    string  `json:"progress_message,omitempty"`
	Error              string  `json:"error,omitempty"`

	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
	ExecutionMetadata   map[string]any `json:"execution_metadata,omitempty"`
}

// reduce replaces the running state with the node's returned state. Nodes
// work on a full copy, so the delta is authoritative.
func reduce(_, delta State) State { return delta }

// withMetadata returns the state with a metadata key set, allocating the
// map on first use.
func (s State) withMetadata(key string, value any) State {
	if s.ExecutionMetadata == nil {
		s.ExecutionMetadata = map[string]any{}
	}
	s.ExecutionMetadata[key] = value
	return s
}

// hasChart reports whether a usable chart spec is present.
func (s State) hasChart() bool { return len(s.EchartsConfig) > 0 }

// hasInsights reports whether at least one insight was produced.
func (s State) hasInsights() bool { return len(s.Insights) > 0 }

// hasResults reports whether execution produced at least one row.
func (s State) hasResults() bool { return len(s.QueryResult) > 0 }
