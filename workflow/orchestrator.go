package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightflow/insightflow/convo"
	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/graph/emit"
	"github.com/insightflow/insightflow/graph/store"
	"github.com/insightflow/insightflow/sqlexec"
)

// Request is the orchestrator's entry input.
type Request struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	DataSourceID   string `json:"data_source_id,omitempty"`
	AnalysisMode   string `json:"analysis_mode,omitempty"`
	Model          string `json:"model,omitempty"`
}

// Delta is one streamed progress update. Exactly one terminal delta (type
// complete or error) ends every stream.
type Delta struct {
	Type           string         `json:"type"`
	Progress       Progress       `json:"progress"`
	PartialResults map[string]any `json:"partial_results,omitempty"`
	ReasoningSteps []string       `json:"reasoning_steps,omitempty"`
	Result         *FinalResult   `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Delta types.
const (
	DeltaProgress = "progress"
	DeltaComplete = "complete"
	DeltaError    = "error"
)

// Options configures the orchestrator.
type Options struct {
	// AIEngine labels which model provider backs this deployment; it is
	// echoed in every final result.
	AIEngine string

	// MaxSteps bounds node executions per run.
	MaxSteps int

	// NodeTimeout is the default per-node budget.
	NodeTimeout time.Duration

	Metrics *graph.Metrics
	Logger  *slog.Logger

	// Emitters are appended to the engine's internal stream hub.
	Emitters []emit.Emitter
}

// Orchestrator assembles the graph and exposes the execute and stream entry
// points.
type Orchestrator struct {
	engine   *graph.Engine[State]
	store    store.Store[State]
	nodes    *Nodes
	convo    convo.Store
	hub      *streamHub
	logger   *slog.Logger
	aiEngine string
}

// New builds the orchestrator and wires the full graph.
func New(nodes *Nodes, st store.Store[State], history convo.Store, opts Options) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 40
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = 60 * time.Second
	}
	if opts.AIEngine == "" {
		opts.AIEngine = "insightflow"
	}

	hub := newStreamHub()
	emitters := append([]emit.Emitter{hub}, opts.Emitters...)
	engine := graph.New(reduce, st, emit.NewMulti(emitters...), graph.Options{
		MaxSteps:           opts.MaxSteps,
		DefaultNodeTimeout: opts.NodeTimeout,
		Metrics:            opts.Metrics,
	})

	o := &Orchestrator{
		engine:   engine,
		store:    st,
		nodes:    nodes,
		convo:    history,
		hub:      hub,
		logger:   logger,
		aiEngine: opts.AIEngine,
	}
	if err := o.build(); err != nil {
		return nil, err
	}
	return o, nil
}

// llmMaxAttempts is the per-node attempt budget for model transport faults.
const llmMaxAttempts = 2

// llmRetry is the policy for nodes whose failures are model transport
// faults.
func llmRetry() *graph.NodePolicy {
	return &graph.NodePolicy{
		Timeout: 90 * time.Second,
		Retry: &graph.RetryPolicy{
			MaxAttempts: llmMaxAttempts,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Retryable:   retryableModelFault,
		},
	}
}

// retryableModelFault retries every model transport fault except caller
// cancellation.
func retryableModelFault(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func (o *Orchestrator) build() error {
	n := o.nodes

	type nodeDef struct {
		id     string
		fn     graph.NodeFunc[State]
		policy *graph.NodePolicy
	}
	defs := []nodeDef{
		{NodeRouteQuery, n.RouteQuery, nil},
		{NodeNL2SQL, n.NL2SQL, llmRetry()},
		{NodeValidateSQL, n.ValidateSQL, nil},
		{NodeExecuteQuery, n.ExecuteQuery, &graph.NodePolicy{
			Timeout: 2 * time.Minute,
			Retry: &graph.RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    10 * time.Second,
				Retryable:   sqlexec.Retryable,
			},
		}},
		{NodeValidateResults, n.ValidateResults, nil},
		{NodeUnified, n.UnifiedChartInsights, llmRetry()},
		{NodeGenerateChart, n.GenerateChart, llmRetry()},
		{NodeGenerateInsights, n.GenerateInsights, llmRetry()},
		{NodeDeepFileAnalysis, n.DeepFileAnalysis, llmRetry()},
		{NodeErrorRecovery, n.ErrorRecovery, nil},
		{NodeCriticalFailure, n.CriticalFailure, nil},
		{NodeConversationalEnd, n.ConversationalEnd, llmRetry()},
	}
	for _, def := range defs {
		if err := o.engine.Add(def.id, o.supervise(def.id, def.fn), def.policy); err != nil {
			return err
		}
	}
	if err := o.engine.StartAt(NodeRouteQuery); err != nil {
		return err
	}
	return o.connect()
}

// connect registers the conditional edges. Order matters: the first
// matching predicate wins.
func (o *Orchestrator) connect() error {
	critical := func(s State) bool { return s.CriticalFailure }
	stage := func(want string) graph.Predicate[State] {
		return func(s State) bool { return s.CurrentStage == want }
	}

	edges := []struct {
		from string
		to   string
		when graph.Predicate[State]
	}{
		{NodeRouteQuery, NodeCriticalFailure, critical},
		{NodeRouteQuery, NodeConversationalEnd, stage(StageConversationalDone)},
		{NodeRouteQuery, NodeDeepFileAnalysis, stage(StageRoutedDeep)},
		{NodeRouteQuery, NodeNL2SQL, nil},

		{NodeNL2SQL, NodeCriticalFailure, critical},
		{NodeNL2SQL, NodeErrorRecovery, stage(StageNL2SQLFailed)},
		{NodeNL2SQL, NodeValidateSQL, nil},

		{NodeValidateSQL, NodeCriticalFailure, critical},
		{NodeValidateSQL, NodeErrorRecovery, stage(StageValidateSQLFailed)},
		{NodeValidateSQL, NodeExecuteQuery, nil},

		{NodeExecuteQuery, NodeCriticalFailure, critical},
		{NodeExecuteQuery, NodeErrorRecovery, stage(StageExecuteFailed)},
		{NodeExecuteQuery, NodeValidateResults, nil},

		{NodeValidateResults, NodeExecuteQuery, stage(StageRetryExecution)},
		{NodeValidateResults, NodeUnified, stage(StageResultsValid)},
		{NodeValidateResults, NodeErrorRecovery, nil},

		{NodeUnified, NodeGenerateInsights, stage(StageUnifiedMissingInsight)},
		{NodeUnified, NodeGenerateChart, stage(StageUnifiedMissingChart)},
		{NodeUnified, NodeErrorRecovery, nil},

		{NodeGenerateChart, NodeErrorRecovery, nil},
		{NodeGenerateInsights, NodeErrorRecovery, nil},
		{NodeDeepFileAnalysis, NodeErrorRecovery, nil},

		{NodeErrorRecovery, NodeConversationalEnd, stage(StageRecoverConversational)},
		{NodeErrorRecovery, NodeCriticalFailure, stage(StageRecoverCritical)},
		{NodeErrorRecovery, NodeGenerateInsights, stage(StageRecoverPartial)},
		{NodeErrorRecovery, NodeNL2SQL, stage(StageRecoverRegenerate)},
		{NodeErrorRecovery, NodeCriticalFailure, nil},
	}
	for _, e := range edges {
		if err := o.engine.Connect(e.from, e.to, e.when); err != nil {
			return err
		}
	}
	return nil
}

// supervise wraps a node with the cross-cutting bookkeeping: the critical
// failure latch, node history, and monotonic progress.
func (o *Orchestrator) supervise(id string, inner graph.NodeFunc[State]) graph.Node[State] {
	return graph.NodeFunc[State](func(ctx context.Context, s State) graph.NodeResult[State] {
		if id == NodeRouteQuery && s.StateVersion != StateVersion {
			s.CriticalFailure = true
			s.Error = fmt.Sprintf("unsupported state version %q", s.StateVersion)
			return graph.NodeResult[State]{Delta: s, Route: graph.Goto(NodeCriticalFailure)}
		}
		if s.CriticalFailure && id != NodeCriticalFailure {
			return graph.NodeResult[State]{Delta: s, Route: graph.Goto(NodeCriticalFailure)}
		}

		started := time.Now().UTC()
		res := inner(ctx, s)
		if res.Err != nil {
			return res
		}

		delta := res.Delta
		outcome := "success"
		if delta.Error != "" {
			outcome = "error"
		}
		delta.NodeHistory = append(delta.NodeHistory, NodeRecord{
			Node:       id,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Outcome:    outcome,
		})
		// Progress only regresses when entering recovery, and even then
		// never below the failing node's entry value.
		if id != NodeErrorRecovery && delta.ProgressPercentage < s.ProgressPercentage {
			delta.ProgressPercentage = s.ProgressPercentage
		}
		res.Delta = delta
		return res
	})
}

var injectionShapedRe = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|drop|alter|create|truncate)\b`)

// validate applies the input_validation taxonomy before the graph runs.
func validate(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query must not be empty")
	}
	if injectionShapedRe.MatchString(req.Query) {
		return fmt.Errorf("query looks like raw SQL; ask a question in natural language instead")
	}
	if req.ConversationID != "" {
		if err := uuid.Validate(req.ConversationID); err != nil {
			return fmt.Errorf("conversation_id is not a valid UUID")
		}
	}
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// initialState builds the versioned state record for a run.
func (o *Orchestrator) initialState(ctx context.Context, req Request) State {
	mode := req.AnalysisMode
	if mode == "" {
		mode = ModeStandard
	}
	s := State{
		StateVersion:       StateVersion,
		ConversationID:     req.ConversationID,
		UserID:             req.UserID,
		OrganizationID:     req.OrganizationID,
		ProjectID:          req.ProjectID,
		Query:              req.Query,
		DataSourceID:       req.DataSourceID,
		AnalysisMode:       mode,
		Model:              req.Model,
		CurrentStage:       NodeRouteQuery,
		ProgressPercentage: 0,
		ExecutionMetadata:  map[string]any{"started_at": time.Now().UTC().Format(time.RFC3339)},
	}
	if o.convo != nil {
		if history, err := o.convo.LoadRecent(ctx, req.ConversationID); err == nil {
			for _, msg := range history {
				s.ConversationHistory = append(s.ConversationHistory, HistoryEntry{Role: msg.Role, Content: msg.Content})
			}
		}
	}
	return s
}

// Execute runs the workflow to a terminal node and returns the canonical
// final result. Failures before or inside the graph still produce a
// structured result; this method never panics outward.
func (o *Orchestrator) Execute(ctx context.Context, req Request) FinalResult {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if err := validate(req); err != nil {
		return o.inputFailure(req, err)
	}

	if o.convo != nil {
		if err := o.convo.SaveUser(ctx, req.ConversationID, req.Query); err != nil {
			o.logger.Warn("saving user message failed", "error", err)
		}
	}

	initial := o.initialState(ctx, req)
	final, err := o.engine.Run(ctx, req.ConversationID, initial)
	if err != nil {
		o.logger.Error("run failed", "conversation_id", req.ConversationID, "error", err)
		return o.runFailure(req, err)
	}

	result := ExtractFinal(final, o.aiEngine)
	o.saveAnswer(ctx, req.ConversationID, result)
	return result
}

// Stream runs the workflow while yielding progress deltas on the returned
// channel. The channel is closed after exactly one terminal delta.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Delta {
	out := make(chan Delta, 16)

	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if err := validate(req); err != nil {
		result := o.inputFailure(req, err)
		out <- Delta{Type: DeltaError, Result: &result, Error: result.Error, Timestamp: time.Now().UTC()}
		close(out)
		return out
	}

	events, cancel := o.hub.Subscribe(req.ConversationID)

	go func() {
		defer close(out)
		defer cancel()

		if o.convo != nil {
			if err := o.convo.SaveUser(ctx, req.ConversationID, req.Query); err != nil {
				o.logger.Warn("saving user message failed", "error", err)
			}
		}

		runDone := make(chan struct{})
		var (
			final  State
			runErr error
		)
		go func() {
			defer close(runDone)
			final, runErr = o.engine.Run(ctx, req.ConversationID, o.initialState(ctx, req))
		}()

		var lastStage string
		var lastPct float64
		for {
			select {
			case event := <-events:
				if delta, yield := o.progressDelta(ctx, req.ConversationID, event, &lastStage, &lastPct); yield {
					out <- delta
				}
			case <-runDone:
				// Drain whatever arrived before completion.
				for {
					select {
					case event := <-events:
						if delta, yield := o.progressDelta(ctx, req.ConversationID, event, &lastStage, &lastPct); yield {
							out <- delta
						}
						continue
					default:
					}
					break
				}
				if runErr != nil {
					result := o.runFailure(req, runErr)
					out <- Delta{Type: DeltaError, Result: &result, Error: result.Error, Timestamp: time.Now().UTC()}
					return
				}
				result := ExtractFinal(final, o.aiEngine)
				o.saveAnswer(ctx, req.ConversationID, result)
				out <- Delta{
					Type:      DeltaComplete,
					Progress:  result.Progress,
					Result:    &result,
					Timestamp: time.Now().UTC(),
				}
				return
			}
		}
	}()
	return out
}

// progressDelta converts an engine event into a client delta, suppressing
// duplicates when neither stage nor percentage moved.
func (o *Orchestrator) progressDelta(ctx context.Context, runID string, event emit.Event, lastStage *string, lastPct *float64) (Delta, bool) {
	if event.Msg != emit.MsgNodeEnd {
		return Delta{}, false
	}
	state, _, err := o.store.LoadLatest(ctx, runID)
	if err != nil {
		return Delta{}, false
	}
	if state.CurrentStage == *lastStage && state.ProgressPercentage == *lastPct {
		return Delta{}, false
	}
	*lastStage = state.CurrentStage
	*lastPct = state.ProgressPercentage

	delta := Delta{
		Type: DeltaProgress,
		Progress: Progress{
			Percentage: state.ProgressPercentage,
			Message:    state.ProgressMessage,
			Stage:      state.CurrentStage,
		},
		PartialResults: map[string]any{
			"sql_query":    state.SQLQuery,
			"row_count":    state.QueryResultRowCount,
			"has_chart":    state.hasChart(),
			"has_insights": state.hasInsights(),
		},
		Timestamp: event.Timestamp,
	}
	if steps, ok := state.ExecutionMetadata["reasoning_steps"].([]string); ok {
		delta.ReasoningSteps = steps
	}
	return delta, true
}

func (o *Orchestrator) saveAnswer(ctx context.Context, conversationID string, result FinalResult) {
	if o.convo == nil {
		return
	}
	answer := result.ExecutiveSummary
	if answer == "" {
		answer = result.Message
	}
	if answer == "" {
		answer = result.Narration
	}
	if answer == "" {
		return
	}
	metadata := map[string]any{
		"sql_query": result.SQLQuery,
		"row_count": result.QueryResultRowCount,
		"success":   result.Success,
	}
	if err := o.convo.SaveAssistant(ctx, conversationID, answer, metadata); err != nil {
		o.logger.Warn("saving assistant message failed", "error", err)
	}
}

// inputFailure is the structured result for requests rejected before the
// graph runs.
func (o *Orchestrator) inputFailure(req Request, err error) FinalResult {
	return FinalResult{
		Success:             false,
		Query:               req.Query,
		Message:             err.Error(),
		Error:               err.Error(),
		QueryResult:         []map[string]any{},
		QueryResultColumns:  []string{},
		Insights:            []Insight{},
		Recommendations:     []Recommendation{},
		Progress:            Progress{Percentage: 0, Message: "rejected", Stage: "input_validation"},
		ConversationID:      req.ConversationID,
		AIEngine:            o.aiEngine,
		Timestamp:           time.Now().UTC(),
		QueryResultRowCount: 0,
	}
}

// runFailure is the structured result for engine-level aborts (exhausted
// retries, cancellation, step limit).
func (o *Orchestrator) runFailure(req Request, err error) FinalResult {
	message := userMessage(err.Error(), req.Query)
	return FinalResult{
		Success:             false,
		Query:               req.Query,
		Message:             message,
		Error:               err.Error(),
		QueryResult:         []map[string]any{},
		QueryResultColumns:  []string{},
		Insights:            []Insight{},
		Recommendations:     []Recommendation{},
		Progress:            Progress{Percentage: 0, Message: message, Stage: "failed"},
		ConversationID:      req.ConversationID,
		AIEngine:            o.aiEngine,
		Timestamp:           time.Now().UTC(),
		QueryResultRowCount: 0,
	}
}
