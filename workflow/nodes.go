package workflow

import (
	"context"
	"log/slog"

	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/model"
	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
)

// Node identifiers.
const (
	NodeRouteQuery        = "route_query"
	NodeNL2SQL            = "nl2sql"
	NodeValidateSQL       = "validate_sql"
	NodeExecuteQuery      = "execute_query"
	NodeValidateResults   = "validate_results"
	NodeUnified           = "unified_chart_insights"
	NodeGenerateChart     = "generate_chart"
	NodeGenerateInsights  = "generate_insights"
	NodeDeepFileAnalysis  = "deep_file_analysis"
	NodeErrorRecovery     = "error_recovery"
	NodeCriticalFailure   = "critical_failure"
	NodeConversationalEnd = "conversational_end"
)

// Nodes bundles the dependencies every node draws on. All handles are
// injected; nothing here reaches for globals.
type Nodes struct {
	model  model.Client
	data   source.Service
	exec   *sqlexec.Executor
	logger *slog.Logger
}

// NewNodes wires node dependencies. logger may be nil.
func NewNodes(client model.Client, data source.Service, exec *sqlexec.Executor, logger *slog.Logger) *Nodes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nodes{model: client, data: data, exec: exec, logger: logger}
}

// ok returns a result that defers routing to the graph's edges.
func ok(s State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: s}
}

// done returns a terminal result.
func done(s State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
}

// fail records a domain failure into the state and defers to the edges;
// nodes never abort the run for domain errors.
func fail(s State, stage, message string) graph.NodeResult[State] {
	s.CurrentStage = stage
	s.Error = message
	return graph.NodeResult[State]{Delta: s}
}

// modelFailure hands a transport fault back for policy retry while attempt
// budget remains, then degrades it into a stage failure so recovery owns
// the outcome instead of the run aborting.
func modelFailure(ctx context.Context, s State, stage string, err error) graph.NodeResult[State] {
	if graph.Attempt(ctx)+1 < llmMaxAttempts && retryableModelFault(err) {
		return graph.NodeResult[State]{Delta: s, Err: err}
	}
	return fail(s, stage, "model unavailable: "+err.Error())
}

// complete marks the state terminal with full progress.
func complete(s State) State {
	s.CurrentStage = StageComplete
	s.WorkflowComplete = true
	s.ProgressPercentage = 100
	if s.ProgressMessage == "" {
		s.ProgressMessage = "Analysis complete"
	}
	return s
}

// describeSource resolves the descriptor and its normalized schema. The
// descriptor is never cached in state; it carries decrypted credentials.
func (n *Nodes) describeSource(ctx context.Context, s State) (*source.Descriptor, source.Schema, error) {
	desc, err := n.data.GetDataSource(ctx, s.DataSourceID)
	if err != nil {
		return nil, source.Schema{}, err
	}
	schema := desc.Schema
	if schema.Empty() {
		if fetched, err := n.data.GetSchema(ctx, s.DataSourceID); err == nil {
			schema = fetched
		}
	}
	return desc, schema, nil
}

// dialectName maps a descriptor to the generation dialect hint.
func dialectName(desc *source.Descriptor) string {
	if desc == nil {
		return "ansi"
	}
	switch {
	case desc.Kind == source.KindFile, desc.Kind == source.KindAPI:
		return "sqlite"
	case desc.SubKind != "":
		return desc.SubKind
	default:
		return "postgres"
	}
}
