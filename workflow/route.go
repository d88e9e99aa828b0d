package workflow

import (
	"context"
	"regexp"
	"strings"

	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/model"
	"github.com/insightflow/insightflow/source"
)

var greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|good (morning|afternoon|evening))\b`)

var analysisKeywordRe = regexp.MustCompile(`(?i)\b(show|count|sum|average|total|trend|compare|top|group|chart|plot|how many|how much|per |by )\b`)

// RouteQuery classifies the request and picks the downstream branch.
//
// Obvious cases are classified by rules: no data source means the
// conversational branch, deep mode on a file source goes to deep analysis.
// Only genuinely ambiguous messages spend a model call.
func (n *Nodes) RouteQuery(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 10
	s.ProgressMessage = "Understanding your question"

	if s.DataSourceID == "" {
		s.CurrentStage = StageConversationalDone
		return ok(s)
	}

	if s.AnalysisMode == ModeDeep {
		desc, _, err := n.describeSource(ctx, s)
		if err == nil && desc.Kind == source.KindFile {
			s.CurrentStage = StageRoutedDeep
			return ok(s)
		}
		// Deep mode only short-circuits for files; everything else takes
		// the standard pipeline.
	}

	if greetingRe.MatchString(s.Query) && !analysisKeywordRe.MatchString(s.Query) {
		if n.classifyConversational(ctx, s.Query) {
			s.CurrentStage = StageConversationalDone
			return ok(s)
		}
	}

	s.CurrentStage = StageRoutedNL2SQL
	return ok(s)
}

// classifyConversational runs the short classification prompt. Any failure
// defaults to the analysis branch; misrouting a greeting is cheaper than
// dropping a real question.
func (n *Nodes) classifyConversational(ctx context.Context, query string) bool {
	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildClassifyPrompt(query),
		System:      classifySystemContext,
		MaxTokens:   50,
		Temperature: 0.1,
	})
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(resp.Content), `"conversational"`)
}
