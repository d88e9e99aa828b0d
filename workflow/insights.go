package workflow

import (
	"context"
	"strings"

	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/jsonx"
	"github.com/insightflow/insightflow/model"
)

// minSummaryChars is the floor below which the executive summary is
// re-synthesized from compact aggregates.
const minSummaryChars = 80

// unifiedResponse tolerates both the canonical key and the alias, and mixed
// string/record lists for insights and recommendations.
type unifiedResponse struct {
	EchartsConfig    map[string]any `json:"echarts_config"`
	ChartConfig      map[string]any `json:"chart_config"`
	ChartType        string         `json:"chart_type"`
	ChartTitle       string         `json:"chart_title"`
	Insights         []any          `json:"insights"`
	Recommendations  []any          `json:"recommendations"`
	ExecutiveSummary string         `json:"executive_summary"`
}

// UnifiedChartInsights produces the chart and the narrative halves in one
// model invocation. Missing halves are marked in the stage so the edges can
// dispatch the single-purpose fallback nodes.
func (n *Nodes) UnifiedChartInsights(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 90
	s.ProgressMessage = "Building chart and insights"

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
		return fail(s, StageUnifiedFailed, "could not parse chart/insights response")
	}
	s = applyUnified(s, parsed)

	switch {
	case s.hasChart() && s.hasInsights():
		s = n.ensureSummary(ctx, s)
		s = s.withMetadata("generation_method", "unified")
		return done(complete(s))
	case s.hasChart():
		s.CurrentStage = StageUnifiedMissingInsight
		return ok(s)
	case s.hasInsights():
		s.CurrentStage = StageUnifiedMissingChart
		return ok(s)
	default:
		return fail(s, StageUnifiedFailed, "chart and insights generation both came back empty")
	}
}

// applyUnified merges a unified response into state, validating the chart
// half before accepting it.
func applyUnified(s State, parsed unifiedResponse) State {
	spec := parsed.EchartsConfig
	if len(spec) == 0 {
		spec = parsed.ChartConfig
	}
	if chartShaped(spec) {
		s.EchartsConfig = spec
		s.ChartType = parsed.ChartType
		s.ChartTitle = parsed.ChartTitle
	}
	if insights := normalizeInsights(parsed.Insights); len(insights) > 0 {
		s.Insights = insights
	}
	if recs := normalizeRecommendations(parsed.Recommendations); len(recs) > 0 {
		s.Recommendations = recs
	}
	if summary := strings.TrimSpace(parsed.ExecutiveSummary); summary != "" {
		s.ExecutiveSummary = summary
	}
	return s
}

// ensureSummary synthesizes the executive summary when the unified call
// returned a short or missing one.
func (n *Nodes) ensureSummary(ctx context.Context, s State) State {
	if len(s.ExecutiveSummary) >= minSummaryChars {
		return s
	}
	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildSummaryPrompt(s),
		System:      unifiedSystemContext,
		MaxTokens:   400,
		Temperature: 0.5,
	})
	if err != nil || len(strings.TrimSpace(resp.Content)) < minSummaryChars {
		return s
	}
	s.ExecutiveSummary = strings.TrimSpace(resp.Content)
	s = s.withMetadata("summary_synthesized", true)
	return s
}

// GenerateChart is the single-purpose fallback for the chart half.
func (n *Nodes) GenerateChart(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 95
	s.ProgressMessage = "Building chart"

	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildChartPrompt(s),
		System:      unifiedSystemContext,
		MaxTokens:   2000,
		Temperature: 0.4,
	})
	if err != nil {
		return modelFailure(ctx, s, StageUnifiedFailed, err)
	}

	var parsed unifiedResponse
	if err := jsonx.ExtractObject(resp.Content, &parsed); err != nil {
		return fail(s, StageUnifiedFailed, "could not parse chart response")
	}
	spec := parsed.EchartsConfig
	if len(spec) == 0 {
		spec = parsed.ChartConfig
	}
	if !chartShaped(spec) {
		return fail(s, StageUnifiedFailed, "chart generation returned no usable spec")
	}

	s.EchartsConfig = spec
	s.ChartType = parsed.ChartType
	s.ChartTitle = parsed.ChartTitle
	s = n.ensureSummary(ctx, s)
	s = s.withMetadata("generation_method", "unified+fallback_chart")
	return done(complete(s))
}

// GenerateInsights is the single-purpose fallback for the insights half.
func (n *Nodes) GenerateInsights(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressPercentage = 95
	s.ProgressMessage = "Writing insights"

	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildInsightsPrompt(s),
		System:      unifiedSystemContext,
		MaxTokens:   2500,
		Temperature: 0.5,
	})
	if err != nil {
		return modelFailure(ctx, s, StageUnifiedFailed, err)
	}

	var parsed unifiedResponse
	if err := jsonx.ExtractObject(resp.Content, &parsed); err != nil {
		return fail(s, StageUnifiedFailed, "could not parse insights response")
	}
	insights := normalizeInsights(parsed.Insights)
	if len(insights) == 0 {
		return fail(s, StageUnifiedFailed, "insights generation returned nothing usable")
	}

	s.Insights = insights
	if recs := normalizeRecommendations(parsed.Recommendations); len(recs) > 0 {
		s.Recommendations = recs
	}
	if summary := strings.TrimSpace(parsed.ExecutiveSummary); summary != "" {
		s.ExecutiveSummary = summary
	}
	s = n.ensureSummary(ctx, s)
	s = s.withMetadata("generation_method", "unified+fallback_insights")
	return done(complete(s))
}
