package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/insightflow/insightflow/jsonx"
)

// Progress is the client-visible progress block.
type Progress struct {
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
	Stage      string  `json:"stage"`
}

// FinalResult is the wire contract returned to the caller when a run ends.
type FinalResult struct {
	Success   bool   `json:"success"`
	Query     string `json:"query"`
	Message   string `json:"message,omitempty"`
	Narration string `json:"narration,omitempty"`
	Analysis  string `json:"analysis,omitempty"`

	SQLQuery            string           `json:"sql_query,omitempty"`
	QueryResult         []map[string]any `json:"query_result"`
	QueryResultRowCount int              `json:"query_result_row_count"`
	QueryResultColumns  []string         `json:"query_result_columns"`

	Progress Progress `json:"progress"`

	EchartsConfig map[string]any   `json:"echarts_config,omitempty"`
	ChartConfig   map[string]any   `json:"chart_config,omitempty"`
	ChartData     []map[string]any `json:"chart_data,omitempty"`

	Insights         []Insight        `json:"insights"`
	Recommendations  []Recommendation `json:"recommendations"`
	ExecutiveSummary string           `json:"executive_summary,omitempty"`

	ExecutionMetadata map[string]any `json:"execution_metadata,omitempty"`
	Error             string         `json:"error,omitempty"`
	ConversationID    string         `json:"conversation_id"`
	AIEngine          string         `json:"ai_engine"`
	Timestamp         time.Time      `json:"timestamp"`
}

// chartPrefix marks a chart spec embedded in a text response.
const chartPrefix = "ECharts Configuration:"

// ExtractFinal builds the canonical result record from the terminal state.
//
// Success follows OR-logic over the meaningful components: a user benefits
// from SQL alone or a chart alone, so any one of them makes the run useful.
func ExtractFinal(state State, aiEngine string) FinalResult {
	result := FinalResult{
		Query:               state.Query,
		Message:             state.Message,
		Narration:           state.Narration,
		Analysis:            state.Analysis,
		SQLQuery:            state.SQLQuery,
		QueryResult:         state.QueryResult,
		QueryResultRowCount: state.QueryResultRowCount,
		QueryResultColumns:  state.QueryResultColumns,
		EchartsConfig:       state.EchartsConfig,
		Insights:            state.Insights,
		Recommendations:     state.Recommendations,
		ExecutiveSummary:    state.ExecutiveSummary,
		ExecutionMetadata:   state.ExecutionMetadata,
		Error:               state.Error,
		ConversationID:      state.ConversationID,
		AIEngine:            aiEngine,
		Timestamp:           time.Now().UTC(),
		Progress: Progress{
			Percentage: state.ProgressPercentage,
			Message:    state.ProgressMessage,
			Stage:      StageComplete,
		},
	}

	// A chart spec hidden in narration text still counts.
	if result.EchartsConfig == nil {
		result.EchartsConfig = chartFromText(state.Narration)
	}
	if result.EchartsConfig == nil {
		result.EchartsConfig = chartFromText(state.Message)
	}
	result.ChartConfig = result.EchartsConfig
	if result.EchartsConfig != nil {
		result.ChartData = state.QueryResult
	}

	if result.QueryResult == nil {
		result.QueryResult = []map[string]any{}
	}
	if result.QueryResultColumns == nil {
		result.QueryResultColumns = []string{}
	}
	if result.Insights == nil {
		result.Insights = []Insight{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []Recommendation{}
	}

	result.Success = Meaningful(result) && !state.CriticalFailure
	return result
}

// Meaningful reports whether the result carries at least one component a
// user can act on.
func Meaningful(r FinalResult) bool {
	switch {
	case r.SQLQuery != "":
		return true
	case len(r.QueryResult) > 0:
		return true
	case len(r.EchartsConfig) > 0:
		return true
	case len(r.Insights) > 0:
		return true
	case len(strings.TrimSpace(r.Narration)) >= 50:
		return true
	}
	return false
}

// chartFromText pulls a chart spec out of free text, either after the known
// prefix or as the first embedded JSON object with chart-shaped keys.
func chartFromText(text string) map[string]any {
	if text == "" {
		return nil
	}
	candidate := text
	if idx := strings.Index(text, chartPrefix); idx >= 0 {
		candidate = text[idx+len(chartPrefix):]
	}
	obj, err := jsonx.FirstObject(candidate)
	if err != nil {
		return nil
	}
	var spec map[string]any
	if err := jsonx.ExtractObject(obj, &spec); err != nil {
		return nil
	}
	if !chartShaped(spec) {
		return nil
	}
	return spec
}

// chartShaped accepts only specs that look like a visualization: a series
// plus an axis or title.
func chartShaped(spec map[string]any) bool {
	if len(spec) == 0 {
		return false
	}
	_, hasSeries := spec["series"]
	if !hasSeries {
		return false
	}
	for _, key := range []string{"xAxis", "yAxis", "title", "angleAxis"} {
		if _, ok := spec[key]; ok {
			return true
		}
	}
	return false
}

// normalizeInsights folds the model's mixed string/record list into insight
// records. Bare strings become general insights with default confidence.
func normalizeInsights(raw []any) []Insight {
	var out []Insight
	for i, entry := range raw {
		switch v := entry.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			out = append(out, Insight{
				Type:        "general",
				Title:       fmt.Sprintf("Insight %d", i+1),
				Description: v,
				Confidence:  0.7,
				Impact:      "medium",
			})
		case map[string]any:
			insight := Insight{
				Type:        stringField(v, "type", "general"),
				Title:       stringField(v, "title", fmt.Sprintf("Insight %d", i+1)),
				Description: stringField(v, "description", ""),
				Confidence:  floatField(v, "confidence", 0.7),
				Impact:      stringField(v, "impact", "medium"),
			}
			if insight.Description == "" {
				insight.Description = stringField(v, "text", "")
			}
			if insight.Description == "" {
				continue
			}
			out = append(out, insight)
		}
	}
	return out
}

// normalizeRecommendations does the same folding for action records.
func normalizeRecommendations(raw []any) []Recommendation {
	var out []Recommendation
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			out = append(out, Recommendation{Title: v, Description: v, Priority: "medium", Confidence: 0.7})
		case map[string]any:
			rec := Recommendation{
				Title:       stringField(v, "title", ""),
				Description: stringField(v, "description", ""),
				Priority:    stringField(v, "priority", "medium"),
				Effort:      stringField(v, "effort", ""),
				Impact:      stringField(v, "impact", ""),
				Confidence:  floatField(v, "confidence", 0.7),
			}
			if rec.Title == "" && rec.Description == "" {
				continue
			}
			if rec.Title == "" {
				rec.Title = rec.Description
			}
			out = append(out, rec)
		}
	}
	return out
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatField(m map[string]any, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		if v >= 0 && v <= 1 {
			return v
		}
	case int:
		if v >= 0 && v <= 1 {
			return float64(v)
		}
	}
	return fallback
}
