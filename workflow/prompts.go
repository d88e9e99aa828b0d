package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/insightflow/insightflow/source"
)

const sqlSystemContext = `You are an expert analytics engineer. You translate natural-language questions into a single correct SQL query grounded in the declared schema. Respond with JSON only.`

const nl2sqlResponseShape = `Respond with a single JSON object:
{
  "sql_query": "<complete SQL>",
  "dialect": "<dialect name>",
  "explanation": "<one sentence>",
  "confidence": <0..1>,
  "reasoning_steps": ["..."],
  "success": true
}`

// buildNL2SQLPrompt assembles the generation prompt: schema, dialect rules,
// prior SQL for follow-ups, and recent conversation context.
func buildNL2SQLPrompt(state State, desc *source.Descriptor, schema source.Schema) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n\n", state.Query)
	b.WriteString("Schema:\n")
	b.WriteString(source.FormatSchema(schema))
	b.WriteString("\n")

	if sample := formatSampleRows(desc); sample != "" {
		b.WriteString("Sample rows:\n")
		b.WriteString(sample)
		b.WriteString("\n")
	}

	b.WriteString(dialectHints(desc))

	if state.SQLQuery != "" {
		fmt.Fprintf(&b, "\nPrevious SQL for this conversation (refine rather than restart):\n%s\n", state.SQLQuery)
	}
	if state.QueryExecutionError != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed with: %s\nGenerate a corrected query.\n", state.QueryExecutionError)
	}
	if history := formatHistory(state.ConversationHistory); history != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(history)
	}

	b.WriteString("\n")
	b.WriteString(nl2sqlResponseShape)
	return b.String()
}

// dialectHints injects the per-engine generation rules.
func dialectHints(desc *source.Descriptor) string {
	if desc == nil {
		return "Target dialect: ANSI SQL. Use standard functions only.\n"
	}
	switch {
	case desc.Kind == source.KindFile, desc.Kind == source.KindAPI:
		return `Target dialect: embedded analytic engine (SQLite-compatible).
Rules:
- The table is named "data"; you may also reference it by the file id.
- Prefer date_trunc('month', CAST("col" AS DATE)), COUNT(DISTINCT ...).
- Do not use warehouse-specific functions (toMonth, DATEADD, ILIKE).
- Quote column names with double quotes when they contain spaces or mixed case.
- Treat empty strings as missing: filter with col IS NOT NULL AND col != ''.
`
	case strings.EqualFold(desc.SubKind, source.SubKindClickHouse):
		database := desc.Connection.Database
		if database == "" {
			database = "default"
		}
		return fmt.Sprintf(`Target dialect: ClickHouse.
Rules:
- Do not use CTEs (WITH) or window functions.
- GROUP BY must repeat the exact SELECT expression; never group by an alias.
- Qualify every table as %s.table_name.
- Use toMonth/toStartOfMonth for date bucketing.
`, database)
	case strings.EqualFold(desc.SubKind, source.SubKindMySQL):
		return "Target dialect: MySQL 8. Use DATE_FORMAT for date bucketing and backticks for identifiers.\n"
	default:
		return "Target dialect: PostgreSQL. Prefer date_trunc and standard aggregate functions.\n"
	}
}

func formatSampleRows(desc *source.Descriptor) string {
	if desc == nil || len(desc.InlineSample) == 0 {
		return ""
	}
	limit := len(desc.InlineSample)
	if limit > 3 {
		limit = 3
	}
	encoded, err := json.Marshal(desc.InlineSample[:limit])
	if err != nil {
		return ""
	}
	return string(encoded) + "\n"
}

func formatHistory(history []HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, entry := range history {
		fmt.Fprintf(&b, "%s: %s\n", entry.Role, entry.Content)
	}
	return b.String()
}

const unifiedSystemContext = `You are a data analyst producing a chart and narrative insights from query results. Respond with JSON only.`

// buildUnifiedPrompt asks for chart and insights in one call.
func buildUnifiedPrompt(state State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", state.Query)
	fmt.Fprintf(&b, "SQL: %s\n\n", state.SQLQuery)
	b.WriteString("Result data:\n")
	b.WriteString(compactResults(state, 20))
	b.WriteString(`
Respond with a single JSON object:
{
  "echarts_config": { <complete ECharts option: title, tooltip, xAxis, yAxis, series> },
  "chart_type": "<bar|line|pie|scatter|table>",
  "chart_title": "<short title>",
  "insights": [{"type": "trend", "title": "...", "description": "...", "confidence": 0.8, "impact": "high"}],
  "recommendations": [{"title": "...", "description": "...", "priority": "high", "effort": "low", "impact": "high", "confidence": 0.8}],
  "executive_summary": "<at least two sentences summarizing the findings>"
}`)
	return b.String()
}

// buildChartPrompt is the single-purpose fallback for the chart half.
func buildChartPrompt(state State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nResult data:\n%s\n", state.Query, compactResults(state, 20))
	b.WriteString(`Produce a chart for this data. Respond with a single JSON object:
{"echarts_config": { <complete ECharts option> }, "chart_type": "...", "chart_title": "..."}`)
	return b.String()
}

// buildInsightsPrompt is the single-purpose fallback for the insights half.
func buildInsightsPrompt(state State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nResult data:\n%s\n", state.Query, compactResults(state, 50))
	b.WriteString(`Analyze this data. Respond with a single JSON object:
{"insights": [...], "recommendations": [...], "executive_summary": "..."}
Insight records carry type, title, description, confidence (0..1) and impact (low|medium|high).`)
	return b.String()
}

const conversationalSystemContext = `You are a helpful analytics assistant. The user has not attached a data source, so answer conversationally and explain what you could do once data is connected.`

func buildConversationalPrompt(state State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User message: %s\n", state.Query)
	if history := formatHistory(state.ConversationHistory); history != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(history)
	}
	b.WriteString(`
Respond with a single JSON object:
{"message": "<direct reply>", "narration": "<friendly narration>", "analysis": "<what analysis would be possible with data attached>"}`)
	return b.String()
}

const classifySystemContext = `Classify whether a message needs data analysis or is conversational. Respond with JSON only.`

func buildClassifyPrompt(query string) string {
	return fmt.Sprintf(`Message: %s

Respond with a single JSON object: {"category": "analysis"} or {"category": "conversational"}`, query)
}

// buildSummaryPrompt asks for an executive summary over compact aggregates
// when the unified call came back without one.
func buildSummaryPrompt(state State) string {
	return fmt.Sprintf(`Question: %s
SQL: %s
Columns: %s
Rows: %d
First rows:
%s

Write an executive summary of these results in 2-4 sentences (at least 80 characters). Respond with plain text, no JSON.`,
		state.Query, state.SQLQuery, strings.Join(state.QueryResultColumns, ", "),
		state.QueryResultRowCount, compactResults(state, 5))
}

// compactResults renders columns plus up to limit rows as JSON lines.
func compactResults(state State, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "columns: %s\n", strings.Join(state.QueryResultColumns, ", "))
	fmt.Fprintf(&b, "row_count: %d\n", state.QueryResultRowCount)
	n := len(state.QueryResult)
	if n > limit {
		n = limit
	}
	for _, row := range state.QueryResult[:n] {
		encoded, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	return b.String()
}
