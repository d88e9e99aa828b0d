package workflow

import (
	"fmt"
	"strings"
)

// translation maps technical error vocabulary onto actionable user
// messages. First match wins; order runs specific to general.
var translations = []struct {
	pattern string
	message string
}{
	{"placeholder", "I couldn't generate a concrete query for your question. Could you rephrase it or name the columns you're interested in?"},
	{"no results after retries", "Your query ran but returned no results. Try broadening the filters or the date range."},
	{"returned no results", "Your query ran but returned no results. Try broadening the filters or the date range."},
	{"table not found", "I couldn't find the table you asked about. Please confirm the data source contains it."},
	{"unknown table", "I couldn't find the table you asked about. Please confirm the data source contains it."},
	{"doesn't exist", "I couldn't find the table you asked about. Please confirm the data source contains it."},
	{"no such column", "One of the columns in the query doesn't exist in this data source. Check the column names and try again."},
	{"syntax", "The generated query wasn't valid for this data source. I'll need a clearer question to try again."},
	{"timeout", "The data source took too long to respond. Please try again in a moment."},
	{"timed out", "The data source took too long to respond. Please try again in a moment."},
	{"connection refused", "I couldn't reach the data source. Please check that it's online and the connection details are current."},
	{"connection reset", "I couldn't reach the data source. Please check that it's online and the connection details are current."},
	{"unreachable", "I couldn't reach the data source. Please check that it's online and the connection details are current."},
	{"access denied", "The data source rejected the credentials. Please re-check the connection settings."},
	{"authentication", "The data source rejected the credentials. Please re-check the connection settings."},
	{"permission", "The data source rejected the credentials. Please re-check the connection settings."},
	{"no execution engine", "No execution engine is available for this data source right now. Please try again shortly."},
}

// userMessage translates a technical error into an actionable message that
// always echoes the original question for context.
func userMessage(technical, query string) string {
	lower := strings.ToLower(technical)
	for _, t := range translations {
		if strings.Contains(lower, t.pattern) {
			return fmt.Sprintf("%s (Your question: %q)", t.message, query)
		}
	}
	return fmt.Sprintf("I ran into a problem answering your question: %s (Your question: %q)", technical, query)
}
