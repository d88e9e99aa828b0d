package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	cases := []struct {
		name      string
		technical string
		contains  string
	}{
		{"placeholder", "placeholder SQL", "rephrase"},
		{"empty results", "Query executed but returned no results after retries", "broadening the filters"},
		{"missing table", "table not found in schema: orders", "confirm the data source"},
		{"missing column", "no such column: regon (embedded engine, syntax)", "column names"},
		{"syntax", "syntax error near GROUP", "clearer question"},
		{"timeout", "query timed out after 60s", "too long to respond"},
		{"connection", "dial tcp: connection refused", "check that it's online"},
		{"credentials", "Access denied for user 'reader'", "connection settings"},
		{"engines down", "no execution engine available (embedded engine, unavailable)", "try again shortly"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := userMessage(tc.technical, "total sales by month")
			assert.Contains(t, got, tc.contains)
			assert.Contains(t, got, `"total sales by month"`, "the original question is echoed")
		})
	}

	t.Run("unknown errors keep the technical text", func(t *testing.T) {
		got := userMessage("something odd happened", "my question")
		assert.Contains(t, got, "something odd happened")
		assert.Contains(t, got, `"my question"`)
	})
}
