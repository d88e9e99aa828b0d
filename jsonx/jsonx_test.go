package jsonx

import (
	"errors"
	"testing"
)

func TestExtractObject(t *testing.T) {
	type reply struct {
		SQL         string  `json:"sql"`
		Explanation string  `json:"explanation"`
		Confidence  float64 `json:"confidence"`
	}

	cases := []struct {
		name    string
		input   string
		wantSQL string
		wantErr bool
	}{
		{
			name:    "bare object",
			input:   `{"sql": "SELECT 1", "confidence": 0.9}`,
			wantSQL: "SELECT 1",
		},
		{
			name:    "json fence",
			input:   "```json\n{\"sql\": \"SELECT 1\"}\n```",
			wantSQL: "SELECT 1",
		},
		{
			name:    "bare fence",
			input:   "```\n{\"sql\": \"SELECT 1\"}\n```",
			wantSQL: "SELECT 1",
		},
		{
			name:    "leading prose",
			input:   `Here is the query you asked for: {"sql": "SELECT region FROM sales"}`,
			wantSQL: "SELECT region FROM sales",
		},
		{
			name:    "trailing prose",
			input:   `{"sql": "SELECT 1"} Let me know if you need changes.`,
			wantSQL: "SELECT 1",
		},
		{
			name:    "braces inside string literals",
			input:   `{"sql": "SELECT '{\"a\": 1}' AS payload", "explanation": "embeds { and }"}`,
			wantSQL: `SELECT '{"a": 1}' AS payload`,
		},
		{
			name:    "fence mid-text",
			input:   "The configuration follows.\n```json\n{\"sql\": \"SELECT 2\"}\n```\nDone.",
			wantSQL: "SELECT 2",
		},
		{
			name:    "no object at all",
			input:   "I could not generate SQL for that question.",
			wantErr: true,
		},
		{
			name:    "unbalanced braces",
			input:   `{"sql": "SELECT 1"`,
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got reply
			err := ExtractObject(tc.input, &got)
			if tc.wantErr {
				if !errors.Is(err, ErrNoObject) {
					t.Fatalf("expected ErrNoObject, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractObject failed: %v", err)
			}
			if got.SQL != tc.wantSQL {
				t.Errorf("expected sql %q, got %q", tc.wantSQL, got.SQL)
			}
		})
	}
}

func TestFirstObject(t *testing.T) {
	t.Run("returns raw object text", func(t *testing.T) {
		raw, err := FirstObject(`noise {"title": {"text": "Sales"}} more noise`)
		if err != nil {
			t.Fatal(err)
		}
		if raw != `{"title": {"text": "Sales"}}` {
			t.Errorf("unexpected object: %s", raw)
		}
	})

	t.Run("invalid candidate is rejected", func(t *testing.T) {
		_, err := FirstObject(`{"a": undefined}`)
		if !errors.Is(err, ErrNoObject) {
			t.Fatalf("expected ErrNoObject, got %v", err)
		}
	})
}

func TestStripFences(t *testing.T) {
	t.Run("plain text untouched", func(t *testing.T) {
		if got := StripFences("  SELECT 1  "); got != "SELECT 1" {
			t.Errorf("unexpected: %q", got)
		}
	})
	t.Run("fenced block unwrapped", func(t *testing.T) {
		if got := StripFences("```json\n{\"a\": 1}\n```"); got != `{"a": 1}` {
			t.Errorf("unexpected: %q", got)
		}
	})
}
