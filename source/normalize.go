package source

import (
	"fmt"
	"sort"
)

// NormalizeSchema converts the two wire shapes the data service may return
// into a Schema:
//
//	{"orders": {"columns": [...], "rowCount": 1200}, ...}
//	{"tables": [{"name": "orders", "columns": [...]}, ...]}
//
// Column entries may be strings or {name, type} mappings. Map-shaped input
// is sorted by table name so normalization is deterministic.
func NormalizeSchema(raw map[string]any) Schema {
	if raw == nil {
		return Schema{}
	}

	if tables, ok := raw["tables"].([]any); ok {
		return normalizeTableList(tables)
	}
	return normalizeTableMap(raw)
}

func normalizeTableList(entries []any) Schema {
	var schema Schema
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		table := Table{Name: name, Columns: normalizeColumns(m["columns"])}
		table.RowCount = asInt64(m["rowCount"])
		schema.Tables = append(schema.Tables, table)
	}
	return schema
}

func normalizeTableMap(raw map[string]any) Schema {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var schema Schema
	for _, name := range names {
		m, ok := raw[name].(map[string]any)
		if !ok {
			continue
		}
		table := Table{Name: name, Columns: normalizeColumns(m["columns"])}
		table.RowCount = asInt64(m["rowCount"])
		schema.Tables = append(schema.Tables, table)
	}
	return schema
}

func normalizeColumns(raw any) []Column {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	columns := make([]Column, 0, len(entries))
	for _, entry := range entries {
		switch col := entry.(type) {
		case string:
			columns = append(columns, Column{Name: col})
		case map[string]any:
			name, _ := col["name"].(string)
			if name == "" {
				continue
			}
			typ, _ := col["type"].(string)
			columns = append(columns, Column{Name: name, Type: typ})
		}
	}
	return columns
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case nil:
		return 0
	default:
		return 0
	}
}

// FormatSchema renders a schema as prompt-ready text:
//
//	orders:
//	  - id (integer)
//	  - amount (number)
func FormatSchema(s Schema) string {
	if s.Empty() {
		return "(no schema declared)"
	}
	out := ""
	for _, t := range s.Tables {
		out += t.Name + ":\n"
		for _, c := range t.Columns {
			if c.Type != "" {
				out += fmt.Sprintf("  - %s (%s)\n", c.Name, c.Type)
			} else {
				out += "  - " + c.Name + "\n"
			}
		}
	}
	return out
}
