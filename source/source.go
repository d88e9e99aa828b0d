// Package source models bound data sources: their kind, connection
// information, declared schema, and optional inline sample rows.
//
// Descriptors live for exactly one request. Connection credentials are
// decrypted at the edge before a descriptor reaches this package, and
// nothing here caches them.
package source

import (
	"context"
	"strings"
)

// Kind classifies a data source.
type Kind string

// Data source kinds.
const (
	KindFile      Kind = "file"
	KindDatabase  Kind = "database"
	KindWarehouse Kind = "warehouse"
	KindAPI       Kind = "api"
)

// Well-known sub-kinds.
const (
	SubKindCSV        = "csv"
	SubKindExcel      = "excel"
	SubKindJSON       = "json"
	SubKindClickHouse = "clickhouse"
	SubKindPostgres   = "postgres"
	SubKindMySQL      = "mysql"
	SubKindREST       = "rest"
)

// Descriptor is the record the data service returns for a bound source.
type Descriptor struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	SubKind string `json:"sub_kind,omitempty"`

	// Connection holds decrypted connection details for database,
	// warehouse and api sources.
	Connection ConnectionInfo `json:"connection_info,omitempty"`

	// Schema is the declared table → column mapping.
	Schema Schema `json:"schema,omitempty"`

	// InlineSample carries already-materialized rows for file sources.
	// When present the embedded engine loads these preferentially.
	InlineSample []map[string]any `json:"inline_sample,omitempty"`

	// FileURL locates the raw bytes of a file source when no inline
	// sample is available.
	FileURL string `json:"file_url,omitempty"`

	// RowCount is the declared or estimated size of the source, used for
	// engine selection. Zero means unknown.
	RowCount int64 `json:"row_count,omitempty"`
}

// ConnectionInfo carries decrypted connection details. URI is preferred;
// when absent the executor builds one from parts.
type ConnectionInfo struct {
	URI      string `json:"uri,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// API-source fields.
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// IsRemoteDatabase reports whether the descriptor points at a remote
// database or warehouse.
func (d *Descriptor) IsRemoteDatabase() bool {
	return d.Kind == KindDatabase || d.Kind == KindWarehouse
}

// Column describes one schema column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Table describes one schema table.
type Table struct {
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count,omitempty"`
}

// Schema is the declared shape of a data source.
type Schema struct {
	Tables []Table `json:"tables"`
}

// Empty reports whether no tables are declared.
func (s Schema) Empty() bool {
	return len(s.Tables) == 0
}

// HasTable reports whether name matches a declared table, case-insensitively,
// accepting both qualified ("db.events") and unqualified ("events") forms.
func (s Schema) HasTable(name string) bool {
	return s.FindTable(name) != nil
}

// FindTable resolves name against declared tables. Qualified references
// match on their last segment.
func (s Schema) FindTable(name string) *Table {
	unqualified := name
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		unqualified = name[idx+1:]
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		if strings.EqualFold(t.Name, name) || strings.EqualFold(t.Name, unqualified) {
			return t
		}
		// Declared name may itself be qualified.
		declared := t.Name
		if idx := strings.LastIndexByte(declared, '.'); idx >= 0 {
			if strings.EqualFold(declared[idx+1:], unqualified) {
				return t
			}
		}
	}
	return nil
}

// TotalRows sums declared per-table row counts. Zero means unknown.
func (s Schema) TotalRows() int64 {
	var total int64
	for _, t := range s.Tables {
		total += t.RowCount
	}
	return total
}

// Service is the data-service contract the executor and workflow depend on.
type Service interface {
	// GetDataSource resolves a descriptor by id.
	GetDataSource(ctx context.Context, id string) (*Descriptor, error)

	// GetSchema fetches the current schema for a source. Implementations
	// return a normalized Schema regardless of the upstream wire shape.
	GetSchema(ctx context.Context, id string) (Schema, error)
}
