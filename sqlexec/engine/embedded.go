// Package engine holds the execution backends behind the sqlexec facade:
// embedded in-process SQL, direct remote SQL, the columnar bigdata cluster,
// the pre-aggregation service, and the dataframe engine for API payloads.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
	"modernc.org/sqlite"
)

var dateTruncOnce sync.Once

// registerDateTrunc installs a date_trunc(part, value) scalar so queries
// generated for warehouse dialects run unchanged in-process.
func registerDateTrunc() {
	dateTruncOnce.Do(func() {
		sqlite.MustRegisterDeterministicScalarFunction("date_trunc", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				part, _ := args[0].(string)
				raw, ok := args[1].(string)
				if !ok || raw == "" {
					return nil, nil
				}
				t, err := parseTime(raw)
				if err != nil {
					return nil, nil
				}
				return truncateTime(strings.ToLower(part), t), nil
			})
	})
}

var timeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", raw)
}

func truncateTime(part string, t time.Time) string {
	switch part {
	case "year":
		t = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	case "quarter":
		month := ((int(t.Month())-1)/3)*3 + 1
		t = time.Date(t.Year(), time.Month(month), 1, 0, 0, 0, 0, t.Location())
	case "month":
		t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case "week":
		// ISO week, Monday start.
		offset := (int(t.Weekday()) + 6) % 7
		t = time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
	case "day":
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case "hour":
		t = t.Truncate(time.Hour)
	case "minute":
		t = t.Truncate(time.Minute)
	default:
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	if part == "hour" || part == "minute" {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02")
}

// Embedded executes queries against an in-memory SQLite database loaded from
// the source's inline sample rows or its file URL. Each execution gets a
// fresh database; nothing persists across requests.
type Embedded struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEmbedded creates the embedded engine. logger may be nil.
func NewEmbedded(logger *slog.Logger) *Embedded {
	if logger == nil {
		logger = slog.Default()
	}
	registerDateTrunc()
	return &Embedded{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (e *Embedded) Kind() sqlexec.Kind { return sqlexec.KindEmbedded }

// Available always reports true; the embedded engine has no remote
// dependency once rows are in hand.
func (e *Embedded) Available(context.Context) bool { return true }

func (e *Embedded) Execute(ctx context.Context, req sqlexec.Request) (*sqlexec.Result, error) {
	rows, err := e.loadRows(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &sqlexec.Error{
			Class:   sqlexec.ClassPermanent,
			Engine:  sqlexec.KindEmbedded,
			Message: "data source has no loadable rows",
		}
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassUnavailable, Engine: sqlexec.KindEmbedded, Message: "open in-memory database", Cause: err}
	}
	defer db.Close()

	columns := columnOrder(req.Source, rows[0])
	if err := loadTable(ctx, db, columns, rows); err != nil {
		return nil, err
	}
	if err := aliasViews(ctx, db, req.Source); err != nil {
		return nil, err
	}

	start := time.Now()
	data, outCols, err := QueryMaps(ctx, db, req.SQL)
	if err != nil {
		return nil, &sqlexec.Error{
			Class:   sqlexec.ClassSyntax,
			Engine:  sqlexec.KindEmbedded,
			Message: "query failed: " + err.Error(),
			Cause:   err,
		}
	}
	e.logger.Debug("embedded query complete", "rows", len(data), "source", req.Source.ID)

	return &sqlexec.Result{
		Success:         true,
		Data:            data,
		Columns:         outCols,
		RowCount:        len(data),
		Engine:          sqlexec.KindEmbedded,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

func (e *Embedded) loadRows(ctx context.Context, desc *source.Descriptor) ([]map[string]any, error) {
	if len(desc.InlineSample) > 0 {
		return desc.InlineSample, nil
	}
	if desc.FileURL == "" {
		return nil, nil
	}
	return FetchRows(ctx, e.httpClient, desc)
}

// columnOrder prefers the declared schema order and falls back to sorted
// keys of the first row, so table shape is deterministic either way.
func columnOrder(desc *source.Descriptor, first map[string]any) []string {
	if desc != nil && !desc.Schema.Empty() {
		declared := desc.Schema.Tables[0].Columns
		cols := make([]string, 0, len(declared))
		for _, c := range declared {
			if _, ok := first[c.Name]; ok {
				cols = append(cols, c.Name)
			}
		}
		if len(cols) > 0 {
			return cols
		}
	}
	cols := make([]string, 0, len(first))
	for name := range first {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

func loadTable(ctx context.Context, db *sql.DB, columns []string, rows []map[string]any) error {
	defs := make([]string, len(columns))
	for i, name := range columns {
		defs[i] = quoteIdent(name) + " " + affinity(firstValue(rows, name))
	}
	create := "CREATE TABLE data (" + strings.Join(defs, ", ") + ")"
	if _, err := db.ExecContext(ctx, create); err != nil {
		return &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindEmbedded, Message: "create table", Cause: err}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = quoteIdent(name)
	}
	insert := "INSERT INTO data (" + strings.Join(quoted, ", ") + ") VALUES (" + placeholders + ")"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &sqlexec.Error{Class: sqlexec.ClassUnavailable, Engine: sqlexec.KindEmbedded, Message: "begin load", Cause: err}
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		tx.Rollback()
		return &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindEmbedded, Message: "prepare load", Cause: err}
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for _, row := range rows {
		for i, name := range columns {
			args[i] = normalizeValue(row[name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindEmbedded, Message: "load rows", Cause: err}
		}
	}
	return tx.Commit()
}

// aliasViews lets queries reference the source by its declared table names
// or id instead of the canonical "data" table.
func aliasViews(ctx context.Context, db *sql.DB, desc *source.Descriptor) error {
	names := map[string]bool{}
	if desc != nil {
		if desc.ID != "" {
			names[desc.ID] = true
		}
		for _, t := range desc.Schema.Tables {
			names[t.Name] = true
		}
	}
	for name := range names {
		if strings.EqualFold(name, "data") {
			continue
		}
		stmt := "CREATE VIEW " + quoteIdent(name) + " AS SELECT * FROM data"
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindEmbedded, Message: "create alias view", Cause: err}
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func firstValue(rows []map[string]any, name string) any {
	for _, row := range rows {
		if v, ok := row[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

func affinity(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "INTEGER"
	case float32, float64:
		return "REAL"
	case bool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case map[string]any, []any:
		return fmt.Sprintf("%v", val)
	default:
		return v
	}
}

// QueryMaps runs a query and returns rows as column-keyed maps with the
// column order preserved separately.
func QueryMaps(ctx context.Context, db *sql.DB, sqlText string) ([]map[string]any, []string, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			record[name] = plainValue(values[i])
		}
		out = append(out, record)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, columns, rows.Err()
}

func plainValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
