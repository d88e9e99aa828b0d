package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
)

// DirectSQL executes against the customer's own database or warehouse using
// per-request connection details from the source descriptor. Nothing is
// pooled; descriptors live for one request and so do their connections.
type DirectSQL struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDirectSQL creates the direct engine. logger may be nil.
func NewDirectSQL(logger *slog.Logger) *DirectSQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectSQL{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

func (d *DirectSQL) Kind() sqlexec.Kind { return sqlexec.KindDirectSQL }

// Available reports true; reachability of the customer database is only
// knowable per request.
func (d *DirectSQL) Available(context.Context) bool { return true }

func (d *DirectSQL) Execute(ctx context.Context, req sqlexec.Request) (*sqlexec.Result, error) {
	if req.Source == nil || !req.Source.IsRemoteDatabase() {
		return nil, &sqlexec.Error{
			Class:   sqlexec.ClassPermanent,
			Engine:  sqlexec.KindDirectSQL,
			Message: "direct execution requires a database or warehouse source",
		}
	}

	start := time.Now()
	var (
		data    []map[string]any
		columns []string
		err     error
	)
	switch strings.ToLower(req.Source.SubKind) {
	case source.SubKindClickHouse:
		data, columns, err = d.queryClickHouse(ctx, req.Source, req.SQL)
	case source.SubKindPostgres:
		data, columns, err = d.queryPostgres(ctx, req.Source, req.SQL)
	case source.SubKindMySQL:
		data, columns, err = d.queryMySQL(ctx, req.Source, req.SQL)
	default:
		err = &sqlexec.Error{
			Class:   sqlexec.ClassPermanent,
			Engine:  sqlexec.KindDirectSQL,
			Message: "unsupported database kind " + req.Source.SubKind,
		}
	}
	if err != nil {
		return nil, err
	}
	d.logger.Debug("direct query complete", "sub_kind", req.Source.SubKind, "rows", len(data))

	return &sqlexec.Result{
		Success:         true,
		Data:            data,
		Columns:         columns,
		RowCount:        len(data),
		Engine:          sqlexec.KindDirectSQL,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// clickHouseResponse is the FORMAT JSON wire shape.
type clickHouseResponse struct {
	Meta []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"meta"`
	Data []map[string]any `json:"data"`
	Rows int              `json:"rows"`
}

// queryClickHouse speaks the HTTP interface: the statement is POSTed with a
// FORMAT JSON suffix and credentials go in basic auth. An empty descriptor
// password falls back to CLICKHOUSE_PASSWORD.
func (d *DirectSQL) queryClickHouse(ctx context.Context, desc *source.Descriptor, sqlText string) ([]map[string]any, []string, error) {
	conn := desc.Connection
	endpoint := conn.URI
	if endpoint == "" {
		host := conn.Host
		port := conn.Port
		if port == 0 {
			port = 8123
		}
		endpoint = fmt.Sprintf("http://%s:%d/", host, port)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDirectSQL, Message: "bad clickhouse endpoint", Cause: err}
	}
	if conn.Database != "" {
		q := u.Query()
		q.Set("database", conn.Database)
		u.RawQuery = q.Encode()
	}

	body := strings.TrimRight(strings.TrimSpace(sqlText), ";") + "\nFORMAT JSON"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDirectSQL, Message: "build clickhouse request", Cause: err}
	}
	password := conn.Password
	if password == "" {
		password = os.Getenv("CLICKHOUSE_PASSWORD")
	}
	if conn.Username != "" {
		httpReq.SetBasicAuth(conn.Username, password)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDirectSQL, Message: "clickhouse unreachable", Cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDirectSQL, Message: "read clickhouse response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, classifyServerError(sqlexec.KindDirectSQL, string(payload), resp.StatusCode)
	}

	var decoded clickHouseResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDirectSQL, Message: "decode clickhouse response", Cause: err}
	}
	columns := make([]string, len(decoded.Meta))
	for i, m := range decoded.Meta {
		columns[i] = m.Name
	}
	if decoded.Data == nil {
		decoded.Data = []map[string]any{}
	}
	return decoded.Data, columns, nil
}

func (d *DirectSQL) queryPostgres(ctx context.Context, desc *source.Descriptor, sqlText string) ([]map[string]any, []string, error) {
	dsn := desc.Connection.URI
	if dsn == "" {
		conn := desc.Connection
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			url.QueryEscape(conn.Username), url.QueryEscape(conn.Password),
			conn.Host, conn.Port, conn.Database)
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDirectSQL, Message: "connect postgres", Cause: err}
	}
	defer conn.Close(ctx)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDirectSQL, Message: "begin read-only tx", Cause: err}
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sqlText)
	if err != nil {
		return nil, nil, classifyServerError(sqlexec.KindDirectSQL, err.Error(), 0)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	data := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDirectSQL, Message: "scan row", Cause: err}
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			record[name] = plainValue(values[i])
		}
		data = append(data, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, classifyServerError(sqlexec.KindDirectSQL, err.Error(), 0)
	}
	return data, columns, nil
}

func (d *DirectSQL) queryMySQL(ctx context.Context, desc *source.Descriptor, sqlText string) ([]map[string]any, []string, error) {
	dsn := desc.Connection.URI
	if dsn == "" {
		conn := desc.Connection
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			conn.Username, conn.Password, conn.Host, conn.Port, conn.Database)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDirectSQL, Message: "open mysql", Cause: err}
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDirectSQL, Message: "begin read-only tx", Cause: err}
	}
	defer tx.Rollback()

	data, columns, err := queryMapsTx(ctx, tx, sqlText)
	if err != nil {
		return nil, nil, classifyServerError(sqlexec.KindDirectSQL, err.Error(), 0)
	}
	return data, columns, nil
}

func queryMapsTx(ctx context.Context, tx *sql.Tx, sqlText string) ([]map[string]any, []string, error) {
	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	data := []map[string]any{}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			record[name] = plainValue(values[i])
		}
		data = append(data, record)
	}
	return data, columns, rows.Err()
}

// classifyServerError maps a database error message onto a failure class by
// the vocabulary engines actually use.
func classifyServerError(kind sqlexec.Kind, message string, status int) error {
	lower := strings.ToLower(message)
	class := sqlexec.ClassPermanent
	switch {
	case strings.Contains(lower, "syntax") ||
		strings.Contains(lower, "unknown identifier") ||
		strings.Contains(lower, "unknown expression identifier") ||
		strings.Contains(lower, "no such column") ||
		strings.Contains(lower, "column") && strings.Contains(lower, "does not exist"):
		class = sqlexec.ClassSyntax
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "too many simultaneous queries") ||
		status >= 502 && status <= 504:
		class = sqlexec.ClassTransient
	case strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "permission") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "unknown table") ||
		strings.Contains(lower, "doesn't exist"):
		class = sqlexec.ClassPermanent
	}
	trimmed := strings.TrimSpace(message)
	if len(trimmed) > 500 {
		trimmed = trimmed[:500]
	}
	return &sqlexec.Error{Class: class, Engine: kind, Message: trimmed}
}
