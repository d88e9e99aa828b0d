package engine

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/insightflow/insightflow/sqlexec"
)

// BigDataConfig locates the shared columnar cluster that serves very large
// sources.
type BigDataConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// BigData executes against the shared ClickHouse cluster over the native
// protocol. The connection is dialed lazily on first use so a deployment
// without a cluster boots cleanly.
type BigData struct {
	cfg    BigDataConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn chdriver.Conn
}

// NewBigData creates the engine without dialing. logger may be nil.
func NewBigData(cfg BigDataConfig, logger *slog.Logger) *BigData {
	if logger == nil {
		logger = slog.Default()
	}
	return &BigData{cfg: cfg, logger: logger}
}

func (b *BigData) Kind() sqlexec.Kind { return sqlexec.KindBigData }

// Available reports whether a cluster is configured and answers pings.
func (b *BigData) Available(ctx context.Context) bool {
	if b.cfg.Addr == "" {
		return false
	}
	conn, err := b.connect()
	if err != nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Ping(pingCtx) == nil
}

func (b *BigData) connect() (chdriver.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{b.cfg.Addr},
		Auth: clickhouse.Auth{
			Database: b.cfg.Database,
			Username: b.cfg.Username,
			Password: b.cfg.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	b.conn = conn
	return conn, nil
}

func (b *BigData) Execute(ctx context.Context, req sqlexec.Request) (*sqlexec.Result, error) {
	conn, err := b.connect()
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassUnavailable, Engine: sqlexec.KindBigData, Message: "cluster unreachable", Cause: err}
	}

	start := time.Now()
	rows, err := conn.Query(ctx, req.SQL)
	if err != nil {
		return nil, classifyServerError(sqlexec.KindBigData, err.Error(), 0)
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	columns := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = ct.Name()
	}

	data := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(values...); err != nil {
			return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindBigData, Message: "scan row", Cause: err}
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			record[name] = plainValue(reflect.ValueOf(values[i]).Elem().Interface())
		}
		data = append(data, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyServerError(sqlexec.KindBigData, err.Error(), 0)
	}
	b.logger.Debug("bigdata query complete", "rows", len(data))

	return &sqlexec.Result{
		Success:         true,
		Data:            data,
		Columns:         columns,
		RowCount:        len(data),
		Engine:          sqlexec.KindBigData,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}, nil
}
