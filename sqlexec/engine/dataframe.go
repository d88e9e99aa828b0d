package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
)

// DataFrame serves API-backed sources: it fetches the endpoint's payload,
// materializes the records, and delegates SQL execution to the embedded
// engine over the fetched rows.
type DataFrame struct {
	embedded   *Embedded
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDataFrame creates the engine around an embedded delegate.
func NewDataFrame(embedded *Embedded, logger *slog.Logger) *DataFrame {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataFrame{
		embedded:   embedded,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (f *DataFrame) Kind() sqlexec.Kind { return sqlexec.KindDataFrame }

func (f *DataFrame) Available(context.Context) bool { return true }

func (f *DataFrame) Execute(ctx context.Context, req sqlexec.Request) (*sqlexec.Result, error) {
	rows, err := f.fetch(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &sqlexec.Error{
			Class:   sqlexec.ClassPermanent,
			Engine:  sqlexec.KindDataFrame,
			Message: "api source returned no records",
		}
	}

	// Hand the fetched rows to the embedded engine as an inline sample on
	// a shallow descriptor copy.
	inline := *req.Source
	inline.InlineSample = rows
	delegated := req
	delegated.Source = &inline

	res, err := f.embedded.Execute(ctx, delegated)
	if err != nil {
		return nil, err
	}
	res.Engine = sqlexec.KindDataFrame
	f.logger.Debug("dataframe query complete", "rows", res.RowCount, "source", req.Source.ID)
	return res, nil
}

func (f *DataFrame) fetch(ctx context.Context, desc *source.Descriptor) ([]map[string]any, error) {
	if len(desc.InlineSample) > 0 {
		return desc.InlineSample, nil
	}
	conn := desc.Connection
	if conn.URL == "" {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDataFrame, Message: "api source has no endpoint url"}
	}

	method := strings.ToUpper(conn.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if conn.Body != "" {
		body = strings.NewReader(conn.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, conn.URL, body)
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindDataFrame, Message: "bad api endpoint", Cause: err}
	}
	for name, value := range conn.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDataFrame, Message: "api endpoint unreachable", Cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindDataFrame, Message: "read api response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		class := sqlexec.ClassPermanent
		if resp.StatusCode >= 500 {
			class = sqlexec.ClassTransient
		}
		return nil, &sqlexec.Error{Class: class, Engine: sqlexec.KindDataFrame, Message: fmt.Sprintf("api endpoint: status %d", resp.StatusCode)}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "csv") {
		return ParseCSVRows(payload)
	}
	return ParseJSONRows(payload)
}
