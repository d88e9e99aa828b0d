package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/insightflow/insightflow/sqlexec"
)

// AggregationConfig locates the pre-aggregation service.
type AggregationConfig struct {
	URL   string
	Token string
}

// Aggregation answers grouped/aggregated queries through the external
// pre-aggregation service instead of scanning raw rows. The generated SQL is
// converted into the service's measures/dimensions query shape.
type Aggregation struct {
	cfg        AggregationConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAggregation creates the engine. logger may be nil.
func NewAggregation(cfg AggregationConfig, logger *slog.Logger) *Aggregation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregation{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (a *Aggregation) Kind() sqlexec.Kind { return sqlexec.KindAggregation }

// Available probes the service's readiness endpoint with a short deadline.
func (a *Aggregation) Available(ctx context.Context) bool {
	if a.cfg.URL == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(a.cfg.URL, "/")+"/readyz", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// aggQuery is the service's query shape.
type aggQuery struct {
	Measures   []string `json:"measures"`
	Dimensions []string `json:"dimensions,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type aggResponse struct {
	Data  []map[string]any `json:"data"`
	Error string           `json:"error,omitempty"`
}

func (a *Aggregation) Execute(ctx context.Context, req sqlexec.Request) (*sqlexec.Result, error) {
	query, err := ConvertToAggregation(req.SQL)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: "encode aggregation query", Cause: err}
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.URL, "/")+"/v1/load", bytes.NewReader(payload))
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: "build aggregation request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		httpReq.Header.Set("Authorization", a.cfg.Token)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindAggregation, Message: "aggregation service unreachable", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindAggregation, Message: "read aggregation response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		class := sqlexec.ClassPermanent
		if resp.StatusCode >= 500 {
			class = sqlexec.ClassTransient
		}
		return nil, &sqlexec.Error{Class: class, Engine: sqlexec.KindAggregation, Message: fmt.Sprintf("aggregation service: status %d", resp.StatusCode)}
	}

	var decoded aggResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: "decode aggregation response", Cause: err}
	}
	if decoded.Error != "" {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: decoded.Error}
	}
	if decoded.Data == nil {
		decoded.Data = []map[string]any{}
	}
	a.logger.Debug("aggregation query complete", "rows", len(decoded.Data))

	return &sqlexec.Result{
		Success:         true,
		Data:            decoded.Data,
		Columns:         columnsFromQuery(query, decoded.Data),
		RowCount:        len(decoded.Data),
		Engine:          sqlexec.KindAggregation,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

var (
	aggSelectRe  = regexp.MustCompile(`(?is)\bselect\s+(.*?)\bfrom\s+([\w.]+)`)
	aggCallRe    = regexp.MustCompile(`(?i)^(sum|avg|count|min|max)\s*\(\s*(\*|[\w.]+)\s*\)$`)
	aggLimitRe   = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)
	aggAliasTail = regexp.MustCompile(`(?is)\s+as\s+[\w]+\s*$`)
)

// ConvertToAggregation maps a grouped SELECT onto the measures/dimensions
// shape: aggregate calls become measures named <table>.<fn>_<column>, plain
// select-list entries become dimensions named <table>.<column>. Queries the
// service cannot answer are rejected as permanent so selection falls back.
func ConvertToAggregation(sqlText string) (*aggQuery, error) {
	m := aggSelectRe.FindStringSubmatch(sqlText)
	if m == nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: "query has no convertible SELECT list"}
	}
	table := m[2]
	if idx := strings.LastIndexByte(table, '.'); idx >= 0 {
		table = table[idx+1:]
	}

	query := &aggQuery{}
	for _, item := range splitTopLevelList(m[1]) {
		entry := strings.TrimSpace(aggAliasTail.ReplaceAllString(item, ""))
		if entry == "" {
			continue
		}
		if call := aggCallRe.FindStringSubmatch(entry); call != nil {
			fn := strings.ToLower(call[1])
			column := strings.ToLower(strings.TrimPrefix(call[2], table+"."))
			if column == "*" {
				query.Measures = append(query.Measures, table+".count")
			} else {
				query.Measures = append(query.Measures, fmt.Sprintf("%s.%s_%s", table, fn, column))
			}
			continue
		}
		if strings.ContainsAny(entry, "()+-/*") {
			return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: "expression not answerable by pre-aggregations: " + entry}
		}
		query.Dimensions = append(query.Dimensions, table+"."+strings.TrimPrefix(entry, table+"."))
	}
	if len(query.Measures) == 0 {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindAggregation, Message: "query has no aggregate measures"}
	}
	if lm := aggLimitRe.FindStringSubmatch(sqlText); lm != nil {
		query.Limit, _ = strconv.Atoi(lm[1])
	}
	return query, nil
}

func columnsFromQuery(q *aggQuery, data []map[string]any) []string {
	columns := make([]string, 0, len(q.Dimensions)+len(q.Measures))
	columns = append(columns, q.Dimensions...)
	columns = append(columns, q.Measures...)
	if len(data) == 0 {
		return columns
	}
	// Trust the response keys when they disagree with the request.
	for _, name := range columns {
		if _, ok := data[0][name]; !ok {
			columns = columns[:0]
			for key := range data[0] {
				columns = append(columns, key)
			}
			break
		}
	}
	return columns
}

// splitTopLevelList splits a comma list at parenthesis depth zero.
func splitTopLevelList(s string) []string {
	var (
		items []string
		depth int
		start int
	)
	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				items = append(items, s[start:i])
				start = i + 1
			}
		}
	}
	return append(items, s[start:])
}
