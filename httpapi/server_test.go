package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflow/insightflow/graph/store"
	"github.com/insightflow/insightflow/model"
	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
	"github.com/insightflow/insightflow/sqlexec/engine"
	"github.com/insightflow/insightflow/workflow"
)

const nl2sqlResponse = `{"sql_query":"SELECT region, SUM(amount) AS total FROM data GROUP BY region","dialect":"sqlite","success":true}`

const unifiedResponse = `{
	"echarts_config": {"series":[{"type":"bar"}],"xAxis":{"type":"category"}},
	"chart_type": "bar",
	"insights": [{"title":"West leads","description":"Most of the amount comes from the west region.","confidence":0.8,"impact":"high"}],
	"executive_summary": "The west region produces the clear majority of the measured amount, with the east region trailing at roughly a third of its volume."
}`

func newTestRouter(t *testing.T, client model.Client, cfg Config) http.Handler {
	t.Helper()

	sources := NewStaticSources()
	sources.Register(&source.Descriptor{
		ID:      "src_sales",
		Kind:    source.KindFile,
		SubKind: source.SubKindCSV,
		InlineSample: []map[string]any{
			{"region": "west", "amount": 10.0},
			{"region": "east", "amount": 4.0},
		},
	})

	exec := sqlexec.New(sqlexec.Config{}, nil, engine.NewEmbedded(nil))
	nodes := workflow.NewNodes(client, sources, exec, nil)
	orch, err := workflow.New(nodes, store.NewMem[workflow.State](), nil, workflow.Options{AIEngine: "test"})
	require.NoError(t, err)

	return NewServer(orch, cfg).Router(cfg)
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuery(t *testing.T) {
	t.Run("successful analysis", func(t *testing.T) {
		mock := model.NewMock("").Push(nl2sqlResponse).Push(unifiedResponse)
		router := newTestRouter(t, mock, Config{})

		rec := postJSON(t, router, "/v1/query",
			`{"query":"Show total amount by region","user_id":"user-1","data_source_id":"src_sales"}`)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var result workflow.FinalResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Success, "error: %s", result.Error)
		assert.Contains(t, result.SQLQuery, "GROUP BY region")
		assert.NotEmpty(t, result.EchartsConfig)
	})

	t.Run("input validation failures are 400", func(t *testing.T) {
		router := newTestRouter(t, model.NewMock(""), Config{})
		cases := []struct {
			body     string
			fragment string
		}{
			{`{"query":"  ","user_id":"u"}`, "must not be empty"},
			{`{"query":"SELECT * FROM users","user_id":"u"}`, "natural language"},
			{`{"query":"total sales"}`, "user_id"},
			{`{"query":"q","user_id":"u","conversation_id":"x"}`, "conversation_id"},
		}
		for _, tc := range cases {
			rec := postJSON(t, router, "/v1/query", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, tc.body)
			assert.Contains(t, rec.Body.String(), tc.fragment, tc.body)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		router := newTestRouter(t, model.NewMock(""), Config{})
		rec := postJSON(t, router, "/v1/query", `{"query": "x",`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid request body")
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		router := newTestRouter(t, model.NewMock(""), Config{})
		rec := postJSON(t, router, "/v1/query", `{"query":"q","user_id":"u","bogus":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("domain failures keep 200 with a structured body", func(t *testing.T) {
		placeholder := `{"sql_query":"SELECT * FROM table_name","success":true}`
		router := newTestRouter(t, model.NewMock(placeholder), Config{})

		rec := postJSON(t, router, "/v1/query",
			`{"query":"Show me everything","user_id":"u","data_source_id":"src_sales"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var result workflow.FinalResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Message)
	})
}

func TestHandleQueryStream(t *testing.T) {
	mock := model.NewMock("").Push(nl2sqlResponse).Push(unifiedResponse)
	router := newTestRouter(t, mock, Config{})

	rec := postJSON(t, router, "/v1/query/stream",
		`{"query":"Show total amount by region","user_id":"user-1","data_source_id":"src_sales"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, "event: complete\n")
	assert.Equal(t, 1, strings.Count(body, "event: complete\n"), "exactly one terminal event")

	// The last event's data payload is the final result.
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	last := events[len(events)-1]
	dataLine := last[strings.Index(last, "data: ")+len("data: "):]
	var delta workflow.Delta
	require.NoError(t, json.Unmarshal([]byte(dataLine), &delta))
	require.NotNil(t, delta.Result)
	assert.True(t, delta.Result.Success, "error: %s", delta.Result.Error)
}

func TestProbes(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		router := newTestRouter(t, model.NewMock(""), Config{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz reflects the readiness check", func(t *testing.T) {
		failing := Config{Ready: func() error { return assert.AnError }}
		router := newTestRouter(t, model.NewMock(""), failing)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("metrics exposed", func(t *testing.T) {
		router := newTestRouter(t, model.NewMock(""), Config{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
