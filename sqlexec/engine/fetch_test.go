package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
)

func serveBody(t *testing.T, contentType, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRows(t *testing.T) {
	ctx := context.Background()
	client := &http.Client{}

	t.Run("csv with header and type inference", func(t *testing.T) {
		srv := serveBody(t, "text/csv", "region,amount,score\nwest,10,1.5\neast,,2\n", http.StatusOK)
		rows, err := FetchRows(ctx, client, &source.Descriptor{
			Kind: source.KindFile, SubKind: source.SubKindCSV, FileURL: srv.URL,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "west", rows[0]["region"])
		assert.Equal(t, int64(10), rows[0]["amount"])
		assert.Equal(t, 1.5, rows[0]["score"])
		assert.Nil(t, rows[1]["amount"], "empty cell is nil")
	})

	t.Run("json array", func(t *testing.T) {
		srv := serveBody(t, "application/json", `[{"region":"west","amount":10}]`, http.StatusOK)
		rows, err := FetchRows(ctx, client, &source.Descriptor{
			Kind: source.KindFile, SubKind: source.SubKindJSON, FileURL: srv.URL,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "west", rows[0]["region"])
	})

	t.Run("json sniffed without sub kind", func(t *testing.T) {
		srv := serveBody(t, "application/octet-stream", `{"data":[{"a":1}]}`, http.StatusOK)
		rows, err := FetchRows(ctx, client, &source.Descriptor{
			Kind: source.KindFile, FileURL: srv.URL,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("excel rejected before any network call", func(t *testing.T) {
		_, err := FetchRows(ctx, client, &source.Descriptor{
			Kind: source.KindFile, SubKind: source.SubKindExcel, FileURL: "http://unused.invalid/f.xlsx",
		})
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)
		assert.Contains(t, execErr.Message, "materialized")
	})

	t.Run("server errors are transient", func(t *testing.T) {
		srv := serveBody(t, "", "boom", http.StatusBadGateway)
		_, err := FetchRows(ctx, client, &source.Descriptor{Kind: source.KindFile, FileURL: srv.URL})
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassTransient, execErr.Class)
	})

	t.Run("not found is permanent", func(t *testing.T) {
		srv := serveBody(t, "", "gone", http.StatusNotFound)
		_, err := FetchRows(ctx, client, &source.Descriptor{Kind: source.KindFile, FileURL: srv.URL})
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)
	})
}

func TestParseJSONRows(t *testing.T) {
	t.Run("top-level array", func(t *testing.T) {
		rows, err := ParseJSONRows([]byte(`[{"a":1},{"a":2}]`))
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("data wrapper", func(t *testing.T) {
		rows, err := ParseJSONRows([]byte(`{"data":[{"a":1}],"total":1}`))
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("scalar payload rejected", func(t *testing.T) {
		_, err := ParseJSONRows([]byte(`{"status":"ok"}`))
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)
	})
}

func TestParseCSVRows(t *testing.T) {
	t.Run("short rows padded with nil", func(t *testing.T) {
		rows, err := ParseCSVRows([]byte("a,b,c\n1,2\n"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0]["a"])
		assert.Nil(t, rows[0]["c"])
	})

	t.Run("header only yields no rows", func(t *testing.T) {
		rows, err := ParseCSVRows([]byte("a,b\n"))
		require.NoError(t, err)
		assert.Nil(t, rows)
	})

	t.Run("unparseable csv is permanent", func(t *testing.T) {
		_, err := ParseCSVRows([]byte("a,\"b\nbroken"))
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)
	})
}

func TestInferCell(t *testing.T) {
	assert.Equal(t, int64(42), inferCell("42"))
	assert.Equal(t, int64(-7), inferCell(" -7 "))
	assert.Equal(t, 3.14, inferCell("3.14"))
	assert.Equal(t, "west", inferCell("west"))
	assert.Nil(t, inferCell("   "))
}
