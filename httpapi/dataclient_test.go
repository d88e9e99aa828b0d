package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflow/insightflow/source"
)

func TestDataClient(t *testing.T) {
	var schemaFetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/data-sources/src-1":
			w.Write([]byte(`{"kind":"database","sub_kind":"postgres","connection_info":{"host":"db.local","port":5432}}`))
		case "/api/data-sources/src-1/schema":
			schemaFetches++
			w.Write([]byte(`{"orders":{"columns":[{"name":"id","type":"integer"},"amount"],"rowCount":1200}}`))
		case "/api/data-sources/src-list/schema":
			w.Write([]byte(`{"tables":[{"name":"events","columns":["ts","kind"]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewDataClient(srv.URL, "svc-token")
	ctx := context.Background()

	t.Run("get data source fills the id", func(t *testing.T) {
		desc, err := c.GetDataSource(ctx, "src-1")
		require.NoError(t, err)
		assert.Equal(t, "src-1", desc.ID)
		assert.Equal(t, source.KindDatabase, desc.Kind)
		assert.Equal(t, "db.local", desc.Connection.Host)
	})

	t.Run("map-shaped schema normalized", func(t *testing.T) {
		schema, err := c.GetSchema(ctx, "src-1")
		require.NoError(t, err)
		require.Len(t, schema.Tables, 1)
		assert.Equal(t, "orders", schema.Tables[0].Name)
		assert.Equal(t, int64(1200), schema.Tables[0].RowCount)
		require.Len(t, schema.Tables[0].Columns, 2)
		assert.Equal(t, source.Column{Name: "id", Type: "integer"}, schema.Tables[0].Columns[0])
		assert.Equal(t, "amount", schema.Tables[0].Columns[1].Name)
	})

	t.Run("schema served from cache on repeat", func(t *testing.T) {
		before := schemaFetches
		schema, err := c.GetSchema(ctx, "src-1")
		require.NoError(t, err)
		assert.True(t, schema.HasTable("orders"))
		assert.Equal(t, before, schemaFetches, "second lookup must not reach the data service")
	})

	t.Run("list-shaped schema normalized", func(t *testing.T) {
		schema, err := c.GetSchema(ctx, "src-list")
		require.NoError(t, err)
		require.Len(t, schema.Tables, 1)
		assert.Equal(t, "events", schema.Tables[0].Name)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := c.GetDataSource(ctx, "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestStaticSources(t *testing.T) {
	s := NewStaticSources()
	s.Register(&source.Descriptor{
		ID:     "src-1",
		Kind:   source.KindFile,
		Schema: source.Schema{Tables: []source.Table{{Name: "t"}}},
	})

	t.Run("lookup returns a copy", func(t *testing.T) {
		first, err := s.GetDataSource(context.Background(), "src-1")
		require.NoError(t, err)
		first.Kind = source.KindDatabase

		second, err := s.GetDataSource(context.Background(), "src-1")
		require.NoError(t, err)
		assert.Equal(t, source.KindFile, second.Kind, "callers must not mutate the registry")
	})

	t.Run("schema comes from the descriptor", func(t *testing.T) {
		schema, err := s.GetSchema(context.Background(), "src-1")
		require.NoError(t, err)
		assert.True(t, schema.HasTable("t"))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.GetDataSource(context.Background(), "ghost")
		assert.Error(t, err)
	})
}
