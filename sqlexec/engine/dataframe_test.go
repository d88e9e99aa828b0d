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

func TestDataFrameExecute(t *testing.T) {
	f := NewDataFrame(NewEmbedded(nil), nil)

	t.Run("fetches the endpoint and queries the records", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"city":"berlin","pop":3600000},{"city":"hamburg","pop":1800000}]`))
		}))
		defer srv.Close()

		res, err := f.Execute(context.Background(), sqlexec.Request{
			SQL: "SELECT city FROM data ORDER BY pop DESC LIMIT 1",
			Source: &source.Descriptor{
				ID:      "src-api",
				Kind:    source.KindAPI,
				SubKind: source.SubKindREST,
				Connection: source.ConnectionInfo{
					URL:     srv.URL,
					Headers: map[string]string{"Authorization": "Bearer api-key"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, sqlexec.KindDataFrame, res.Engine, "delegated result reports the dataframe engine")
		require.Equal(t, 1, res.RowCount)
		assert.Equal(t, "berlin", res.Data[0]["city"])
	})

	t.Run("csv endpoints parsed by content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("city,pop\nberlin,3600000\n"))
		}))
		defer srv.Close()

		res, err := f.Execute(context.Background(), sqlexec.Request{
			SQL: "SELECT pop FROM data",
			Source: &source.Descriptor{
				Kind:       source.KindAPI,
				Connection: source.ConnectionInfo{URL: srv.URL},
			},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3600000, res.Data[0]["pop"])
	})

	t.Run("missing endpoint url is permanent", func(t *testing.T) {
		_, err := f.Execute(context.Background(), sqlexec.Request{
			SQL:    "SELECT 1",
			Source: &source.Descriptor{Kind: source.KindAPI},
		})
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)
	})

	t.Run("empty payload is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		_, err := f.Execute(context.Background(), sqlexec.Request{
			SQL:    "SELECT 1",
			Source: &source.Descriptor{Kind: source.KindAPI, Connection: source.ConnectionInfo{URL: srv.URL}},
		})
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)
		assert.Contains(t, execErr.Message, "no records")
	})

	t.Run("rate limited endpoint is permanent, outage transient", func(t *testing.T) {
		status := http.StatusTooManyRequests
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		defer srv.Close()
		desc := &source.Descriptor{Kind: source.KindAPI, Connection: source.ConnectionInfo{URL: srv.URL}}

		_, err := f.Execute(context.Background(), sqlexec.Request{SQL: "SELECT 1", Source: desc})
		var execErr *sqlexec.Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassPermanent, execErr.Class)

		status = http.StatusBadGateway
		_, err = f.Execute(context.Background(), sqlexec.Request{SQL: "SELECT 1", Source: desc})
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, sqlexec.ClassTransient, execErr.Class)
	})

	t.Run("inline sample skips the network", func(t *testing.T) {
		res, err := f.Execute(context.Background(), sqlexec.Request{
			SQL: "SELECT COUNT(*) AS n FROM data",
			Source: &source.Descriptor{
				Kind:         source.KindAPI,
				InlineSample: []map[string]any{{"a": 1}, {"a": 2}},
			},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Data[0]["n"])
	})
}

func TestBigDataAvailability(t *testing.T) {
	b := NewBigData(BigDataConfig{}, nil)
	assert.Equal(t, sqlexec.KindBigData, b.Kind())
	assert.False(t, b.Available(context.Background()), "no cluster configured")
}
