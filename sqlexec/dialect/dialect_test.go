package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	assert.Equal(t, "sqlite", Get("sqlite").Name())
	assert.Equal(t, "clickhouse", Get("ClickHouse").Name())
	assert.Equal(t, "postgres", Get("postgres").Name())
	assert.Equal(t, "mysql", Get("mysql").Name())
	assert.Equal(t, "postgres", Get("oracle").Name(), "unknown dialects fall back to postgres")
	assert.Equal(t, "postgres", Get("").Name())
}

func TestInjectLimit(t *testing.T) {
	t.Run("appends limit", func(t *testing.T) {
		got := InjectLimit("SELECT region FROM sales", 1000)
		assert.Equal(t, "SELECT region FROM sales LIMIT 1000", got)
	})

	t.Run("existing limit preserved", func(t *testing.T) {
		sql := "SELECT region FROM sales LIMIT 50"
		assert.Equal(t, sql, InjectLimit(sql, 1000))
	})

	t.Run("bare count skipped", func(t *testing.T) {
		sql := "SELECT COUNT(*) FROM sales"
		assert.Equal(t, sql, InjectLimit(sql, 1000))
	})

	t.Run("trailing semicolon dropped", func(t *testing.T) {
		got := InjectLimit("SELECT region FROM sales;\n", 500)
		assert.Equal(t, "SELECT region FROM sales LIMIT 500", got)
	})

	t.Run("non-positive limit uses the default", func(t *testing.T) {
		got := InjectLimit("SELECT region FROM sales", 0)
		assert.Equal(t, "SELECT region FROM sales LIMIT 1000", got)
	})
}

func TestClickHouseRewrite(t *testing.T) {
	ch := ClickHouse{}

	t.Run("group by alias expanded to expression", func(t *testing.T) {
		in := "SELECT toStartOfMonth(created_at) AS month, sum(amount) AS total FROM sales GROUP BY month ORDER BY month"
		got := ch.Rewrite(in)
		assert.Contains(t, got, "GROUP BY toStartOfMonth(created_at)")
		assert.Contains(t, got, "ORDER BY month", "order by may keep the alias")
	})

	t.Run("multiple group by entries", func(t *testing.T) {
		in := "SELECT region, date_trunc('month', ts) AS m, count() FROM events GROUP BY region, m"
		got := ch.Rewrite(in)
		assert.Contains(t, got, "GROUP BY region, date_trunc('month', ts)")
	})

	t.Run("group by without aliases untouched", func(t *testing.T) {
		in := "SELECT region, sum(amount) FROM sales GROUP BY region"
		got := ch.Rewrite(in)
		assert.Contains(t, got, "GROUP BY region")
	})

	t.Run("lag becomes neighbor", func(t *testing.T) {
		in := "SELECT month, total, lag(total) OVER (ORDER BY month) AS prev FROM monthly"
		got := ch.Rewrite(in)
		assert.Contains(t, got, "neighbor(total, -1) OVER (ORDER BY month)")
		assert.NotContains(t, got, "lag(")
	})

	t.Run("DATE_TRUNC lowercased", func(t *testing.T) {
		got := ch.Rewrite("SELECT DATE_TRUNC('month', ts) FROM events")
		assert.Contains(t, got, "date_trunc('month', ts)")
	})

	t.Run("quote uses backticks", func(t *testing.T) {
		assert.Equal(t, "`order`", ch.Quote("order"))
	})
}

func TestSQLiteRewrite(t *testing.T) {
	s := SQLite{}

	t.Run("DATE_TRUNC lowercased for the registered scalar", func(t *testing.T) {
		got := s.Rewrite("SELECT DATE_TRUNC('month', created_at) FROM data")
		assert.Contains(t, got, "date_trunc('month', created_at)")
	})

	t.Run("substring from form", func(t *testing.T) {
		got := s.Rewrite("SELECT SUBSTRING(name FROM 3) FROM data")
		assert.Contains(t, got, "substr(name, 3)")
	})

	t.Run("position becomes instr with swapped args", func(t *testing.T) {
		got := s.Rewrite("SELECT POSITION('x' IN name) FROM data")
		assert.Contains(t, got, "instr(name, 'x')")
	})

	t.Run("ilike becomes like", func(t *testing.T) {
		got := s.Rewrite("SELECT * FROM data WHERE name ILIKE '%a%'")
		assert.Contains(t, got, "LIKE '%a%'")
		assert.NotContains(t, got, "ILIKE")
	})
}

func TestMySQLRewrite(t *testing.T) {
	m := MySQL{}

	t.Run("date_trunc month", func(t *testing.T) {
		got := m.Rewrite("SELECT date_trunc('month', created_at) FROM data")
		assert.Equal(t, "SELECT DATE_FORMAT(created_at, '%Y-%m-01') FROM data", got)
	})

	t.Run("date_trunc day", func(t *testing.T) {
		got := m.Rewrite("SELECT DATE_TRUNC('day', ts) FROM data")
		assert.Contains(t, got, "DATE_FORMAT(ts, '%Y-%m-%d')")
	})

	t.Run("unknown granularity untouched", func(t *testing.T) {
		in := "SELECT date_trunc('quarter', ts) FROM data"
		assert.Equal(t, in, m.Rewrite(in))
	})
}

func TestPostgresRewrite(t *testing.T) {
	p := Postgres{}
	in := "SELECT date_trunc('month', ts) FROM data"
	assert.Equal(t, in, p.Rewrite(in))
	assert.Equal(t, `"order"`, p.Quote("order"))
}
