package convo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Run("short content untouched", func(t *testing.T) {
		assert.Equal(t, "hello", Truncate("hello"))
	})

	t.Run("long content capped with marker", func(t *testing.T) {
		long := strings.Repeat("x", MaxContentChars+100)
		got := Truncate(long)
		assert.Len(t, got, MaxContentChars)
		assert.True(t, strings.HasSuffix(got, "..."))
	})
}

// storeContract exercises the behavior both backends share.
func storeContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty conversation loads empty", func(t *testing.T) {
		msgs, err := st.LoadRecent(ctx, "conv-empty")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("turns load in chronological order", func(t *testing.T) {
		require.NoError(t, st.SaveUser(ctx, "conv-order", "total sales by region"))
		require.NoError(t, st.SaveAssistant(ctx, "conv-order", "West leads with 42k.", map[string]any{"row_count": 4}))
		require.NoError(t, st.SaveUser(ctx, "conv-order", "and by month?"))

		msgs, err := st.LoadRecent(ctx, "conv-order")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, RoleUser, msgs[0].Role)
		assert.Equal(t, RoleAssistant, msgs[1].Role)
		assert.Equal(t, "and by month?", msgs[2].Content)
	})

	t.Run("only the trailing messages are returned", func(t *testing.T) {
		for i := 0; i < RecentLimit+5; i++ {
			require.NoError(t, st.SaveUser(ctx, "conv-long", fmt.Sprintf("question %d", i)))
		}
		msgs, err := st.LoadRecent(ctx, "conv-long")
		require.NoError(t, err)
		require.Len(t, msgs, RecentLimit)
		assert.Equal(t, fmt.Sprintf("question %d", RecentLimit+4), msgs[len(msgs)-1].Content)
	})

	t.Run("loaded content is truncated", func(t *testing.T) {
		require.NoError(t, st.SaveUser(ctx, "conv-trunc", strings.Repeat("y", MaxContentChars*2)))
		msgs, err := st.LoadRecent(ctx, "conv-trunc")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Len(t, msgs[0].Content, MaxContentChars)
	})

	t.Run("conversations are isolated", func(t *testing.T) {
		require.NoError(t, st.SaveUser(ctx, "conv-a", "a question"))
		msgs, err := st.LoadRecent(ctx, "conv-b")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestMemStore(t *testing.T) {
	storeContract(t, NewMem())

	t.Run("duplicate assistant answers suppressed within window", func(t *testing.T) {
		m := NewMem()
		now := time.Now()
		m.now = func() time.Time { return now }
		ctx := context.Background()

		require.NoError(t, m.SaveAssistant(ctx, "conv-dup", "West leads.", nil))
		require.NoError(t, m.SaveAssistant(ctx, "conv-dup", "West leads.", nil))

		msgs, err := m.LoadRecent(ctx, "conv-dup")
		require.NoError(t, err)
		assert.Len(t, msgs, 1, "duplicate within window should be dropped")

		now = now.Add(DedupWindow + time.Second)
		require.NoError(t, m.SaveAssistant(ctx, "conv-dup", "West leads.", nil))
		msgs, err = m.LoadRecent(ctx, "conv-dup")
		require.NoError(t, err)
		assert.Len(t, msgs, 2, "same answer after the window is a fresh turn")
	})

	t.Run("different answers are not deduplicated", func(t *testing.T) {
		m := NewMem()
		ctx := context.Background()
		require.NoError(t, m.SaveAssistant(ctx, "conv-diff", "First answer.", nil))
		require.NoError(t, m.SaveAssistant(ctx, "conv-diff", "Second answer.", nil))
		msgs, err := m.LoadRecent(ctx, "conv-diff")
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})
}

func TestSQLiteStore(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "convo.db"))
	require.NoError(t, err)
	defer st.Close()

	storeContract(t, st)

	t.Run("metadata survives the round-trip", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, st.SaveAssistant(ctx, "conv-meta", "Answer with context.", map[string]any{
			"sql_query": "SELECT 1",
			"row_count": float64(3),
		}))
		msgs, err := st.LoadRecent(ctx, "conv-meta")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "SELECT 1", msgs[0].Metadata["sql_query"])
		assert.Equal(t, float64(3), msgs[0].Metadata["row_count"])
	})

	t.Run("duplicate assistant answers suppressed within window", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, st.SaveAssistant(ctx, "conv-dup", "Same answer.", nil))
		require.NoError(t, st.SaveAssistant(ctx, "conv-dup", "Same answer.", nil))
		msgs, err := st.LoadRecent(ctx, "conv-dup")
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}
