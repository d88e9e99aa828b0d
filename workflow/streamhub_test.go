package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflow/insightflow/graph/emit"
)

func TestStreamHub(t *testing.T) {
	t.Run("subscribers only see their own run", func(t *testing.T) {
		hub := newStreamHub()
		a, cancelA := hub.Subscribe("run-a")
		defer cancelA()
		b, cancelB := hub.Subscribe("run-b")
		defer cancelB()

		hub.Emit(emit.Event{RunID: "run-a", NodeID: "n1", Msg: emit.MsgNodeEnd})
		hub.Emit(emit.Event{RunID: "run-b", NodeID: "n2", Msg: emit.MsgNodeEnd})

		got := <-a
		assert.Equal(t, "n1", got.NodeID)
		got = <-b
		assert.Equal(t, "n2", got.NodeID)
		select {
		case extra := <-a:
			t.Fatalf("unexpected cross-run event: %+v", extra)
		default:
		}
	})

	t.Run("cancel closes the channel and drops the run", func(t *testing.T) {
		hub := newStreamHub()
		ch, cancel := hub.Subscribe("run-a")
		cancel()

		_, open := <-ch
		assert.False(t, open)

		// Emitting after cancel must not panic or block.
		hub.Emit(emit.Event{RunID: "run-a"})
	})

	t.Run("slow subscribers drop instead of blocking", func(t *testing.T) {
		hub := newStreamHub()
		ch, cancel := hub.Subscribe("run-a")
		defer cancel()

		for i := 0; i < 200; i++ {
			hub.Emit(emit.Event{RunID: "run-a", Step: i})
		}
		require.Len(t, ch, 64, "buffer holds the first events, the rest are dropped")
	})
}
