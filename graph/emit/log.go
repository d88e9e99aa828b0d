package emit

import (
	"context"
	"log/slog"
)

// Log writes events through a structured slog.Logger.
//
// Example output with a text handler:
//
//	INFO node_end run_id=conv-001 step=4 node_id=execute_query
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log emitter. A nil logger falls back to slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Emit implements Emitter.
func (l *Log) Emit(event Event) {
	attrs := []any{
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}

	level := slog.LevelInfo
	if event.Msg == MsgRunFailed {
		level = slog.LevelError
	} else if event.Msg == MsgNodeRetry {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, event.Msg, attrs...)
}
