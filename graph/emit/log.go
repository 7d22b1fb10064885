package emit

import (
	"context"
	"log/slog"
)

// LogEmitter implements Emitter by writing each event as a structured slog
// record.
//
// Node errors are logged at warn level, interrupts and run completion at info,
// everything else at debug. The output format (text or JSON) is whatever the
// logger's handler produces.
//
// Example text output:
//
//	level=DEBUG msg=node_end component=engine graph_id=research thread_id=7f3c step=1 node_id=create_analysts duration_ms=812
//
// Usage:
//
//	emitter := emit.NewLogEmitter(logging.New("engine"))
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	attrs := make([]slog.Attr, 0, 4+len(event.Meta))
	attrs = append(attrs, slog.String("graph_id", event.GraphID))
	if event.ThreadID != "" {
		attrs = append(attrs, slog.String("thread_id", event.ThreadID))
	}
	attrs = append(attrs, slog.Int("step", event.Step))
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}

	l.logger.LogAttrs(context.Background(), levelFor(event.Msg), event.Msg, attrs...)
}

func levelFor(msg string) slog.Level {
	switch msg {
	case MsgNodeError, MsgNodeRetry:
		return slog.LevelWarn
	case MsgInterrupt, MsgRunComplete:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
