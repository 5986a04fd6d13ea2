package emit

import (
	"github.com/rs/zerolog"
)

// LogEmitter writes events as structured zerolog entries.
//
// The level is derived from the event message: retries log at warn, node and
// run failures at error, everything else at info. Meta keys become fields on
// the entry.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	emitter := emit.NewLogEmitter(logger)
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a LogEmitter writing through logger.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit writes the event as a single log entry.
func (l *LogEmitter) Emit(event Event) {
	entry := l.logger.WithLevel(levelFor(event.Msg)).
		Str("run_id", event.RunID).
		Int("step", event.Step)
	if event.NodeID != "" {
		entry = entry.Str("node_id", event.NodeID)
	}
	if event.ID != "" {
		entry = entry.Str("event_id", event.ID)
	}
	if !event.Time.IsZero() {
		entry = entry.Time("event_time", event.Time)
	}
	if len(event.Meta) > 0 {
		entry = entry.Fields(event.Meta)
	}
	entry.Msg(event.Msg)
}

func levelFor(msg string) zerolog.Level {
	switch msg {
	case MsgNodeRetry:
		return zerolog.WarnLevel
	case MsgNodeFailed, MsgRunFailed:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
