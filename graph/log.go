package graph

import (
	"time"

	"github.com/rs/zerolog"
)

// zerologContext is the engine's per-run logger.
type zerologContext struct {
	logger zerolog.Logger
}

func newLogContext(logger zerolog.Logger, runID string) zerologContext {
	return zerologContext{logger: logger.With().Str("run_id", runID).Logger()}
}

func (l zerologContext) debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l zerologContext) info(msg string, cursor int) {
	l.logger.Info().Int("cursor", cursor).Msg(msg)
}

func (l zerologContext) retry(nodeID string, attempt int, kind ErrorKind, delay time.Duration, err error) {
	l.logger.Warn().
		Err(err).
		Str("node_id", nodeID).
		Int("attempt", attempt).
		Str("error_kind", string(kind)).
		Dur("backoff", delay).
		Msg("node failed, retrying")
}

func (l zerologContext) failed(wfErr *WorkflowError) {
	l.logger.Error().
		Err(wfErr.Cause).
		Str("node_id", wfErr.NodeID).
		Int("attempts", wfErr.Attempts).
		Str("error_kind", string(wfErr.Record.Type)).
		Msg("node failed, retry budget exhausted")
}

func (l zerologContext) errorf(nodeID string, err error, format string, args ...interface{}) {
	l.logger.Error().Err(err).Str("node_id", nodeID).Msgf(format, args...)
}

func (l zerologContext) storage(err error) {
	l.logger.Error().Err(err).Msg("checkpoint save failed")
}
